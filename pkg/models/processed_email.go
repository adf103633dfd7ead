package models

import "time"

// ProcessedEmail is a dedup ledger record: one per (chat, mailbox message id)
type ProcessedEmail struct {
	ID           int64     `db:"id"`
	ChatID       int64     `db:"chat_id"`    // FK to Account
	MessageID    string    `db:"message_id"` // Mailbox-native message identifier
	Sender       string    `db:"sender"`
	Subject      string    `db:"subject"`
	Summary      string    `db:"summary"`
	OriginalBody string    `db:"original_body"`
	ChatMessage  int       `db:"chat_message_id"` // Delivered chat message, 0 if unknown
	ProcessedAt  time.Time `db:"processed_at"`
}

// MailMessage is an unseen message fetched from a mailbox
type MailMessage struct {
	MessageID string
	Sender    string
	Subject   string
	Body      string
}

// DetectedCode represents a code found in a message body
type DetectedCode struct {
	Type  string `json:"type"`  // "otp", "verification", "code", "security", "token"
	Value string `json:"value"` // The code itself
}

// Notification is what the chat receives for one mailbox message
type Notification struct {
	Sender  string
	Subject string
	Summary string
	Codes   []DetectedCode
}

package models

import "time"

// Poll status values written by the poller
const (
	PollStatusIdle         = "idle"
	PollStatusOK           = "ok"
	PollStatusAuthFailed   = "auth_failed"
	PollStatusNetworkError = "network_error"
	PollStatusPartial      = "partial"
)

// Account represents one chat user and the mailbox linked to it
type Account struct {
	ChatID             int64      `db:"chat_id"`       // Telegram chat identifier
	EmailAddress       *string    `db:"email_address"` // nil until setup
	EmailSecret        *string    `db:"email_secret"`  // app password, sealed at rest when a key is configured
	IMAPHost           *string    `db:"imap_host"`
	IMAPPort           *int       `db:"imap_port"`
	SMTPHost           *string    `db:"smtp_host"`
	SMTPPort           *int       `db:"smtp_port"`
	IsVerified         bool       `db:"is_verified"`
	VerificationCode   *string    `db:"verification_code"`
	VerificationExpiry *time.Time `db:"verification_expiry"`
	PollStatus         string     `db:"poll_status"`
	PollError          *string    `db:"poll_error"`
	LastPolledAt       *time.Time `db:"last_polled_at"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

// Credentials mailbox access data
type Credentials struct {
	Address  string
	Secret   string
	IMAPHost string
	IMAPPort int
	SMTPHost string
	SMTPPort int
}

// HasCredentials reports whether mailbox credentials are attached
func (a *Account) HasCredentials() bool {
	return a.EmailAddress != nil && a.EmailSecret != nil && a.IMAPHost != nil && a.IMAPPort != nil &&
		a.SMTPHost != nil && a.SMTPPort != nil
}

// Credentials returns the attached mailbox credentials, ok is false when none are set
func (a *Account) Credentials() (Credentials, bool) {
	if !a.HasCredentials() {
		return Credentials{}, false
	}
	return Credentials{
		Address:  *a.EmailAddress,
		Secret:   *a.EmailSecret,
		IMAPHost: *a.IMAPHost,
		IMAPPort: *a.IMAPPort,
		SMTPHost: *a.SMTPHost,
		SMTPPort: *a.SMTPPort,
	}, true
}

// HasPendingCode reports whether a verification attempt is outstanding
func (a *Account) HasPendingCode() bool {
	return a.VerificationCode != nil
}

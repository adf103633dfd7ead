package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/mailchat/pkg/models"
)

// IsProcessed reports whether a mailbox message was already delivered to the chat
func (db *DB) IsProcessed(ctx context.Context, chatID int64, messageID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM processed_emails WHERE chat_id = ? AND message_id = ?)`
	if err := db.GetContext(ctx, &exists, query, chatID, messageID); err != nil {
		return false, fmt.Errorf("failed to check processed email: %w", err)
	}
	return exists, nil
}

// RecordProcessed inserts a ledger record, ErrConflict when the pair is already recorded
func (db *DB) RecordProcessed(ctx context.Context, rec *models.ProcessedEmail) error {
	query := `
		INSERT OR IGNORE INTO processed_emails (chat_id, message_id, sender, subject, summary, original_body, chat_message_id, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		rec.ChatID,
		rec.MessageID,
		rec.Sender,
		rec.Subject,
		rec.Summary,
		rec.OriginalBody,
		rec.ChatMessage,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to record processed email: %w", err)
	}

	// Check if row was actually inserted (not ignored due to duplicate)
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrConflict
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	rec.ProcessedAt = now
	return nil
}

// History returns the most recent ledger records for a chat, newest first
func (db *DB) History(ctx context.Context, chatID int64, limit int) ([]*models.ProcessedEmail, error) {
	if limit <= 0 {
		limit = 5
	}
	var records []*models.ProcessedEmail
	query := `SELECT * FROM processed_emails WHERE chat_id = ? ORDER BY processed_at DESC, id DESC LIMIT ?`
	if err := db.SelectContext(ctx, &records, query, chatID, limit); err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return records, nil
}

// GetProcessed returns a single ledger record owned by the chat
func (db *DB) GetProcessed(ctx context.Context, chatID, id int64) (*models.ProcessedEmail, error) {
	var rec models.ProcessedEmail
	query := `SELECT * FROM processed_emails WHERE id = ? AND chat_id = ?`
	err := db.GetContext(ctx, &rec, query, id, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processed email: %w", err)
	}
	return &rec, nil
}

// GetProcessedByChatMessage finds the ledger record behind a delivered chat message
func (db *DB) GetProcessedByChatMessage(ctx context.Context, chatID int64, chatMessage int) (*models.ProcessedEmail, error) {
	if chatMessage == 0 {
		return nil, ErrNotFound
	}
	var rec models.ProcessedEmail
	query := `SELECT * FROM processed_emails WHERE chat_id = ? AND chat_message_id = ? ORDER BY id DESC LIMIT 1`
	err := db.GetContext(ctx, &rec, query, chatID, chatMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processed email: %w", err)
	}
	return &rec, nil
}

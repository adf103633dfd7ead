package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/mixelka/mailchat/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when an insert or update violates a uniqueness constraint
var ErrConflict = errors.New("record already exists")

// ErrNoCredentials is returned when an operation needs mailbox credentials the account lacks
var ErrNoCredentials = fmt.Errorf("%w: no mailbox credentials", ErrNotFound)

// Register creates a bare account row, existing accounts are left untouched
func (db *DB) Register(ctx context.Context, chatID int64) error {
	query := `INSERT OR IGNORE INTO accounts (chat_id, created_at, updated_at) VALUES (?, ?, ?)`
	now := time.Now()
	if _, err := db.ExecContext(ctx, query, chatID, now, now); err != nil {
		return fmt.Errorf("failed to register account: %w", err)
	}
	return nil
}

// GetAccount returns an account by chat ID
func (db *DB) GetAccount(ctx context.Context, chatID int64) (*models.Account, error) {
	var account models.Account
	query := `SELECT * FROM accounts WHERE chat_id = ?`
	err := db.GetContext(ctx, &account, query, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if err := db.openSecret(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

// ListVerified returns all verified accounts, the polling feed
func (db *DB) ListVerified(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	query := `SELECT * FROM accounts WHERE is_verified = true AND email_address IS NOT NULL ORDER BY chat_id`
	if err := db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, fmt.Errorf("failed to get verified accounts: %w", err)
	}
	for _, account := range accounts {
		if err := db.openSecret(account); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

// SetCredentials attaches mailbox credentials, replacing prior ones. Verification
// state and any pending code are reset.
func (db *DB) SetCredentials(ctx context.Context, chatID int64, creds models.Credentials) error {
	secret := creds.Secret
	if db.sealer != nil {
		sealed, err := db.sealer.Seal(secret)
		if err != nil {
			return fmt.Errorf("failed to seal secret: %w", err)
		}
		secret = sealed
	}

	query := `
		UPDATE accounts SET
			email_address = ?, email_secret = ?,
			imap_host = ?, imap_port = ?, smtp_host = ?, smtp_port = ?,
			is_verified = false, verification_code = NULL, verification_expiry = NULL,
			poll_status = ?, poll_error = NULL, updated_at = ?
		WHERE chat_id = ?
	`
	result, err := db.ExecContext(ctx, query,
		creds.Address,
		secret,
		creds.IMAPHost,
		creds.IMAPPort,
		creds.SMTPHost,
		creds.SMTPPort,
		models.PollStatusIdle,
		time.Now(),
		chatID,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to set credentials: %w", err)
	}
	return requireRow(result)
}

// ClearCredentials removes mailbox credentials and verification state
func (db *DB) ClearCredentials(ctx context.Context, chatID int64) error {
	query := `
		UPDATE accounts SET
			email_address = NULL, email_secret = NULL,
			imap_host = NULL, imap_port = NULL, smtp_host = NULL, smtp_port = NULL,
			is_verified = false, verification_code = NULL, verification_expiry = NULL,
			poll_status = ?, poll_error = NULL, updated_at = ?
		WHERE chat_id = ?
	`
	result, err := db.ExecContext(ctx, query, models.PollStatusIdle, time.Now(), chatID)
	if err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return requireRow(result)
}

// BeginVerification stores a code valid until expiry, superseding any outstanding one
func (db *DB) BeginVerification(ctx context.Context, chatID int64, code string, expiry time.Time) error {
	query := `
		UPDATE accounts SET verification_code = ?, verification_expiry = ?, updated_at = ?
		WHERE chat_id = ? AND email_address IS NOT NULL
	`
	result, err := db.ExecContext(ctx, query, code, expiry, time.Now(), chatID)
	if err != nil {
		return fmt.Errorf("failed to store verification code: %w", err)
	}
	if err := requireRow(result); err != nil {
		if _, getErr := db.GetAccount(ctx, chatID); getErr != nil {
			return getErr
		}
		return ErrNoCredentials
	}
	return nil
}

// CheckVerification compares a submitted code against the pending one at time now.
// Expired codes are cleared whatever was submitted, accepted codes mark the account verified,
// mismatches leave the pending code in place.
func (db *DB) CheckVerification(ctx context.Context, chatID int64, submitted string, now time.Time) (models.VerificationOutcome, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pending struct {
		Code       *string    `db:"verification_code"`
		Expiry     *time.Time `db:"verification_expiry"`
		HasAddress bool       `db:"has_address"`
	}
	query := `SELECT verification_code, verification_expiry, email_address IS NOT NULL AS has_address FROM accounts WHERE chat_id = ?`
	err = tx.GetContext(ctx, &pending, query, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read verification state: %w", err)
	}

	if pending.Code == nil || pending.Expiry == nil {
		return models.VerificationNoPending, nil
	}

	var outcome models.VerificationOutcome
	switch {
	case !now.Before(*pending.Expiry):
		outcome = models.VerificationExpired
		_, err = tx.ExecContext(ctx,
			`UPDATE accounts SET verification_code = NULL, verification_expiry = NULL, updated_at = ? WHERE chat_id = ?`,
			now, chatID)
	case *pending.Code == submitted && pending.HasAddress:
		outcome = models.VerificationAccepted
		_, err = tx.ExecContext(ctx,
			`UPDATE accounts SET is_verified = true, verification_code = NULL, verification_expiry = NULL, updated_at = ? WHERE chat_id = ?`,
			now, chatID)
	default:
		return models.VerificationMismatched, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to update verification state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit verification: %w", err)
	}
	return outcome, nil
}

// DiscardVerification drops any outstanding code without verifying
func (db *DB) DiscardVerification(ctx context.Context, chatID int64) error {
	query := `UPDATE accounts SET verification_code = NULL, verification_expiry = NULL, updated_at = ? WHERE chat_id = ?`
	result, err := db.ExecContext(ctx, query, time.Now(), chatID)
	if err != nil {
		return fmt.Errorf("failed to discard verification: %w", err)
	}
	return requireRow(result)
}

// SetPollStatus records the outcome of the latest poll for an account
func (db *DB) SetPollStatus(ctx context.Context, chatID int64, status, errText string, at time.Time) error {
	var pollErr *string
	if errText != "" {
		pollErr = &errText
	}
	query := `UPDATE accounts SET poll_status = ?, poll_error = ?, last_polled_at = ? WHERE chat_id = ?`
	result, err := db.ExecContext(ctx, query, status, pollErr, at, chatID)
	if err != nil {
		return fmt.Errorf("failed to set poll status: %w", err)
	}
	return requireRow(result)
}

// openSecret reverses at-rest sealing in place
func (db *DB) openSecret(account *models.Account) error {
	if db.sealer == nil || account.EmailSecret == nil {
		return nil
	}
	plain, err := db.sealer.Open(*account.EmailSecret)
	if err != nil {
		return fmt.Errorf("failed to open secret for chat %d: %w", account.ChatID, err)
	}
	account.EmailSecret = &plain
	return nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

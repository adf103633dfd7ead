package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mixelka/mailchat/internal/database"
	"github.com/mixelka/mailchat/pkg/models"
)

var (
	// ErrExpired the submitted code's window has passed, a new code must be requested
	ErrExpired = errors.New("verification code expired")
	// ErrMismatch the submitted code does not match the pending one
	ErrMismatch = errors.New("verification code does not match")
	// ErrNoPending no verification attempt is outstanding
	ErrNoPending = errors.New("no pending verification")
	// ErrIllegalTransition the account is not in a state that allows the operation
	ErrIllegalTransition = errors.New("illegal verification transition")
)

// DefaultTTL how long an issued code stays valid
const DefaultTTL = 5 * time.Minute

// DefaultMaxAttempts mismatches tolerated before a pending code is discarded
const DefaultMaxAttempts = 5

const codeMailSubject = "Email Bot Verification Code"

const codeMailTemplate = `Email Summary Bot Verification

Your verification code is: %s

Use this code in Telegram to complete your setup.
This code expires in %d minutes.

If you didn't request this, please ignore this email.`

// Store account operations the verification flow relies on
type Store interface {
	GetAccount(ctx context.Context, chatID int64) (*models.Account, error)
	BeginVerification(ctx context.Context, chatID int64, code string, expiry time.Time) error
	CheckVerification(ctx context.Context, chatID int64, submitted string, now time.Time) (models.VerificationOutcome, error)
	DiscardVerification(ctx context.Context, chatID int64) error
}

// Mailer delivers the code to the mailbox being verified
type Mailer interface {
	Send(ctx context.Context, creds models.Credentials, to, subject, body string) error
}

// Config for Service
type Config struct {
	TTL         time.Duration
	MaxAttempts int
	Now         func() time.Time
	Generate    func() (string, error)
}

// Service decides legal verification transitions and drives the account store
type Service struct {
	store    Store
	mailer   Mailer
	ttl      time.Duration
	maxTries int
	now      func() time.Time
	generate func() (string, error)
	logger   *slog.Logger

	mu       sync.Mutex
	attempts map[int64]int
}

// NewService creates a verification service
func NewService(store Store, mailer Mailer, cfg Config, logger *slog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Generate == nil {
		cfg.Generate = GenerateCode
	}
	return &Service{
		store:    store,
		mailer:   mailer,
		ttl:      cfg.TTL,
		maxTries: cfg.MaxAttempts,
		now:      cfg.Now,
		generate: cfg.Generate,
		logger:   logger.With("component", "verification"),
		attempts: make(map[int64]int),
	}
}

// State returns the lifecycle state of a chat's account
func (s *Service) State(ctx context.Context, chatID int64) (State, error) {
	account, err := s.store.GetAccount(ctx, chatID)
	if errors.Is(err, database.ErrNotFound) {
		return StateUnregistered, nil
	}
	if err != nil {
		return StateUnregistered, err
	}
	return StateOf(account), nil
}

// Begin issues a fresh code, stores it and mails it to the account's own address.
// The stored code survives a mailing failure so the user may simply request again.
func (s *Service) Begin(ctx context.Context, chatID int64) (time.Time, error) {
	account, err := s.store.GetAccount(ctx, chatID)
	if errors.Is(err, database.ErrNotFound) {
		return time.Time{}, fmt.Errorf("%w: account not registered", ErrIllegalTransition)
	}
	if err != nil {
		return time.Time{}, err
	}

	state := StateOf(account)
	if !CanBegin(state) {
		return time.Time{}, fmt.Errorf("%w: cannot request a code in state %s", ErrIllegalTransition, state)
	}
	creds, _ := account.Credentials()

	code, err := s.generate()
	if err != nil {
		return time.Time{}, err
	}

	expiry := s.now().Add(s.ttl)
	if err := s.store.BeginVerification(ctx, chatID, code, expiry); err != nil {
		return time.Time{}, fmt.Errorf("failed to store verification code: %w", err)
	}
	s.resetAttempts(chatID)

	body := fmt.Sprintf(codeMailTemplate, code, int(s.ttl.Minutes()))
	if err := s.mailer.Send(ctx, creds, creds.Address, codeMailSubject, body); err != nil {
		s.logger.Error("failed to send verification email", "chat_id", chatID, "error", err)
		return expiry, fmt.Errorf("failed to send verification email: %w", err)
	}

	s.logger.Info("verification code issued", "chat_id", chatID, "expires_at", expiry)
	return expiry, nil
}

// Submit checks a user-supplied code. Returns nil when the account became verified.
func (s *Service) Submit(ctx context.Context, chatID int64, code string) error {
	outcome, err := s.store.CheckVerification(ctx, chatID, NormalizeCode(code), s.now())
	if errors.Is(err, database.ErrNotFound) {
		return ErrNoPending
	}
	if err != nil {
		return err
	}

	switch outcome {
	case models.VerificationAccepted:
		s.resetAttempts(chatID)
		s.logger.Info("account verified", "chat_id", chatID)
		return nil
	case models.VerificationExpired:
		s.resetAttempts(chatID)
		return ErrExpired
	case models.VerificationNoPending:
		return ErrNoPending
	default:
		if s.recordMismatch(chatID) {
			if err := s.store.DiscardVerification(ctx, chatID); err != nil {
				s.logger.Error("failed to discard verification", "chat_id", chatID, "error", err)
			}
			s.logger.Warn("verification attempts exhausted", "chat_id", chatID)
		}
		return ErrMismatch
	}
}

// recordMismatch counts a failed attempt, true once the budget is spent
func (s *Service) recordMismatch(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[chatID]++
	if s.attempts[chatID] >= s.maxTries {
		delete(s.attempts, chatID)
		return true
	}
	return false
}

func (s *Service) resetAttempts(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, chatID)
}

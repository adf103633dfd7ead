package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/mixelka/mailchat/internal/delivery"
	"github.com/mixelka/mailchat/internal/email"
	"github.com/mixelka/mailchat/internal/metrics"
	"github.com/mixelka/mailchat/pkg/models"
)

// AccountStore is the slice of the account store and ledger the poller needs
type AccountStore interface {
	ListVerified(ctx context.Context) ([]*models.Account, error)
	SetPollStatus(ctx context.Context, chatID int64, status, errText string, at time.Time) error
	IsProcessed(ctx context.Context, chatID int64, messageID string) (bool, error)
}

// Mailboxes opens mailbox sessions
type Mailboxes interface {
	Connect(ctx context.Context, creds models.Credentials) (email.Session, error)
}

// Processor handles one unseen message for one account
type Processor interface {
	Process(ctx context.Context, chatID int64, msg models.MailMessage) (delivery.Outcome, error)
}

// Config for Orchestrator
type Config struct {
	Concurrency    int
	AccountTimeout time.Duration
	MessageTimeout time.Duration
	FetchLimit     int
	Now            func() time.Time
}

// Orchestrator runs polling cycles over all verified accounts
type Orchestrator struct {
	store     AccountStore
	mailboxes Mailboxes
	processor Processor
	cfg       Config
	logger    *slog.Logger
}

// NewOrchestrator creates a new polling orchestrator
func NewOrchestrator(store AccountStore, mailboxes Mailboxes, processor Processor, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.AccountTimeout <= 0 {
		cfg.AccountTimeout = 2 * time.Minute
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = time.Minute
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		store:     store,
		mailboxes: mailboxes,
		processor: processor,
		cfg:       cfg,
		logger:    logger.With("component", "poller"),
	}
}

// RunCycle polls every verified account once. Accounts run with bounded
// parallelism; messages within an account run one at a time.
// Cancellation stops the cycle before the next account starts.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	start := time.Now()
	logger := o.logger.With("cycle_id", uuid.NewString())

	accounts, err := o.store.ListVerified(ctx)
	if err != nil {
		return fmt.Errorf("failed to list verified accounts: %w", err)
	}

	logger.Debug("poll cycle started", "accounts", len(accounts))

	p := pool.New().WithMaxGoroutines(o.cfg.Concurrency)
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			o.pollAccount(ctx, logger, account)
		})
	}
	p.Wait()

	elapsed := time.Since(start)
	metrics.PollCycles.Inc()
	metrics.CycleDuration.Observe(elapsed.Seconds())

	if err := ctx.Err(); err != nil {
		logger.Info("poll cycle cancelled", "elapsed", elapsed)
		return err
	}

	logger.Debug("poll cycle finished", "elapsed", elapsed)
	return nil
}

func (o *Orchestrator) pollAccount(ctx context.Context, logger *slog.Logger, account *models.Account) {
	logger = logger.With("chat_id", account.ChatID)

	creds, ok := account.Credentials()
	if !ok {
		logger.Warn("verified account has no credentials, skipping")
		return
	}

	status, errText := o.fetchAndProcess(ctx, logger, account.ChatID, creds)
	metrics.AccountPolls.WithLabelValues(status).Inc()

	// Status is written even when the cycle was cancelled mid-account.
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.store.SetPollStatus(statusCtx, account.ChatID, status, errText, o.cfg.Now()); err != nil {
		logger.Error("failed to save poll status", "error", err)
	}
}

func (o *Orchestrator) fetchAndProcess(ctx context.Context, logger *slog.Logger, chatID int64, creds models.Credentials) (string, string) {
	accountCtx, cancel := context.WithTimeout(ctx, o.cfg.AccountTimeout)
	defer cancel()

	session, err := o.mailboxes.Connect(accountCtx, creds)
	if err != nil {
		return classify(logger, "connect", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Debug("failed to close mailbox session", "error", err)
		}
	}()

	// Already delivered mail is filtered before the limit so it cannot starve older pending mail
	processed := func(ctx context.Context, messageID string) (bool, error) {
		return o.store.IsProcessed(ctx, chatID, messageID)
	}
	messages, err := session.FetchUnseen(accountCtx, o.cfg.FetchLimit, processed)
	if err != nil {
		return classify(logger, "fetch", err)
	}

	failed := 0
	for i, msg := range messages {
		if accountCtx.Err() != nil {
			failed += len(messages) - i
			logger.Warn("account time budget exhausted", "remaining", len(messages)-i)
			break
		}
		if !o.processMessage(accountCtx, logger, chatID, msg) {
			failed++
		}
	}

	if failed > 0 {
		return models.PollStatusPartial, fmt.Sprintf("%d of %d messages will be retried", failed, len(messages))
	}
	return models.PollStatusOK, ""
}

// processMessage runs one message to completion. The unit is detached from
// cancellation so a started summarize and deliver sequence is never cut in half.
func (o *Orchestrator) processMessage(ctx context.Context, logger *slog.Logger, chatID int64, msg models.MailMessage) bool {
	msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.MessageTimeout)
	defer cancel()

	outcome, err := o.processor.Process(msgCtx, chatID, msg)
	if err != nil {
		logger.Warn("message not delivered", "message_id", msg.MessageID, "outcome", outcome, "error", err)
		return false
	}
	return true
}

func classify(logger *slog.Logger, stage string, err error) (string, string) {
	if email.IsAuthError(err) {
		logger.Warn("mailbox rejected credentials", "stage", stage, "error", err)
		return models.PollStatusAuthFailed, err.Error()
	}
	logger.Warn("mailbox unreachable", "stage", stage, "error", err)
	return models.PollStatusNetworkError, err.Error()
}

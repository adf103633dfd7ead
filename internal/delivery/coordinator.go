package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mixelka/mailchat/internal/database"
	"github.com/mixelka/mailchat/internal/metrics"
	"github.com/mixelka/mailchat/pkg/models"
)

// ErrDelivery the chat platform did not accept the notification
var ErrDelivery = errors.New("chat delivery failed")

// Outcome of processing one mailbox message
type Outcome string

const (
	OutcomeDelivered       Outcome = "delivered"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeSummarizeFailed Outcome = "summarize_failed"
	OutcomeDeliverFailed   Outcome = "deliver_failed"
	OutcomeRecordConflict  Outcome = "record_conflict"
	OutcomeLedgerFailed    Outcome = "ledger_failed"
)

// Ledger is the dedup record store
type Ledger interface {
	IsProcessed(ctx context.Context, chatID int64, messageID string) (bool, error)
	RecordProcessed(ctx context.Context, rec *models.ProcessedEmail) error
}

// Summarizer turns an email into chat text
type Summarizer interface {
	Summarize(ctx context.Context, sender, subject, body string) (string, error)
}

// Deliverer posts a notification to a chat and returns the chat message id
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, note models.Notification) (int, error)
}

// CodeDetector finds one-time codes in message text
type CodeDetector interface {
	DetectCodes(text string) []models.DetectedCode
}

// Coordinator runs summarize, deliver, record for a single message
type Coordinator struct {
	ledger     Ledger
	summarizer Summarizer
	deliverer  Deliverer
	detector   CodeDetector
	logger     *slog.Logger
}

// NewCoordinator creates a new delivery coordinator
func NewCoordinator(ledger Ledger, summarizer Summarizer, deliverer Deliverer, detector CodeDetector, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		ledger:     ledger,
		summarizer: summarizer,
		deliverer:  deliverer,
		detector:   detector,
		logger:     logger.With("component", "delivery"),
	}
}

// Process delivers msg to the chat at most once. Any failure before delivery
// leaves the message unrecorded so the next cycle offers it again.
func (c *Coordinator) Process(ctx context.Context, chatID int64, msg models.MailMessage) (Outcome, error) {
	outcome, err := c.process(ctx, chatID, msg)
	metrics.Messages.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (c *Coordinator) process(ctx context.Context, chatID int64, msg models.MailMessage) (Outcome, error) {
	logger := c.logger.With("chat_id", chatID, "message_id", msg.MessageID)

	processed, err := c.ledger.IsProcessed(ctx, chatID, msg.MessageID)
	if err != nil {
		return OutcomeLedgerFailed, fmt.Errorf("failed to check ledger: %w", err)
	}
	if processed {
		logger.Debug("message already processed")
		return OutcomeSkipped, nil
	}

	summary, err := c.summarizer.Summarize(ctx, msg.Sender, msg.Subject, msg.Body)
	if err != nil {
		logger.Warn("summarization failed, will retry next cycle", "error", err)
		return OutcomeSummarizeFailed, fmt.Errorf("failed to summarize: %w", err)
	}

	var codes []models.DetectedCode
	if c.detector != nil {
		codes = c.detector.DetectCodes(msg.Subject + "\n" + msg.Body)
	}

	chatMessage, err := c.deliverer.Deliver(ctx, chatID, models.Notification{
		Sender:  msg.Sender,
		Subject: msg.Subject,
		Summary: summary,
		Codes:   codes,
	})
	if err != nil {
		logger.Warn("delivery failed, will retry next cycle", "error", err)
		return OutcomeDeliverFailed, fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	rec := &models.ProcessedEmail{
		ChatID:       chatID,
		MessageID:    msg.MessageID,
		Sender:       msg.Sender,
		Subject:      msg.Subject,
		Summary:      summary,
		OriginalBody: msg.Body,
		ChatMessage:  chatMessage,
	}
	err = c.ledger.RecordProcessed(ctx, rec)
	if errors.Is(err, database.ErrConflict) {
		logger.Warn("message was recorded concurrently")
		return OutcomeRecordConflict, nil
	}
	if err != nil {
		// Delivered but unrecorded: the next cycle will deliver it again.
		logger.Error("failed to record delivered message", "error", err)
		return OutcomeLedgerFailed, fmt.Errorf("failed to record processed email: %w", err)
	}

	logger.Info("message delivered", "record_id", rec.ID)
	return OutcomeDelivered, nil
}

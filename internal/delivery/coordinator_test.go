package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/mailchat/internal/database"
	"github.com/mixelka/mailchat/internal/metrics"
	"github.com/mixelka/mailchat/internal/parser"
	"github.com/mixelka/mailchat/pkg/models"
)

var testMessage = models.MailMessage{
	MessageID: "<m1@example.com>",
	Sender:    "Bob <bob@example.com>",
	Subject:   "Your login",
	Body:      "Your verification code is 482913",
}

func newTestCoordinator() (*Coordinator, *MockLedger, *MockSummarizer, *MockDeliverer) {
	ledger := &MockLedger{}
	summarizer := &MockSummarizer{}
	deliverer := &MockDeliverer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCoordinator(ledger, summarizer, deliverer, parser.NewCodeDetector(), logger), ledger, summarizer, deliverer
}

func TestProcessDeliversThenRecords(t *testing.T) {
	c, ledger, summarizer, deliverer := newTestCoordinator()

	ledger.On("IsProcessed", int64(7), testMessage.MessageID).Return(false, nil)
	summarizer.On("Summarize", testMessage.Sender, testMessage.Subject, testMessage.Body).Return("Bob sent a login code.", nil)
	deliverer.On("Deliver", int64(7), mock.MatchedBy(func(n models.Notification) bool {
		return n.Summary == "Bob sent a login code." && len(n.Codes) == 1 && n.Codes[0].Value == "482913"
	})).Return(555, nil)
	ledger.On("RecordProcessed", mock.MatchedBy(func(rec *models.ProcessedEmail) bool {
		return rec.ChatID == 7 && rec.MessageID == testMessage.MessageID && rec.ChatMessage == 555 &&
			rec.OriginalBody == testMessage.Body
	})).Return(nil)

	outcome, err := c.Process(context.Background(), 7, testMessage)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)

	ledger.AssertExpectations(t)
	summarizer.AssertExpectations(t)
	deliverer.AssertExpectations(t)
}

func TestProcessSkipsRecordedMessage(t *testing.T) {
	c, ledger, summarizer, deliverer := newTestCoordinator()
	ledger.On("IsProcessed", int64(7), testMessage.MessageID).Return(true, nil)

	outcome, err := c.Process(context.Background(), 7, testMessage)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	summarizer.AssertNotCalled(t, "Summarize", mock.Anything, mock.Anything, mock.Anything)
	deliverer.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}

func TestProcessSummarizationFailureIsNotRecorded(t *testing.T) {
	c, ledger, summarizer, deliverer := newTestCoordinator()
	ledger.On("IsProcessed", int64(7), testMessage.MessageID).Return(false, nil)
	summarizer.On("Summarize", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("quota"))

	outcome, err := c.Process(context.Background(), 7, testMessage)
	assert.Error(t, err)
	assert.Equal(t, OutcomeSummarizeFailed, outcome)

	deliverer.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
	ledger.AssertNotCalled(t, "RecordProcessed", mock.Anything)
}

func TestProcessDeliveryFailureIsNotRecorded(t *testing.T) {
	c, ledger, summarizer, deliverer := newTestCoordinator()
	ledger.On("IsProcessed", int64(7), testMessage.MessageID).Return(false, nil)
	summarizer.On("Summarize", mock.Anything, mock.Anything, mock.Anything).Return("summary", nil)
	deliverer.On("Deliver", int64(7), mock.Anything).Return(0, errors.New("chat not found"))

	outcome, err := c.Process(context.Background(), 7, testMessage)
	assert.ErrorIs(t, err, ErrDelivery)
	assert.Equal(t, OutcomeDeliverFailed, outcome)

	ledger.AssertNotCalled(t, "RecordProcessed", mock.Anything)
}

func TestProcessConflictIsBenign(t *testing.T) {
	c, ledger, summarizer, deliverer := newTestCoordinator()
	ledger.On("IsProcessed", int64(7), testMessage.MessageID).Return(false, nil)
	summarizer.On("Summarize", mock.Anything, mock.Anything, mock.Anything).Return("summary", nil)
	deliverer.On("Deliver", int64(7), mock.Anything).Return(1, nil)
	ledger.On("RecordProcessed", mock.Anything).Return(database.ErrConflict)

	outcome, err := c.Process(context.Background(), 7, testMessage)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecordConflict, outcome)
}

func TestProcessLedgerReadFailure(t *testing.T) {
	c, ledger, summarizer, _ := newTestCoordinator()
	ledger.On("IsProcessed", int64(7), testMessage.MessageID).Return(false, errors.New("disk I/O error"))
	before := testutil.ToFloat64(metrics.Messages.WithLabelValues(string(OutcomeLedgerFailed)))

	outcome, err := c.Process(context.Background(), 7, testMessage)
	assert.Error(t, err)
	assert.Equal(t, OutcomeLedgerFailed, outcome)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.Messages.WithLabelValues(string(OutcomeLedgerFailed))))
	summarizer.AssertNotCalled(t, "Summarize", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessLedgerWriteFailureAfterDelivery(t *testing.T) {
	c, ledger, summarizer, deliverer := newTestCoordinator()
	ledger.On("IsProcessed", int64(7), testMessage.MessageID).Return(false, nil)
	summarizer.On("Summarize", mock.Anything, mock.Anything, mock.Anything).Return("summary", nil)
	deliverer.On("Deliver", int64(7), mock.Anything).Return(1, nil)
	ledger.On("RecordProcessed", mock.Anything).Return(errors.New("database is locked"))

	failed := metrics.Messages.WithLabelValues(string(OutcomeLedgerFailed))
	delivered := metrics.Messages.WithLabelValues(string(OutcomeDelivered))
	beforeFailed, beforeDelivered := testutil.ToFloat64(failed), testutil.ToFloat64(delivered)

	outcome, err := c.Process(context.Background(), 7, testMessage)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDelivery)
	assert.Equal(t, OutcomeLedgerFailed, outcome)
	assert.Equal(t, beforeFailed+1, testutil.ToFloat64(failed))
	assert.Equal(t, beforeDelivered, testutil.ToFloat64(delivered))
	deliverer.AssertNumberOfCalls(t, "Deliver", 1)
}

package delivery

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/mixelka/mailchat/pkg/models"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) IsProcessed(ctx context.Context, chatID int64, messageID string) (bool, error) {
	args := m.Called(chatID, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedger) RecordProcessed(ctx context.Context, rec *models.ProcessedEmail) error {
	args := m.Called(rec)
	return args.Error(0)
}

type MockSummarizer struct {
	mock.Mock
}

func (m *MockSummarizer) Summarize(ctx context.Context, sender, subject, body string) (string, error) {
	args := m.Called(sender, subject, body)
	return args.String(0), args.Error(1)
}

type MockDeliverer struct {
	mock.Mock
}

func (m *MockDeliverer) Deliver(ctx context.Context, chatID int64, note models.Notification) (int, error) {
	args := m.Called(chatID, note)
	return args.Int(0), args.Error(1)
}

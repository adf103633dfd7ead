package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/mailchat/internal/database"
	"github.com/mixelka/mailchat/internal/formatter"
	appmodels "github.com/mixelka/mailchat/pkg/models"
)

// draft is an outgoing email waiting for /send
type draft struct {
	To      string
	Subject string
	Body    string
}

// Deliver posts an email summary to the chat and returns the chat message id
func (b *Bot) Deliver(ctx context.Context, chatID int64, note appmodels.Notification) (int, error) {
	text := b.formatter.FormatNotification(note)
	keyboard := formatter.BuildNotificationKeyboard(note.Codes)

	tgMsg, err := b.sendMessageWithKeyboard(ctx, chatID, text, keyboard)
	if err != nil {
		return 0, err
	}

	b.logger.Debug("summary sent to telegram",
		"chat_id", chatID,
		"telegram_msg_id", tgMsg.ID,
		"codes_detected", len(note.Codes),
	)
	return tgMsg.ID, nil
}

// handleMail handles /mail command
// Usage: /mail formal|informal recipient text
func (b *Bot) handleMail(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	tone, to, text, err := parseMailArgs(update.Message.Text)
	if err != nil {
		b.sendMessage(ctx, chatID, html.EscapeString(err.Error()))
		return
	}

	b.sendMessage(ctx, chatID, "Writing your email...")

	body, err := b.summarizer.ComposeEmail(ctx, text, tone)
	if err != nil {
		b.logger.Error("failed to compose email", "chat_id", chatID, "error", err)
		b.sendMessage(ctx, chatID, "❌ Could not generate the email.")
		return
	}
	subject, err := b.summarizer.ComposeSubject(ctx, text, tone)
	if err != nil {
		b.logger.Error("failed to compose subject", "chat_id", chatID, "error", err)
		b.sendMessage(ctx, chatID, "❌ Could not generate the email.")
		return
	}

	b.saveDraft(chatID, draft{To: to, Subject: subject, Body: body})
	b.sendMessage(ctx, chatID, b.formatter.FormatDraft(to, subject, body))
}

// handleSend handles /send command
func (b *Bot) handleSend(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	d, ok := b.loadDraft(chatID)
	if !ok {
		b.sendMessage(ctx, chatID, "❌ No draft found. Use /mail first.")
		return
	}

	account, err := b.db.GetAccount(ctx, chatID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		b.logger.Error("failed to get account", "chat_id", chatID, "error", err)
		b.sendMessage(ctx, chatID, "❌ Failed to send email.")
		return
	}
	if account == nil || !account.IsVerified {
		b.sendMessage(ctx, chatID, "❌ Please complete email setup and verification first.")
		return
	}
	creds, _ := account.Credentials()

	if err := b.sender.Send(ctx, creds, d.To, d.Subject, d.Body); err != nil {
		b.logger.Error("failed to send email", "chat_id", chatID, "error", err)
		b.sendMessage(ctx, chatID, "❌ Failed to send email.")
		return
	}

	b.forgetDraft(chatID)
	b.logger.Info("email sent", "chat_id", chatID)
	b.sendMessage(ctx, chatID, fmt.Sprintf("✅ Email sent to %s.", html.EscapeString(d.To)))
}

func (b *Bot) saveDraft(chatID int64, d draft) {
	b.draftsMu.Lock()
	defer b.draftsMu.Unlock()
	b.drafts[chatID] = d
}

func (b *Bot) loadDraft(chatID int64) (draft, bool) {
	b.draftsMu.Lock()
	defer b.draftsMu.Unlock()
	d, ok := b.drafts[chatID]
	return d, ok
}

func (b *Bot) forgetDraft(chatID int64) {
	b.draftsMu.Lock()
	defer b.draftsMu.Unlock()
	delete(b.drafts, chatID)
}

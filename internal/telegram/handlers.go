package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/mailchat/internal/database"
	"github.com/mixelka/mailchat/internal/email"
	"github.com/mixelka/mailchat/internal/formatter"
	"github.com/mixelka/mailchat/internal/verification"
	appmodels "github.com/mixelka/mailchat/pkg/models"
)

// handleCredentials handles a plain-text credential message
func (b *Bot) handleCredentials(ctx context.Context, msg *models.Message) {
	chatID := msg.Chat.ID

	// Delete the message with password immediately
	if err := b.deleteMessage(ctx, chatID, msg.ID); err != nil {
		b.logger.Warn("failed to delete credentials message", "chat_id", chatID, "error", err)
	}

	creds, err := parseCredentials(msg.Text, email.ResolveServers)
	if err != nil {
		b.sendMessage(ctx, chatID, fmt.Sprintf("❌ %s\nSee /setup for the format.", html.EscapeString(err.Error())))
		return
	}

	if err := b.db.Register(ctx, chatID); err != nil {
		b.logger.Error("failed to register account", "chat_id", chatID, "error", err)
		b.sendMessage(ctx, chatID, "❌ Could not save your account, try again later.")
		return
	}

	b.sendMessage(ctx, chatID, fmt.Sprintf("Checking connection to %s...", html.EscapeString(creds.IMAPHost)))

	testCtx, cancel := context.WithTimeout(ctx, b.config.AccountTimeout)
	defer cancel()
	if err := b.transport.TestConnection(testCtx, creds); err != nil {
		b.logger.Info("connection test failed", "chat_id", chatID, "error", err)
		if email.IsAuthError(err) {
			b.sendMessage(ctx, chatID, "❌ The mailbox rejected the login. Check the address and use an app password.")
		} else {
			b.sendMessage(ctx, chatID, fmt.Sprintf("❌ Could not reach %s. Try again or send the servers explicitly (see /setup).",
				html.EscapeString(creds.IMAPHost)))
		}
		return
	}

	if err := b.db.SetCredentials(ctx, chatID, creds); err != nil {
		if errors.Is(err, database.ErrConflict) {
			b.sendMessage(ctx, chatID, "❌ This address is already linked to another chat.")
			return
		}
		b.logger.Error("failed to save credentials", "chat_id", chatID, "error", err)
		b.sendMessage(ctx, chatID, "❌ Could not save your mailbox, try again later.")
		return
	}

	b.logger.Info("mailbox connected", "chat_id", chatID, "imap_host", creds.IMAPHost)
	b.beginVerification(ctx, chatID, creds.Address)
}

// beginVerification issues and mails a verification code
func (b *Bot) beginVerification(ctx context.Context, chatID int64, address string) {
	expiry, err := b.verifier.Begin(ctx, chatID)
	switch {
	case errors.Is(err, verification.ErrIllegalTransition):
		b.sendMessage(ctx, chatID, "❌ Connect a mailbox first with /setup.")
	case err != nil && !expiry.IsZero():
		b.sendMessage(ctx, chatID, "❌ Mailbox saved, but the verification email could not be sent. Send /verify to try again.")
	case err != nil:
		b.logger.Error("failed to begin verification", "chat_id", chatID, "error", err)
		b.sendMessage(ctx, chatID, "❌ Could not start verification, try again later.")
	default:
		b.sendMessage(ctx, chatID, fmt.Sprintf(
			"✅ Mailbox saved. A code was sent to <b>%s</b>, valid until %s UTC.\nSend <code>/verify CODE</code> to finish.",
			html.EscapeString(address), expiry.UTC().Format("15:04")))
	}
}

// handleVerify handles /verify command. Without a code it requests a new one.
func (b *Bot) handleVerify(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID
	args := commandArgs(update.Message.Text)

	if len(args) == 0 {
		state, err := b.verifier.State(ctx, chatID)
		if err != nil {
			b.logger.Error("failed to get verification state", "chat_id", chatID, "error", err)
			b.sendMessage(ctx, chatID, "❌ Could not start verification, try again later.")
			return
		}
		if !verification.CanBegin(state) {
			b.sendMessage(ctx, chatID, "❌ Connect a mailbox first with /setup.")
			return
		}
		account, err := b.db.GetAccount(ctx, chatID)
		if err != nil {
			b.logger.Error("failed to get account", "chat_id", chatID, "error", err)
			b.sendMessage(ctx, chatID, "❌ Could not start verification, try again later.")
			return
		}
		address, ok := mailboxAddress(account)
		if !ok {
			// Credentials were cleared between the state check and the lookup
			b.sendMessage(ctx, chatID, "❌ Connect a mailbox first with /setup.")
			return
		}
		b.beginVerification(ctx, chatID, address)
		return
	}

	err := b.verifier.Submit(ctx, chatID, args[0])
	switch {
	case err == nil:
		b.sendMessage(ctx, chatID, "✅ Email verified! You'll now receive email summaries.")
		b.trigger()
	case errors.Is(err, verification.ErrExpired):
		b.sendMessage(ctx, chatID, "⌛ The code has expired. Send /verify to get a new one.")
	case errors.Is(err, verification.ErrMismatch):
		b.sendMessage(ctx, chatID, "❌ Invalid code.")
	case errors.Is(err, verification.ErrNoPending):
		b.sendMessage(ctx, chatID, "No code is pending. Send /verify to get one.")
	default:
		b.logger.Error("failed to verify code", "chat_id", chatID, "error", err)
		b.sendMessage(ctx, chatID, "❌ Verification failed, try again later.")
	}
}

// handleStatus handles /status command
func (b *Bot) handleStatus(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	account, err := b.db.GetAccount(ctx, chatID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		b.logger.Error("failed to get account", "chat_id", chatID, "error", err)
		b.sendMessage(ctx, chatID, "❌ Could not load your status.")
		return
	}

	b.sendMessage(ctx, chatID, b.formatter.FormatStatus(account))
}

// handleHistory handles /history command
func (b *Bot) handleHistory(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	records, err := b.db.History(ctx, chatID, parseHistoryLimit(update.Message.Text))
	if err != nil {
		b.logger.Error("failed to get history", "chat_id", chatID, "error", err)
		b.sendMessage(ctx, chatID, "❌ Could not load history.")
		return
	}

	text := b.formatter.FormatHistory(records)
	if _, err := b.sendMessageWithKeyboard(ctx, chatID, text, formatter.BuildHistoryKeyboard(records)); err != nil {
		b.logger.Warn("failed to send history", "chat_id", chatID, "error", err)
	}
}

// handleStop handles /stop command
func (b *Bot) handleStop(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	err := b.db.ClearCredentials(ctx, chatID)
	if errors.Is(err, database.ErrNotFound) {
		b.sendMessage(ctx, chatID, "No mailbox is connected.")
		return
	}
	if err != nil {
		b.logger.Error("failed to clear credentials", "chat_id", chatID, "error", err)
		b.sendMessage(ctx, chatID, "❌ Could not disconnect the mailbox.")
		return
	}

	b.forgetDraft(chatID)
	b.logger.Info("mailbox disconnected", "chat_id", chatID)
	b.sendMessage(ctx, chatID, "⏹️ Mailbox disconnected. Email monitoring stopped.")
}

// handleClear handles /clear command. Processed emails stay recorded so
// nothing is delivered again.
func (b *Bot) handleClear(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID

	deleted := 0
	for id := update.Message.ID; id > 0 && id > update.Message.ID-clearDepth; id-- {
		// Messages older than 48h or sent by the user in groups cannot be deleted
		if err := b.deleteMessage(ctx, chatID, id); err == nil {
			deleted++
		}
	}

	b.logger.Debug("chat cleared", "chat_id", chatID, "deleted", deleted)
}

// handleCallback handles inline button callbacks
func (b *Bot) handleCallback(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}

	data, err := formatter.DecodeCallback(callback.Data)
	if err != nil {
		b.logger.Error("failed to decode callback", "error", err, "data", callback.Data)
		b.answerCallback(ctx, callback.ID, "Error", false)
		return
	}

	switch data.Action {
	case appmodels.CallbackShowOriginal:
		b.handleShowOriginal(ctx, callback, data)
	case appmodels.CallbackCopyCode:
		b.handleCopyCode(ctx, callback, data)
	default:
		b.answerCallback(ctx, callback.ID, "Unknown action", false)
	}
}

// recordForCallback loads the ledger record a button refers to
func (b *Bot) recordForCallback(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) (*appmodels.ProcessedEmail, int64, error) {
	chatID, msgID := callbackTarget(callback)
	if data.RecordID != 0 {
		rec, err := b.db.GetProcessed(ctx, chatID, data.RecordID)
		return rec, chatID, err
	}
	rec, err := b.db.GetProcessedByChatMessage(ctx, chatID, msgID)
	return rec, chatID, err
}

// handleShowOriginal sends the stored body of an email
func (b *Bot) handleShowOriginal(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) {
	rec, chatID, err := b.recordForCallback(ctx, callback, data)
	if err != nil {
		b.logger.Warn("failed to get processed email", "chat_id", chatID, "error", err)
		b.answerCallback(ctx, callback.ID, "Email not found", false)
		return
	}

	b.sendMessage(ctx, chatID, b.formatter.FormatOriginal(rec))
	b.answerCallback(ctx, callback.ID, "", false)
}

// handleCopyCode shows a detected code in an alert so it can be copied
func (b *Bot) handleCopyCode(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) {
	rec, chatID, err := b.recordForCallback(ctx, callback, data)
	if err != nil {
		b.logger.Warn("failed to get processed email", "chat_id", chatID, "error", err)
		b.answerCallback(ctx, callback.ID, "Email not found", false)
		return
	}

	codes := b.codeDetector.DetectCodes(rec.Subject + "\n" + rec.OriginalBody)
	if data.CodeIdx < 0 || data.CodeIdx >= len(codes) {
		b.answerCallback(ctx, callback.ID, "Code not found", false)
		return
	}

	b.answerCallback(ctx, callback.ID, fmt.Sprintf("Code: %s", codes[data.CodeIdx].Value), true)
}

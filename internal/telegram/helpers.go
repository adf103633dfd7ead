package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/mailchat/internal/email"
	appmodels "github.com/mixelka/mailchat/pkg/models"
)

const (
	defaultHistory = 5
	maxHistory     = 20
	clearDepth     = 20 // messages /clear walks back over
)

// sendMessage sends an HTML message to a chat
func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string) (*models.Message, error) {
	msg, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		b.logger.Warn("failed to send message", "chat_id", chatID, "error", err)
	}
	return msg, err
}

// sendMessageWithKeyboard sends a message with inline keyboard
func (b *Bot) sendMessageWithKeyboard(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) (*models.Message, error) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	return b.bot.SendMessage(ctx, params)
}

// deleteMessage deletes a message
func (b *Bot) deleteMessage(ctx context.Context, chatID int64, msgID int) error {
	_, err := b.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: msgID,
	})
	return err
}

// answerCallback answers a callback query
func (b *Bot) answerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	_, err := b.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       showAlert,
	})
	return err
}

// commandArgs returns the words after the command itself
func commandArgs(text string) []string {
	parts := strings.Fields(text)
	if len(parts) <= 1 {
		return nil
	}
	return parts[1:]
}

// looksLikeCredentials reports whether a plain message is a setup attempt
func looksLikeCredentials(text string) bool {
	if strings.Contains(text, "|") {
		return true
	}
	fields := strings.Fields(text)
	return len(fields) >= 2 && strings.Contains(fields[0], "@")
}

// parseCredentials accepts "address app password" with servers from resolve,
// or "address|password|imap_host|imap_port|smtp_host|smtp_port"
func parseCredentials(text string, resolve func(string) (email.Servers, error)) (appmodels.Credentials, error) {
	text = strings.TrimSpace(text)

	if strings.Contains(text, "|") {
		parts := strings.Split(text, "|")
		if len(parts) != 6 {
			return appmodels.Credentials{}, fmt.Errorf("expected 6 fields separated by |, got %d", len(parts))
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		imapPort, err := parsePort(parts[3])
		if err != nil {
			return appmodels.Credentials{}, fmt.Errorf("imap port: %w", err)
		}
		smtpPort, err := parsePort(parts[5])
		if err != nil {
			return appmodels.Credentials{}, fmt.Errorf("smtp port: %w", err)
		}
		creds := appmodels.Credentials{
			Address:  parts[0],
			Secret:   parts[1],
			IMAPHost: parts[2],
			IMAPPort: imapPort,
			SMTPHost: parts[4],
			SMTPPort: smtpPort,
		}
		return creds, validateCredentials(creds)
	}

	fields := strings.Fields(text)
	if len(fields) < 2 {
		return appmodels.Credentials{}, fmt.Errorf("expected an address followed by an app password")
	}

	// App passwords are often pasted in groups of four
	creds := appmodels.Credentials{
		Address: fields[0],
		Secret:  strings.Join(fields[1:], ""),
	}
	if email.GetDomainFromEmail(creds.Address) == "" {
		return appmodels.Credentials{}, fmt.Errorf("invalid email address %q", creds.Address)
	}

	servers, err := resolve(creds.Address)
	if err != nil {
		return appmodels.Credentials{}, err
	}
	creds.IMAPHost, creds.IMAPPort = servers.IMAPHost, servers.IMAPPort
	creds.SMTPHost, creds.SMTPPort = servers.SMTPHost, servers.SMTPPort

	return creds, validateCredentials(creds)
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}

func validateCredentials(c appmodels.Credentials) error {
	switch {
	case email.GetDomainFromEmail(c.Address) == "":
		return fmt.Errorf("invalid email address %q", c.Address)
	case c.Secret == "":
		return fmt.Errorf("password is empty")
	case c.IMAPHost == "" || c.SMTPHost == "":
		return fmt.Errorf("server host is empty")
	}
	return nil
}

// parseMailArgs splits "/mail tone recipient text..."
func parseMailArgs(text string) (tone, to, body string, err error) {
	args := commandArgs(text)
	if len(args) < 3 {
		return "", "", "", fmt.Errorf("usage: /mail formal|informal recipient text")
	}

	tone = strings.ToLower(args[0])
	if tone != "formal" && tone != "informal" {
		return "", "", "", fmt.Errorf("tone must be formal or informal")
	}

	to = args[1]
	if email.GetDomainFromEmail(to) == "" {
		return "", "", "", fmt.Errorf("invalid recipient %q", to)
	}

	return tone, to, strings.Join(args[2:], " "), nil
}

// parseHistoryLimit reads the optional count of /history
func parseHistoryLimit(text string) int {
	args := commandArgs(text)
	if len(args) == 0 {
		return defaultHistory
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return defaultHistory
	}
	return min(n, maxHistory)
}

// callbackTarget returns chat and message ids of the message a button was pressed on
func callbackTarget(callback *models.CallbackQuery) (chatID int64, msgID int) {
	switch {
	case callback.Message.Message != nil:
		return callback.Message.Message.Chat.ID, callback.Message.Message.ID
	case callback.Message.InaccessibleMessage != nil:
		return callback.Message.InaccessibleMessage.Chat.ID, callback.Message.InaccessibleMessage.MessageID
	default:
		return callback.From.ID, 0
	}
}

// mailboxAddress returns the address of a fully configured mailbox
func mailboxAddress(account *appmodels.Account) (string, bool) {
	if account == nil {
		return "", false
	}
	creds, ok := account.Credentials()
	if !ok {
		return "", false
	}
	return creds.Address, true
}

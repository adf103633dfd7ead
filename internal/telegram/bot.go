package telegram

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/mailchat/internal/config"
	"github.com/mixelka/mailchat/internal/database"
	"github.com/mixelka/mailchat/internal/email"
	"github.com/mixelka/mailchat/internal/formatter"
	"github.com/mixelka/mailchat/internal/parser"
	"github.com/mixelka/mailchat/internal/summarizer"
	"github.com/mixelka/mailchat/internal/verification"
)

// Bot represents the Telegram bot
type Bot struct {
	bot          *bot.Bot
	db           *database.DB
	verifier     *verification.Service
	transport    *email.Transport
	sender       *email.Sender
	summarizer   *summarizer.Client
	codeDetector *parser.CodeDetector
	formatter    *formatter.TelegramFormatter
	trigger      func()
	logger       *slog.Logger
	config       *config.Config

	draftsMu sync.Mutex
	drafts   map[int64]draft
}

// BotDeps dependencies for creating a bot
type BotDeps struct {
	Config       *config.Config
	DB           *database.DB
	Verifier     *verification.Service
	Transport    *email.Transport
	Sender       *email.Sender
	Summarizer   *summarizer.Client
	CodeDetector *parser.CodeDetector
	Formatter    *formatter.TelegramFormatter
	Logger       *slog.Logger
}

// NewBot creates a new Telegram bot
func NewBot(deps BotDeps) (*Bot, error) {
	b := &Bot{
		db:           deps.DB,
		verifier:     deps.Verifier,
		transport:    deps.Transport,
		sender:       deps.Sender,
		summarizer:   deps.Summarizer,
		codeDetector: deps.CodeDetector,
		formatter:    deps.Formatter,
		trigger:      func() {},
		logger:       deps.Logger.With("component", "telegram_bot"),
		config:       deps.Config,
		drafts:       make(map[int64]draft),
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
	}

	tgBot, err := bot.New(deps.Config.TelegramToken, opts...)
	if err != nil {
		return nil, err
	}

	b.bot = tgBot
	b.registerHandlers()

	return b, nil
}

// OnVerified sets the hook run after an account becomes verified
func (b *Bot) OnVerified(fn func()) {
	b.trigger = fn
}

// registerHandlers registers command handlers
func (b *Bot) registerHandlers() {
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, b.handleStart)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypePrefix, b.handleHelp)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/setup", bot.MatchTypePrefix, b.handleSetup)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/verify", bot.MatchTypePrefix, b.handleVerify)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypePrefix, b.handleStatus)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/history", bot.MatchTypePrefix, b.handleHistory)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/stop", bot.MatchTypePrefix, b.handleStop)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/clear", bot.MatchTypePrefix, b.handleClear)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/mail", bot.MatchTypePrefix, b.handleMail)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/send", bot.MatchTypePrefix, b.handleSend)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.handleCallback)
}

// Start starts the bot
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info("starting telegram bot")
	b.bot.Start(ctx)
}

// defaultHandler handles messages no command matched
func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	// Ignore non-message updates and messages without text
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	text := update.Message.Text
	if strings.HasPrefix(text, "/") {
		b.logger.Debug("unknown command", "text", text)
		b.sendMessage(ctx, update.Message.Chat.ID, "Unknown command. See /help.")
		return
	}

	if looksLikeCredentials(text) {
		b.handleCredentials(ctx, update.Message)
		return
	}

	b.sendMessage(ctx, update.Message.Chat.ID,
		"Replies are not sent from chat. Use <code>/mail formal|informal recipient text</code> to write an email.")
}

// handleStart handles /start command
func (b *Bot) handleStart(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if err := b.db.Register(ctx, update.Message.Chat.ID); err != nil {
		b.logger.Error("failed to register account", "chat_id", update.Message.Chat.ID, "error", err)
	}
	b.handleHelp(ctx, tgBot, update)
}

// handleHelp handles /help command
func (b *Bot) handleHelp(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	text := `<b>Email Summary Bot</b>

Get your email as short chat messages.

<b>Commands:</b>
/setup - connect a mailbox
/verify CODE - confirm the mailbox with the emailed code
/status - verification and polling status
/history [n] - last processed emails
/mail formal|informal recipient text - draft an email
/send - send the last draft
/stop - disconnect the mailbox
/clear - remove recent bot messages from this chat`

	b.sendMessage(ctx, update.Message.Chat.ID, text)
}

// handleSetup handles /setup command
func (b *Bot) handleSetup(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	text := `<b>Connect your mailbox</b>

Send your address and an app password in one message:
<code>you@gmail.com abcd efgh ijkl mnop</code>

Servers are detected automatically. For other providers send:
<code>email|password|imap_host|imap_port|smtp_host|smtp_port</code>

The message is deleted right away. A verification code is then emailed to the address.`

	b.sendMessage(ctx, update.Message.Chat.ID, text)
}

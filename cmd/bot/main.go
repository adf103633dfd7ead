package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mixelka/mailchat/internal/config"
	"github.com/mixelka/mailchat/internal/database"
	"github.com/mixelka/mailchat/internal/delivery"
	"github.com/mixelka/mailchat/internal/email"
	"github.com/mixelka/mailchat/internal/formatter"
	"github.com/mixelka/mailchat/internal/metrics"
	"github.com/mixelka/mailchat/internal/parser"
	"github.com/mixelka/mailchat/internal/poller"
	"github.com/mixelka/mailchat/internal/summarizer"
	"github.com/mixelka/mailchat/internal/telegram"
	"github.com/mixelka/mailchat/internal/verification"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting email summary bot")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.EncryptionKey != "" {
		sealer, err := database.NewSealer(cfg.EncryptionKey)
		if err != nil {
			logger.Error("failed to create sealer", "error", err)
			os.Exit(1)
		}
		db.UseSealer(sealer)
		logger.Info("mailbox secrets are sealed at rest")
	}

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Create components
	htmlParser := parser.NewHTMLParser()
	codeDetector := parser.NewCodeDetector()
	tgFormatter := formatter.NewTelegramFormatter()
	transport := email.NewTransport(cfg.IMAPDialTimeout, htmlParser, logger)
	sender := email.NewSender(cfg.IMAPDialTimeout, logger)

	llm, err := summarizer.NewClient(ctx, summarizer.Config{
		BaseURL:       cfg.LLMBaseURL,
		APIKey:        cfg.LLMAPIKey,
		Model:         cfg.LLMModel,
		Timeout:       cfg.LLMTimeout,
		MaxBodyLength: cfg.MaxEmailBodyLength,
		MaxTokens:     cfg.MaxSummaryTokens,
	})
	if err != nil {
		logger.Error("failed to create summarizer", "error", err)
		os.Exit(1)
	}

	verifier := verification.NewService(db, sender, verification.Config{
		TTL: cfg.VerificationCodeTTL,
	}, logger)

	// Create bot
	bot, err := telegram.NewBot(telegram.BotDeps{
		Config:       cfg,
		DB:           db,
		Verifier:     verifier,
		Transport:    transport,
		Sender:       sender,
		Summarizer:   llm,
		CodeDetector: codeDetector,
		Formatter:    tgFormatter,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	// Polling pipeline, the bot is the chat-delivery side
	coordinator := delivery.NewCoordinator(db, llm, bot, codeDetector, logger)
	orchestrator := poller.NewOrchestrator(db, transport, coordinator, poller.Config{
		Concurrency:    cfg.PollConcurrency,
		AccountTimeout: cfg.AccountTimeout,
		MessageTimeout: cfg.MessageTimeout,
		FetchLimit:     cfg.MaxEmailsPerCheck,
	}, logger)
	scheduler := poller.NewScheduler(orchestrator, cfg.EmailPollInterval, logger)
	bot.OnVerified(scheduler.Trigger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received shutdown signal", "signal", sig)
		logger.Info("shutting down...")

		cancel()
	}()

	var wg sync.WaitGroup

	if cfg.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	// Start bot
	logger.Info("bot is running, press Ctrl+C to stop")
	bot.Start(ctx)

	wg.Wait()
	logger.Info("bot stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

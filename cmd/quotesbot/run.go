package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"quotesbot/internal/bot"
	"quotesbot/internal/bus"
	"quotesbot/internal/channel"
	"quotesbot/internal/config"
	"quotesbot/internal/domain"
	"quotesbot/internal/imag"
	"quotesbot/internal/metrics"
	"quotesbot/internal/store"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the configured chat networks and serve commands",
		Long:  "Connects to Matrix (and Telegram when enabled), joins the home room and serves commands until interrupted or told to die.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cfg, func(ctx context.Context) ([]domain.Channel, error) {
				return connectChannels(ctx, cfg)
			}, func(ch domain.Channel) string {
				if ch.Name() == "telegram" {
					return cfg.Telegram.Admin
				}
				return ""
			})
		},
	}
}

// serve wires the ledger, repository and router around the channels built by
// connect and runs them until the context is cancelled. adminFor returns a
// per-channel admin override, empty to use bot.admin.
func serve(cfg *config.Config, connect func(context.Context) ([]domain.Channel, error), adminFor func(domain.Channel) string) error {
	logCloser, err := configureLogger(cfg.General)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The die command cancels the same context as a signal.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	exit := func() {
		logger.Info("shutdown requested by administrator")
		cancel()
	}

	// Message bus (closed during graceful shutdown below)
	messageBus := bus.New(100, logger)
	events := bus.NewEventBus(logger)

	if cfg.Store.Enabled {
		ledger, err := openLedger(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		defer ledger.Close()
		ledger.Subscribe(events)
	}

	repo, err := imag.New(imag.Config{
		BaseURL:    cfg.Imag.BaseURL,
		Key:        cfg.Imag.Key,
		IDEndpoint: cfg.Imag.IDEndpoint,
		HTTPClient: imag.NewHTTPClient(time.Duration(cfg.Imag.TimeoutSeconds) * time.Second),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}

	router := bot.NewRouter(bot.RouterConfig{
		Prefix:           cfg.Bot.Prefix,
		Admin:            cfg.Bot.Admin,
		SourceURL:        cfg.Bot.SourceURL,
		ArchiveURL:       cfg.Imag.BaseURL,
		CaptionMaxLength: cfg.Bot.CaptionMaxLength,
		ScoreCount:       cfg.Bot.ScoreDefault,
		Repository:       repo,
		Events:           events,
		Logger:           logger,
		Concurrency:      cfg.Bot.Concurrency,
		Exit:             exit,
	})
	quotesBot := bot.New(bot.Config{
		Router: router,
		Bus:    messageBus,
		Logger: logger,
	})

	channels, err := connect(ctx)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		sess, err := bot.NewSession(ch, cfg.General.Debug, adminFor(ch))
		if err != nil {
			return err
		}
		quotesBot.Attach(sess)
	}

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch domain.Channel) {
			defer wg.Done()
			// A channel that stops takes the bot down with it.
			if err := ch.Start(ctx, messageBus); err != nil {
				logger.Error("channel stopped", "channel", ch.Name(), "err", err)
			}
			cancel()
		}(ch)
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, metrics.Collector, logger)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		quotesBot.Run(ctx)
	}()

	logger.Info("quotesbot started. Press Ctrl+C to stop.", "version", version, "prefix", cfg.Bot.Prefix)

	<-ctx.Done()
	logger.Info("shutting down...")

	// Graceful shutdown with timeout
	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			ch.Stop()
		}
		wg.Wait()
		messageBus.Close()
		<-botDone
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// connectChannels builds and connects every enabled channel. Matrix is
// always present.
func connectChannels(ctx context.Context, cfg *config.Config) ([]domain.Channel, error) {
	matrix, err := channel.NewMatrix(channel.MatrixConfig{
		Homeserver:  cfg.Matrix.Homeserver,
		AccessToken: cfg.Matrix.Token,
		Room:        cfg.Matrix.Room,
		Autojoin:    cfg.Matrix.Autojoin,
		SyncTimeout: time.Duration(cfg.Matrix.SyncTimeoutSeconds) * time.Second,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	channels := []domain.Channel{matrix}

	if cfg.Telegram.Enabled {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Telegram.Token,
			AllowFrom: cfg.Telegram.AllowFrom,
			HomeChat:  cfg.Telegram.HomeChat,
			Logger:    logger,
		}))
		logger.Info("telegram channel enabled")
	}

	for _, ch := range channels {
		if err := ch.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect %s: %w", ch.Name(), err)
		}
	}
	return channels, nil
}

func openLedger(ctx context.Context, cfg config.StoreConfig) (*store.Ledger, error) {
	ledger, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	if cfg.RetentionDays > 0 {
		removed, err := ledger.Prune(ctx, time.Duration(cfg.RetentionDays)*24*time.Hour)
		if err != nil {
			logger.Warn("ledger prune failed", "err", err)
		} else if removed > 0 {
			logger.Info("ledger pruned", "removed", removed, "retention_days", cfg.RetentionDays)
		}
	}
	return ledger, nil
}

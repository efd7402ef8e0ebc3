package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sashabaranov/go-openai"

	"github.com/homeflowhq/homeflow/internal/agent"
	"github.com/homeflowhq/homeflow/internal/api"
	"github.com/homeflowhq/homeflow/internal/client"
	"github.com/homeflowhq/homeflow/internal/config"
	"github.com/homeflowhq/homeflow/internal/engine"
	"github.com/homeflowhq/homeflow/internal/logging"
	"github.com/homeflowhq/homeflow/internal/mail"
	"github.com/homeflowhq/homeflow/internal/store"
	"github.com/homeflowhq/homeflow/internal/timer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "homeflow:", err)
		os.Exit(1)
	}
}

func run() error {
	// Local overrides; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewLibSQLStore(cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	logger.Info("store ready", slog.String("path", cfg.DatabasePath))

	var sender mail.Sender
	if cfg.MailgunAPIKey != "" {
		sender = mail.NewMailgunSender(cfg.MailgunAPIKey, cfg.MailgunDomain, cfg.MailFrom, logger)
		logger.Info("outbound mail via mailgun", slog.String("domain", cfg.MailgunDomain))
	} else {
		sender = &mail.LogSender{Logger: logger}
		logger.Warn("no mailgun credentials, outbound mail is log-only")
	}

	clients := client.NewStore(db, logger)

	tools, err := agent.NewToolSet(clients, sender, logger)
	if err != nil {
		return fmt.Errorf("build tool set: %w", err)
	}

	openaiCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		openaiCfg.BaseURL = cfg.OpenAIBaseURL
	}
	reasoner := agent.New(openai.NewClientWithConfig(openaiCfg), cfg.OpenAIModel, tools, logger)

	eng := engine.New(ctx, db, reasoner, logger, engine.Config{
		FollowUpDelay: cfg.FollowUpDelay,
		StepTimeout:   cfg.StepTimeout,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		PoolSize:      cfg.PoolSize,
	})

	// Processing that was in flight when the previous process died has to
	// be picked back up before timers start firing against it.
	if err := eng.Recover(ctx); err != nil {
		return fmt.Errorf("recover workflows: %w", err)
	}

	sched, err := timer.NewScheduler(db, eng, logger, timer.Config{
		Tick:          cfg.SchedulerTick,
		RetentionCron: cfg.RetentionCron,
		RetentionAge:  cfg.RetentionAge,
	})
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(eng, clients, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop failed", slog.String("error", err.Error()))
	}
	eng.Shutdown()

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

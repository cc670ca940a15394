// Package app wires the audit components from configuration. It is shared
// by the server and the operator CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/liamcoop/salesaudit/crm"
	"github.com/liamcoop/salesaudit/engine"
	"github.com/liamcoop/salesaudit/internal/config"
	"github.com/liamcoop/salesaudit/internal/logger"
	"github.com/liamcoop/salesaudit/judge"
	"github.com/liamcoop/salesaudit/rules"
	"github.com/liamcoop/salesaudit/violations"
)

// App holds the wired components
type App struct {
	DB         *sql.DB
	Catalog    *rules.Catalog
	Violations violations.Store
	Dispatcher *violations.Dispatcher
	Engine     *engine.Engine

	closers []func() error
}

// Open connects to the database and wires every component
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	a := &App{
		DB:         db,
		Catalog:    rules.NewCatalog(rules.NewPostgresRuleStore(db)),
		Violations: violations.NewPostgresStore(db),
	}

	notifiers := a.buildNotifiers(cfg.Notify)
	a.Dispatcher = violations.NewDispatcher(cfg.Notify.QueueSize, notifiers...)

	if cfg.Judge.APIKey == "" {
		logger.Warn("JUDGE_API_KEY is not set, checklist rules will fail closed and semantic checks will not match")
	}
	a.Engine = engine.New(engine.Deps{
		Rules: a.Catalog,
		Store: crm.NewPostgresStore(db),
		Judge: judge.NewHTTPClient(judge.HTTPConfig{
			BaseURL:           cfg.Judge.BaseURL,
			APIKey:            cfg.Judge.APIKey,
			Model:             cfg.Judge.Model,
			Timeout:           cfg.Judge.Timeout,
			RequestsPerSecond: cfg.Judge.RequestsPerSecond,
			MaxRetries:        cfg.Judge.MaxRetries,
		}),
		Sink: violations.NewSink(a.Violations, a.Dispatcher),
		Config: engine.Config{
			StatusField:        cfg.CRM.StatusField,
			CommentField:       cfg.CRM.CommentField,
			CustomFieldPrefix:  cfg.CRM.CustomFieldPrefix,
			MinTranscriptChars: cfg.Judge.MinTranscriptLength,
		},
	})
	return a, nil
}

func (a *App) buildNotifiers(cfg config.NotifyConfig) []violations.Notifier {
	notifiers := []violations.Notifier{violations.LogNotifier{}}

	if cfg.RedisAddr != "" {
		n, rdb, err := violations.NewRedisNotifier(cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			logger.Warn("redis notifications disabled", "error", err)
		} else {
			notifiers = append(notifiers, n)
			a.closers = append(a.closers, rdb.Close)
		}
	}
	if cfg.DiscordBotToken != "" {
		n, session, err := violations.NewDiscordNotifier(cfg.DiscordBotToken, cfg.DiscordChannelID)
		if err != nil {
			logger.Warn("discord notifications disabled", "error", err)
		} else {
			notifiers = append(notifiers, n)
			a.closers = append(a.closers, session.Close)
		}
	}
	return notifiers
}

// Close drains queued notifications and releases connections
func (a *App) Close(ctx context.Context) {
	if err := a.Dispatcher.Close(ctx); err != nil {
		logger.Warn("notification queue not drained", "error", err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
	if err := a.DB.Close(); err != nil {
		logger.Warn("failed to close database", "error", err)
	}
}

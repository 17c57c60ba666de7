package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tabsync/tabsync/internal/cache"
	"github.com/tabsync/tabsync/internal/config"
	"github.com/tabsync/tabsync/internal/db"
	"github.com/tabsync/tabsync/internal/importer"
	"github.com/tabsync/tabsync/internal/notion"
	"github.com/tabsync/tabsync/internal/sheets"
	"github.com/tabsync/tabsync/internal/stats"
	"github.com/tabsync/tabsync/internal/trigger"
	"github.com/tabsync/tabsync/internal/webhook"
	"github.com/tabsync/tabsync/internal/worker"
	"github.com/tabsync/tabsync/tools/migrator"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting tabsync", "config_file", *configFile)

	// Log configuration summary
	slog.Info("database configuration",
		"driver", cfg.Database.Driver,
		"migrations_dir", cfg.Database.MigrationsDir)

	// Open database connection with pool settings
	slog.Info("connecting to database", "driver", cfg.Database.Driver)
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err, "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	defer database.Close()

	// Run migrations
	if !cfg.Database.SkipMigrations {
		slog.Info("running migrations", "migrations_dir", cfg.Database.MigrationsDir)
		if err := migrator.RunMigrations(database.DB, cfg.Database.MigrationsDir); err != nil {
			slog.Error("failed to run migrations", "error", err, "migrations_dir", cfg.Database.MigrationsDir)
			os.Exit(1)
		}

		version, err := migrator.GetCurrentVersion(database.DB)
		if err != nil {
			slog.Error("failed to get schema version", "error", err)
			os.Exit(1)
		}
		slog.Info("database schema ready", "version", version)
	} else {
		slog.Info("skipping migrations", "reason", "configured to skip")
	}

	// Automation cache backend
	automationCache, err := cache.New(cfg.Cache.DSN)
	if err != nil {
		slog.Error("failed to create automation cache", "error", err, "dsn", cfg.Cache.DSN)
		os.Exit(1)
	}

	// API clients
	sourceClient := notion.NewClient(notion.ClientOptions{
		BaseURL:       cfg.Notion.BaseURL,
		APIVersion:    cfg.Notion.APIVersion,
		TokenProvider: notionTokens(cfg.Notion, database),
	})

	destTokens, err := sheetsTokens(cfg.Sheets, database)
	if err != nil {
		slog.Error("failed to resolve sheets credentials", "error", err, "account_id", cfg.Sheets.AccountID)
		os.Exit(1)
	}
	sheetsClient := sheets.NewClient(destTokens, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pipeline assembly
	statsRecorder := stats.New(cfg.Stats, database, logger, nil)
	tracker := importer.New(database, logger, nil)

	pipeline := worker.New(cfg.Pipeline, worker.Deps{
		Store:   database,
		Source:  sourceClient,
		Sheets:  sheetsClient,
		Tracker: tracker,
		Stats:   statsRecorder,
		Logger:  logger,
	})

	syncTrigger := trigger.New(cfg.Trigger, database, automationCache, pipeline, logger, nil)

	webhookServer, err := webhook.NewServer(cfg.Webhook, database, pipeline, logger)
	if err != nil {
		slog.Error("failed to create webhook server", "error", err)
		os.Exit(1)
	}

	// Start everything
	statsRecorder.Start(ctx)
	pipeline.Start(ctx)
	syncTrigger.Start(ctx)
	webhookErrs := webhookServer.Start()

	slog.Info("tabsync is running")

	// Wait for interrupt signal or a dead webhook listener
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("received signal", "signal", sig.String())
	case err := <-webhookErrs:
		slog.Error("webhook server failed", "error", err)
	}

	slog.Info("shutting down gracefully")

	// Stop intake first, then drain the pipeline, then flush stats
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := webhookServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("webhook shutdown failed", "error", err)
	}
	syncTrigger.Shutdown()
	pipeline.Shutdown()
	statsRecorder.Shutdown()

	slog.Info("tabsync stopped")
}

// newLogger builds the process logger from the logging section
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// notionTokens picks the source token strategy: per-account lookup when
// an account is configured, otherwise the static token
func notionTokens(cfg config.NotionConfig, database *db.DB) notion.AccessTokenProvider {
	if cfg.AccountID != "" {
		return func(ctx context.Context) (string, error) {
			account, err := database.GetAccount(cfg.AccountID)
			if err != nil {
				return "", err
			}
			return account.AccessToken, nil
		}
	}
	return func(ctx context.Context) (string, error) {
		return cfg.Token, nil
	}
}

// sheetsTokens picks the destination token strategy: account credentials
// when an account is configured, then a refresh token, then the static
// access token. Rotated tokens are written back to the account.
func sheetsTokens(cfg config.SheetsConfig, database *db.DB) (sheets.TokenProvider, error) {
	refreshToken := cfg.RefreshToken

	if cfg.AccountID != "" {
		account, err := database.GetAccount(cfg.AccountID)
		if err != nil {
			return nil, err
		}
		if account.RefreshToken != nil && *account.RefreshToken != "" {
			refreshToken = *account.RefreshToken
		}
		if refreshToken == "" {
			return sheets.StaticToken(account.AccessToken), nil
		}

		source := sheets.NewRefreshTokenSource(sheets.OAuthConfig{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}, refreshToken)
		source.OnRefresh(func(token string, expiry time.Time) {
			if err := database.UpdateAccountTokens(cfg.AccountID, token, nil, &expiry); err != nil {
				slog.Warn("failed to persist rotated token", "account_id", cfg.AccountID, "error", err)
			}
		})
		return source, nil
	}

	if refreshToken != "" {
		return sheets.NewRefreshTokenSource(sheets.OAuthConfig{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}, refreshToken), nil
	}
	return sheets.StaticToken(cfg.AccessToken), nil
}

// ThreadSync server: receives discussion webhooks, runs the sync
// pipeline, and serves the admin API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/threadsync/threadsync/pkg/adapter"
	"github.com/threadsync/threadsync/pkg/adapter/figmaemail"
	"github.com/threadsync/threadsync/pkg/adapter/slackmention"
	"github.com/threadsync/threadsync/pkg/api"
	"github.com/threadsync/threadsync/pkg/cleanup"
	"github.com/threadsync/threadsync/pkg/config"
	"github.com/threadsync/threadsync/pkg/crypto"
	"github.com/threadsync/threadsync/pkg/ingress"
	"github.com/threadsync/threadsync/pkg/processor"
	"github.com/threadsync/threadsync/pkg/store"
	"github.com/threadsync/threadsync/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// openStore connects to Postgres, or falls back to the in-memory store in
// dev mode when no database is reachable.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		if cfg.DevMode {
			slog.Warn("Database unavailable, using in-memory store",
				"db_host", cfg.Database.Host, "error", err)
			return store.NewMemoryStore(), nil
		}
		return nil, err
	}
	slog.Info("Connected to PostgreSQL database", "db_host", cfg.Database.Host)
	return st, nil
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	rotateKey := flag.Bool("rotate-key",
		false,
		"Re-encrypt stored credentials under ENCRYPTION_MASTER_KEY_NEW and exit")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting ThreadSync",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Credential encryption
	enc, err := crypto.NewEncryptor(cfg.MasterKey)
	if err != nil {
		slog.Error("Failed to initialize encryption", "error", err)
		os.Exit(1)
	}

	// 3. Storage
	st, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()

	// Maintenance mode: rotate credentials and exit.
	if *rotateKey {
		newKey := os.Getenv("ENCRYPTION_MASTER_KEY_NEW")
		if newKey == "" {
			slog.Error("ENCRYPTION_MASTER_KEY_NEW is required with -rotate-key")
			os.Exit(1)
		}
		n, err := store.RotateCredentials(ctx, st, cfg.MasterKey, newKey)
		if err != nil {
			slog.Error("Key rotation failed", "rotated", n, "error", err)
			os.Exit(1)
		}
		slog.Info("Key rotation complete", "rotated", n)
		return
	}

	// 4. Source adapters
	registry := adapter.NewRegistry(enc)
	registry.Register(slackmention.Tag, slackmention.Factory())
	registry.Register(figmaemail.Tag, figmaemail.Factory())
	slog.Info("Source adapters registered", "sources", registry.Tags())

	// 5. Pipeline processor
	proc := processor.New(st, registry, enc, processor.Options{
		MaxAttempts: cfg.Processor.MaxAttempts,
		RetryBase:   cfg.Processor.RetryBase,
		RetryMax:    cfg.Processor.RetryMax,
	})

	// 6. Webhook ingress with signature verification
	slackVerifier := crypto.NewSlackVerifier(cfg.Slack.SigningSecret, cfg.DevMode)
	mailgunVerifier := crypto.NewMailgunVerifier(cfg.Mailgun.WebhookSecret, cfg.DevMode)
	ing := ingress.NewService(st, registry, proc, slackVerifier, mailgunVerifier)

	// 7. Retention sweeper
	sweeper := cleanup.NewService(cfg.Retention, st)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 8. HTTP server (non-blocking)
	httpServer := api.NewServer(ing, proc, st, registry)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("ThreadSync started successfully")

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	slog.Info("ThreadSync shutdown complete")
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"saldo/internal/cache"
	"saldo/internal/config"
	apphttp "saldo/internal/http"
	"saldo/internal/ledger"
	applog "saldo/internal/log"
	"saldo/internal/remote"
	"saldo/internal/remote/amqpnotify"
	"saldo/internal/remote/sheets"
	"saldo/internal/syncer"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: "saldo"})
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	localCache, err := cache.NewSQLite(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open local cache", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer localCache.Close()

	queue := syncer.NewQueue(localCache)
	if err := queue.Load(ctx); err != nil {
		logger.Error("Failed to restore dirty queue", "error", err)
		os.Exit(1)
	}

	svc := ledger.NewService(ledger.NewStore(), localCache, queue)
	if err := svc.Load(ctx); err != nil {
		logger.Error("Failed to hydrate ledger from cache", "error", err)
		os.Exit(1)
	}

	remoteStore, cleanup, err := buildRemote(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize remote store", "error", err, "backend", cfg.RemoteBackend)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	sync := syncer.New(svc, remoteStore, queue, syncer.Config{
		FlushInterval: cfg.FlushInterval,
		BackoffMax:    cfg.BackoffMax,
	})
	if err := sync.Start(ctx); err != nil {
		logger.Error("Failed to start syncer", "error", err)
		os.Exit(1)
	}

	srv := apphttp.NewServer(":"+cfg.Port, svc, sync)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := sync.Stop(shutdownCtx); err != nil {
			logger.Error("Syncer shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting saldo server",
		"port", cfg.Port,
		"remote_backend", cfg.RemoteBackend,
		"cache_path", cfg.SQLiteDBPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}

// buildRemote assembles the configured remote store, optionally wrapped
// with AMQP change notifications.
func buildRemote(ctx context.Context, cfg *config.Config, logger *applog.Logger) (remote.Store, func(), error) {
	var store remote.Store
	var cleanup func()

	switch cfg.RemoteBackend {
	case "sheets":
		clientJSON, err := resolveJSON(cfg.GoogleOAuthClientFile, cfg.GoogleOAuthClientJSON)
		if err != nil {
			return nil, nil, err
		}
		tokenJSON, err := resolveJSON(cfg.GoogleOAuthTokenFile, cfg.GoogleOAuthTokenJSON)
		if err != nil {
			return nil, nil, err
		}

		s, err := sheets.New(ctx, sheets.Options{
			SpreadsheetID: cfg.GoogleSpreadsheetID,
			SheetName:     cfg.GoogleSheetName,
			ClientJSON:    clientJSON,
			TokenJSON:     tokenJSON,
			PollInterval:  cfg.SheetsPollInterval,
		})
		if err != nil {
			return nil, nil, err
		}
		store, cleanup = s, s.Close
		logger.Info("Initialized Google Sheets remote", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	default:
		store = remote.NewMemory()
		logger.Info("Initialized in-memory remote, state will not leave this process")
	}

	if cfg.AMQPURL != "" {
		notifier, err := amqpnotify.New(store, cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		if err := notifier.Start(ctx); err != nil {
			notifier.Close()
			return nil, nil, err
		}
		prev := cleanup
		cleanup = func() {
			notifier.Close()
			if prev != nil {
				prev()
			}
		}
		store = notifier
		logger.Info("AMQP change notifications enabled", "exchange", cfg.AMQPExchange)
	}

	return store, cleanup, nil
}

func resolveJSON(file, inline string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	return os.ReadFile(file)
}

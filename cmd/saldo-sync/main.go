// saldo-sync is the headless agent: it keeps the local cache and the
// remote store converged without serving the API, for machines that only
// need to mirror the ledger.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"saldo/internal/cache"
	"saldo/internal/config"
	"saldo/internal/ledger"
	applog "saldo/internal/log"
	"saldo/internal/remote"
	"saldo/internal/remote/amqpnotify"
	"saldo/internal/remote/sheets"
	"saldo/internal/syncer"
)

func main() {
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: "saldo-sync"})
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	logger.Info("Sync agent running",
		"remote_backend", cfg.RemoteBackend,
		"flush_interval", cfg.FlushInterval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return sync.Stop(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				st := sync.Status()
				logger.Info("Sync status",
					"online", st.Online,
					"dirty", st.Dirty,
					"last_error", st.LastError)
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("Sync agent stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Sync agent stopped gracefully")
}

// buildRemote mirrors the server wiring: the configured backend,
// optionally wrapped with AMQP change notifications.
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
		logger.Warn("In-memory remote configured, a sync agent with it is a no-op beyond the local cache")
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

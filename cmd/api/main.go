package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/certs"
	"github.com/hamed0406/sitewatch/internal/config"
	"github.com/hamed0406/sitewatch/internal/httpapi"
	apimw "github.com/hamed0406/sitewatch/internal/httpapi/middleware"
	"github.com/hamed0406/sitewatch/internal/httpapi/stream"
	"github.com/hamed0406/sitewatch/internal/logging"
	"github.com/hamed0406/sitewatch/internal/notify"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/repo/memory"
	"github.com/hamed0406/sitewatch/internal/repo/postgres"
	"github.com/hamed0406/sitewatch/internal/repo/seed"
	"github.com/hamed0406/sitewatch/internal/repo/sqlite"
	"github.com/hamed0406/sitewatch/internal/retention"
	"github.com/hamed0406/sitewatch/internal/scheduler"
	"github.com/hamed0406/sitewatch/internal/tracker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("SITEWATCH_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("sitewatch_failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.MonitorFile != "" {
		m, err := seed.Load(cfg.MonitorFile)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, m, store); err != nil {
			return fmt.Errorf("apply monitor file: %w", err)
		}
		go func() {
			err := seed.Watch(ctx, cfg.MonitorFile, logger, func(m *seed.Monitor) {
				// takes effect at the next cycle boundary
				if err := seed.Apply(ctx, m, store); err != nil {
					logger.Error("monitor_file_apply_failed", zap.Error(err))
					return
				}
				logger.Info("monitor_file_applied", zap.String("path", cfg.MonitorFile))
			})
			if err != nil {
				logger.Error("monitor_file_watch_failed", zap.Error(err))
			}
		}()
	}

	checker := certs.NewChecker(logger, store)

	var notifyOpts []notify.Option
	if slack := notify.NewSlack(cfg.SlackWebhook); slack != nil {
		notifyOpts = append(notifyOpts, notify.WithChat(slack))
	}
	dispatcher := notify.NewDispatcher(logger, cfg.MonitorID, notifyOpts...)

	monitor := scheduler.New(scheduler.Deps{
		Logger:   logger,
		Config:   store,
		Recorder: store,
		Prober: &probe.RetryProber{
			Inner:    probe.NewHTTPProber(),
			Attempts: cfg.RetryAttempts,
			Backoff:  cfg.RetryBackoff,
		},
		Certs:       checker,
		Tracker:     tracker.New(),
		Dispatcher:  dispatcher,
		Retention:   retention.New(store, logger),
		Concurrency: cfg.Concurrency,
	})

	hub := stream.NewHub(logger, cfg.AllowedOrigins)
	monitor.AddObserver(hub)
	defer hub.Close()

	api := httpapi.NewServer(logger, monitor, store)
	api.Certs = checker
	api.Webhooks = dispatcher
	api.Stream = hub
	api.BaseCtx = ctx

	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	if len(keys.Public) == 0 && len(keys.Admin) == 0 {
		logger.Warn("api_keys_not_configured", zap.String("hint", "all routes are open"))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Autostart {
		monitor.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr), zap.String("db_driver", cfg.DBDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	logger.Info("shutdown_started")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http_shutdown_failed", zap.Error(err))
	}
	monitor.Stop()
	monitor.Wait()
	logger.Info("shutdown_complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repo.Store, error) {
	switch cfg.DBDriver {
	case config.DriverMemory:
		logger.Warn("memory_store_in_use", zap.String("hint", "state is lost on restart"))
		return memory.New(), nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DBDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
}

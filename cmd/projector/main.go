// Package main is the entry point for the unitcast projector.
// It consumes unit mutation events from the change log and maintains
// re-keyed unit projections in the destination store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	appctx "unitcast/internal/core/context"
	"unitcast/internal/core/security"
	"unitcast/internal/domain/changefeed"
	"unitcast/internal/domain/projection"
	v1 "unitcast/internal/infrastructure/http/v1"
	"unitcast/internal/infrastructure/http/v1/handlers"
	"unitcast/internal/infrastructure/http/v1/middleware"
	"unitcast/internal/infrastructure/settings"
	"unitcast/internal/infrastructure/storage"
	"unitcast/internal/infrastructure/storage/postgres"
	"unitcast/pkg/logger"
)

func main() {
	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting unitcast projector")

	// --- Settings ---
	provider, err := settings.NewFromEnv(ctx)
	if err != nil {
		log.Fatalw("failed to initialize settings provider", "error", err)
	}

	destTable, err := provider.DestinationTable(ctx)
	if err != nil {
		log.Fatalw("failed to resolve destination table", "error", err)
	}

	// --- Destination store ---
	driver := storage.Driver(getEnv("UNITCAST_STORE_DRIVER", "postgres"))

	var pool *postgres.Pool
	if driver == storage.DriverPostgres {
		pool, err = postgres.NewPool(ctx, postgres.DefaultPoolConfig(mustEnv("UNITCAST_POSTGRES_DSN")))
		if err != nil {
			log.Fatalw("failed to connect to postgres", "error", err)
		}
		defer pool.Close()
		log.Info("postgres connection established")
	} else if dsn := getEnv("UNITCAST_POSTGRES_DSN", ""); dsn != "" {
		// Side pool for the change log and journal when the destination
		// lives elsewhere.
		pool, err = postgres.NewPool(ctx, postgres.DefaultPoolConfig(dsn))
		if err != nil {
			log.Fatalw("failed to connect to postgres", "error", err)
		}
		defer pool.Close()
	}

	dest, err := storage.Open(ctx, storage.Options{
		Driver: driver,
		Table:  destTable,
		Pool:   pool,
	})
	if err != nil {
		log.Fatalw("failed to open destination store", "error", err, "driver", driver)
	}
	log.Infow("destination store ready", "driver", dest.Driver, "table", destTable)

	// --- Record filter ---
	var recordFilter *changefeed.Filter
	if expr := getEnv("UNITCAST_RECORD_FILTER", ""); expr != "" {
		recordFilter, err = changefeed.NewFilter(expr)
		if err != nil {
			log.Fatalw("failed to compile record filter", "error", err)
		}
		log.Infow("record filter enabled", "expr", expr)
	}

	// --- Journal ---
	dispatcherCfg := projection.DispatcherConfig{
		Store:  dest.Store,
		Filter: recordFilter,
	}
	var journalReader handlers.JournalReader
	if pool != nil && getEnv("UNITCAST_JOURNAL_ENABLED", "true") == "true" {
		journal, err := postgres.NewJournal(pool)
		if err != nil {
			log.Fatalw("failed to initialize journal", "error", err)
		}
		dispatcherCfg.Journal = journal
		journalReader = journal
	}

	dispatcher := projection.NewDispatcher(dispatcherCfg)

	// --- Ingest auth ---
	var validator middleware.TokenValidator
	if secret := getEnv("UNITCAST_INGEST_TOKEN_SECRET", ""); secret != "" {
		validator = security.NewTokenService(security.DefaultTokenConfig(secret))
		log.Info("ingest authentication enabled")
	}

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Dispatcher:     dispatcher,
		Resolver:       projection.NewResolver(dest.Store),
		Journal:        journalReader,
		Logger:         log,
		TokenValidator: validator,
		Ready:          dest.Ready,
		Driver:         string(dest.Driver),
	})

	// --- Change log poller ---
	var wg sync.WaitGroup
	if pool != nil && getEnv("UNITCAST_POLL_ENABLED", "true") == "true" {
		sourceTable, err := provider.SourceTable(ctx)
		if err != nil {
			log.Fatalw("failed to resolve source table", "error", err)
		}

		batchSize := getEnvInt("UNITCAST_POLL_BATCH_SIZE", 100)
		source := postgres.NewChangeSource(pool.Unwrap(), sourceTable, batchSize, dispatcher)

		p := &poller{
			source:    source,
			interval:  getEnvDuration("UNITCAST_POLL_INTERVAL", 2*time.Second),
			retention: getEnvDuration("UNITCAST_CHANGELOG_RETENTION", 7*24*time.Hour),
			log:       log.WithComponent("poller"),
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()

		log.Infow("change log poller started",
			"table", sourceTable,
			"batch_size", batchSize,
			"interval", p.interval,
		)
	}

	// --- HTTP Server ---
	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down projector...")
	cancel()
	wg.Wait()

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("projector stopped")
}

// poller drives the sequential consumption loop over the change log. One
// batch is claimed, dispatched and acknowledged per tick; a failing tick is
// reported with the batch-fatal outcome and retried on the next one.
type poller struct {
	source    *postgres.ChangeSource
	interval  time.Duration
	retention time.Duration
	log       *logger.Logger
}

func (p *poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	purgeTicker := time.NewTicker(1 * time.Hour)
	defer purgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("stopping change log poller")
			return

		case <-ticker.C:
			// Each tick is its own traced batch.
			tickCtx := appctx.WithTrace(ctx, appctx.NewTraceContext(appctx.SourceChangelog))
			n, err := p.source.ProcessBatch(tickCtx)
			if err != nil {
				outcome := projection.FatalOutcome(err)
				p.log.Errorw("change batch failed", "error", err, "outcome", outcome.Body)
				continue
			}
			if n > 0 {
				p.log.Debugw("processed change batch", "count", n)
			}

		case <-purgeTicker.C:
			n, err := p.source.PurgeConsumed(ctx, p.retention)
			if err != nil {
				p.log.Warnw("changelog purge failed", "error", err)
				continue
			}
			if n > 0 {
				p.log.Infow("purged consumed change rows", "count", n)
			}
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// The gateway binary runs the backbone: the routing pipeline, the service
// registry with its eviction sweep, the circuit breaker bank, the quota
// limiter, the event log, and the cross-domain audit consumer.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/astra-platform/backbone/internal/breaker"
	"github.com/astra-platform/backbone/internal/config"
	"github.com/astra-platform/backbone/internal/eventlog"
	"github.com/astra-platform/backbone/internal/httpapi"
	"github.com/astra-platform/backbone/internal/httputil"
	"github.com/astra-platform/backbone/internal/logging"
	"github.com/astra-platform/backbone/internal/middleware"
	"github.com/astra-platform/backbone/internal/ratelimit"
	"github.com/astra-platform/backbone/internal/registry"
	"github.com/astra-platform/backbone/internal/router"
	"github.com/astra-platform/backbone/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	services := config.LoadServicesConfigOrDefault()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, db, err := buildStore(cfg.Database)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	events := eventlog.New(store, eventlog.Config{
		Namespace:         cfg.EventLog.Namespace,
		Partitions:        cfg.EventLog.Partitions,
		VisibilityTimeout: cfg.EventLog.VisibilityTimeout,
	}, log)
	defer events.Close()

	reg := registry.New(registry.Config{
		HeartbeatInterval: cfg.Registry.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Registry.HeartbeatTimeout,
		SweepInterval:     cfg.Registry.SweepInterval,
	}, log)
	go reg.Run(ctx)

	bank := breaker.NewBank(breaker.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
	})
	for name, settings := range services.Services {
		if settings.Breaker != nil {
			bank.Configure(name, breaker.Settings{
				FailureThreshold: settings.Breaker.FailureThreshold,
				OpenTimeout:      settings.Breaker.OpenTimeout,
			})
		}
	}

	limiter := ratelimit.New()
	limiter.StartCleanup(time.Minute, ctx.Done())

	gateway := router.New(
		cfg.Gateway,
		services,
		reg,
		registry.PolicyByName(cfg.Gateway.SelectionPolicy),
		bank,
		limiter,
		events,
		httputil.NewClient(),
		log,
	)

	var guard *middleware.BurstGuard
	if cfg.Gateway.BurstGuardEnabled {
		guard = middleware.NewBurstGuard(cfg.Gateway.BurstGuardRPS, cfg.Gateway.BurstGuardSize, log)
		guard.StartCleanup(time.Minute, ctx.Done())
	}

	audit, err := worker.NewAuditPool(events, cfg.EventLog.Namespace, log)
	if err != nil {
		return fmt.Errorf("audit pool: %w", err)
	}
	go func() {
		if err := audit.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Errorf("audit pool stopped")
		}
	}()

	handler := httpapi.NewHandler(httpapi.Deps{
		Gateway:    gateway,
		Registry:   reg,
		Bank:       bank,
		Services:   services,
		Logger:     log,
		BurstGuard: guard,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("gateway listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildStore opens the durable event store when a DSN is configured and
// falls back to the in-memory store otherwise.
func buildStore(cfg config.DatabaseConfig) (eventlog.Store, *sql.DB, error) {
	if cfg.DSN == "" {
		return eventlog.NewMemoryStore(), nil, nil
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open event store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping event store: %w", err)
	}

	store := eventlog.NewPostgresStore(db)
	if err := store.EnsureSchema(pingCtx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

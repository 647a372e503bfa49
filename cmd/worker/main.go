// The worker binary runs a standalone consumer-group pool against the
// shared durable event log. It requires a database DSN so it sees the same
// log as the gateway. Matched events are either POSTed to a callback URL
// or logged.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/astra-platform/backbone/internal/config"
	"github.com/astra-platform/backbone/internal/eventlog"
	"github.com/astra-platform/backbone/internal/httputil"
	"github.com/astra-platform/backbone/internal/logging"
	"github.com/astra-platform/backbone/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("DATABASE_DSN is required, workers consume the durable log")
	}
	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	group := os.Getenv("WORKER_GROUP")
	if group == "" {
		return fmt.Errorf("WORKER_GROUP is required")
	}
	pattern := os.Getenv("WORKER_PATTERN")
	if pattern == "" {
		pattern = "*.*.v1"
	}
	concurrency := 1
	if raw := os.Getenv("WORKER_CONCURRENCY"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &concurrency); err != nil || concurrency < 1 {
			return fmt.Errorf("invalid WORKER_CONCURRENCY %q", raw)
		}
	}
	callbackURL := os.Getenv("WORKER_CALLBACK_URL")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping event store: %w", err)
	}
	store := eventlog.NewPostgresStore(db)
	if err := store.EnsureSchema(pingCtx); err != nil {
		return err
	}

	events := eventlog.New(store, eventlog.Config{
		Namespace:         cfg.EventLog.Namespace,
		Partitions:        cfg.EventLog.Partitions,
		VisibilityTimeout: cfg.EventLog.VisibilityTimeout,
	}, log)
	defer events.Close()

	pool, err := worker.NewPool(events, worker.Config{
		Group:       group,
		Pattern:     pattern,
		Concurrency: concurrency,
		DedupeSize:  4096,
	}, buildHandler(callbackURL, log), log)
	if err != nil {
		return err
	}

	log.Infof("worker group %s consuming %s with %d workers", group, pattern, concurrency)
	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildHandler POSTs each envelope to the callback URL when one is
// configured, otherwise it logs the event. A non-2xx callback response
// nacks the delivery so another worker retries it.
func buildHandler(callbackURL string, log *logging.Logger) worker.HandlerFunc {
	if callbackURL == "" {
		logger := log.Component("worker")
		return func(ctx context.Context, d eventlog.Delivery) error {
			logger.With("topic", d.Envelope.Topic).
				With("event_id", d.Envelope.ID).
				With("correlation_id", d.Envelope.CorrelationID).
				Infof("consumed event")
			return nil
		}
	}

	client := httputil.NewClient()
	return func(ctx context.Context, d eventlog.Delivery) error {
		body, err := json.Marshal(d.Envelope)
		if err != nil {
			return fmt.Errorf("marshal envelope %s: %w", d.Envelope.ID, err)
		}
		header := http.Header{"Content-Type": []string{"application/json"}}
		resp, err := client.Forward(ctx, callbackURL, http.MethodPost, "", "", header, body)
		if err != nil {
			return fmt.Errorf("callback %s: %w", d.Envelope.ID, err)
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("callback %s: status %d", d.Envelope.ID, resp.StatusCode)
		}
		return nil
	}
}

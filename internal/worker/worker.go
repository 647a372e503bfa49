// Package worker runs long-lived consumer-group workers over the event
// log. Workers in one pool compete for deliveries from the group's shared
// channel; handlers must be idempotent because the log guarantees
// at-least-once delivery.
package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/astra-platform/backbone/internal/eventlog"
	"github.com/astra-platform/backbone/internal/logging"
)

// HandlerFunc processes one delivery. Returning an error nacks the
// delivery for immediate redelivery to another worker.
type HandlerFunc func(ctx context.Context, d eventlog.Delivery) error

// Config describes one worker pool.
type Config struct {
	// Group is the consumer group name.
	Group string

	// Pattern is the topic pattern, wildcards allowed.
	Pattern string

	// Concurrency is the number of competing workers. Defaults to 1.
	Concurrency int

	// DedupeSize bounds the seen-event-ID set used to skip redelivered
	// events that were already processed. 0 disables deduplication.
	DedupeSize int
}

// Pool is a set of competing workers on one consumer group.
type Pool struct {
	cfg     Config
	log     *eventlog.Log
	handler HandlerFunc
	logger  *logging.Logger
	dedupe  *Dedupe
}

// NewPool declares the consumer group and builds the pool.
func NewPool(log *eventlog.Log, cfg Config, handler HandlerFunc, logger *logging.Logger) (*Pool, error) {
	if cfg.Group == "" {
		return nil, fmt.Errorf("worker pool: group name required")
	}
	if handler == nil {
		return nil, fmt.Errorf("worker pool %s: handler required", cfg.Group)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var dedupe *Dedupe
	if cfg.DedupeSize > 0 {
		dedupe = NewDedupe(cfg.DedupeSize)
	}

	return &Pool{
		cfg:     cfg,
		log:     log,
		handler: handler,
		logger:  logger.Component("worker").With("group", cfg.Group),
		dedupe:  dedupe,
	}, nil
}

// Run subscribes and processes deliveries until the context is cancelled
// or the log closes the delivery channel.
func (p *Pool) Run(ctx context.Context) error {
	sub, err := p.log.Subscribe(p.cfg.Pattern, p.cfg.Group)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", p.cfg.Group, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Concurrency; i++ {
		g.Go(func() error {
			return p.work(ctx, sub)
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, sub *eventlog.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-sub.Events():
			if !ok {
				return nil
			}
			p.process(ctx, d)
		}
	}
}

func (p *Pool) process(ctx context.Context, d eventlog.Delivery) {
	if p.dedupe != nil && p.dedupe.Seen(d.ID) {
		// Already handled on a previous delivery; just advance the
		// cursor.
		if err := d.Ack(ctx); err != nil {
			p.logger.WithError(err).Warnf("ack duplicate %s", d.ID)
		}
		return
	}

	if err := p.handler(ctx, d); err != nil {
		p.logger.WithError(err).Warnf("handle %s offset %d (attempt %d)", d.Topic, d.Offset, d.Attempt)
		d.Nack()
		return
	}

	if p.dedupe != nil {
		p.dedupe.Mark(d.ID)
	}
	if err := d.Ack(ctx); err != nil {
		p.logger.WithError(err).Warnf("ack %s offset %d", d.Topic, d.Offset)
	}
}

package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/astra-platform/backbone/internal/correlation"
	"github.com/astra-platform/backbone/internal/logging"
	"github.com/astra-platform/backbone/internal/metrics"
)

// Config holds tunables for the log.
type Config struct {
	// Namespace prefixes every topic. Defaults to "astra".
	Namespace string

	// Partitions is the partition count per topic. Defaults to 8.
	Partitions int

	// VisibilityTimeout is how long a delivered event may stay
	// unacknowledged before it is redelivered to another worker in the
	// same group. Defaults to 30s.
	VisibilityTimeout time.Duration

	// DeliveryBuffer is the capacity of each group's delivery channel.
	// Defaults to 64.
	DeliveryBuffer int

	// ScanInterval is how often each group's dispatcher rescans for new
	// events and expired deliveries. Defaults to VisibilityTimeout/4,
	// capped at 1s.
	ScanInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:         "astra",
		Partitions:        8,
		VisibilityTimeout: 30 * time.Second,
		DeliveryBuffer:    64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Namespace == "" {
		c.Namespace = d.Namespace
	}
	if c.Partitions <= 0 {
		c.Partitions = d.Partitions
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = d.VisibilityTimeout
	}
	if c.DeliveryBuffer <= 0 {
		c.DeliveryBuffer = d.DeliveryBuffer
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = c.VisibilityTimeout / 4
		if c.ScanInterval > time.Second {
			c.ScanInterval = time.Second
		}
	}
	return c
}

// Log is the partitioned append log with competing-consumer groups.
type Log struct {
	cfg   Config
	store Store
	log   *logging.Logger

	mu     sync.RWMutex
	groups map[string]*group
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a log over the given store.
func New(store Store, cfg Config, logger *logging.Logger) *Log {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Log{
		cfg:    cfg.withDefaults(),
		store:  store,
		log:    logger.Component("eventlog"),
		groups: make(map[string]*group),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish validates and appends one event. The correlation ID is taken from
// the context (generated when absent); the causation ID, if any, names the
// event whose handling produced this one. Returns the stored envelope with
// its assigned offset.
func (l *Log) Publish(ctx context.Context, topic, partitionKey string, payload []byte) (Envelope, error) {
	if err := ValidateTopic(topic); err != nil {
		return Envelope{}, err
	}
	canonical := CanonicalTopic(l.cfg.Namespace, topic)
	if err := ValidateTopic(canonical); err != nil {
		return Envelope{}, err
	}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return Envelope{}, fmt.Errorf("publish to %s: log is closed", topic)
	}
	l.mu.RUnlock()

	now := time.Now().UTC()
	_, corrID := correlation.Ensure(ctx)
	env := Envelope{
		ID:            NewEventID(now),
		Topic:         canonical,
		Partition:     PartitionFor(partitionKey, l.cfg.Partitions),
		PartitionKey:  partitionKey,
		CorrelationID: corrID,
		CausationID:   correlation.CausationFromContext(ctx),
		ProducedAt:    now,
		Payload:       json.RawMessage(payload),
	}

	stored, err := l.store.Append(ctx, env)
	if err != nil {
		return Envelope{}, fmt.Errorf("append %s: %w", canonical, err)
	}
	metrics.RecordEventPublished(canonical)

	l.mu.RLock()
	for _, g := range l.groups {
		if MatchTopic(g.pattern, canonical) {
			g.wakeUp()
		}
	}
	l.mu.RUnlock()

	return stored, nil
}

// Subscribe declares a consumer group over a topic pattern and returns its
// subscription. Declaring an existing group again is a no-op returning the
// same shared delivery channel, so additional workers on the same group
// compete for deliveries. A group cannot be re-declared with a different
// pattern.
func (l *Log) Subscribe(pattern, groupName string) (*Subscription, error) {
	if groupName == "" {
		return nil, fmt.Errorf("subscribe: group name required")
	}
	canonical := CanonicalTopic(l.cfg.Namespace, pattern)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("subscribe %s: log is closed", groupName)
	}

	if existing, ok := l.groups[groupName]; ok {
		if existing.pattern != canonical {
			return nil, fmt.Errorf("group %s already subscribed to %s", groupName, existing.pattern)
		}
		return &Subscription{group: existing}, nil
	}

	g := &group{
		name:       groupName,
		pattern:    canonical,
		log:        l,
		deliveries: make(chan Delivery, l.cfg.DeliveryBuffer),
		wake:       make(chan struct{}, 1),
		parts:      make(map[partitionKeyT]*partState),
	}
	l.groups[groupName] = g

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		g.run(l.ctx)
	}()

	l.log.Infof("group %s subscribed to %s", groupName, canonical)
	return &Subscription{group: g}, nil
}

// Ack acknowledges an offset for a group, advancing its cursor and
// releasing the partition for the next delivery.
func (l *Log) Ack(ctx context.Context, groupName, topic string, partition int, offset int64) error {
	l.mu.RLock()
	g, ok := l.groups[groupName]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("ack: unknown group %s", groupName)
	}
	return g.ack(ctx, topic, partition, offset)
}

// Lag returns the total consumer lag for a group across all matched
// partitions: events appended but not yet acknowledged.
func (l *Log) Lag(ctx context.Context, groupName string) (int64, error) {
	l.mu.RLock()
	g, ok := l.groups[groupName]
	l.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("lag: unknown group %s", groupName)
	}
	return g.lag(ctx)
}

// Close stops all group dispatchers and closes their delivery channels.
func (l *Log) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()

	l.mu.Lock()
	for _, g := range l.groups {
		close(g.deliveries)
	}
	l.mu.Unlock()
}

// Subscription is a consumer group handle. Multiple workers reading from
// Events concurrently compete for deliveries.
type Subscription struct {
	group *group
}

// Events returns the shared delivery channel for the group.
func (s *Subscription) Events() <-chan Delivery { return s.group.deliveries }

// Group returns the group name.
func (s *Subscription) Group() string { return s.group.name }

// Delivery is one event handed to a group worker. Ack it on success; Nack
// it to trigger immediate redelivery to another worker.
type Delivery struct {
	Envelope

	// Redelivered is set when the visibility timeout elapsed on a prior
	// delivery of this event. Consumers must handle these idempotently.
	Redelivered bool

	// Attempt is 1 for the first delivery and increments on redelivery.
	Attempt int

	group *group
}

// Ack acknowledges the delivery.
func (d Delivery) Ack(ctx context.Context) error {
	return d.group.ack(ctx, d.Topic, d.Partition, d.Offset)
}

// Nack marks the delivery as failed so it is redelivered without waiting
// for the visibility timeout.
func (d Delivery) Nack() {
	d.group.nack(d.Topic, d.Partition, d.Offset)
}

package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/astra-platform/backbone/internal/metrics"
)

// group holds one consumer group's delivery state. The dispatcher goroutine
// is the only sender on the deliveries channel; per-partition state keeps at
// most one event in flight, which preserves publish order within a partition
// even with competing workers.
type group struct {
	name    string
	pattern string
	log     *Log

	deliveries chan Delivery
	wake       chan struct{}

	mu     sync.Mutex
	parts  map[partitionKeyT]*partState
	topics map[string]bool
}

type partState struct {
	// next is the lowest unacknowledged offset: the next event to hand
	// out for the first time. It advances only on ack.
	next     int64
	inflight *inflightEntry
}

type inflightEntry struct {
	env      Envelope
	deadline time.Time
	attempt  int
}

func (g *group) wakeUp() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *group) run(ctx context.Context) {
	ticker := time.NewTicker(g.log.cfg.ScanInterval)
	defer ticker.Stop()

	g.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.wake:
		case <-ticker.C:
		}
		g.dispatch(ctx)
	}
}

// dispatch scans matched partitions, redelivers expired in-flight events,
// hands out the next event per idle partition, and refreshes the lag gauge.
// Store reads happen outside the group lock.
func (g *group) dispatch(ctx context.Context) {
	g.refreshParts(ctx)

	g.mu.Lock()
	keys := make([]partitionKeyT, 0, len(g.parts))
	for key := range g.parts {
		keys = append(keys, key)
	}
	g.mu.Unlock()

	now := time.Now()
	var lag int64
	for _, key := range keys {
		g.dispatchPart(ctx, key, now)

		latest, err := g.log.store.LatestOffset(ctx, key.topic, key.partition)
		if err != nil {
			continue
		}
		g.mu.Lock()
		if ps, ok := g.parts[key]; ok && latest >= ps.next {
			lag += latest - ps.next + 1
		}
		g.mu.Unlock()
	}
	metrics.SetConsumerLag(g.name, lag)
}

func (g *group) dispatchPart(ctx context.Context, key partitionKeyT, now time.Time) {
	vis := g.log.cfg.VisibilityTimeout

	g.mu.Lock()
	ps, ok := g.parts[key]
	if !ok {
		g.mu.Unlock()
		return
	}
	if ps.inflight != nil {
		if now.After(ps.inflight.deadline) {
			d := Delivery{
				Envelope:    ps.inflight.env,
				Redelivered: true,
				Attempt:     ps.inflight.attempt + 1,
				group:       g,
			}
			select {
			case g.deliveries <- d:
				ps.inflight.attempt++
				ps.inflight.deadline = now.Add(vis)
				metrics.RecordRedelivery(g.name)
			default:
				// Channel full; the next scan retries.
			}
		}
		g.mu.Unlock()
		return
	}
	next := ps.next
	g.mu.Unlock()

	envs, err := g.log.store.Read(ctx, key.topic, key.partition, next, 1)
	if err != nil {
		g.log.log.WithError(err).Warnf("group %s: read %s/%d", g.name, key.topic, key.partition)
		return
	}
	if len(envs) == 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// An ack or a concurrent scan may have moved the partition on while
	// the store read was in flight.
	if ps.next != next || ps.inflight != nil {
		return
	}
	d := Delivery{Envelope: envs[0], Attempt: 1, group: g}
	select {
	case g.deliveries <- d:
		ps.inflight = &inflightEntry{env: envs[0], deadline: now.Add(vis), attempt: 1}
	default:
	}
}

// refreshParts picks up topics created after the group subscribed. Cursors
// are loaded once per partition so a restarted group resumes where its last
// acknowledgement left it.
func (g *group) refreshParts(ctx context.Context) {
	topics, err := g.log.store.Topics(ctx)
	if err != nil {
		g.log.log.WithError(err).Warnf("group %s: list topics", g.name)
		return
	}

	for _, topic := range topics {
		g.mu.Lock()
		known := g.topics[topic]
		g.mu.Unlock()
		if known || !MatchTopic(g.pattern, topic) {
			continue
		}

		states := make(map[partitionKeyT]*partState, g.log.cfg.Partitions)
		for p := 0; p < g.log.cfg.Partitions; p++ {
			cursor, err := g.log.store.LoadCursor(ctx, g.name, topic, p)
			if err != nil {
				g.log.log.WithError(err).Warnf("group %s: load cursor %s/%d", g.name, topic, p)
				cursor = CursorNone
			}
			states[partitionKeyT{topic: topic, partition: p}] = &partState{next: cursor + 1}
		}

		g.mu.Lock()
		if !g.topics[topic] {
			if g.topics == nil {
				g.topics = make(map[string]bool)
			}
			g.topics[topic] = true
			for key, ps := range states {
				g.parts[key] = ps
			}
		}
		g.mu.Unlock()
	}
}

func (g *group) ack(ctx context.Context, topic string, partition int, offset int64) error {
	key := partitionKeyT{topic: topic, partition: partition}

	g.mu.Lock()
	if ps, ok := g.parts[key]; ok {
		if ps.inflight != nil && ps.inflight.env.Offset <= offset {
			ps.inflight = nil
		}
		if offset+1 > ps.next {
			ps.next = offset + 1
		}
	}
	g.mu.Unlock()

	if err := g.log.store.SaveCursor(ctx, g.name, topic, partition, offset); err != nil {
		return err
	}
	g.wakeUp()
	return nil
}

func (g *group) nack(topic string, partition int, offset int64) {
	key := partitionKeyT{topic: topic, partition: partition}

	g.mu.Lock()
	if ps, ok := g.parts[key]; ok && ps.inflight != nil && ps.inflight.env.Offset == offset {
		ps.inflight.deadline = time.Time{}
	}
	g.mu.Unlock()
	g.wakeUp()
}

func (g *group) lag(ctx context.Context) (int64, error) {
	g.mu.Lock()
	keys := make([]partitionKeyT, 0, len(g.parts))
	nexts := make(map[partitionKeyT]int64, len(g.parts))
	for key, ps := range g.parts {
		keys = append(keys, key)
		nexts[key] = ps.next
	}
	g.mu.Unlock()

	var total int64
	for _, key := range keys {
		latest, err := g.log.store.LatestOffset(ctx, key.topic, key.partition)
		if err != nil {
			return 0, err
		}
		if latest >= nexts[key] {
			total += latest - nexts[key] + 1
		}
	}
	return total, nil
}

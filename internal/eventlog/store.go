package eventlog

import (
	"context"
	"sync"
)

// CursorNone marks a group that has not acknowledged any offset yet.
const CursorNone int64 = -1

// Store is the append-only persistence layer behind the log. The memory
// implementation backs tests and single-process deployments; the Postgres
// implementation backs durable ones.
type Store interface {
	// Append assigns the next offset within (topic, partition) and
	// persists the envelope. The returned envelope carries the offset.
	Append(ctx context.Context, env Envelope) (Envelope, error)

	// Read returns up to max envelopes from (topic, partition) starting
	// at offset from, in offset order.
	Read(ctx context.Context, topic string, partition int, from int64, max int) ([]Envelope, error)

	// LatestOffset returns the highest assigned offset in the partition,
	// or CursorNone when the partition is empty.
	LatestOffset(ctx context.Context, topic string, partition int) (int64, error)

	// Topics lists all topics that have received at least one event.
	Topics(ctx context.Context) ([]string, error)

	// SaveCursor records the last acknowledged offset for a group.
	SaveCursor(ctx context.Context, group, topic string, partition int, offset int64) error

	// LoadCursor returns the last acknowledged offset for a group, or
	// CursorNone when the group has never acknowledged in the partition.
	LoadCursor(ctx context.Context, group, topic string, partition int) (int64, error)
}

type partitionKeyT struct {
	topic     string
	partition int
}

type cursorKeyT struct {
	group     string
	topic     string
	partition int
}

// MemoryStore is a thread-safe in-memory Store. Envelopes are held in
// per-partition append slices; offsets are slice indexes.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[partitionKeyT][]Envelope
	topics     []string
	cursors    map[cursorKeyT]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		partitions: make(map[partitionKeyT][]Envelope),
		cursors:    make(map[cursorKeyT]int64),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, env Envelope) (Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := partitionKeyT{topic: env.Topic, partition: env.Partition}
	if _, known := s.partitions[key]; !known {
		seen := false
		for _, t := range s.topics {
			if t == env.Topic {
				seen = true
				break
			}
		}
		if !seen {
			s.topics = append(s.topics, env.Topic)
		}
	}

	env.Offset = int64(len(s.partitions[key]))
	s.partitions[key] = append(s.partitions[key], env)
	return env, nil
}

// Read implements Store.
func (s *MemoryStore) Read(_ context.Context, topic string, partition int, from int64, max int) ([]Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part := s.partitions[partitionKeyT{topic: topic, partition: partition}]
	if from < 0 {
		from = 0
	}
	if from >= int64(len(part)) || max <= 0 {
		return nil, nil
	}

	end := from + int64(max)
	if end > int64(len(part)) {
		end = int64(len(part))
	}
	out := make([]Envelope, end-from)
	copy(out, part[from:end])
	return out, nil
}

// LatestOffset implements Store.
func (s *MemoryStore) LatestOffset(_ context.Context, topic string, partition int) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.partitions[partitionKeyT{topic: topic, partition: partition}])) - 1, nil
}

// Topics implements Store.
func (s *MemoryStore) Topics(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.topics))
	copy(out, s.topics)
	return out, nil
}

// SaveCursor implements Store. Cursors never move backwards.
func (s *MemoryStore) SaveCursor(_ context.Context, group, topic string, partition int, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cursorKeyT{group: group, topic: topic, partition: partition}
	if cur, ok := s.cursors[key]; ok && cur >= offset {
		return nil
	}
	s.cursors[key] = offset
	return nil
}

// LoadCursor implements Store.
func (s *MemoryStore) LoadCursor(_ context.Context, group, topic string, partition int) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cur, ok := s.cursors[cursorKeyT{group: group, topic: topic, partition: partition}]; ok {
		return cur, nil
	}
	return CursorNone, nil
}

var _ Store = (*MemoryStore)(nil)

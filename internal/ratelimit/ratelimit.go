// Package ratelimit implements the fixed-window quota limiter enforced
// before a request reaches routing. Two scopes are checked per request:
// the caller identity and the destination service. Counters are striped
// across shards so per-key increments never contend globally.
//
// A burst straddling two windows can briefly pass up to twice the nominal
// rate; that is the documented trade-off of fixed windows and leaky-bucket
// smoothing is out of scope.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type counter struct {
	windowStart int64
	count       int
}

type shard struct {
	mu       sync.Mutex
	counters map[string]*counter
}

// Limiter holds fixed-window counters keyed by scope.
type Limiter struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// New creates an empty limiter.
func New() *Limiter {
	l := &Limiter{now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{counters: make(map[string]*counter)}
	}
	return l
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

// Allow reports whether one more call is admitted for the scope key within
// the current fixed window. The increment-and-compare is atomic per key.
func (l *Limiter) Allow(scopeKey string, limit int, window time.Duration) bool {
	if limit <= 0 || window <= 0 {
		return true
	}

	windowStart := l.now().UnixNano() / int64(window) * int64(window)

	s := l.shardFor(scopeKey)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[scopeKey]
	if !ok || c.windowStart != windowStart {
		s.counters[scopeKey] = &counter{windowStart: windowStart, count: 1}
		return true
	}
	if c.count >= limit {
		return false
	}
	c.count++
	return true
}

// Purge drops counters whose window ended before the cutoff. Called
// periodically so abandoned scope keys do not accumulate.
func (l *Limiter) Purge(olderThan time.Duration) {
	cutoff := l.now().Add(-olderThan).UnixNano()
	for _, s := range l.shards {
		s.mu.Lock()
		for key, c := range s.counters {
			if c.windowStart < cutoff {
				delete(s.counters, key)
			}
		}
		s.mu.Unlock()
	}
}

// StartCleanup starts a background goroutine purging stale counters until
// the stop channel closes.
func (l *Limiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.Purge(2 * interval)
			}
		}
	}()
}

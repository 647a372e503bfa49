package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLimiter(start time.Time) (*Limiter, *time.Time) {
	l := New()
	now := start
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllow_RejectsOverLimit(t *testing.T) {
	l, _ := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	const limit = 200
	for i := 0; i < limit; i++ {
		if !l.Allow("caller:alice", limit, time.Minute) {
			t.Fatalf("request %d rejected under the limit", i+1)
		}
	}
	if l.Allow("caller:alice", limit, time.Minute) {
		t.Fatal("request 201 admitted over the limit")
	}
}

func TestAllow_WindowRollover(t *testing.T) {
	l, now := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC))

	for i := 0; i < 3; i++ {
		l.Allow("caller:alice", 3, time.Minute)
	}
	if l.Allow("caller:alice", 3, time.Minute) {
		t.Fatal("admitted over the limit within one window")
	}

	*now = now.Add(time.Minute)
	if !l.Allow("caller:alice", 3, time.Minute) {
		t.Fatal("rejected after the window rolled over")
	}
}

func TestAllow_ScopesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 5; i++ {
		l.Allow("caller:alice", 5, time.Minute)
	}
	if l.Allow("caller:alice", 5, time.Minute) {
		t.Fatal("caller alice should be exhausted")
	}
	if !l.Allow("caller:bob", 5, time.Minute) {
		t.Error("caller bob rejected by alice's counter")
	}
	if !l.Allow("service:trading-service", 5, time.Minute) {
		t.Error("service scope rejected by caller counter")
	}
}

func TestAllow_ZeroLimitDisables(t *testing.T) {
	l, _ := newTestLimiter(time.Now())

	for i := 0; i < 100; i++ {
		if !l.Allow("caller:alice", 0, time.Minute) {
			t.Fatal("zero limit should admit everything")
		}
	}
}

func TestAllow_ExactCountUnderConcurrency(t *testing.T) {
	l, _ := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	const limit = 100
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if l.Allow("caller:alice", limit, time.Minute) {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != limit {
		t.Errorf("admitted %d of 400 concurrent requests, want exactly %d", got, limit)
	}
}

func TestPurge(t *testing.T) {
	l, now := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 10; i++ {
		l.Allow(fmt.Sprintf("caller:%d", i), 100, time.Minute)
	}

	*now = now.Add(10 * time.Minute)
	l.Purge(5 * time.Minute)

	total := 0
	for _, s := range l.shards {
		s.mu.Lock()
		total += len(s.counters)
		s.mu.Unlock()
	}
	if total != 0 {
		t.Errorf("%d counters survived the purge, want 0", total)
	}
}

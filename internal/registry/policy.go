package registry

import (
	"math/rand"
	"sync"
	"time"
)

// Policy picks one instance among the healthy candidates for a service.
// Implementations may keep per-service state; Pick is never called with an
// empty candidate list.
type Policy interface {
	Pick(service string, candidates []Registration) Registration
}

// RoundRobin cycles fairly through candidates per service. Candidates
// arrive sorted by instance ID, so repeated calls within a sweep interval
// visit every instance before repeating.
type RoundRobin struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewRoundRobin creates a round-robin policy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{counters: make(map[string]uint64)}
}

// Pick implements Policy.
func (p *RoundRobin) Pick(service string, candidates []Registration) Registration {
	p.mu.Lock()
	n := p.counters[service]
	p.counters[service] = n + 1
	p.mu.Unlock()
	return candidates[n%uint64(len(candidates))]
}

// Random picks a uniformly random candidate.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates a random policy.
func NewRandom() *Random {
	return &Random{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Pick implements Policy.
func (p *Random) Pick(_ string, candidates []Registration) Registration {
	p.mu.Lock()
	idx := p.rng.Intn(len(candidates))
	p.mu.Unlock()
	return candidates[idx]
}

// LeastRecentlyUsed picks the candidate that was selected longest ago,
// spreading load toward instances that have been idle.
type LeastRecentlyUsed struct {
	mu       sync.Mutex
	lastUsed map[string]time.Time
	now      func() time.Time
}

// NewLeastRecentlyUsed creates an LRU policy.
func NewLeastRecentlyUsed() *LeastRecentlyUsed {
	return &LeastRecentlyUsed{lastUsed: make(map[string]time.Time), now: time.Now}
}

// Pick implements Policy.
func (p *LeastRecentlyUsed) Pick(_ string, candidates []Registration) Registration {
	p.mu.Lock()
	defer p.mu.Unlock()

	best := candidates[0]
	bestAt, bestSeen := p.lastUsed[best.InstanceID]
	for _, c := range candidates[1:] {
		if !bestSeen {
			// A never-used instance wins outright.
			break
		}
		at, seen := p.lastUsed[c.InstanceID]
		if !seen || at.Before(bestAt) {
			best, bestAt, bestSeen = c, at, seen
		}
	}
	p.lastUsed[best.InstanceID] = p.now()
	return best
}

// PolicyByName returns the policy for a config value: "round-robin"
// (default), "random", or "lru".
func PolicyByName(name string) Policy {
	switch name {
	case "random":
		return NewRandom()
	case "lru":
		return NewLeastRecentlyUsed()
	default:
		return NewRoundRobin()
	}
}

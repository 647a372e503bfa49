package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/astra-platform/backbone/internal/metrics"
)

// Transition is one recorded state change.
type Transition struct {
	Service string    `json:"service"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	At      time.Time `json:"at"`
}

// Bank owns one breaker per downstream service name. Breakers are created
// lazily on first use with the bank's default settings unless the service
// has an override configured.
type Bank struct {
	mu        sync.RWMutex
	defaults  Settings
	overrides map[string]Settings
	breakers  map[string]*Breaker

	// Recent transitions, newest last, for the health endpoint.
	ringMu sync.Mutex
	ring   []Transition
	head   int
	count  int
}

// NewBank creates a bank with the given default settings.
func NewBank(defaults Settings) *Bank {
	return &Bank{
		defaults:  defaults.withDefaults(),
		overrides: make(map[string]Settings),
		breakers:  make(map[string]*Breaker),
		ring:      make([]Transition, 64),
	}
}

// Configure sets per-service settings. It only affects breakers created
// after the call; services are normally configured before traffic starts.
func (bk *Bank) Configure(service string, settings Settings) {
	bk.mu.Lock()
	defer bk.mu.Unlock()
	bk.overrides[service] = settings.withDefaults()
}

// For returns the breaker for a service, creating it when missing.
func (bk *Bank) For(service string) *Breaker {
	bk.mu.RLock()
	b, ok := bk.breakers[service]
	bk.mu.RUnlock()
	if ok {
		return b
	}

	bk.mu.Lock()
	defer bk.mu.Unlock()
	if b, ok := bk.breakers[service]; ok {
		return b
	}
	settings := bk.defaults
	if override, ok := bk.overrides[service]; ok {
		settings = override
	}
	b = New(service, settings, bk.recordTransition)
	bk.breakers[service] = b
	return b
}

// Snapshots returns the state of every breaker, sorted by service name.
func (bk *Bank) Snapshots() []Snapshot {
	bk.mu.RLock()
	out := make([]Snapshot, 0, len(bk.breakers))
	for _, b := range bk.breakers {
		out = append(out, b.Snapshot())
	}
	bk.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// RecentTransitions returns up to n recorded transitions, newest first.
func (bk *Bank) RecentTransitions(n int) []Transition {
	bk.ringMu.Lock()
	defer bk.ringMu.Unlock()

	if n <= 0 || bk.count == 0 {
		return nil
	}
	if n > bk.count {
		n = bk.count
	}
	out := make([]Transition, n)
	for i := 0; i < n; i++ {
		idx := (bk.head - 1 - i + len(bk.ring)) % len(bk.ring)
		out[i] = bk.ring[idx]
	}
	return out
}

func (bk *Bank) recordTransition(service string, from, to State) {
	metrics.RecordBreakerTransition(service, from.String(), to.String())

	bk.ringMu.Lock()
	bk.ring[bk.head] = Transition{Service: service, From: from, To: to, At: time.Now().UTC()}
	bk.head = (bk.head + 1) % len(bk.ring)
	if bk.count < len(bk.ring) {
		bk.count++
	}
	bk.ringMu.Unlock()
}

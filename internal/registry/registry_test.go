package registry

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestRegistry(cfg Config) (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := New(cfg, nil)
	r.now = clock.Now
	return r, clock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRegister_GeneratesInstanceID(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	reg, err := r.Register(Registration{ServiceName: "trading-service", Address: "http://10.0.0.1:8080"})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if reg.InstanceID == "" {
		t.Error("instance ID not generated")
	}
	if reg.MetadataVersion != 1 {
		t.Errorf("metadata version = %d, want 1", reg.MetadataVersion)
	}
	if reg.RegisteredAt.IsZero() || reg.LastHeartbeatAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestRegister_Validation(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	if _, err := r.Register(Registration{Address: "http://x"}); err == nil {
		t.Error("missing service name accepted")
	}
	if _, err := r.Register(Registration{ServiceName: "trading-service"}); err == nil {
		t.Error("missing address accepted")
	}
}

func TestRegister_ReRegisterBumpsVersion(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	first, err := r.Register(Registration{ServiceName: "trading-service", Address: "http://10.0.0.1:8080"})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	second, err := r.Register(Registration{
		ServiceName: "trading-service",
		InstanceID:  first.InstanceID,
		Address:     "http://10.0.0.2:8080",
	})
	if err != nil {
		t.Fatalf("re-Register error: %v", err)
	}
	if second.MetadataVersion != 2 {
		t.Errorf("metadata version = %d, want 2", second.MetadataVersion)
	}
	if second.Address != "http://10.0.0.2:8080" {
		t.Errorf("address not updated: %s", second.Address)
	}

	healthy := r.ListHealthy("trading-service")
	if len(healthy) != 1 {
		t.Fatalf("healthy = %d, want 1 after re-register", len(healthy))
	}
}

func TestHeartbeat_UnknownInstance(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	if err := r.Heartbeat("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Heartbeat unknown = %v, want ErrNotFound", err)
	}
	if err := r.Deregister("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deregister unknown = %v, want ErrNotFound", err)
	}
}

func TestSweep_EvictsStaleInstances(t *testing.T) {
	r, clock := newTestRegistry(Config{HeartbeatInterval: 5 * time.Second})

	stale, err := r.Register(Registration{ServiceName: "trading-service", Address: "http://10.0.0.1:8080"})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	fresh, err := r.Register(Registration{ServiceName: "trading-service", Address: "http://10.0.0.2:8080"})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	// Default timeout is 6 heartbeat intervals. Keep one instance beating.
	clock.Advance(29 * time.Second)
	if err := r.Heartbeat(fresh.InstanceID); err != nil {
		t.Fatalf("Heartbeat error: %v", err)
	}
	clock.Advance(2 * time.Second)
	r.Sweep()

	healthy := r.ListHealthy("trading-service")
	if len(healthy) != 1 {
		t.Fatalf("healthy = %d, want 1 after sweep", len(healthy))
	}
	if healthy[0].InstanceID != fresh.InstanceID {
		t.Errorf("wrong instance survived: %s", healthy[0].InstanceID)
	}
	if err := r.Heartbeat(stale.InstanceID); !errors.Is(err, ErrNotFound) {
		t.Errorf("evicted instance still heartbeats: %v", err)
	}
}

func TestSweep_HeartbeatRaceWins(t *testing.T) {
	r, clock := newTestRegistry(Config{HeartbeatInterval: 5 * time.Second})

	reg, err := r.Register(Registration{ServiceName: "trading-service", Address: "http://10.0.0.1:8080"})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	clock.Advance(31 * time.Second)

	// Beat between the sweep's scan and its delete: the timestamp no
	// longer matches, so the eviction must be skipped.
	if err := r.Heartbeat(reg.InstanceID); err != nil {
		t.Fatalf("Heartbeat error: %v", err)
	}
	r.Sweep()

	if len(r.ListHealthy("trading-service")) != 1 {
		t.Error("instance evicted despite a fresh heartbeat")
	}
}

func TestListHealthy_ExcludesStale(t *testing.T) {
	r, clock := newTestRegistry(Config{HeartbeatInterval: 5 * time.Second})

	if _, err := r.Register(Registration{ServiceName: "trading-service", Address: "http://10.0.0.1:8080"}); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	// Stale instances disappear from ListHealthy even before the sweep
	// physically removes them.
	clock.Advance(31 * time.Second)
	if got := r.ListHealthy("trading-service"); len(got) != 0 {
		t.Errorf("healthy = %d, want 0 for stale instance", len(got))
	}
}

func TestServices(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	r.Register(Registration{ServiceName: "trading-service", Address: "http://a"})
	r.Register(Registration{ServiceName: "gamefi-service", Address: "http://b"})

	got := r.Services()
	want := []string{"gamefi-service", "trading-service"}
	if len(got) != len(want) {
		t.Fatalf("services = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("services = %v, want %v", got, want)
		}
	}
}

func TestRoundRobin_Fairness(t *testing.T) {
	p := NewRoundRobin()
	candidates := []Registration{
		{InstanceID: "a"},
		{InstanceID: "b"},
		{InstanceID: "c"},
	}

	counts := make(map[string]int)
	for i := 0; i < 9; i++ {
		counts[p.Pick("trading-service", candidates).InstanceID]++
	}
	for _, id := range []string{"a", "b", "c"} {
		if counts[id] != 3 {
			t.Errorf("instance %s picked %d times, want 3", id, counts[id])
		}
	}
}

func TestRoundRobin_PerServiceCounters(t *testing.T) {
	p := NewRoundRobin()
	candidates := []Registration{{InstanceID: "a"}, {InstanceID: "b"}}

	// Each service starts its own rotation, so both first picks land on
	// the first candidate.
	first := p.Pick("trading-service", candidates)
	other := p.Pick("gamefi-service", candidates)
	if first.InstanceID != "a" || other.InstanceID != "a" {
		t.Errorf("first picks = %s, %s, want a, a", first.InstanceID, other.InstanceID)
	}
}

func TestRandom_StaysInRange(t *testing.T) {
	p := NewRandom()
	candidates := []Registration{{InstanceID: "a"}, {InstanceID: "b"}}

	for i := 0; i < 50; i++ {
		got := p.Pick("trading-service", candidates).InstanceID
		if got != "a" && got != "b" {
			t.Fatalf("picked unknown instance %q", got)
		}
	}
}

func TestLeastRecentlyUsed_PrefersIdle(t *testing.T) {
	p := NewLeastRecentlyUsed()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	candidates := []Registration{
		{InstanceID: "a"},
		{InstanceID: "b"},
		{InstanceID: "c"},
	}

	// Never-used instances get picked before any reuse.
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		seen[p.Pick("trading-service", candidates).InstanceID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("first three picks hit %d distinct instances, want 3", len(seen))
	}

	// The fourth pick goes back to the longest-idle one.
	if got := p.Pick("trading-service", candidates).InstanceID; got != "a" {
		t.Errorf("fourth pick = %s, want a", got)
	}
}

func TestPolicyByName(t *testing.T) {
	if _, ok := PolicyByName("random").(*Random); !ok {
		t.Error(`PolicyByName("random") wrong type`)
	}
	if _, ok := PolicyByName("lru").(*LeastRecentlyUsed); !ok {
		t.Error(`PolicyByName("lru") wrong type`)
	}
	if _, ok := PolicyByName("round-robin").(*RoundRobin); !ok {
		t.Error(`PolicyByName("round-robin") wrong type`)
	}
	if _, ok := PolicyByName("").(*RoundRobin); !ok {
		t.Error("empty policy name should default to round-robin")
	}
}

// Package registry implements the shared directory of live service
// instances consulted by the router. Liveness is TTL-based: instances
// register on startup, refresh with periodic heartbeats, and are evicted by
// a background sweep once their heartbeat goes stale. Graceful shutdown
// should deregister eagerly but is not required.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/astra-platform/backbone/internal/logging"
	"github.com/astra-platform/backbone/internal/metrics"
)

// ErrNotFound is returned by Heartbeat and Deregister for unknown
// instance IDs.
var ErrNotFound = errors.New("instance not found")

// Registration describes one live service instance.
type Registration struct {
	ServiceName     string    `json:"serviceName"`
	InstanceID      string    `json:"instanceId"`
	Address         string    `json:"address"`
	Domain          string    `json:"domain"`
	RegisteredAt    time.Time `json:"registeredAt"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
	MetadataVersion int       `json:"metadataVersion"`
}

// Config holds registry tunables.
type Config struct {
	// HeartbeatInterval is the beat period instances are expected to
	// follow. Defaults to 5s.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is the staleness bound for eviction. Defaults to
	// 6 × HeartbeatInterval, tolerating several missed beats.
	HeartbeatTimeout time.Duration

	// SweepInterval is the eviction scan period. Defaults to
	// HeartbeatInterval.
	SweepInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{HeartbeatInterval: 5 * time.Second}
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 6 * c.HeartbeatInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.HeartbeatInterval
	}
	return c
}

// Registry is the in-process instance directory.
type Registry struct {
	cfg Config
	log *logging.Logger
	now func() time.Time

	mu        sync.RWMutex
	instances map[string]*Registration
}

// New creates an empty registry.
func New(cfg Config, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		cfg:       cfg.withDefaults(),
		log:       logger.Component("registry"),
		now:       time.Now,
		instances: make(map[string]*Registration),
	}
}

// Register adds or refreshes an instance. An empty InstanceID gets a
// generated one. Re-registering an existing instance refreshes its
// heartbeat and bumps MetadataVersion. Returns the stored registration.
func (r *Registry) Register(reg Registration) (Registration, error) {
	if reg.ServiceName == "" {
		return Registration{}, errors.New("register: service name required")
	}
	if reg.Address == "" {
		return Registration{}, errors.New("register: address required")
	}
	if reg.InstanceID == "" {
		reg.InstanceID = uuid.NewString()
	}

	now := r.now().UTC()

	r.mu.Lock()
	if existing, ok := r.instances[reg.InstanceID]; ok {
		existing.Address = reg.Address
		existing.Domain = reg.Domain
		existing.LastHeartbeatAt = now
		existing.MetadataVersion++
		reg = *existing
	} else {
		reg.RegisteredAt = now
		reg.LastHeartbeatAt = now
		reg.MetadataVersion = 1
		stored := reg
		r.instances[reg.InstanceID] = &stored
	}
	r.mu.Unlock()

	r.updateGauge(reg.ServiceName)
	r.log.Infof("registered %s instance %s at %s", reg.ServiceName, reg.InstanceID, reg.Address)
	return reg, nil
}

// Heartbeat refreshes an instance's liveness.
func (r *Registry) Heartbeat(instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.instances[instanceID]
	if !ok {
		return ErrNotFound
	}
	reg.LastHeartbeatAt = r.now().UTC()
	return nil
}

// Deregister removes an instance eagerly on graceful shutdown.
func (r *Registry) Deregister(instanceID string) error {
	r.mu.Lock()
	reg, ok := r.instances[instanceID]
	if ok {
		delete(r.instances, instanceID)
	}
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	r.updateGauge(reg.ServiceName)
	return nil
}

// ListHealthy returns instances of a service with fresh heartbeats, sorted
// by instance ID for stable round-robin ordering.
func (r *Registry) ListHealthy(serviceName string) []Registration {
	cutoff := r.now().Add(-r.cfg.HeartbeatTimeout)

	r.mu.RLock()
	var out []Registration
	for _, reg := range r.instances {
		if reg.ServiceName == serviceName && reg.LastHeartbeatAt.After(cutoff) {
			out = append(out, *reg)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// Services returns the names of all services with at least one healthy
// instance.
func (r *Registry) Services() []string {
	cutoff := r.now().Add(-r.cfg.HeartbeatTimeout)

	r.mu.RLock()
	seen := make(map[string]bool)
	for _, reg := range r.instances {
		if reg.LastHeartbeatAt.After(cutoff) {
			seen[reg.ServiceName] = true
		}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run sweeps expired instances until the context is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep removes instances whose heartbeat is older than HeartbeatTimeout.
// Eviction is compare-and-delete against the heartbeat timestamp observed
// during the scan, so a heartbeat racing the sweep wins.
func (r *Registry) Sweep() {
	cutoff := r.now().Add(-r.cfg.HeartbeatTimeout)

	type candidate struct {
		id       string
		lastSeen time.Time
		service  string
	}

	r.mu.RLock()
	var stale []candidate
	for id, reg := range r.instances {
		if !reg.LastHeartbeatAt.After(cutoff) {
			stale = append(stale, candidate{id: id, lastSeen: reg.LastHeartbeatAt, service: reg.ServiceName})
		}
	}
	r.mu.RUnlock()

	touched := make(map[string]bool)
	for _, c := range stale {
		r.mu.Lock()
		if reg, ok := r.instances[c.id]; ok && reg.LastHeartbeatAt.Equal(c.lastSeen) {
			delete(r.instances, c.id)
			touched[c.service] = true
			r.log.Infof("evicted %s instance %s (last heartbeat %s)", c.service, c.id, c.lastSeen.Format(time.RFC3339))
		}
		r.mu.Unlock()
	}

	for service := range touched {
		r.updateGauge(service)
	}
}

func (r *Registry) updateGauge(service string) {
	metrics.SetHealthyInstances(service, len(r.ListHealthy(service)))
}

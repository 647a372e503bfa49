package worker

import "sync"

// Dedupe is a bounded set of processed event IDs. When full, the oldest
// entry is evicted, which is acceptable: redelivery happens shortly after
// the visibility timeout, long before a reasonably sized set cycles.
type Dedupe struct {
	mu   sync.Mutex
	seen map[string]bool
	ring []string
	head int
}

// NewDedupe creates a set holding up to size IDs.
func NewDedupe(size int) *Dedupe {
	if size <= 0 {
		size = 1024
	}
	return &Dedupe{
		seen: make(map[string]bool, size),
		ring: make([]string, size),
	}
}

// Seen reports whether the ID was marked.
func (d *Dedupe) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id]
}

// Mark records the ID, evicting the oldest entry when full.
func (d *Dedupe) Mark(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen[id] {
		return
	}
	if old := d.ring[d.head]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.head] = id
	d.head = (d.head + 1) % len(d.ring)
	d.seen[id] = true
}

// Package registry owns the set of configured backends and their live health.
// Health bookkeeping is advisory: the router reads it to prefer backends that
// have been fast and reliable recently, and a failed backend sits out a fixed
// cooldown before it is offered again.
package registry

import (
	"fmt"
	"sync"
	"time"
)

// CooldownDuration is how long a backend stays unavailable after a failure.
// Expiry is evaluated lazily on Snapshot rather than by a background timer.
const CooldownDuration = 30 * time.Second

// Descriptor describes one configured backend and its live health.
type Descriptor struct {
	ID            string
	Priority      int // lower is preferred
	CostPerUnit   float64
	Capabilities  map[string]bool
	Available     bool
	LastFailureAt time.Time
	SuccessRate   float64
	AvgLatencyMs  float64

	// Rolling-average denominators, per backend rather than global so one
	// backend's history is not diluted by traffic to the others.
	attempts  int
	successes int
}

// HasCapability reports whether the descriptor carries the given tag.
func (d Descriptor) HasCapability(tag string) bool {
	return d.Capabilities[tag]
}

// ConfigurationError reports an invalid registry setup. It is fatal at
// startup and never recovered automatically.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Registry holds the configured backend descriptors. It is safe for
// concurrent use; Snapshot hands out copies so readers never observe a
// torn update.
type Registry struct {
	mu       sync.Mutex
	backends map[string]*Descriptor
	order    []string
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the registry's time source. Tests use it to drive
// cooldown expiry without sleeping.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		backends: make(map[string]*Descriptor),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a backend descriptor. The descriptor starts available with
// an optimistic success rate so new backends are not sorted behind ones that
// already have history.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID == "" {
		return &ConfigurationError{Reason: "backend id must not be empty"}
	}
	if _, exists := r.backends[d.ID]; exists {
		return &ConfigurationError{Reason: fmt.Sprintf("duplicate backend id %q", d.ID)}
	}

	d.Available = true
	d.LastFailureAt = time.Time{}
	d.SuccessRate = 1.0
	d.AvgLatencyMs = 0
	d.attempts = 0
	d.successes = 0
	if d.Capabilities == nil {
		d.Capabilities = make(map[string]bool)
	}

	r.backends[d.ID] = &d
	r.order = append(r.order, d.ID)
	return nil
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.backends)
}

// Validate checks the startup condition that at least one backend exists.
func (r *Registry) Validate() error {
	if r.Len() == 0 {
		return &ConfigurationError{Reason: "at least one backend must be registered"}
	}
	return nil
}

// Snapshot returns copies of all descriptors in registration order. Any
// descriptor whose cooldown has elapsed is flipped back to available before
// the snapshot is taken.
func (r *Registry) Snapshot() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	snapshot := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		d := r.backends[id]
		if !d.Available && now.Sub(d.LastFailureAt) >= CooldownDuration {
			d.Available = true
		}
		snapshot = append(snapshot, copyDescriptor(d))
	}
	return snapshot
}

// Get returns a copy of one descriptor.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.backends[id]
	if !ok {
		return Descriptor{}, false
	}
	return copyDescriptor(d), true
}

// MarkFailure puts the backend into cooldown and counts the attempt as a
// zero in its rolling success rate.
func (r *Registry) MarkFailure(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.backends[id]
	if !ok {
		return
	}
	d.attempts++
	d.SuccessRate = d.SuccessRate * float64(d.attempts-1) / float64(d.attempts)
	d.Available = false
	d.LastFailureAt = r.now()
}

// MarkSuccess restores availability and folds the observed latency into the
// backend's rolling averages.
func (r *Registry) MarkSuccess(id string, latencyMs float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.backends[id]
	if !ok {
		return
	}
	d.attempts++
	d.SuccessRate = (d.SuccessRate*float64(d.attempts-1) + 1) / float64(d.attempts)
	d.AvgLatencyMs = (d.AvgLatencyMs*float64(d.successes) + latencyMs) / float64(d.successes+1)
	d.successes++
	d.Available = true
}

func copyDescriptor(d *Descriptor) Descriptor {
	cp := *d
	cp.Capabilities = make(map[string]bool, len(d.Capabilities))
	for tag, ok := range d.Capabilities {
		cp.Capabilities[tag] = ok
	}
	return cp
}

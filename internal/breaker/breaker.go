package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow when the breaker rejects the call without
// attempting the downstream.
var ErrOpen = errors.New("circuit breaker is open")

// Settings tunes one breaker. Zero values fall back to defaults.
type Settings struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Defaults to 5.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays open before admitting
	// probes. Defaults to 30s.
	OpenTimeout time.Duration

	// MaxProbes caps concurrent half-open probe calls. Defaults to 1.
	MaxProbes int

	// EvaluationWindow bounds how stale the previous failure may be for
	// a new failure to extend the consecutive count; an older one
	// restarts the count at 1. Defaults to OpenTimeout.
	EvaluationWindow time.Duration
}

// DefaultSettings returns the default breaker tuning.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		MaxProbes:        1,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = d.OpenTimeout
	}
	if s.MaxProbes <= 0 {
		s.MaxProbes = d.MaxProbes
	}
	if s.EvaluationWindow <= 0 {
		s.EvaluationWindow = s.OpenTimeout
	}
	return s
}

// TransitionFunc observes state changes. Called outside the breaker lock.
type TransitionFunc func(service string, from, to State)

// Breaker is one per-service circuit breaker.
type Breaker struct {
	service      string
	settings     Settings
	onTransition TransitionFunc
	now          func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	openedAt            time.Time
	probesInFlight      int
}

// New creates a closed breaker for a service.
func New(service string, settings Settings, onTransition TransitionFunc) *Breaker {
	return &Breaker{
		service:      service,
		settings:     settings.withDefaults(),
		onTransition: onTransition,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed. It performs the open→half-open
// transition once OpenTimeout has elapsed and reserves a probe slot in
// half-open. A caller that gets nil must follow up with RecordSuccess or
// RecordFailure.
func (b *Breaker) Allow() error {
	var transition *[2]State

	b.mu.Lock()
	switch b.state {
	case StateClosed:
		// pass
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.settings.OpenTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		transition = &[2]State{StateOpen, StateHalfOpen}
		b.state = StateHalfOpen
		b.probesInFlight = 1
	case StateHalfOpen:
		if b.probesInFlight >= b.settings.MaxProbes {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probesInFlight++
	}
	b.mu.Unlock()

	if transition != nil {
		b.notify(transition[0], transition[1])
	}
	return nil
}

// RecordSuccess reports a successful call. A half-open probe success closes
// the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	var transition *[2]State

	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		transition = &[2]State{StateHalfOpen, StateClosed}
		b.state = StateClosed
		b.consecutiveFailures = 0
		b.probesInFlight = 0
	case StateOpen:
		// A straggler from before the breaker opened; ignored.
	}
	b.mu.Unlock()

	if transition != nil {
		b.notify(transition[0], transition[1])
	}
}

// RecordFailure reports a failed call. Reaching the threshold in closed
// state opens the breaker; a half-open probe failure reopens it.
func (b *Breaker) RecordFailure() {
	var transition *[2]State
	now := b.now()

	b.mu.Lock()
	switch b.state {
	case StateClosed:
		if !b.lastFailureAt.IsZero() && now.Sub(b.lastFailureAt) > b.settings.EvaluationWindow {
			b.consecutiveFailures = 0
		}
		b.consecutiveFailures++
		b.lastFailureAt = now
		if b.consecutiveFailures >= b.settings.FailureThreshold {
			transition = &[2]State{StateClosed, StateOpen}
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		transition = &[2]State{StateHalfOpen, StateOpen}
		b.state = StateOpen
		b.openedAt = now
		b.probesInFlight = 0
	case StateOpen:
		// Straggler; the breaker is already open.
	}
	b.mu.Unlock()

	if transition != nil {
		b.notify(transition[0], transition[1])
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot describes a breaker for the health endpoint.
type Snapshot struct {
	Service             string    `json:"service"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	OpenedAt            time.Time `json:"openedAt,omitempty"`
	ProbesInFlight      int       `json:"probesInFlight"`
}

// Snapshot returns the current breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Service:             b.service,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		ProbesInFlight:      b.probesInFlight,
	}
}

func (b *Breaker) notify(from, to State) {
	if b.onTransition != nil {
		b.onTransition(b.service, from, to)
	}
}

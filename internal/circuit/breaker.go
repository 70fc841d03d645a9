// Package circuit implements the circuit breaker that guards log-sink
// delivery: a remote QA log collector that keeps refusing entries stops
// receiving attempts for a cool-off period, so a collector outage costs
// the engine one failed delivery per window instead of a retry storm on
// every intercepted filesystem call that logs.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker's delivery posture.
type State int

const (
	// StateClosed: deliveries flow to the collector normally.
	StateClosed State = iota
	// StateOpen: the collector is considered down; deliveries are
	// rejected without being attempted until the cool-off elapses.
	StateOpen
	// StateHalfOpen: a limited number of probe deliveries are let
	// through to find out whether the collector recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpenState is returned for a delivery rejected because the breaker
// is open. Callers treat it as "log entry dropped", never as a reason
// to fail the filesystem operation being logged.
var ErrOpenState = errors.New("circuit: log sink breaker is open")

// Config tunes one breaker.
type Config struct {
	// TripAfter is the number of consecutive delivery failures that
	// opens the breaker. Zero means the default of 3.
	TripAfter int `yaml:"trip_after"`

	// MaxRequests caps the probe deliveries allowed through while
	// half-open. Zero means 1.
	MaxRequests int `yaml:"max_requests"`

	// Interval is how long a closed breaker remembers failures before
	// its window resets. Zero means 60s.
	Interval time.Duration `yaml:"interval"`

	// Timeout is the open-state cool-off before probing resumes.
	// Zero means 60s.
	Timeout time.Duration `yaml:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.TripAfter <= 0 {
		c.TripAfter = 3
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = 1
	}
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// Window counts deliveries inside the breaker's current observation
// window. It resets on every state change and on window expiry.
type Window struct {
	Deliveries          int       `json:"deliveries"`
	Failures            int       `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastDelivery        time.Time `json:"last_delivery"`
}

// Breaker guards delivery to one named log sink.
type Breaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	window Window
	until  time.Time
}

// New creates a breaker for the named sink.
func New(name string, config Config) *Breaker {
	config = config.withDefaults()
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		until:  time.Now().Add(config.Interval),
	}
}

// Name returns the sink name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Do attempts one delivery through the breaker. When open it returns
// ErrOpenState without calling fn; when half-open past the probe cap it
// also rejects. Otherwise fn runs and its outcome drives the state.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.settle(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.advance(time.Now()) {
	case StateOpen:
		return ErrOpenState
	case StateHalfOpen:
		if b.window.Deliveries >= b.config.MaxRequests {
			return ErrOpenState
		}
	}
	b.window.Deliveries++
	b.window.LastDelivery = time.Now()
	return nil
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.advance(now)

	if err == nil {
		b.window.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			b.transition(StateClosed, now)
		}
		return
	}

	b.window.Failures++
	b.window.ConsecutiveFailures++
	switch state {
	case StateClosed:
		if b.window.ConsecutiveFailures >= b.config.TripAfter {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		// The probe failed: the collector is still down.
		b.transition(StateOpen, now)
	}
}

// advance rolls the state forward for the passage of time: an expired
// closed window forgets its failures, an expired open cool-off admits
// probes. Callers hold b.mu.
func (b *Breaker) advance(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.until.IsZero() && b.until.Before(now) {
			b.window = Window{}
			b.until = now.Add(b.config.Interval)
		}
	case StateOpen:
		if b.until.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state
}

// transition moves to state and resets the window. Callers hold b.mu.
func (b *Breaker) transition(state State, now time.Time) {
	if b.state == state {
		return
	}
	b.state = state
	b.window = Window{}
	switch state {
	case StateClosed:
		b.until = now.Add(b.config.Interval)
	case StateOpen:
		b.until = now.Add(b.config.Timeout)
	case StateHalfOpen:
		b.until = time.Time{}
	}
}

// Reset force-closes the breaker and forgets all delivery history. The
// recovery manager calls it when a sink is recovered, manually or
// automatically.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.window = Window{}
	b.until = time.Now().Add(b.config.Interval)
}

// GetState reports the current state, rolling time forward first.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.advance(time.Now())
}

// GetWindow returns a copy of the current observation window.
func (b *Breaker) GetWindow() Window {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.window
}

// BreakerStats is the introspectable view of one breaker, surfaced
// through the recovery manager's stats.
type BreakerStats struct {
	Name   string `json:"name"`
	State  State  `json:"state"`
	Window Window `json:"window"`
}

// Manager lazily creates one breaker per log sink, all sharing a
// config. The recovery manager keys breakers by sink component name
// ("logsink-http" and so on).
type Manager struct {
	mu       sync.Mutex
	config   Config
	breakers map[string]*Breaker
}

// NewManager creates an empty manager; breakers appear on first use.
func NewManager(config Config) *Manager {
	return &Manager{config: config, breakers: make(map[string]*Breaker)}
}

// GetBreaker returns the breaker for the named sink, creating it on
// first sight.
func (m *Manager) GetBreaker(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := New(name, m.config)
	m.breakers[name] = b
	return b
}

// GetStats snapshots every breaker the manager has created.
func (m *Manager) GetStats() map[string]BreakerStats {
	m.mu.Lock()
	breakers := make(map[string]*Breaker, len(m.breakers))
	for name, b := range m.breakers {
		breakers[name] = b
	}
	m.mu.Unlock()

	stats := make(map[string]BreakerStats, len(breakers))
	for name, b := range breakers {
		stats[name] = BreakerStats{Name: name, State: b.GetState(), Window: b.GetWindow()}
	}
	return stats
}

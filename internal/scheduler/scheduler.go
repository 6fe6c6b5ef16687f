// Package scheduler drives periodic ticks of registered targets.
//
// One firing ticks every target sequentially in registration order, so the
// latency of a firing is the sum of its targets' ticks. Targets that report
// themselves disconnected are dropped after the firing.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbweber/virtwatch/internal/conn"
)

// DefaultInterval is the tick period used when none is configured.
const DefaultInterval = time.Second

// Target is something the scheduler ticks. *conn.Connection satisfies it.
type Target interface {
	URI() string
	Tick()
	State() conn.State
}

// Scheduler fires registered targets at a fixed interval.
type Scheduler struct {
	interval time.Duration
	log      zerolog.Logger

	// fireMu serializes firings.
	fireMu sync.Mutex

	mu      sync.Mutex
	targets []Target
}

// New creates a scheduler. A non-positive interval selects DefaultInterval.
func New(interval time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		interval: interval,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Interval returns the tick period.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Register appends t to the firing order. Registering a target twice is a no-op.
func (s *Scheduler) Register(t Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.targets {
		if existing == t {
			return
		}
	}
	s.targets = append(s.targets, t)
	s.log.Debug().Str("uri", t.URI()).Msg("Registered target")
}

// Unregister removes t. It reports whether t was registered.
func (s *Scheduler) Unregister(t Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.targets {
		if existing == t {
			s.targets = append(s.targets[:i], s.targets[i+1:]...)
			s.log.Debug().Str("uri", t.URI()).Msg("Unregistered target")
			return true
		}
	}
	return false
}

// Targets returns the registered targets in firing order.
func (s *Scheduler) Targets() []Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Target(nil), s.targets...)
}

// Fire ticks every registered target once, one after another. Targets left
// disconnected afterwards are unregistered.
func (s *Scheduler) Fire() {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	for _, t := range s.Targets() {
		t.Tick()
		if t.State() == conn.StateDisconnected {
			s.log.Info().Str("uri", t.URI()).Msg("Target disconnected, dropping from schedule")
			s.Unregister(t)
		}
	}
}

// Run fires every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("Scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Fire()
		}
	}
}

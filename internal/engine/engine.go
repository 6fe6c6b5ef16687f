// Package engine owns the set of hypervisor connections and the scheduler
// that ticks them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbweber/virtwatch/internal/conn"
	"github.com/jbweber/virtwatch/internal/hypervisor"
	"github.com/jbweber/virtwatch/internal/scheduler"
)

// ErrUnknownConnection is returned for a URI the engine does not hold.
var ErrUnknownConnection = errors.New("unknown connection")

// Deps carries the engine's collaborators.
type Deps struct {
	// Dial opens hypervisor connections. Defaults to LibvirtDialer(hypervisor.DefaultTimeout).
	Dial     conn.DialFunc
	Observer conn.Observer
	Logger   zerolog.Logger
	Metrics  conn.Metrics
	// Interval is the scheduler period. Defaults to scheduler.DefaultInterval.
	Interval time.Duration
}

// forgetter is implemented by metrics sinks that can drop a connection's series.
type forgetter interface {
	Forget(uri string)
}

// Engine tracks open connections by URI and registers them with a scheduler.
type Engine struct {
	deps  Deps
	log   zerolog.Logger
	sched *scheduler.Scheduler

	mu    sync.Mutex
	conns map[string]*conn.Connection
	order []string
}

// LibvirtDialer returns a DialFunc that opens go-libvirt clients.
func LibvirtDialer(timeout time.Duration) conn.DialFunc {
	return func(ctx context.Context, uri string) (conn.API, error) {
		c, err := hypervisor.Dial(ctx, uri, timeout)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// New creates an engine with no connections.
func New(deps Deps) *Engine {
	if deps.Dial == nil {
		deps.Dial = LibvirtDialer(hypervisor.DefaultTimeout)
	}
	log := deps.Logger.With().Str("component", "engine").Logger()
	return &Engine{
		deps:  deps,
		log:   log,
		sched: scheduler.New(deps.Interval, deps.Logger),
		conns: make(map[string]*conn.Connection),
	}
}

// Scheduler returns the engine's scheduler.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }

// Add opens uri and schedules it. An already active connection for uri is
// returned as is; a disconnected one is replaced.
func (e *Engine) Add(ctx context.Context, uri string) (*conn.Connection, error) {
	e.mu.Lock()
	existing, ok := e.conns[uri]
	e.mu.Unlock()
	if ok {
		if existing.State() == conn.StateActive {
			return existing, nil
		}
		e.forget(uri, existing)
	}

	c, err := conn.Open(ctx, uri, conn.Deps{
		Dial:     e.deps.Dial,
		Observer: e.deps.Observer,
		Logger:   e.deps.Logger,
		Metrics:  e.deps.Metrics,
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.conns[uri] = c
	e.order = append(e.order, uri)
	e.mu.Unlock()

	e.sched.Register(c)
	e.log.Info().Str("uri", uri).Msg("Connection added")
	return c, nil
}

// Remove unschedules and closes the connection for uri.
func (e *Engine) Remove(uri string) error {
	e.mu.Lock()
	c, ok := e.conns[uri]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("remove %s: %w", uri, ErrUnknownConnection)
	}

	e.forget(uri, c)
	if f, ok := e.deps.Metrics.(forgetter); ok {
		f.Forget(uri)
	}
	e.log.Info().Str("uri", uri).Msg("Connection removed")

	if err := c.Close(); err != nil && !errors.Is(err, conn.ErrClosed) {
		return fmt.Errorf("remove %s: %w", uri, err)
	}
	return nil
}

func (e *Engine) forget(uri string, c *conn.Connection) {
	e.sched.Unregister(c)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, uri)
	for i, u := range e.order {
		if u == uri {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Sync makes the set of connections match uris: missing or disconnected URIs
// are opened, URIs not listed are removed. Every failure is reported in the
// joined error; successful changes are kept.
func (e *Engine) Sync(ctx context.Context, uris []string) error {
	want := make(map[string]struct{}, len(uris))
	for _, u := range uris {
		want[u] = struct{}{}
	}

	var errs []error
	for _, c := range e.Connections() {
		if _, ok := want[c.URI()]; !ok {
			if err := e.Remove(c.URI()); err != nil {
				errs = append(errs, err)
			}
		}
	}

	for _, u := range uris {
		if _, err := e.Add(ctx, u); err != nil {
			e.log.Warn().Err(err).Str("uri", u).Msg("Failed to open connection")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Connection returns the connection for uri.
func (e *Engine) Connection(uri string) (*conn.Connection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conns[uri]
	return c, ok
}

// Connections returns every held connection in the order they were added.
func (e *Engine) Connections() []*conn.Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*conn.Connection, 0, len(e.order))
	for _, u := range e.order {
		out = append(out, e.conns[u])
	}
	return out
}

// Load fires the scheduler until the initial bulk load has run on every
// scheduled connection. It is meant for one-shot commands that do not Run.
func (e *Engine) Load() {
	for i := 0; i < conn.BulkLoadTick; i++ {
		e.sched.Fire()
	}
}

// Run drives the scheduler until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.sched.Run(ctx)
}

// Close closes every connection.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.Connections() {
		if err := e.Remove(c.URI()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrConnectionFailed is returned by Open when the hypervisor cannot be reached.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrClosed is returned by Close on a connection that is already disconnected.
	ErrClosed = errors.New("connection closed")
)

// BulkLoadTick is the first tick count at which the one-shot bulk load runs.
const BulkLoadTick = 3

// Pass cadences, in ticks.
const (
	domainPassEvery  = 2
	networkPassEvery = 5
)

// Connection keeps the caches of one hypervisor in step with the remote side.
//
// Tick is driven by a single scheduler goroutine. Snapshot accessors may be
// called from any goroutine.
type Connection struct {
	uri      string
	log      zerolog.Logger
	observer Observer
	metrics  Metrics

	// tickMu serializes Tick and Close.
	tickMu      sync.Mutex
	api         API
	initialPoll bool

	stateMu sync.RWMutex
	state   State

	ticks atomic.Uint64

	domains  *cache[*Domain]
	networks *cache[*Network]
	pools    *cache[*StoragePool]
}

// Open dials uri and returns an Active connection with empty caches.
// Objects are loaded by later ticks. On failure no Connection is returned and
// the error wraps ErrConnectionFailed.
func Open(ctx context.Context, uri string, deps Deps) (*Connection, error) {
	if deps.Dial == nil {
		return nil, fmt.Errorf("open %s: %w: no dialer configured", uri, ErrConnectionFailed)
	}

	c := &Connection{
		uri:         uri,
		log:         deps.Logger.With().Str("uri", uri).Logger(),
		observer:    deps.Observer,
		metrics:     deps.Metrics,
		initialPoll: true,
		domains:     newCache[*Domain](KindDomain),
		networks:    newCache[*Network](KindNetwork),
		pools:       newCache[*StoragePool](KindStoragePool),
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}

	c.setState(StateConnecting)

	api, err := deps.Dial(ctx, uri)
	if err != nil {
		c.setState(StateDisconnected)
		return nil, fmt.Errorf("open %s: %w: %w", uri, ErrConnectionFailed, err)
	}
	if api == nil {
		c.setState(StateDisconnected)
		return nil, fmt.Errorf("open %s: %w: dialer returned no handle", uri, ErrConnectionFailed)
	}

	c.api = api
	c.setState(StateActive)
	c.log.Info().Msg("Connected to hypervisor")
	return c, nil
}

// URI returns the hypervisor URI the connection was opened with.
func (c *Connection) URI() string { return c.uri }

// State returns the current connection state.
func (c *Connection) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// TickCount returns how many ticks have passed the liveness check.
func (c *Connection) TickCount() uint64 { return c.ticks.Load() }

func (c *Connection) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	c.emit(Event{Type: EventStateChanged, State: s})
}

// emit stamps ev with the connection URI and the current time and delivers it.
func (c *Connection) emit(ev Event) {
	ev.URI = c.uri
	ev.Time = time.Now()
	c.observer.Notify(ev)
}

// Tick runs one polling cycle. It never returns an error: failures are
// logged, counted, and reflected in the caches and connection state.
func (c *Connection) Tick() {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	if c.State() != StateActive {
		return
	}

	start := time.Now()

	if err := c.api.Ping(); err != nil {
		c.log.Warn().Err(err).Msg("Liveness check failed, disconnecting")
		c.metrics.LivenessFailed(c.uri)
		if err := c.shutdown(); err != nil {
			c.log.Debug().Err(err).Msg("Failed to close hypervisor connection")
		}
		return
	}

	n := c.ticks.Add(1)

	if c.initialPoll && n >= BulkLoadTick {
		c.initialPoll = false
		c.log.Debug().Uint64("tick", n).Msg("Running initial bulk load")
		c.syncDomains()
		c.syncNetworks()
		c.syncStoragePools()
	}

	if n%domainPassEvery == 0 {
		c.syncDomains()
	}
	if n%networkPassEvery == 0 {
		c.syncNetworks()
		c.syncStoragePools()
		refreshAll(c, c.networks)
		refreshAll(c, c.pools)
	}

	refreshAll(c, c.domains)

	elapsed := time.Since(start)
	c.metrics.TickCompleted(c.uri, elapsed)
	c.log.Trace().Uint64("tick", n).Dur("elapsed", elapsed).Msg("Tick complete")
}

// Close tears down every cache and closes the hypervisor connection. It waits
// for an in-flight Tick. Closing a disconnected connection returns ErrClosed.
func (c *Connection) Close() error {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	if c.State() == StateDisconnected {
		return ErrClosed
	}
	c.log.Info().Msg("Closing hypervisor connection")
	return c.shutdown()
}

// shutdown must be called with tickMu held on an active connection.
func (c *Connection) shutdown() error {
	removed := teardown(c.domains, c.emit)
	removed += teardown(c.networks, c.emit)
	removed += teardown(c.pools, c.emit)
	for _, k := range Kinds {
		c.metrics.ObjectsCached(c.uri, k.String(), 0)
	}
	c.log.Debug().Int("removed", removed).Msg("Caches torn down")

	c.setState(StateDisconnected)

	api := c.api
	c.api = nil
	if err := api.Close(); err != nil {
		return fmt.Errorf("close %s: %w", c.uri, err)
	}
	return nil
}

func (c *Connection) syncDomains() {
	runPass(c, c.domains, c.api.ActiveDomainNames, c.api.DefinedDomainNames, c.buildDomain)
}

func (c *Connection) syncNetworks() {
	runPass(c, c.networks, c.api.ActiveNetworkNames, c.api.DefinedNetworkNames, c.buildNetwork)
}

func (c *Connection) syncStoragePools() {
	runPass(c, c.pools, c.api.ActiveStoragePoolNames, c.api.DefinedStoragePoolNames, c.buildStoragePool)
}

// runPass enumerates active and inactive objects of one kind and reconciles
// the union into cc. An enumeration error skips the pass and leaves cc as is.
func runPass[T object](c *Connection, cc *cache[T], active, inactive func() ([]string, error), build func(string) (T, error)) {
	kind := cc.kind.String()

	names, err := active()
	if err == nil {
		var defined []string
		defined, err = inactive()
		names = append(names, defined...)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("kind", kind).Msg("Enumeration failed, skipping pass")
		c.metrics.EnumerationFailed(c.uri, kind)
		return
	}

	added, removed := reconcile(cc, names, build, c.emit)

	c.metrics.PassCompleted(c.uri, kind, added, removed)
	c.metrics.ObjectsCached(c.uri, kind, cc.len())
	if added > 0 || removed > 0 {
		c.log.Debug().
			Str("kind", kind).
			Int("added", added).
			Int("removed", removed).
			Msg("Reconciled cache")
	}
}

// refreshAll re-reads the scalar state of every wrapper in cc. Failures are
// logged and leave the cached state as it was.
func refreshAll[T interface {
	object
	Refresh() error
}](c *Connection, cc *cache[T]) {
	for _, obj := range cc.snapshot() {
		if err := obj.Refresh(); err != nil {
			c.log.Debug().Err(err).Str("kind", cc.kind.String()).Str("name", obj.Name()).Msg("Refresh failed")
		}
	}
}

func (c *Connection) buildDomain(name string) (*Domain, error) {
	h, err := c.api.LookupDomain(name)
	if err != nil {
		c.log.Debug().Err(err).Str("domain", name).Msg("Domain vanished before lookup, skipping")
		return nil, err
	}
	return newDomain(c.api, h, c.log, c.emit), nil
}

func (c *Connection) buildNetwork(name string) (*Network, error) {
	h, err := c.api.LookupNetwork(name)
	if err != nil {
		c.log.Debug().Err(err).Str("network", name).Msg("Network vanished before lookup, skipping")
		return nil, err
	}
	return newNetwork(c.api, h, c.log, c.emit), nil
}

func (c *Connection) buildStoragePool(name string) (*StoragePool, error) {
	h, err := c.api.LookupStoragePool(name)
	if err != nil {
		c.log.Debug().Err(err).Str("pool", name).Msg("Pool vanished before lookup, skipping")
		return nil, err
	}
	return newStoragePool(c.api, h, c.log, c.emit), nil
}

// Domains returns the cached domains sorted by name. The wrappers are
// borrowed and may be released by a later tick.
func (c *Connection) Domains() []*Domain { return c.domains.snapshot() }

// Networks returns the cached networks sorted by name.
func (c *Connection) Networks() []*Network { return c.networks.snapshot() }

// StoragePools returns the cached storage pools sorted by name.
func (c *Connection) StoragePools() []*StoragePool { return c.pools.snapshot() }

// LookupDomain returns the cached domain with the given name.
func (c *Connection) LookupDomain(name string) (*Domain, bool) { return c.domains.get(name) }

// LookupNetwork returns the cached network with the given name.
func (c *Connection) LookupNetwork(name string) (*Network, bool) { return c.networks.get(name) }

// LookupStoragePool returns the cached storage pool with the given name.
func (c *Connection) LookupStoragePool(name string) (*StoragePool, bool) {
	return c.pools.get(name)
}

// Objects returns value snapshots of every cached object of the given kinds,
// or of all kinds when none are given. Kinds are listed in Kinds order and
// objects by name within a kind.
func (c *Connection) Objects(kinds ...Kind) []ObjectInfo {
	if len(kinds) == 0 {
		kinds = Kinds
	}
	var out []ObjectInfo
	for _, k := range kinds {
		switch k {
		case KindDomain:
			for _, d := range c.domains.snapshot() {
				out = append(out, d.Info())
			}
		case KindNetwork:
			for _, n := range c.networks.snapshot() {
				out = append(out, n.Info())
			}
		case KindStoragePool:
			for _, p := range c.pools.snapshot() {
				out = append(out, p.Info())
			}
		}
	}
	return out
}

// Counts returns the number of cached objects per kind.
func (c *Connection) Counts() map[Kind]int {
	return map[Kind]int{
		KindDomain:      c.domains.len(),
		KindNetwork:     c.networks.len(),
		KindStoragePool: c.pools.len(),
	}
}

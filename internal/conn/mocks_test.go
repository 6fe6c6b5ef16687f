package conn

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/virtwatch/internal/hypervisor"
)

// mockHypervisor is an in-memory hypervisor implementing API for testing.
// Objects live in per-kind maps; error fields inject failures.
type mockHypervisor struct {
	mu sync.Mutex

	domains  map[string]*mockDomain
	networks map[string]*mockNetwork
	pools    map[string]*mockPool

	// Error injection
	pingErr         error
	closeErr        error
	listDomainsErr  error
	listNetworksErr error
	listPoolsErr    error
	lookupErr       map[string]error // name -> lookup error
	statsErr        error
	opErr           error

	// Call tracking
	pingCalls      int
	closeCalls     int
	listCalls      map[Kind]int
	lookupCalls    map[string]int
	freed          map[string]int // "kind/name" -> free count
	opCalls        []string       // "op name"
	domainStatsHit int
}

type mockDomain struct {
	uuid   [16]byte
	state  libvirt.DomainState
	memKiB uint64
	vcpus  uint16
	cpu    time.Duration
	hvType string
}

type mockNetwork struct {
	uuid      [16]byte
	active    bool
	autostart bool
	bridge    string
}

type mockPool struct {
	uuid      [16]byte
	state     libvirt.StoragePoolState
	poolType  string
	path      string
	capacity  uint64
	autostart bool
}

func newMockHypervisor() *mockHypervisor {
	return &mockHypervisor{
		domains:     make(map[string]*mockDomain),
		networks:    make(map[string]*mockNetwork),
		pools:       make(map[string]*mockPool),
		lookupErr:   make(map[string]error),
		listCalls:   make(map[Kind]int),
		lookupCalls: make(map[string]int),
		freed:       make(map[string]int),
	}
}

func mockUUID(name string) [16]byte {
	var id [16]byte
	copy(id[:], name)
	id[15] = 0x01
	return id
}

// addDomain defines a domain in the given state.
func (m *mockHypervisor) addDomain(name string, state libvirt.DomainState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domains[name] = &mockDomain{
		uuid:   mockUUID(name),
		state:  state,
		memKiB: 1024 * 1024,
		vcpus:  2,
		hvType: "kvm",
	}
}

func (m *mockHypervisor) removeDomain(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.domains, name)
}

func (m *mockHypervisor) setDomainState(name string, state libvirt.DomainState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domains[name].state = state
}

func (m *mockHypervisor) addNetwork(name string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.networks[name] = &mockNetwork{uuid: mockUUID(name), active: active, bridge: "virbr-" + name}
}

func (m *mockHypervisor) removeNetwork(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.networks, name)
}

func (m *mockHypervisor) addPool(name string, state libvirt.StoragePoolState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[name] = &mockPool{
		uuid:     mockUUID(name),
		state:    state,
		poolType: "dir",
		path:     "/var/lib/libvirt/" + name,
		capacity: 1 << 40,
	}
}

func (m *mockHypervisor) removePool(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pools, name)
}

func (m *mockHypervisor) setNetworkActive(name string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.networks[name].active = active
}

func (m *mockHypervisor) setPoolCapacity(name string, capacity uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[name].capacity = capacity
}

func (m *mockHypervisor) setPingErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

func (m *mockHypervisor) freeCount(kind Kind, name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freed[kind.String()+"/"+name]
}

func (m *mockHypervisor) totalFreed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.freed {
		total += n
	}
	return total
}

func (m *mockHypervisor) lists(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls[kind]
}

func (m *mockHypervisor) dialer() DialFunc {
	return func(ctx context.Context, uri string) (API, error) {
		return m, nil
	}
}

// ----------------------------------------------------------------------------
// API implementation
// ----------------------------------------------------------------------------

func (m *mockHypervisor) Ping() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingCalls++
	return m.pingErr
}

func (m *mockHypervisor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return m.closeErr
}

func mockNames[V any](items map[string]V, keep func(V) bool) []string {
	var out []string
	for name, v := range items {
		if keep(v) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (m *mockHypervisor) ActiveDomainNames() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls[KindDomain]++
	if m.listDomainsErr != nil {
		return nil, m.listDomainsErr
	}
	return mockNames(m.domains, func(d *mockDomain) bool { return d.state != libvirt.DomainShutoff }), nil
}

func (m *mockHypervisor) DefinedDomainNames() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listDomainsErr != nil {
		return nil, m.listDomainsErr
	}
	return mockNames(m.domains, func(d *mockDomain) bool { return d.state == libvirt.DomainShutoff }), nil
}

func (m *mockHypervisor) LookupDomain(name string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupCalls["domain/"+name]++
	if err := m.lookupErr[name]; err != nil {
		return libvirt.Domain{}, err
	}
	d, ok := m.domains[name]
	if !ok {
		return libvirt.Domain{}, fmt.Errorf("domain %q not found", name)
	}
	return libvirt.Domain{Name: name, UUID: d.uuid}, nil
}

func (m *mockHypervisor) FreeDomain(dom libvirt.Domain) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freed["domain/"+dom.Name]++
}

func (m *mockHypervisor) DomainStats(dom libvirt.Domain) (hypervisor.DomainStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainStatsHit++
	if m.statsErr != nil {
		return hypervisor.DomainStats{}, m.statsErr
	}
	d, ok := m.domains[dom.Name]
	if !ok {
		return hypervisor.DomainStats{}, fmt.Errorf("domain %q not found", dom.Name)
	}
	return hypervisor.DomainStats{
		State:     d.state,
		MaxMemKiB: d.memKiB,
		MemKiB:    d.memKiB,
		VCPUs:     d.vcpus,
		CPUTime:   d.cpu,
	}, nil
}

func (m *mockHypervisor) DomainXMLDesc(dom libvirt.Domain) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domains[dom.Name]
	if !ok {
		return "", fmt.Errorf("domain %q not found", dom.Name)
	}
	return fmt.Sprintf("<domain type='%s'><name>%s</name></domain>", d.hvType, dom.Name), nil
}

// domainOp records a lifecycle call and, on success, moves the domain to state.
func (m *mockHypervisor) domainOp(op string, dom libvirt.Domain, state libvirt.DomainState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opCalls = append(m.opCalls, op+" "+dom.Name)
	if m.opErr != nil {
		return m.opErr
	}
	d, ok := m.domains[dom.Name]
	if !ok {
		return fmt.Errorf("domain %q not found", dom.Name)
	}
	d.state = state
	return nil
}

func (m *mockHypervisor) DomainCreate(dom libvirt.Domain) error {
	return m.domainOp("create", dom, libvirt.DomainRunning)
}

func (m *mockHypervisor) DomainShutdown(dom libvirt.Domain) error {
	return m.domainOp("shutdown", dom, libvirt.DomainShutoff)
}

func (m *mockHypervisor) DomainReboot(dom libvirt.Domain) error {
	return m.domainOp("reboot", dom, libvirt.DomainRunning)
}

func (m *mockHypervisor) DomainReset(dom libvirt.Domain) error {
	return m.domainOp("reset", dom, libvirt.DomainRunning)
}

func (m *mockHypervisor) DomainDestroy(dom libvirt.Domain) error {
	return m.domainOp("destroy", dom, libvirt.DomainShutoff)
}

func (m *mockHypervisor) DomainSave(dom libvirt.Domain, path string) error {
	return m.domainOp("save:"+path, dom, libvirt.DomainShutoff)
}

func (m *mockHypervisor) DomainSuspend(dom libvirt.Domain) error {
	return m.domainOp("suspend", dom, libvirt.DomainPaused)
}

func (m *mockHypervisor) DomainResume(dom libvirt.Domain) error {
	return m.domainOp("resume", dom, libvirt.DomainRunning)
}

func (m *mockHypervisor) ActiveNetworkNames() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls[KindNetwork]++
	if m.listNetworksErr != nil {
		return nil, m.listNetworksErr
	}
	return mockNames(m.networks, func(n *mockNetwork) bool { return n.active }), nil
}

func (m *mockHypervisor) DefinedNetworkNames() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listNetworksErr != nil {
		return nil, m.listNetworksErr
	}
	return mockNames(m.networks, func(n *mockNetwork) bool { return !n.active }), nil
}

func (m *mockHypervisor) LookupNetwork(name string) (libvirt.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupCalls["network/"+name]++
	if err := m.lookupErr[name]; err != nil {
		return libvirt.Network{}, err
	}
	n, ok := m.networks[name]
	if !ok {
		return libvirt.Network{}, fmt.Errorf("network %q not found", name)
	}
	return libvirt.Network{Name: name, UUID: n.uuid}, nil
}

func (m *mockHypervisor) FreeNetwork(net libvirt.Network) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freed["network/"+net.Name]++
}

func (m *mockHypervisor) NetworkStats(net libvirt.Network) (hypervisor.NetworkStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.networks[net.Name]
	if !ok {
		return hypervisor.NetworkStats{}, fmt.Errorf("network %q not found", net.Name)
	}
	return hypervisor.NetworkStats{Active: n.active, Autostart: n.autostart}, nil
}

func (m *mockHypervisor) NetworkXMLDesc(net libvirt.Network) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.networks[net.Name]
	if !ok {
		return "", fmt.Errorf("network %q not found", net.Name)
	}
	return fmt.Sprintf("<network><name>%s</name><bridge name='%s'/></network>", net.Name, n.bridge), nil
}

func (m *mockHypervisor) networkOp(op string, net libvirt.Network, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opCalls = append(m.opCalls, op+" "+net.Name)
	if m.opErr != nil {
		return m.opErr
	}
	n, ok := m.networks[net.Name]
	if !ok {
		return fmt.Errorf("network %q not found", net.Name)
	}
	n.active = active
	return nil
}

func (m *mockHypervisor) NetworkCreate(net libvirt.Network) error {
	return m.networkOp("net-start", net, true)
}

func (m *mockHypervisor) NetworkDestroy(net libvirt.Network) error {
	return m.networkOp("net-destroy", net, false)
}

func (m *mockHypervisor) ActiveStoragePoolNames() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls[KindStoragePool]++
	if m.listPoolsErr != nil {
		return nil, m.listPoolsErr
	}
	return mockNames(m.pools, func(p *mockPool) bool { return p.state == libvirt.StoragePoolRunning }), nil
}

func (m *mockHypervisor) DefinedStoragePoolNames() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listPoolsErr != nil {
		return nil, m.listPoolsErr
	}
	return mockNames(m.pools, func(p *mockPool) bool { return p.state != libvirt.StoragePoolRunning }), nil
}

func (m *mockHypervisor) LookupStoragePool(name string) (libvirt.StoragePool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookupCalls["pool/"+name]++
	if err := m.lookupErr[name]; err != nil {
		return libvirt.StoragePool{}, err
	}
	p, ok := m.pools[name]
	if !ok {
		return libvirt.StoragePool{}, fmt.Errorf("pool %q not found", name)
	}
	return libvirt.StoragePool{Name: name, UUID: p.uuid}, nil
}

func (m *mockHypervisor) FreeStoragePool(pool libvirt.StoragePool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freed["pool/"+pool.Name]++
}

func (m *mockHypervisor) StoragePoolStats(pool libvirt.StoragePool) (hypervisor.StoragePoolStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[pool.Name]
	if !ok {
		return hypervisor.StoragePoolStats{}, fmt.Errorf("pool %q not found", pool.Name)
	}
	return hypervisor.StoragePoolStats{
		State:     p.state,
		Capacity:  p.capacity,
		Available: p.capacity,
		Autostart: p.autostart,
	}, nil
}

func (m *mockHypervisor) StoragePoolXMLDesc(pool libvirt.StoragePool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[pool.Name]
	if !ok {
		return "", fmt.Errorf("pool %q not found", pool.Name)
	}
	return fmt.Sprintf("<pool type='%s'><name>%s</name><target><path>%s</path></target></pool>",
		p.poolType, pool.Name, p.path), nil
}

func (m *mockHypervisor) poolOp(op string, pool libvirt.StoragePool, state libvirt.StoragePoolState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opCalls = append(m.opCalls, op+" "+pool.Name)
	if m.opErr != nil {
		return m.opErr
	}
	p, ok := m.pools[pool.Name]
	if !ok {
		return fmt.Errorf("pool %q not found", pool.Name)
	}
	p.state = state
	return nil
}

func (m *mockHypervisor) StoragePoolCreate(pool libvirt.StoragePool) error {
	return m.poolOp("pool-start", pool, libvirt.StoragePoolRunning)
}

func (m *mockHypervisor) StoragePoolDestroy(pool libvirt.StoragePool) error {
	return m.poolOp("pool-destroy", pool, libvirt.StoragePoolInactive)
}

func (m *mockHypervisor) StoragePoolRefresh(pool libvirt.StoragePool) error {
	m.mu.Lock()
	state := libvirt.StoragePoolRunning
	if p, ok := m.pools[pool.Name]; ok {
		state = p.state
	}
	m.mu.Unlock()
	return m.poolOp("pool-refresh", pool, state)
}

// ----------------------------------------------------------------------------
// Event recording
// ----------------------------------------------------------------------------

// recorder is an Observer that keeps every event it sees.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// of returns "type kind name" strings for object events of type t.
func (r *recorder) of(t EventType) []string {
	var out []string
	for _, ev := range r.all() {
		if ev.Type != t || ev.Object == nil {
			continue
		}
		out = append(out, ev.Kind.String()+" "+ev.Object.Name())
	}
	sort.Strings(out)
	return out
}

func (r *recorder) states() []State {
	var out []State
	for _, ev := range r.all() {
		if ev.Type == EventStateChanged {
			out = append(out, ev.State)
		}
	}
	return out
}

// mockMetrics is a Metrics that counts calls.
type mockMetrics struct {
	mu           sync.Mutex
	ticks        int
	passes       map[string]int
	enumFailures map[string]int
	liveness     int
	cached       map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{
		passes:       make(map[string]int),
		enumFailures: make(map[string]int),
		cached:       make(map[string]int),
	}
}

func (m *mockMetrics) TickCompleted(string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
}

func (m *mockMetrics) PassCompleted(_, kind string, _, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes[kind]++
}

func (m *mockMetrics) EnumerationFailed(_, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enumFailures[kind]++
}

func (m *mockMetrics) LivenessFailed(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveness++
}

func (m *mockMetrics) ObjectsCached(_, kind string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached[kind] = n
}

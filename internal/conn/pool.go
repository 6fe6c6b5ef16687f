package conn

import (
	"fmt"
	"sync"

	"github.com/digitalocean/go-libvirt"
	"github.com/rs/zerolog"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/virtwatch/internal/hypervisor"
)

// StoragePool wraps one storage pool handle.
type StoragePool struct {
	handle[libvirt.StoragePool]

	api  API
	log  zerolog.Logger
	emit func(Event)

	name     string
	uuid     string
	poolType string
	path     string

	statsMu sync.RWMutex
	stats   hypervisor.StoragePoolStats
}

func newStoragePool(api API, h libvirt.StoragePool, log zerolog.Logger, emit func(Event)) *StoragePool {
	p := &StoragePool{
		api:  api,
		log:  log.With().Str("pool", h.Name).Logger(),
		emit: emit,
		name: h.Name,
		uuid: formatUUID(h.UUID),
	}
	p.handle.init(h, api.FreeStoragePool)

	if xmlDesc, err := api.StoragePoolXMLDesc(h); err == nil {
		var def libvirtxml.StoragePool
		if err := def.Unmarshal(xmlDesc); err == nil {
			p.poolType = def.Type
			if def.Target != nil {
				p.path = def.Target.Path
			}
		}
	}

	if stats, err := api.StoragePoolStats(h); err == nil {
		p.stats = stats
	}

	return p
}

func (p *StoragePool) Kind() Kind   { return KindStoragePool }
func (p *StoragePool) Name() string { return p.name }
func (p *StoragePool) UUID() string { return p.uuid }

// Type returns the pool driver type, e.g. "dir" or "logical".
func (p *StoragePool) Type() string { return p.poolType }

// Path returns the pool's target path from its definition.
func (p *StoragePool) Path() string { return p.path }

// Stats returns the cached state and capacity figures.
func (p *StoragePool) Stats() hypervisor.StoragePoolStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}

// State returns the cached pool state.
func (p *StoragePool) State() libvirt.StoragePoolState { return p.Stats().State }

// Info implements Object.
func (p *StoragePool) Info() ObjectInfo {
	s := p.Stats()
	return ObjectInfo{
		Kind:       KindStoragePool,
		Name:       p.name,
		UUID:       p.uuid,
		State:      PoolStateString(s.State),
		Type:       p.poolType,
		Path:       p.path,
		Capacity:   s.Capacity,
		Allocation: s.Allocation,
		Available:  s.Available,
		Autostart:  s.Autostart,
	}
}

// Refresh re-reads the pool's state and capacity figures. See Domain.Refresh.
func (p *StoragePool) Refresh() error {
	h, ok := p.get()
	if !ok {
		return fmt.Errorf("refresh pool %s: %w", p.name, ErrReleased)
	}

	stats, err := p.api.StoragePoolStats(h)
	if err != nil {
		return fmt.Errorf("refresh pool %s: %w", p.name, err)
	}

	p.statsMu.Lock()
	changed := p.stats.State != stats.State
	p.stats = stats
	p.statsMu.Unlock()

	p.emit(Event{Type: EventObjectStatsUpdated, Kind: KindStoragePool, Object: p})
	if changed {
		p.emit(Event{Type: EventObjectStateChanged, Kind: KindStoragePool, Object: p})
	}
	return nil
}

// XMLDesc returns the pool's current XML description.
func (p *StoragePool) XMLDesc() (string, error) {
	h, ok := p.get()
	if !ok {
		return "", fmt.Errorf("describe pool %s: %w", p.name, ErrReleased)
	}
	xmlDesc, err := p.api.StoragePoolXMLDesc(h)
	if err != nil {
		return "", fmt.Errorf("describe pool %s: %w", p.name, err)
	}
	return xmlDesc, nil
}

// Start activates an inactive pool.
func (p *StoragePool) Start() error { return p.do("start", p.api.StoragePoolCreate) }

// Stop deactivates the pool. Its definition and volumes are kept.
func (p *StoragePool) Stop() error { return p.do("stop", p.api.StoragePoolDestroy) }

// RefreshVolumes asks libvirt to rescan the pool's volumes.
func (p *StoragePool) RefreshVolumes() error { return p.do("refresh", p.api.StoragePoolRefresh) }

func (p *StoragePool) do(op string, call func(libvirt.StoragePool) error) error {
	h, ok := p.get()
	if !ok {
		return fmt.Errorf("%s pool %s: %w", op, p.name, ErrReleased)
	}
	if err := call(h); err != nil {
		return fmt.Errorf("%s pool %s: %w", op, p.name, err)
	}
	if err := p.Refresh(); err != nil {
		p.log.Debug().Err(err).Str("op", op).Msg("Refresh after lifecycle operation failed")
	}
	return nil
}

// PoolStateString maps a libvirt pool state to a display string.
func PoolStateString(state libvirt.StoragePoolState) string {
	switch state {
	case libvirt.StoragePoolInactive:
		return "inactive"
	case libvirt.StoragePoolBuilding:
		return "building"
	case libvirt.StoragePoolRunning:
		return "running"
	case libvirt.StoragePoolDegraded:
		return "degraded"
	case libvirt.StoragePoolInaccessible:
		return "inaccessible"
	default:
		return "unknown"
	}
}

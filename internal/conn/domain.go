package conn

import (
	"fmt"
	"sync"

	"github.com/digitalocean/go-libvirt"
	"github.com/rs/zerolog"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/virtwatch/internal/hypervisor"
)

// Domain wraps one virtual machine handle.
type Domain struct {
	handle[libvirt.Domain]

	api  API
	log  zerolog.Logger
	emit func(Event)

	// Identity, captured once at construction.
	name   string
	uuid   string
	hvType string

	statsMu sync.RWMutex
	stats   hypervisor.DomainStats
}

// newDomain wraps h. Identity that cannot be read is left empty; the
// initial stats read is best effort and emits nothing.
func newDomain(api API, h libvirt.Domain, log zerolog.Logger, emit func(Event)) *Domain {
	d := &Domain{
		api:  api,
		log:  log.With().Str("domain", h.Name).Logger(),
		emit: emit,
		name: h.Name,
		uuid: formatUUID(h.UUID),
	}
	d.handle.init(h, api.FreeDomain)

	if xmlDesc, err := api.DomainXMLDesc(h); err == nil {
		var def libvirtxml.Domain
		if err := def.Unmarshal(xmlDesc); err == nil {
			d.hvType = def.Type
		}
	}

	if stats, err := api.DomainStats(h); err == nil {
		d.stats = stats
	}

	return d
}

func (d *Domain) Kind() Kind     { return KindDomain }
func (d *Domain) Name() string   { return d.name }
func (d *Domain) UUID() string   { return d.uuid }
func (d *Domain) Type() string   { return d.hvType }
func (d *Domain) Released() bool { return d.released() }

// Stats returns the cached scalar state.
func (d *Domain) Stats() hypervisor.DomainStats {
	d.statsMu.RLock()
	defer d.statsMu.RUnlock()
	return d.stats
}

// State returns the cached lifecycle state.
func (d *Domain) State() libvirt.DomainState {
	return d.Stats().State
}

// Info implements Object.
func (d *Domain) Info() ObjectInfo {
	s := d.Stats()
	return ObjectInfo{
		Kind:         KindDomain,
		Name:         d.name,
		UUID:         d.uuid,
		State:        DomainStateString(s.State),
		Type:         d.hvType,
		MemoryKiB:    s.MemKiB,
		MaxMemoryKiB: s.MaxMemKiB,
		VCPUs:        s.VCPUs,
		CPUTime:      s.CPUTime,
	}
}

// Refresh re-reads the mutable scalar state and overwrites the cached copy.
// It emits EventObjectStatsUpdated, followed by EventObjectStateChanged when
// the lifecycle state differs from the cached one.
func (d *Domain) Refresh() error {
	h, ok := d.get()
	if !ok {
		return fmt.Errorf("refresh domain %s: %w", d.name, ErrReleased)
	}

	stats, err := d.api.DomainStats(h)
	if err != nil {
		return fmt.Errorf("refresh domain %s: %w", d.name, err)
	}

	d.statsMu.Lock()
	changed := d.stats.State != stats.State
	d.stats = stats
	d.statsMu.Unlock()

	d.emit(Event{Type: EventObjectStatsUpdated, Kind: KindDomain, Object: d})
	if changed {
		d.emit(Event{Type: EventObjectStateChanged, Kind: KindDomain, Object: d})
	}
	return nil
}

// XMLDesc returns the domain's current XML description.
func (d *Domain) XMLDesc() (string, error) {
	h, ok := d.get()
	if !ok {
		return "", fmt.Errorf("describe domain %s: %w", d.name, ErrReleased)
	}
	xmlDesc, err := d.api.DomainXMLDesc(h)
	if err != nil {
		return "", fmt.Errorf("describe domain %s: %w", d.name, err)
	}
	return xmlDesc, nil
}

// Start boots an inactive domain.
func (d *Domain) Start() error { return d.do("start", d.api.DomainCreate) }

// Shutdown asks the guest to power off.
func (d *Domain) Shutdown() error { return d.do("shutdown", d.api.DomainShutdown) }

// Reboot asks the guest to reboot.
func (d *Domain) Reboot() error { return d.do("reboot", d.api.DomainReboot) }

// Reset hard-resets the domain without a guest shutdown.
func (d *Domain) Reset() error { return d.do("reset", d.api.DomainReset) }

// Destroy forcibly powers off the domain. The wrapper stays cached.
func (d *Domain) Destroy() error { return d.do("destroy", d.api.DomainDestroy) }

// Suspend pauses the domain's vCPUs.
func (d *Domain) Suspend() error { return d.do("suspend", d.api.DomainSuspend) }

// Resume continues a paused domain.
func (d *Domain) Resume() error { return d.do("resume", d.api.DomainResume) }

// Save writes the domain's memory to path and stops it.
func (d *Domain) Save(path string) error {
	return d.do("save", func(h libvirt.Domain) error {
		return d.api.DomainSave(h, path)
	})
}

// do runs one lifecycle call. Cached state is only touched on success, by an
// immediate Refresh.
func (d *Domain) do(op string, call func(libvirt.Domain) error) error {
	h, ok := d.get()
	if !ok {
		return fmt.Errorf("%s domain %s: %w", op, d.name, ErrReleased)
	}

	if err := call(h); err != nil {
		return fmt.Errorf("%s domain %s: %w", op, d.name, err)
	}

	if err := d.Refresh(); err != nil {
		d.log.Debug().Err(err).Str("op", op).Msg("Refresh after lifecycle operation failed")
	}
	return nil
}

// DomainStateString converts a libvirt domain state to a human-readable string.
func DomainStateString(state libvirt.DomainState) string {
	switch state {
	case libvirt.DomainNostate:
		return "no state"
	case libvirt.DomainRunning:
		return "running"
	case libvirt.DomainBlocked:
		return "blocked"
	case libvirt.DomainPaused:
		return "paused"
	case libvirt.DomainShutdown:
		return "shutdown"
	case libvirt.DomainShutoff:
		return "shutoff"
	case libvirt.DomainCrashed:
		return "crashed"
	case libvirt.DomainPmsuspended:
		return "pmsuspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

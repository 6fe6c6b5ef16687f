package conn

import (
	"fmt"
	"sync"

	"github.com/digitalocean/go-libvirt"
	"github.com/rs/zerolog"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/virtwatch/internal/hypervisor"
)

// Network wraps one virtual network handle.
type Network struct {
	handle[libvirt.Network]

	api  API
	log  zerolog.Logger
	emit func(Event)

	name   string
	uuid   string
	bridge string

	statsMu sync.RWMutex
	stats   hypervisor.NetworkStats
}

func newNetwork(api API, h libvirt.Network, log zerolog.Logger, emit func(Event)) *Network {
	n := &Network{
		api:  api,
		log:  log.With().Str("network", h.Name).Logger(),
		emit: emit,
		name: h.Name,
		uuid: formatUUID(h.UUID),
	}
	n.handle.init(h, api.FreeNetwork)

	if xmlDesc, err := api.NetworkXMLDesc(h); err == nil {
		var def libvirtxml.Network
		if err := def.Unmarshal(xmlDesc); err == nil && def.Bridge != nil {
			n.bridge = def.Bridge.Name
		}
	}

	if stats, err := api.NetworkStats(h); err == nil {
		n.stats = stats
	}

	return n
}

func (n *Network) Kind() Kind   { return KindNetwork }
func (n *Network) Name() string { return n.name }
func (n *Network) UUID() string { return n.uuid }

// Bridge returns the host bridge name from the network definition.
func (n *Network) Bridge() string { return n.bridge }

// Stats returns the cached active and autostart flags.
func (n *Network) Stats() hypervisor.NetworkStats {
	n.statsMu.RLock()
	defer n.statsMu.RUnlock()
	return n.stats
}

// Active reports whether the network was running at the last refresh.
func (n *Network) Active() bool { return n.Stats().Active }

// Info implements Object.
func (n *Network) Info() ObjectInfo {
	s := n.Stats()
	return ObjectInfo{
		Kind:      KindNetwork,
		Name:      n.name,
		UUID:      n.uuid,
		State:     networkStateString(s.Active),
		Bridge:    n.bridge,
		Autostart: s.Autostart,
	}
}

// Refresh re-reads the network's active and autostart flags. See Domain.Refresh.
func (n *Network) Refresh() error {
	h, ok := n.get()
	if !ok {
		return fmt.Errorf("refresh network %s: %w", n.name, ErrReleased)
	}

	stats, err := n.api.NetworkStats(h)
	if err != nil {
		return fmt.Errorf("refresh network %s: %w", n.name, err)
	}

	n.statsMu.Lock()
	changed := n.stats.Active != stats.Active
	n.stats = stats
	n.statsMu.Unlock()

	n.emit(Event{Type: EventObjectStatsUpdated, Kind: KindNetwork, Object: n})
	if changed {
		n.emit(Event{Type: EventObjectStateChanged, Kind: KindNetwork, Object: n})
	}
	return nil
}

// XMLDesc returns the network's current XML description.
func (n *Network) XMLDesc() (string, error) {
	h, ok := n.get()
	if !ok {
		return "", fmt.Errorf("describe network %s: %w", n.name, ErrReleased)
	}
	xmlDesc, err := n.api.NetworkXMLDesc(h)
	if err != nil {
		return "", fmt.Errorf("describe network %s: %w", n.name, err)
	}
	return xmlDesc, nil
}

// Start activates an inactive network.
func (n *Network) Start() error { return n.do("start", n.api.NetworkCreate) }

// Stop deactivates the network. Its definition is kept.
func (n *Network) Stop() error { return n.do("stop", n.api.NetworkDestroy) }

func (n *Network) do(op string, call func(libvirt.Network) error) error {
	h, ok := n.get()
	if !ok {
		return fmt.Errorf("%s network %s: %w", op, n.name, ErrReleased)
	}
	if err := call(h); err != nil {
		return fmt.Errorf("%s network %s: %w", op, n.name, err)
	}
	if err := n.Refresh(); err != nil {
		n.log.Debug().Err(err).Str("op", op).Msg("Refresh after lifecycle operation failed")
	}
	return nil
}

func networkStateString(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

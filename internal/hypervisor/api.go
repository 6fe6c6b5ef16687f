package hypervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
)

// ErrNegativeCount is returned when libvirt reports a negative object count.
var ErrNegativeCount = errors.New("negative object count")

// libvirtClient defines the libvirt RPCs used by Client.
//
// In production, this is satisfied by *libvirt.Libvirt directly.
// In tests, this is satisfied by mock implementations.
type libvirtClient interface {
	ConnectGetLibVersion() (uint64, error)
	ConnectGetHostname() (string, error)

	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) (rDomains []libvirt.Domain, rRet uint32, err error)
	DomainLookupByName(Name string) (libvirt.Domain, error)
	DomainGetInfo(Dom libvirt.Domain) (rState uint8, rMaxMem uint64, rMemory uint64, rNrVirtCPU uint16, rCPUTime uint64, err error)
	DomainGetXMLDesc(Dom libvirt.Domain, Flags libvirt.DomainXMLFlags) (string, error)
	DomainCreate(Dom libvirt.Domain) error
	DomainShutdown(Dom libvirt.Domain) error
	DomainReboot(Dom libvirt.Domain, Flags libvirt.DomainRebootFlagValues) error
	DomainReset(Dom libvirt.Domain, Flags uint32) error
	DomainDestroy(Dom libvirt.Domain) error
	DomainSave(Dom libvirt.Domain, To string) error
	DomainSuspend(Dom libvirt.Domain) error
	DomainResume(Dom libvirt.Domain) error

	ConnectNumOfNetworks() (int32, error)
	ConnectListNetworks(Maxnames int32) ([]string, error)
	ConnectNumOfDefinedNetworks() (int32, error)
	ConnectListDefinedNetworks(Maxnames int32) ([]string, error)
	NetworkLookupByName(Name string) (libvirt.Network, error)
	NetworkIsActive(Net libvirt.Network) (int32, error)
	NetworkGetAutostart(Net libvirt.Network) (int32, error)
	NetworkGetXMLDesc(Net libvirt.Network, Flags uint32) (string, error)
	NetworkCreate(Net libvirt.Network) error
	NetworkDestroy(Net libvirt.Network) error

	ConnectNumOfStoragePools() (int32, error)
	ConnectListStoragePools(Maxnames int32) ([]string, error)
	ConnectNumOfDefinedStoragePools() (int32, error)
	ConnectListDefinedStoragePools(Maxnames int32) ([]string, error)
	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StoragePoolGetInfo(Pool libvirt.StoragePool) (rState uint8, rCapacity uint64, rAllocation uint64, rAvailable uint64, err error)
	StoragePoolGetAutostart(Pool libvirt.StoragePool) (int32, error)
	StoragePoolGetXMLDesc(Pool libvirt.StoragePool, Flags libvirt.StorageXMLFlags) (string, error)
	StoragePoolCreate(Pool libvirt.StoragePool, Flags libvirt.StoragePoolCreateFlags) error
	StoragePoolDestroy(Pool libvirt.StoragePool) error
	StoragePoolRefresh(Pool libvirt.StoragePool, Flags uint32) error
}

// DomainStats is the mutable scalar state of a domain.
type DomainStats struct {
	State     libvirt.DomainState
	MaxMemKiB uint64
	MemKiB    uint64
	VCPUs     uint16
	CPUTime   time.Duration
}

// NetworkStats is the mutable scalar state of a virtual network.
type NetworkStats struct {
	Active    bool
	Autostart bool
}

// StoragePoolStats is the mutable scalar state of a storage pool.
type StoragePoolStats struct {
	State      libvirt.StoragePoolState
	Capacity   uint64 // bytes
	Allocation uint64 // bytes
	Available  uint64 // bytes
	Autostart  bool
}

// listNames runs a count-then-list enumeration. A negative count is an error.
func listNames(kind string, count func() (int32, error), list func(int32) ([]string, error)) ([]string, error) {
	n, err := count()
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", kind, err)
	}
	if n < 0 {
		return nil, fmt.Errorf("failed to count %s: %w (%d)", kind, ErrNegativeCount, n)
	}
	if n == 0 {
		return nil, nil
	}

	names, err := list(n)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	return names, nil
}

// ----------------------------------------------------------------------------
// Domains
// ----------------------------------------------------------------------------

// ActiveDomainNames returns the names of running domains.
func (c *Client) ActiveDomainNames() ([]string, error) {
	return c.listDomains("active domains", libvirt.ConnectListDomainsActive)
}

// DefinedDomainNames returns the names of defined but inactive domains.
func (c *Client) DefinedDomainNames() ([]string, error) {
	return c.listDomains("inactive domains", libvirt.ConnectListDomainsInactive)
}

// listDomains enumerates domains matching flags in a single call, so a domain
// cannot drop out between listing and lookup.
func (c *Client) listDomains(kind string, flags libvirt.ConnectListAllDomainsFlags) ([]string, error) {
	domains, _, err := c.lv.ConnectListAllDomains(1, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	if len(domains) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(domains))
	for _, dom := range domains {
		names = append(names, dom.Name)
	}
	return names, nil
}

// LookupDomain returns a handle for the named domain.
func (c *Client) LookupDomain(name string) (libvirt.Domain, error) {
	dom, err := c.lv.DomainLookupByName(name)
	if err != nil {
		return libvirt.Domain{}, fmt.Errorf("domain %q not found: %w", name, err)
	}
	return dom, nil
}

// FreeDomain releases a domain handle. Remote handles are plain values over
// the RPC protocol, so there is nothing to release on the daemon side.
func (c *Client) FreeDomain(libvirt.Domain) {}

// DomainStats returns the current scalar state of a domain.
func (c *Client) DomainStats(dom libvirt.Domain) (DomainStats, error) {
	state, maxMem, mem, vcpus, cpuTime, err := c.lv.DomainGetInfo(dom)
	if err != nil {
		return DomainStats{}, fmt.Errorf("failed to get domain info: %w", err)
	}
	return DomainStats{
		State:     libvirt.DomainState(state),
		MaxMemKiB: maxMem,
		MemKiB:    mem,
		VCPUs:     vcpus,
		CPUTime:   time.Duration(cpuTime),
	}, nil
}

// DomainXMLDesc returns the domain's XML description.
func (c *Client) DomainXMLDesc(dom libvirt.Domain) (string, error) {
	return c.lv.DomainGetXMLDesc(dom, 0)
}

func (c *Client) DomainCreate(dom libvirt.Domain) error   { return c.lv.DomainCreate(dom) }
func (c *Client) DomainShutdown(dom libvirt.Domain) error { return c.lv.DomainShutdown(dom) }
func (c *Client) DomainReboot(dom libvirt.Domain) error   { return c.lv.DomainReboot(dom, 0) }
func (c *Client) DomainReset(dom libvirt.Domain) error    { return c.lv.DomainReset(dom, 0) }
func (c *Client) DomainDestroy(dom libvirt.Domain) error  { return c.lv.DomainDestroy(dom) }
func (c *Client) DomainSuspend(dom libvirt.Domain) error  { return c.lv.DomainSuspend(dom) }
func (c *Client) DomainResume(dom libvirt.Domain) error   { return c.lv.DomainResume(dom) }

// DomainSave saves the domain's memory to path and stops it.
func (c *Client) DomainSave(dom libvirt.Domain, path string) error {
	return c.lv.DomainSave(dom, path)
}

// ----------------------------------------------------------------------------
// Networks
// ----------------------------------------------------------------------------

// ActiveNetworkNames returns the names of running virtual networks.
func (c *Client) ActiveNetworkNames() ([]string, error) {
	return listNames("active networks", c.lv.ConnectNumOfNetworks, c.lv.ConnectListNetworks)
}

// DefinedNetworkNames returns the names of defined but inactive networks.
func (c *Client) DefinedNetworkNames() ([]string, error) {
	return listNames("inactive networks", c.lv.ConnectNumOfDefinedNetworks, c.lv.ConnectListDefinedNetworks)
}

// LookupNetwork returns a handle for the named network.
func (c *Client) LookupNetwork(name string) (libvirt.Network, error) {
	net, err := c.lv.NetworkLookupByName(name)
	if err != nil {
		return libvirt.Network{}, fmt.Errorf("network %q not found: %w", name, err)
	}
	return net, nil
}

// FreeNetwork releases a network handle. See FreeDomain.
func (c *Client) FreeNetwork(libvirt.Network) {}

// NetworkStats returns the current scalar state of a network.
func (c *Client) NetworkStats(net libvirt.Network) (NetworkStats, error) {
	active, err := c.lv.NetworkIsActive(net)
	if err != nil {
		return NetworkStats{}, fmt.Errorf("failed to get network state: %w", err)
	}
	autostart, err := c.lv.NetworkGetAutostart(net)
	if err != nil {
		return NetworkStats{}, fmt.Errorf("failed to get network autostart: %w", err)
	}
	return NetworkStats{Active: active != 0, Autostart: autostart != 0}, nil
}

// NetworkXMLDesc returns the network's XML description.
func (c *Client) NetworkXMLDesc(net libvirt.Network) (string, error) {
	return c.lv.NetworkGetXMLDesc(net, 0)
}

func (c *Client) NetworkCreate(net libvirt.Network) error  { return c.lv.NetworkCreate(net) }
func (c *Client) NetworkDestroy(net libvirt.Network) error { return c.lv.NetworkDestroy(net) }

// ----------------------------------------------------------------------------
// Storage pools
// ----------------------------------------------------------------------------

// ActiveStoragePoolNames returns the names of running storage pools.
func (c *Client) ActiveStoragePoolNames() ([]string, error) {
	return listNames("active storage pools", c.lv.ConnectNumOfStoragePools, c.lv.ConnectListStoragePools)
}

// DefinedStoragePoolNames returns the names of defined but inactive pools.
func (c *Client) DefinedStoragePoolNames() ([]string, error) {
	return listNames("inactive storage pools", c.lv.ConnectNumOfDefinedStoragePools, c.lv.ConnectListDefinedStoragePools)
}

// LookupStoragePool returns a handle for the named pool.
func (c *Client) LookupStoragePool(name string) (libvirt.StoragePool, error) {
	pool, err := c.lv.StoragePoolLookupByName(name)
	if err != nil {
		return libvirt.StoragePool{}, fmt.Errorf("pool %q not found: %w", name, err)
	}
	return pool, nil
}

// FreeStoragePool releases a pool handle. See FreeDomain.
func (c *Client) FreeStoragePool(libvirt.StoragePool) {}

// StoragePoolStats returns the current scalar state of a pool.
func (c *Client) StoragePoolStats(pool libvirt.StoragePool) (StoragePoolStats, error) {
	state, capacity, allocation, available, err := c.lv.StoragePoolGetInfo(pool)
	if err != nil {
		return StoragePoolStats{}, fmt.Errorf("failed to get pool info: %w", err)
	}
	autostart, err := c.lv.StoragePoolGetAutostart(pool)
	if err != nil {
		return StoragePoolStats{}, fmt.Errorf("failed to get pool autostart: %w", err)
	}
	return StoragePoolStats{
		State:      libvirt.StoragePoolState(state),
		Capacity:   capacity,
		Allocation: allocation,
		Available:  available,
		Autostart:  autostart != 0,
	}, nil
}

// StoragePoolXMLDesc returns the pool's XML description.
func (c *Client) StoragePoolXMLDesc(pool libvirt.StoragePool) (string, error) {
	return c.lv.StoragePoolGetXMLDesc(pool, 0)
}

func (c *Client) StoragePoolCreate(pool libvirt.StoragePool) error  { return c.lv.StoragePoolCreate(pool, 0) }
func (c *Client) StoragePoolDestroy(pool libvirt.StoragePool) error { return c.lv.StoragePoolDestroy(pool) }
func (c *Client) StoragePoolRefresh(pool libvirt.StoragePool) error { return c.lv.StoragePoolRefresh(pool, 0) }

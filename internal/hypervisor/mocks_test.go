package hypervisor

import (
	"fmt"

	"github.com/digitalocean/go-libvirt"
)

// mockLibvirt is a mock implementation of libvirtClient for testing.
// Unset methods panic through the nil embedded interface.
type mockLibvirt struct {
	libvirtClient

	libVersion    uint64
	libVersionErr error
	hostname      string

	activeDomains  []string
	definedDomains []string
	listDomainsErr error
	listFlags      []libvirt.ConnectListAllDomainsFlags

	networks        []string
	definedNetworks []string
	listNetworksErr error

	pools        []string
	definedPools []string

	domainInfo    func(dom libvirt.Domain) (uint8, uint64, uint64, uint16, uint64, error)
	networkActive int32
	poolInfo      [4]uint64 // state, capacity, allocation, available

	// Call tracking
	calls []string
}

func newMockLibvirt() *mockLibvirt {
	return &mockLibvirt{
		libVersion: 8006000,
		hostname:   "hv1.example.com",
	}
}

func (m *mockLibvirt) ConnectGetLibVersion() (uint64, error) {
	m.calls = append(m.calls, "ConnectGetLibVersion")
	return m.libVersion, m.libVersionErr
}

func (m *mockLibvirt) ConnectGetHostname() (string, error) {
	return m.hostname, nil
}

func (m *mockLibvirt) ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	m.listFlags = append(m.listFlags, flags)
	if m.listDomainsErr != nil {
		return nil, 0, m.listDomainsErr
	}

	var names []string
	if flags&libvirt.ConnectListDomainsActive != 0 {
		names = append(names, m.activeDomains...)
	}
	if flags&libvirt.ConnectListDomainsInactive != 0 {
		names = append(names, m.definedDomains...)
	}
	domains := make([]libvirt.Domain, 0, len(names))
	for _, n := range names {
		domains = append(domains, libvirt.Domain{Name: n})
	}
	return domains, uint32(len(domains)), nil
}

func (m *mockLibvirt) DomainLookupByName(name string) (libvirt.Domain, error) {
	for _, n := range m.activeDomains {
		if n == name {
			return libvirt.Domain{Name: name}, nil
		}
	}
	return libvirt.Domain{}, fmt.Errorf("Domain not found: no domain with matching name '%s'", name)
}

func (m *mockLibvirt) DomainGetInfo(dom libvirt.Domain) (uint8, uint64, uint64, uint16, uint64, error) {
	return m.domainInfo(dom)
}

func (m *mockLibvirt) DomainReboot(dom libvirt.Domain, flags libvirt.DomainRebootFlagValues) error {
	m.calls = append(m.calls, fmt.Sprintf("DomainReboot %s %d", dom.Name, flags))
	return nil
}

func (m *mockLibvirt) DomainSave(dom libvirt.Domain, to string) error {
	m.calls = append(m.calls, "DomainSave "+dom.Name+" "+to)
	return nil
}

func (m *mockLibvirt) ConnectNumOfNetworks() (int32, error) {
	return int32(len(m.networks)), nil
}

func (m *mockLibvirt) ConnectListNetworks(maxnames int32) ([]string, error) {
	if m.listNetworksErr != nil {
		return nil, m.listNetworksErr
	}
	return m.networks, nil
}

func (m *mockLibvirt) ConnectNumOfDefinedNetworks() (int32, error) {
	return int32(len(m.definedNetworks)), nil
}

func (m *mockLibvirt) ConnectListDefinedNetworks(maxnames int32) ([]string, error) {
	return m.definedNetworks, nil
}

func (m *mockLibvirt) NetworkIsActive(net libvirt.Network) (int32, error) {
	return m.networkActive, nil
}

func (m *mockLibvirt) NetworkGetAutostart(net libvirt.Network) (int32, error) {
	return 1, nil
}

func (m *mockLibvirt) ConnectNumOfStoragePools() (int32, error) {
	return int32(len(m.pools)), nil
}

func (m *mockLibvirt) ConnectListStoragePools(maxnames int32) ([]string, error) {
	return m.pools, nil
}

func (m *mockLibvirt) ConnectNumOfDefinedStoragePools() (int32, error) {
	return int32(len(m.definedPools)), nil
}

func (m *mockLibvirt) ConnectListDefinedStoragePools(maxnames int32) ([]string, error) {
	return m.definedPools, nil
}

func (m *mockLibvirt) StoragePoolGetInfo(pool libvirt.StoragePool) (uint8, uint64, uint64, uint64, error) {
	return uint8(m.poolInfo[0]), m.poolInfo[1], m.poolInfo[2], m.poolInfo[3], nil
}

func (m *mockLibvirt) StoragePoolGetAutostart(pool libvirt.StoragePool) (int32, error) {
	return 0, nil
}

func (m *mockLibvirt) StoragePoolRefresh(pool libvirt.StoragePool, flags uint32) error {
	m.calls = append(m.calls, "StoragePoolRefresh "+pool.Name)
	return nil
}

package conn

import (
	"context"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/rs/zerolog"

	"github.com/jbweber/virtwatch/internal/hypervisor"
)

// API defines the hypervisor operations needed by a Connection.
//
// In production, this is satisfied by *hypervisor.Client.
// In tests, this is satisfied by mock implementations.
type API interface {
	// Ping is the liveness check.
	Ping() error
	// Close releases the remote connection.
	Close() error

	ActiveDomainNames() ([]string, error)
	DefinedDomainNames() ([]string, error)
	LookupDomain(name string) (libvirt.Domain, error)
	FreeDomain(dom libvirt.Domain)
	DomainStats(dom libvirt.Domain) (hypervisor.DomainStats, error)
	DomainXMLDesc(dom libvirt.Domain) (string, error)
	DomainCreate(dom libvirt.Domain) error
	DomainShutdown(dom libvirt.Domain) error
	DomainReboot(dom libvirt.Domain) error
	DomainReset(dom libvirt.Domain) error
	DomainDestroy(dom libvirt.Domain) error
	DomainSave(dom libvirt.Domain, path string) error
	DomainSuspend(dom libvirt.Domain) error
	DomainResume(dom libvirt.Domain) error

	ActiveNetworkNames() ([]string, error)
	DefinedNetworkNames() ([]string, error)
	LookupNetwork(name string) (libvirt.Network, error)
	FreeNetwork(net libvirt.Network)
	NetworkStats(net libvirt.Network) (hypervisor.NetworkStats, error)
	NetworkXMLDesc(net libvirt.Network) (string, error)
	NetworkCreate(net libvirt.Network) error
	NetworkDestroy(net libvirt.Network) error

	ActiveStoragePoolNames() ([]string, error)
	DefinedStoragePoolNames() ([]string, error)
	LookupStoragePool(name string) (libvirt.StoragePool, error)
	FreeStoragePool(pool libvirt.StoragePool)
	StoragePoolStats(pool libvirt.StoragePool) (hypervisor.StoragePoolStats, error)
	StoragePoolXMLDesc(pool libvirt.StoragePool) (string, error)
	StoragePoolCreate(pool libvirt.StoragePool) error
	StoragePoolDestroy(pool libvirt.StoragePool) error
	StoragePoolRefresh(pool libvirt.StoragePool) error
}

// DialFunc opens the remote side of a Connection.
type DialFunc func(ctx context.Context, uri string) (API, error)

// Metrics receives tick and reconciliation measurements.
// *metrics.Recorder satisfies it.
type Metrics interface {
	TickCompleted(uri string, d time.Duration)
	PassCompleted(uri, kind string, added, removed int)
	EnumerationFailed(uri, kind string)
	LivenessFailed(uri string)
	ObjectsCached(uri, kind string, n int)
}

// Deps carries everything a Connection needs from its environment.
type Deps struct {
	Dial     DialFunc
	Observer Observer
	Logger   zerolog.Logger
	Metrics  Metrics
}

type nopMetrics struct{}

func (nopMetrics) TickCompleted(string, time.Duration)    {}
func (nopMetrics) PassCompleted(string, string, int, int) {}
func (nopMetrics) EnumerationFailed(string, string)       {}
func (nopMetrics) LivenessFailed(string)                  {}
func (nopMetrics) ObjectsCached(string, string, int)      {}

package hypervisor

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/digitalocean/go-libvirt"
)

const (
	// DefaultURI is used when no connection URI is given.
	DefaultURI = "qemu:///system"

	// SystemSocket is the libvirtd socket for qemu:///system.
	SystemSocket = "/var/run/libvirt/libvirt-sock"
)

// ErrUnsupportedURI is returned for URIs whose driver or transport cannot be
// dialed by this package.
var ErrUnsupportedURI = errors.New("unsupported hypervisor URI")

// Transport is the socket family used to reach libvirtd.
type Transport string

const (
	TransportUnix Transport = "unix"
	TransportTCP  Transport = "tcp"
)

// Endpoint is a parsed hypervisor connection URI.
type Endpoint struct {
	// URI is the URI as given by the user.
	URI string
	// Driver is the hypervisor driver, "qemu" or "test".
	Driver    string
	Transport Transport
	// Host and Port are set for TCP transports. An empty port means the
	// libvirtd default (16509).
	Host string
	Port string
	// Socket is the unix socket path for local transports.
	Socket string
	// Target is the driver URI sent in the connect handshake, e.g. qemu:///system.
	Target libvirt.ConnectURI
}

// ParseURI parses a libvirt connection URI.
//
// Supported forms:
//
//	qemu:///system
//	qemu:///session
//	qemu+unix:///system?socket=/path/to/sock
//	qemu+tcp://host[:port]/system
//	test:///default
func ParseURI(raw string) (Endpoint, error) {
	if raw == "" {
		raw = DefaultURI
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid hypervisor URI %q: %w", raw, err)
	}

	driver, transport, _ := strings.Cut(u.Scheme, "+")
	if driver != "qemu" && driver != "test" {
		return Endpoint{}, fmt.Errorf("%w: driver %q in %q", ErrUnsupportedURI, driver, raw)
	}

	ep := Endpoint{URI: raw, Driver: driver}

	path := strings.TrimSuffix(u.Path, "/")
	switch driver {
	case "qemu":
		if path != "/system" && path != "/session" {
			return Endpoint{}, fmt.Errorf("%w: qemu path must be /system or /session, got %q", ErrUnsupportedURI, u.Path)
		}
	case "test":
		if path == "" {
			path = "/default"
		}
	}
	ep.Target = libvirt.ConnectURI(driver + "://" + path)

	switch transport {
	case "", "unix":
		if u.Host != "" {
			// libvirt defaults to TLS for remote hosts without an explicit transport.
			if transport == "" {
				return Endpoint{}, fmt.Errorf("%w: tls transport for host %q", ErrUnsupportedURI, u.Host)
			}
			return Endpoint{}, fmt.Errorf("%w: unix transport cannot name a host", ErrUnsupportedURI)
		}
		ep.Transport = TransportUnix
		ep.Socket = u.Query().Get("socket")
		if ep.Socket == "" {
			ep.Socket = defaultSocket(path)
		}
	case "tcp":
		if u.Hostname() == "" {
			return Endpoint{}, fmt.Errorf("%w: tcp transport requires a host", ErrUnsupportedURI)
		}
		ep.Transport = TransportTCP
		ep.Host = u.Hostname()
		ep.Port = u.Port()
	default:
		return Endpoint{}, fmt.Errorf("%w: transport %q", ErrUnsupportedURI, transport)
	}

	return ep, nil
}

// defaultSocket returns the libvirtd socket path for a driver path.
func defaultSocket(path string) string {
	if path != "/session" {
		return SystemSocket
	}

	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = filepath.Join("/run/user", fmt.Sprint(os.Getuid()))
	}
	return filepath.Join(runtimeDir, "libvirt", "libvirt-sock")
}

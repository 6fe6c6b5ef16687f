package hypervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// DefaultTimeout is the dial timeout used when none is given.
const DefaultTimeout = 5 * time.Second

// ErrNotConnected is returned by calls on a closed Client.
var ErrNotConnected = errors.New("client not connected")

// Client wraps a go-libvirt connection to one hypervisor endpoint.
// It must be closed via Close() when done.
type Client struct {
	uri string
	lv  libvirtClient

	mu         sync.Mutex
	disconnect func() error
}

// Connect dials the endpoint named by uri and performs the libvirt connect
// handshake. If timeout is zero, DefaultTimeout is used.
func Connect(uri string, timeout time.Duration) (*Client, error) {
	ep, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	var dialer socket.Dialer
	switch ep.Transport {
	case TransportTCP:
		opts := []dialers.RemoteOption{dialers.WithRemoteTimeout(timeout)}
		if ep.Port != "" {
			opts = append(opts, dialers.UsePort(ep.Port))
		}
		dialer = dialers.NewRemote(ep.Host, opts...)
	default:
		dialer = dialers.NewLocal(
			dialers.WithSocket(ep.Socket),
			dialers.WithLocalTimeout(timeout),
		)
	}

	l := libvirt.NewWithDialer(dialer)
	if err := l.ConnectToURI(ep.Target); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", ep.URI, err)
	}

	return newClient(ep.URI, l, l.Disconnect), nil
}

// Dial is Connect with context support for cancellation.
func Dial(ctx context.Context, uri string, timeout time.Duration) (*Client, error) {
	type result struct {
		client *Client
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		c, err := Connect(uri, timeout)
		resultCh <- result{client: c, err: err}
	}()

	select {
	case <-ctx.Done():
		// Close a late connection so it does not leak.
		go func() {
			if res := <-resultCh; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.client, res.err
	}
}

// newClient builds a Client around an established libvirt connection.
func newClient(uri string, lv libvirtClient, disconnect func() error) *Client {
	return &Client{uri: uri, lv: lv, disconnect: disconnect}
}

// URI returns the URI the client was dialed with.
func (c *Client) URI() string {
	return c.uri
}

// Close closes the libvirt connection and releases resources.
// It is safe to call Close multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	disconnect := c.disconnect
	c.disconnect = nil
	c.mu.Unlock()

	if disconnect == nil {
		return nil
	}
	if err := disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}
	return nil
}

func (c *Client) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnect == nil
}

// Ping verifies the connection is still alive by calling a cheap libvirt API.
func (c *Client) Ping() error {
	if c.closed() {
		return ErrNotConnected
	}

	if _, err := c.lv.ConnectGetLibVersion(); err != nil {
		return fmt.Errorf("libvirt connection is dead: %w", err)
	}
	return nil
}

// Version returns the libvirt library version as major.minor.patch.
func (c *Client) Version() (string, error) {
	v, err := c.lv.ConnectGetLibVersion()
	if err != nil {
		return "", fmt.Errorf("failed to get libvirt version: %w", err)
	}

	// libvirt encodes 8.6.0 as 8006000
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v%1000000)/1000, v%1000), nil
}

// Hostname returns the hypervisor host name.
func (c *Client) Hostname() (string, error) {
	h, err := c.lv.ConnectGetHostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	return h, nil
}

package conn

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrReleased is returned by operations on a wrapper whose handle has been freed.
var ErrReleased = errors.New("object handle released")

// Object is the read-only view of a cached wrapper handed to observers and
// presentation code.
type Object interface {
	Kind() Kind
	Name() string
	UUID() string
	// Info returns a value snapshot of identity and cached state.
	Info() ObjectInfo
}

// object is an Object owned by a cache.
type object interface {
	Object
	// free releases the remote handle. It reports false if the handle was
	// already released.
	free() bool
}

// ObjectInfo is a value snapshot of one wrapper, used for output and event
// payloads.
type ObjectInfo struct {
	Kind  Kind   `json:"kind" yaml:"kind"`
	Name  string `json:"name" yaml:"name"`
	UUID  string `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	State string `json:"state" yaml:"state"`

	// Domain fields.
	Type         string        `json:"type,omitempty" yaml:"type,omitempty"`
	MemoryKiB    uint64        `json:"memoryKiB,omitempty" yaml:"memoryKiB,omitempty"`
	MaxMemoryKiB uint64        `json:"maxMemoryKiB,omitempty" yaml:"maxMemoryKiB,omitempty"`
	VCPUs        uint16        `json:"vcpus,omitempty" yaml:"vcpus,omitempty"`
	CPUTime      time.Duration `json:"cpuTime,omitempty" yaml:"cpuTime,omitempty"`

	// Network fields.
	Bridge string `json:"bridge,omitempty" yaml:"bridge,omitempty"`

	// Storage pool fields. Type above holds the pool type.
	Path       string `json:"path,omitempty" yaml:"path,omitempty"`
	Capacity   uint64 `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Allocation uint64 `json:"allocation,omitempty" yaml:"allocation,omitempty"`
	Available  uint64 `json:"available,omitempty" yaml:"available,omitempty"`

	Autostart bool `json:"autostart" yaml:"autostart"`
}

// handle owns exactly one remote handle of type H. Once freed, the pointer
// is cleared and every later access fails, so a handle cannot be released twice.
type handle[H any] struct {
	mu      sync.RWMutex
	h       *H
	release func(H)
}

func (o *handle[H]) init(h H, release func(H)) {
	o.h = &h
	o.release = release
}

// get returns the handle value, or false after free.
func (o *handle[H]) get() (H, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.h == nil {
		var zero H
		return zero, false
	}
	return *o.h, true
}

// released reports whether the handle has been freed.
func (o *handle[H]) released() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.h == nil
}

func (o *handle[H]) free() bool {
	o.mu.Lock()
	h := o.h
	o.h = nil
	o.mu.Unlock()

	if h == nil {
		return false
	}
	o.release(*h)
	return true
}

// formatUUID renders a 16-byte libvirt UUID. The all-zero UUID renders empty.
func formatUUID(b [16]byte) string {
	id := uuid.UUID(b)
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

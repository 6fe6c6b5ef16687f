package conn

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Kind is a cached resource kind.
type Kind int

const (
	KindDomain Kind = iota
	KindNetwork
	KindStoragePool
)

// Kinds lists every resource kind in display order.
var Kinds = []Kind{KindDomain, KindNetwork, KindStoragePool}

func (k Kind) String() string {
	switch k {
	case KindDomain:
		return "domain"
	case KindNetwork:
		return "network"
	case KindStoragePool:
		return "pool"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind parses the String form of a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown kind %q (valid kinds: domain, network, pool)", s)
}

// EventType identifies what an Event reports.
type EventType int

const (
	// EventStateChanged reports a Connection state transition.
	EventStateChanged EventType = iota
	// EventObjectAdded reports a wrapper inserted into a cache.
	EventObjectAdded
	// EventObjectRemoved reports a wrapper removed from a cache. The wrapper's
	// handle is freed right after observers return.
	EventObjectRemoved
	// EventObjectStatsUpdated reports a refresh of cached scalar state.
	EventObjectStatsUpdated
	// EventObjectStateChanged reports that a refresh changed the object's
	// lifecycle state. It follows the matching EventObjectStatsUpdated.
	EventObjectStateChanged
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "connection-state"
	case EventObjectAdded:
		return "added"
	case EventObjectRemoved:
		return "removed"
	case EventObjectStatsUpdated:
		return "stats"
	case EventObjectStateChanged:
		return "state"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event is delivered to observers for every cache or connection change.
type Event struct {
	Type EventType
	URI  string
	Time time.Time

	// State is set for EventStateChanged.
	State State

	// Kind and Object are set for object events. Object is borrowed: it must
	// not be used after its EventObjectRemoved has been delivered.
	Kind   Kind
	Object Object
}

// Observer receives events. Notify is called from the tick goroutine and
// must not call back into the Connection's Tick or Close.
type Observer interface {
	Notify(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

// Notify implements Observer.
func (f ObserverFunc) Notify(ev Event) { f(ev) }

// Observers fans an event out to several observers in order.
type Observers []Observer

// Notify implements Observer.
func (o Observers) Notify(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Notify(ev)
		}
	}
}

type nopObserver struct{}

func (nopObserver) Notify(Event) {}

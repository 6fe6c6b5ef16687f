package conn

import "sync"

// Bus delivers events to subscribers over channels, so presentation code can
// consume them on its own goroutine.
//
// Notify blocks until every subscriber has accepted the event or closed its
// subscription. Subscribers must keep draining C.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// Subscription is one consumer of a Bus.
type Subscription struct {
	// C receives events in emission order.
	C <-chan Event

	ch   chan Event
	done chan struct{}
	once sync.Once
	bus  *Bus
	id   int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers a new subscriber with the given channel buffer.
func (b *Bus) Subscribe(buffer int) *Subscription {
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, done: make(chan struct{}), bus: b}

	b.mu.Lock()
	sub.id = b.nextID
	b.nextID++
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub
}

// Close unsubscribes. Pending and future events are no longer delivered.
// C is not closed.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
	})
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Notify implements Observer.
func (b *Bus) Notify(ev Event) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		case <-s.done:
		}
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

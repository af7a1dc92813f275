package events

import (
	"sync"
	"sync/atomic"
	"time"

	"FlightSurety/internal/logger"
)

const (
	// defaultSubscriberBuffer is the channel buffer of each subscription.
	defaultSubscriberBuffer = 1024
)

// Bus is a Publisher that appends to a durable sink and then fans the event out to
// subscribers. Delivery never blocks the publisher: a subscriber whose buffer is full
// misses the event and can catch up by replaying the sink.
type Bus struct {
	sink   Publisher // sink assigns sequence numbers and persists events
	buffer int       // buffer is the channel size of new subscriptions

	mu     sync.Mutex // mu orders append+broadcast so subscribers see log order
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// Subscription receives events of the kinds it asked for.
type Subscription struct {
	id      uint64
	bus     *Bus
	kinds   map[Kind]bool // kinds filters delivered events; empty means all
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// NewBus creates a bus publishing into sink.
func NewBus(sink Publisher) *Bus {
	return &Bus{
		sink:   sink,
		buffer: defaultSubscriberBuffer,
		subs:   make(map[uint64]*Subscription),
	}
}

// Append persists ev through the sink and delivers it to matching subscribers.
func (b *Bus) Append(ev Event) (uint64, error) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seq, err := b.sink.Append(ev)
	if err != nil {
		return 0, err
	}

	ev.Seq = seq

	for _, sub := range b.subs {
		sub.deliver(ev)
	}

	return seq, nil
}

// Subscribe registers a subscriber for the given kinds (all kinds when none given).
// Subscribing to a closed bus returns a subscription whose channel is already closed.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	sub := &Subscription{
		bus:   b,
		kinds: make(map[Kind]bool, len(kinds)),
		ch:    make(chan Event, b.buffer),
	}

	for _, k := range kinds {
		sub.kinds[k] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		sub.once.Do(func() {})
		return sub
	}

	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub

	return sub
}

// Close closes every subscription. Appends after Close still reach the sink.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true

	for id, sub := range b.subs {
		sub.closeChannel()
		delete(b.subs, id)
	}
}

// C returns the delivery channel. It is closed when the subscription or bus closes.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events were lost because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()

	s.closeChannel()
}

// deliver sends ev without blocking. Called with the bus lock held.
func (s *Subscription) deliver(ev Event) {
	if len(s.kinds) > 0 && !s.kinds[ev.Kind] {
		return
	}

	select {
	case s.ch <- ev:
	default:
		n := s.dropped.Add(1)
		logger.Warn("subscriber lagging, event dropped",
			"kind", ev.Kind.String(),
			"seq", ev.Seq,
			"dropped", n,
		)
	}
}

// closeChannel closes the channel exactly once.
func (s *Subscription) closeChannel() {
	s.once.Do(func() {
		close(s.ch)
	})
}

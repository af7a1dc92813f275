package events

import (
	"sync"
	"time"
)

// Memory is an in-process Publisher and Source. It backs tests and replays that do not
// need durability.
type Memory struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{}
}

// Append implements Publisher.
func (m *Memory) Append(ev Event) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev.Seq = uint64(len(m.events)) + 1
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	m.events = append(m.events, ev)

	return ev.Seq, nil
}

// Replay implements Source.
func (m *Memory) Replay(from uint64, fn func(Event) error) error {
	for _, ev := range m.Events() {
		if ev.Seq < from {
			continue
		}

		if err := fn(ev); err != nil {
			return err
		}
	}

	return nil
}

// Get returns the event at seq.
func (m *Memory) Get(seq uint64) (Event, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seq == 0 || seq > uint64(len(m.events)) {
		return Event{}, false, nil
	}

	return m.events[seq-1], true, nil
}

// Events returns a copy of all events in order.
func (m *Memory) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, len(m.events))
	copy(out, m.events)

	return out
}

// Count returns how many events of the given kind were appended.
func (m *Memory) Count(kind Kind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, ev := range m.events {
		if ev.Kind == kind {
			n++
		}
	}

	return n
}

// Filter returns the events of the given kind in order.
func (m *Memory) Filter(kind Kind) []Event {
	var out []Event
	for _, ev := range m.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

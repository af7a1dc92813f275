package events

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"FlightSurety/internal/storage"
)

// logKeyPrefix is the Pebble key prefix for log entries.
var logKeyPrefix = []byte("e:")

// Log is the durable append-only event log backed by Pebble.
// Entries are keyed "e:" + big-endian sequence number so iteration order is log order.
type Log struct {
	db   *storage.Storage // db is the underlying Pebble storage
	mu   sync.Mutex       // mu serializes sequence assignment
	next uint64           // next is the sequence number of the next append
	now  func() time.Time // now stamps events with a zero Time
}

// OpenLog opens the log stored in db, resuming after the last persisted entry.
func OpenLog(db *storage.Storage) (*Log, error) {
	l := &Log{db: db, next: 1, now: time.Now}

	last, err := db.LastKey(logKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("find last entry:\n%w", err)
	}

	if last != nil {
		seq, err := parseLogKey(last)
		if err != nil {
			return nil, err
		}

		l.next = seq + 1
	}

	return l, nil
}

// Append stores ev at the next sequence number and returns it.
func (l *Log) Append(ev Event) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev.Seq = l.next
	if ev.Time.IsZero() {
		ev.Time = l.now()
	}

	if err := l.db.Set(makeLogKey(ev.Seq), Encode(ev)); err != nil {
		return 0, fmt.Errorf("append event %d:\n%w", ev.Seq, err)
	}

	l.next++

	return ev.Seq, nil
}

// Len returns the number of entries in the log.
func (l *Log) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.next - 1
}

// Replay calls fn for each entry with sequence >= from, in order.
// A non-nil error from fn stops the replay and is returned.
func (l *Log) Replay(from uint64, fn func(Event) error) error {
	return l.db.IterateFrom(logKeyPrefix, makeLogKey(from), func(_, value []byte) error {
		ev, err := Decode(value)
		if err != nil {
			return err
		}

		return fn(ev)
	})
}

// Get returns the entry at seq.
func (l *Log) Get(seq uint64) (Event, bool, error) {
	value, err := l.db.Get(makeLogKey(seq))
	if err != nil {
		return Event{}, false, fmt.Errorf("read event %d:\n%w", seq, err)
	}

	if value == nil {
		return Event{}, false, nil
	}

	ev, err := Decode(value)
	if err != nil {
		return Event{}, false, err
	}

	return ev, true, nil
}

// makeLogKey builds the Pebble key for a sequence number: "e:" + seq (10 bytes total).
func makeLogKey(seq uint64) []byte {
	key := make([]byte, len(logKeyPrefix)+8)
	copy(key, logKeyPrefix)
	binary.BigEndian.PutUint64(key[len(logKeyPrefix):], seq)
	return key
}

// parseLogKey extracts the sequence number from a log key.
func parseLogKey(key []byte) (uint64, error) {
	if len(key) != len(logKeyPrefix)+8 {
		return 0, fmt.Errorf("invalid log key length: %d", len(key))
	}

	return binary.BigEndian.Uint64(key[len(logKeyPrefix):]), nil
}

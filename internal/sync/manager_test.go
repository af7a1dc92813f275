package sync

import (
	"testing"
	"time"

	"FlightSurety/internal/events"
	"FlightSurety/internal/identity"
	"FlightSurety/internal/storage"
)

// newTestLog opens an event log in a temporary directory.
func newTestLog(t *testing.T) *events.Log {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log, err := events.OpenLog(db)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}

	return log
}

// TestSnapshotRoundTrip writes a snapshot of one log and restores it into another.
func TestSnapshotRoundTrip(t *testing.T) {
	src := newTestLog(t)
	for i := 0; i < 10; i++ {
		if _, err := src.Append(events.Event{Kind: events.KindRequestOpened, Subject: identity.Derive("owner", 0), Index: uint8(i), Flight: "ND1309"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	dir := t.TempDir()
	m := NewSnapshotManager(dir, src, time.Hour)
	m.Start()
	m.Stop()

	data, n := m.Latest()
	if data == nil || n != 10 {
		t.Fatalf("latest snapshot covers %d events (nil=%v), want 10", n, data == nil)
	}

	dst := newTestLog(t)

	imported, err := RestoreLatest(dir, dst)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	if imported != 10 || dst.Len() != 10 {
		t.Fatalf("imported %d, log has %d, want 10", imported, dst.Len())
	}

	// A non-empty log is left alone.
	again, err := RestoreLatest(dir, dst)
	if err != nil || again != 0 {
		t.Fatalf("second restore = %d, %v; want 0, nil", again, err)
	}
}

// TestRestoreWithoutSnapshot checks a missing snapshot is not an error.
func TestRestoreWithoutSnapshot(t *testing.T) {
	n, err := RestoreLatest(t.TempDir(), newTestLog(t))
	if err != nil || n != 0 {
		t.Fatalf("restore = %d, %v; want 0, nil", n, err)
	}
}

// TestSnapshotSkipsUnchangedLog checks no new export happens when the log did not grow.
func TestSnapshotSkipsUnchangedLog(t *testing.T) {
	p := &countingProvider{n: 3}
	m := NewSnapshotManager(t.TempDir(), p, time.Hour)

	m.createSnapshot()
	m.createSnapshot()

	if p.exports != 1 {
		t.Fatalf("exports = %d, want 1", p.exports)
	}

	p.n = 4
	m.createSnapshot()

	if p.exports != 2 {
		t.Fatalf("exports after growth = %d, want 2", p.exports)
	}
}

type countingProvider struct {
	n       uint64
	exports int
}

func (c *countingProvider) Len() uint64 { return c.n }

func (c *countingProvider) Export() ([]byte, error) {
	c.exports++
	return []byte{1, 2, 3}, nil
}

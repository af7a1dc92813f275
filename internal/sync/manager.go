// Package sync writes periodic compressed snapshots of the event log and restores a
// fresh log from the latest one.
package sync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"FlightSurety/internal/logger"
)

const (
	// defaultSnapshotInterval is the default interval between snapshots.
	defaultSnapshotInterval = 30 * time.Second

	// snapshotFile is the name of the latest snapshot inside the snapshot directory.
	snapshotFile = "events.snap.zst"
)

// SnapshotProvider exports the event log.
type SnapshotProvider interface {
	// Len returns the number of events in the log.
	Len() uint64

	// Export returns a compressed snapshot of the whole log.
	Export() ([]byte, error)
}

// SnapshotImporter loads a snapshot into an empty log.
type SnapshotImporter interface {
	Len() uint64
	Import(snapshot []byte) (int, error)
}

// SnapshotManager creates periodic snapshots of the event log and persists the latest.
type SnapshotManager struct {
	dir      string
	provider SnapshotProvider
	interval time.Duration

	mu      sync.RWMutex
	current []byte // compressed snapshot data
	events  uint64 // log length covered by current

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSnapshotManager creates a manager writing snapshots into dir every interval
// (defaultSnapshotInterval when zero).
func NewSnapshotManager(dir string, provider SnapshotProvider, interval time.Duration) *SnapshotManager {
	if interval <= 0 {
		interval = defaultSnapshotInterval
	}

	return &SnapshotManager{
		dir:      dir,
		provider: provider,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the periodic snapshot loop.
func (m *SnapshotManager) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop stops the loop, takes a final snapshot and waits for it to finish.
func (m *SnapshotManager) Stop() {
	close(m.stop)
	m.wg.Wait()

	m.createSnapshot()
}

// Latest returns the most recent compressed snapshot and the number of events it holds.
// Returns nil if no snapshot has been created yet.
func (m *SnapshotManager) Latest() (data []byte, events uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current, m.events
}

// loop runs the periodic snapshot creation.
func (m *SnapshotManager) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.createSnapshot()
		}
	}
}

// createSnapshot exports the log when it grew since the last snapshot and writes it.
func (m *SnapshotManager) createSnapshot() {
	n := m.provider.Len()

	m.mu.RLock()
	last := m.events
	have := m.current != nil
	m.mu.RUnlock()

	if n == last && have {
		return
	}

	start := time.Now()

	data, err := m.provider.Export()
	if err != nil {
		logger.Error("create snapshot", "error", err)
		return
	}

	if err := m.write(data); err != nil {
		logger.Error("write snapshot", "error", err)
		return
	}

	m.mu.Lock()
	m.current = data
	m.events = n
	m.mu.Unlock()

	logger.Debug("snapshot created", "events", n, "bytes", len(data), logger.Timed(start))
}

// write replaces the snapshot file atomically.
func (m *SnapshotManager) write(data []byte) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("create snapshot directory:\n%w", err)
	}

	tmp := filepath.Join(m.dir, snapshotFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp snapshot:\n%w", err)
	}

	return os.Rename(tmp, filepath.Join(m.dir, snapshotFile))
}

// RestoreLatest imports the snapshot in dir into log when log is empty. It returns the
// number of imported events; a missing snapshot or a non-empty log imports nothing.
func RestoreLatest(dir string, log SnapshotImporter) (int, error) {
	if log.Len() > 0 {
		return 0, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, snapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read snapshot:\n%w", err)
	}

	n, err := log.Import(data)
	if err != nil {
		return 0, fmt.Errorf("import snapshot:\n%w", err)
	}

	logger.Info("event log restored from snapshot", "events", n)

	return n, nil
}

package client

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"FlightSurety/internal/identity"
	"FlightSurety/internal/ledger"
)

const (
	// defaultDedupTTL is how long an answered request key is remembered per agent.
	defaultDedupTTL = 10 * time.Minute

	// cleanupInterval is the interval between cleanup runs.
	cleanupInterval = 5 * time.Second
)

// entry is one tracked agent+key pair.
type entry struct {
	at     int64 // at is the first-seen or release time (unix nano)
	pinned bool  // pinned entries never expire until released
}

// Dedup remembers which request keys each agent already answered, so re-announced
// requests are not submitted twice. Entries expire after a TTL unless pinned; an agent
// pins a key once the ledger holds its vote and releases it when the request closes.
type Dedup struct {
	seen map[[32]byte]entry // seen maps agent+key hash to its entry
	mu   sync.Mutex
	ttl  int64 // ttl in nanoseconds
	now  func() time.Time
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewDedup creates a tracker whose entries live for ttl (defaultDedupTTL when zero).
func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	d := &Dedup{
		seen: make(map[[32]byte]entry),
		ttl:  int64(ttl),
		now:  time.Now,
		stop: make(chan struct{}),
	}

	d.startCleanup()

	return d
}

// Check returns true the first time agent sees key within the TTL and records it.
func (d *Dedup) Check(agent identity.Address, key ledger.Key) bool {
	hash := dedupHash(agent, key)
	now := d.now().UnixNano()

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.seen[hash]; ok && (e.pinned || now-e.at < d.ttl) {
		return false
	}

	d.seen[hash] = entry{at: now}

	return true
}

// Pin keeps the entry for agent and key until Release or Forget.
func (d *Dedup) Pin(agent identity.Address, key ledger.Key) {
	hash := dedupHash(agent, key)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen[hash] = entry{at: d.now().UnixNano(), pinned: true}
}

// Release unpins the entry for agent and key; it then expires after the TTL.
func (d *Dedup) Release(agent identity.Address, key ledger.Key) {
	hash := dedupHash(agent, key)

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.seen[hash]; ok && e.pinned {
		d.seen[hash] = entry{at: d.now().UnixNano()}
	}
}

// Forget drops the entry for agent and key so the next Check reports it as new.
func (d *Dedup) Forget(agent identity.Address, key ledger.Key) {
	hash := dedupHash(agent, key)

	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.seen, hash)
}

// Len returns the number of tracked entries, expired ones included until cleanup.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.seen)
}

// Close stops the cleanup goroutine.
func (d *Dedup) Close() {
	close(d.stop)
	d.wg.Wait()
}

// startCleanup starts the background cleanup goroutine.
func (d *Dedup) startCleanup() {
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.cleanup()
			case <-d.stop:
				return
			}
		}
	}()
}

// cleanup removes expired entries.
func (d *Dedup) cleanup() {
	now := d.now().UnixNano()

	d.mu.Lock()
	defer d.mu.Unlock()

	for hash, e := range d.seen {
		if !e.pinned && now-e.at >= d.ttl {
			delete(d.seen, hash)
		}
	}
}

// dedupHash is BLAKE3(agent || index || airline || len(flight) || flight || timestamp).
func dedupHash(agent identity.Address, key ledger.Key) [32]byte {
	var buf [8]byte

	h := blake3.New()
	h.Write(agent[:])
	h.Write([]byte{key.Index})
	h.Write(key.Airline[:])

	binary.BigEndian.PutUint64(buf[:], uint64(len(key.Flight)))
	h.Write(buf[:])
	h.Write([]byte(key.Flight))

	binary.BigEndian.PutUint64(buf[:], key.Timestamp)
	h.Write(buf[:])

	var out [32]byte
	h.Sum(out[:0])

	return out
}

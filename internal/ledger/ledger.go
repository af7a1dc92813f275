// Package ledger tracks flight-status requests and the oracle responses submitted to them.
//
// A request is opened for a flight key and tagged with one pseudo-randomly drawn index;
// only oracles holding that index may respond. Each request record carries its own lock,
// so submissions to the same key are serialized while different keys proceed in
// parallel. A request closes the moment one status collects the quorum of distinct
// oracle votes; a closed key is never reopened.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"FlightSurety/internal/events"
	"FlightSurety/internal/identity"
	"FlightSurety/internal/logger"
	"FlightSurety/internal/oracle"
)

// MinResponses is the default number of matching votes that finalize a request.
const MinResponses = 3

// IndexLookup resolves an oracle's assigned triple. Implemented by oracle.Registry.
type IndexLookup interface {
	Indexes(id identity.Address) (oracle.Indexes, error)
}

// Vote is one oracle response.
type Vote struct {
	Oracle    identity.Address // Oracle is the responding identity
	Key       Key              // Key is the request being answered
	Status    uint8            // Status is the reported flight status code
	Signature []byte           // Signature is the oracle's BLS signature, if any
}

// Result is the outcome of an accepted vote.
type Result struct {
	Finalized  bool               // Finalized is true for the vote that reached quorum
	Status     uint8              // Status is the voted status (the winner when finalized)
	Votes      int                // Votes is the size of the status bucket after the vote
	Seq        uint64             // Seq is the log sequence of the OracleReport event
	Voters     []identity.Address // Voters are the winning oracles, set when finalized
	Signatures [][]byte           // Signatures align with Voters; nil entries are unsigned
}

// flightRequests tracks the requests of one flight key.
type flightRequests struct {
	mu     sync.Mutex
	active *request
	used   [oracle.MaxIndex]bool
}

// Ledger holds all status requests. It is safe for concurrent use.
type Ledger struct {
	oracles  IndexLookup
	rng      *oracle.Source
	pub      events.Publisher
	quorum   int
	now      func() time.Time
	requests *xsync.Map[Key, *request]
	flights  *xsync.Map[FlightKey, *flightRequests]
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithQuorum overrides MinResponses.
func WithQuorum(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.quorum = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates an empty ledger. rng chooses request indexes; pub receives RequestOpened
// and OracleReport events.
func New(oracles IndexLookup, rng *oracle.Source, pub events.Publisher, opts ...Option) *Ledger {
	l := &Ledger{
		oracles:  oracles,
		rng:      rng,
		pub:      pub,
		quorum:   MinResponses,
		now:      time.Now,
		requests: xsync.NewMap[Key, *request](),
		flights:  xsync.NewMap[FlightKey, *flightRequests](),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Quorum returns the number of matching votes that finalize a request.
func (l *Ledger) Quorum() int {
	return l.quorum
}

// Open opens a status request for the flight and returns its index. While a request for
// the same flight key is open its index is returned again and the request is re-announced
// instead of duplicated.
func (l *Ledger) Open(airline identity.Address, flight string, timestamp uint64) (uint8, error) {
	fk := FlightKey{Airline: airline, Flight: flight, Timestamp: timestamp}
	fr, _ := l.flights.LoadOrStore(fk, &flightRequests{})

	fr.mu.Lock()
	defer fr.mu.Unlock()

	if fr.active != nil && fr.active.isOpen() {
		index := fr.active.key.Index
		if err := l.announce(fr.active.key); err != nil {
			return 0, err
		}

		logger.Debug("request resurfaced", "key", fr.active.key.String())

		return index, nil
	}

	index, err := l.drawIndex(fr)
	if err != nil {
		return 0, err
	}

	req := newRequest(fk.WithIndex(index), l.now())

	// Hold the record lock across store+publish so a submission racing the announcement
	// observes either a live request or a dead one, never a half-created record.
	req.mu.Lock()
	l.requests.Store(req.key, req)

	if err := l.announce(req.key); err != nil {
		req.dead = true
		l.requests.Delete(req.key)
		req.mu.Unlock()
		return 0, err
	}

	req.mu.Unlock()

	fr.active = req
	fr.used[index] = true

	logger.Debug("request opened", "key", req.key.String())

	return index, nil
}

// drawIndex picks an index uniformly among those never used for the flight key.
// Caller must hold fr.mu.
func (l *Ledger) drawIndex(fr *flightRequests) (uint8, error) {
	candidates := make([]uint8, 0, oracle.MaxIndex)
	for i := range fr.used {
		if !fr.used[i] {
			candidates = append(candidates, uint8(i))
		}
	}

	if len(candidates) == 0 {
		return 0, ErrRequestsExhausted
	}

	return candidates[l.rng.IntN(len(candidates))], nil
}

// announce publishes RequestOpened for key.
func (l *Ledger) announce(key Key) error {
	_, err := l.pub.Append(events.Event{
		Kind:      events.KindRequestOpened,
		Subject:   key.Airline,
		Index:     key.Index,
		Flight:    key.Flight,
		Timestamp: key.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("publish request:\n%w", err)
	}

	return nil
}

// Submit records an oracle response. Checks run in order: registered oracle, index
// match, known request, open request, first response from this oracle. Any error leaves
// the request exactly as it was.
func (l *Ledger) Submit(v Vote) (Result, error) {
	ix, err := l.oracles.Indexes(v.Oracle)
	if err != nil {
		if errors.Is(err, oracle.ErrNotRegistered) {
			return Result{}, ErrUnknownOracle
		}
		return Result{}, fmt.Errorf("lookup oracle:\n%w", err)
	}

	if !ix.Contains(v.Key.Index) {
		return Result{}, ErrIndexMismatch
	}

	req, ok := l.requests.Load(v.Key)
	if !ok {
		return Result{}, ErrUnknownRequest
	}

	req.mu.Lock()
	defer req.mu.Unlock()

	switch {
	case req.dead:
		return Result{}, ErrUnknownRequest
	case req.closed:
		return Result{}, ErrRequestClosed
	}

	if _, dup := req.voted[v.Oracle]; dup {
		return Result{}, ErrDuplicateSubmission
	}

	seq, err := l.pub.Append(events.Event{
		Kind:      events.KindOracleReport,
		Actor:     v.Oracle,
		Subject:   v.Key.Airline,
		Index:     v.Key.Index,
		Flight:    v.Key.Flight,
		Timestamp: v.Key.Timestamp,
		Status:    v.Status,
		Signature: v.Signature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("publish report:\n%w", err)
	}

	req.voted[v.Oracle] = struct{}{}
	req.buckets[v.Status] = append(req.buckets[v.Status], ballot{oracle: v.Oracle, signature: v.Signature})

	bucket := req.buckets[v.Status]
	res := Result{Status: v.Status, Votes: len(bucket), Seq: seq}

	if len(bucket) < l.quorum {
		return res, nil
	}

	req.closed = true
	req.winner = v.Status
	req.closedAt = l.now()

	res.Finalized = true
	res.Voters = make([]identity.Address, len(bucket))
	res.Signatures = make([][]byte, len(bucket))

	for i, b := range bucket {
		res.Voters[i] = b.oracle
		res.Signatures[i] = b.signature
	}

	return res, nil
}

// Request returns a snapshot of the request under key.
func (l *Ledger) Request(key Key) (Request, bool) {
	req, ok := l.requests.Load(key)
	if !ok {
		return Request{}, false
	}

	req.mu.Lock()
	defer req.mu.Unlock()

	if req.dead {
		return Request{}, false
	}

	return req.snapshot(), true
}

// Latest returns the most recent request opened for the flight key.
func (l *Ledger) Latest(fk FlightKey) (Request, bool) {
	fr, ok := l.flights.Load(fk)
	if !ok {
		return Request{}, false
	}

	fr.mu.Lock()
	active := fr.active
	fr.mu.Unlock()

	if active == nil {
		return Request{}, false
	}

	return l.Request(active.key)
}

// Stats counts open and closed requests.
func (l *Ledger) Stats() (open, closed int) {
	l.requests.Range(func(_ Key, req *request) bool {
		req.mu.Lock()
		switch {
		case req.dead:
		case req.closed:
			closed++
		default:
			open++
		}
		req.mu.Unlock()
		return true
	})

	return open, closed
}

// Restore reopens a request recorded in the event log under its original index without
// drawing randomness or publishing. Restoring an already-open key is a no-op.
func (l *Ledger) Restore(key Key, openedAt time.Time) error {
	if int(key.Index) >= oracle.MaxIndex {
		return fmt.Errorf("index %d out of range", key.Index)
	}

	fk := key.FlightKey()
	fr, _ := l.flights.LoadOrStore(fk, &flightRequests{})

	fr.mu.Lock()
	defer fr.mu.Unlock()

	if fr.active != nil && fr.active.key == key && fr.active.isOpen() {
		return nil
	}

	if fr.used[key.Index] {
		return fmt.Errorf("%w: %s reopened", ErrRequestClosed, key.String())
	}

	req := newRequest(key, openedAt)
	l.requests.Store(key, req)
	fr.active = req
	fr.used[key.Index] = true

	return nil
}

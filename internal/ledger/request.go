package ledger

import (
	"sync"
	"time"

	"FlightSurety/internal/identity"
)

// ballot is one accepted response.
type ballot struct {
	oracle    identity.Address
	signature []byte
}

// request is the mutable StatusRequest record. All fields are guarded by mu, which is
// the per-key serialization point for submissions.
type request struct {
	mu       sync.Mutex
	key      Key
	openedAt time.Time
	closedAt time.Time
	closed   bool
	winner   uint8
	dead     bool // dead marks a record whose RequestOpened publish failed
	buckets  map[uint8][]ballot
	voted    map[identity.Address]struct{}
}

// newRequest creates an open request.
func newRequest(key Key, openedAt time.Time) *request {
	return &request{
		key:      key,
		openedAt: openedAt,
		buckets:  make(map[uint8][]ballot),
		voted:    make(map[identity.Address]struct{}),
	}
}

// isOpen reports whether the request still accepts submissions.
func (r *request) isOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return !r.closed && !r.dead
}

// snapshot copies the record. Caller must hold mu.
func (r *request) snapshot() Request {
	out := Request{
		Key:       r.key,
		Open:      !r.closed,
		Status:    r.winner,
		OpenedAt:  r.openedAt,
		ClosedAt:  r.closedAt,
		Responses: make(map[uint8][]identity.Address, len(r.buckets)),
	}

	for status, ballots := range r.buckets {
		voters := make([]identity.Address, len(ballots))
		for i, b := range ballots {
			voters[i] = b.oracle
		}
		out.Responses[status] = voters
	}

	return out
}

// Request is a read-only view of a StatusRequest.
type Request struct {
	Key       Key                          // Key identifies the request
	Open      bool                         // Open is false once a status reached quorum
	Status    uint8                        // Status is the winning status once closed
	OpenedAt  time.Time                    // OpenedAt is when the request was opened
	ClosedAt  time.Time                    // ClosedAt is when quorum was reached
	Responses map[uint8][]identity.Address // Responses maps status to voters in arrival order
}

// Votes returns the total number of accepted responses.
func (r Request) Votes() int {
	n := 0
	for _, voters := range r.Responses {
		n += len(voters)
	}
	return n
}

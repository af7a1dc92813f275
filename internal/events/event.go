// Package events is the append-only event stream of the oracle system.
//
// Components publish through the narrow Publisher capability; the durable Log and the
// in-process Bus are the two implementations wired at startup. Every state transition that
// matters for replay (registrations, opened requests, accepted reports) is an Event, so the
// ledger state can be rebuilt by re-applying the log in sequence order.
package events

import (
	"fmt"
	"sync/atomic"
	"time"

	"FlightSurety/internal/identity"
)

// Kind identifies the type of an event.
type Kind uint8

const (
	// KindOracleRegistered records an oracle and its index triple.
	KindOracleRegistered Kind = iota + 1

	// KindRequestOpened asks every oracle holding Index for a flight status.
	KindRequestOpened

	// KindOracleReport records an accepted oracle response.
	KindOracleReport

	// KindStatusFinalized records the status that reached quorum for a request.
	KindStatusFinalized

	// KindAirlineRegistered records an airline joining the consortium.
	KindAirlineRegistered

	// KindAirlineFunded records an airline paying its participation fee.
	KindAirlineFunded

	// KindFlightRegistered records a flight scheduled by an airline.
	KindFlightRegistered
)

// String returns the event name used in logs and the HTTP API.
func (k Kind) String() string {
	switch k {
	case KindOracleRegistered:
		return "OracleRegistered"
	case KindRequestOpened:
		return "OracleRequest"
	case KindOracleReport:
		return "OracleReport"
	case KindStatusFinalized:
		return "FlightStatusInfo"
	case KindAirlineRegistered:
		return "AirlineRegistered"
	case KindAirlineFunded:
		return "AirlineFunded"
	case KindFlightRegistered:
		return "FlightRegistered"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Event is one record of the log. Fields not meaningful for a kind are left zero.
type Event struct {
	Seq       uint64             // Seq is assigned by the log on append
	Kind      Kind               // Kind is the event type
	Time      time.Time          // Time is stamped on append when zero
	Actor     identity.Address   // Actor is the oracle or airline that caused the event
	Subject   identity.Address   // Subject is the airline the event concerns
	Index     uint8              // Index is the request index
	Flight    string             // Flight is the flight code
	Timestamp uint64             // Timestamp is the scheduled flight timestamp
	Status    uint8              // Status is the flight status code
	Amount    uint64             // Amount is a fee or funding amount in wei
	Indexes   [3]uint8           // Indexes is an oracle's assigned triple
	Voters    []identity.Address // Voters are the oracles behind a finalized status
	Signature []byte             // Signature is a response or aggregate BLS signature
}

// Publisher is the append capability the core depends on.
// Append returns the sequence number assigned to the event.
type Publisher interface {
	Append(ev Event) (uint64, error)
}

// Source replays events in sequence order starting at from (inclusive).
type Source interface {
	Replay(from uint64, fn func(Event) error) error
}

// Discard is a Publisher that assigns sequence numbers and drops events.
type Discard struct {
	next atomic.Uint64
}

// Append implements Publisher.
func (d *Discard) Append(Event) (uint64, error) {
	return d.next.Add(1), nil
}

package ledger

import (
	"fmt"

	"FlightSurety/internal/identity"
)

// FlightKey identifies one flight-status inquiry: (airline, flight, timestamp).
type FlightKey struct {
	Airline   identity.Address
	Flight    string
	Timestamp uint64
}

// Key identifies a StatusRequest: the flight key tagged with the request index.
type Key struct {
	Index     uint8
	Airline   identity.Address
	Flight    string
	Timestamp uint64
}

// FlightKey drops the index.
func (k Key) FlightKey() FlightKey {
	return FlightKey{Airline: k.Airline, Flight: k.Flight, Timestamp: k.Timestamp}
}

// WithIndex tags the flight key with an index.
func (fk FlightKey) WithIndex(index uint8) Key {
	return Key{Index: index, Airline: fk.Airline, Flight: fk.Flight, Timestamp: fk.Timestamp}
}

// String formats the key for logs.
func (k Key) String() string {
	return fmt.Sprintf("%d/%s/%s/%d", k.Index, k.Airline.Short(), k.Flight, k.Timestamp)
}

package api

import (
	"fmt"

	"FlightSurety/internal/identity"
)

// maxFlightCodeLen bounds flight codes accepted over HTTP.
const maxFlightCodeLen = 32

// openRequest is the body of POST /requests.
type openRequest struct {
	Airline   string `json:"airline"`   // Airline is the hex airline address
	Flight    string `json:"flight"`    // Flight is the flight code
	Timestamp uint64 `json:"timestamp"` // Timestamp is the scheduled departure
}

// validate checks the body and returns the parsed airline address.
func (o openRequest) validate() (identity.Address, error) {
	id, err := identity.Parse(o.Airline)
	if err != nil {
		return identity.Address{}, fmt.Errorf("invalid airline address")
	}

	if id.IsZero() {
		return identity.Address{}, fmt.Errorf("airline address is zero")
	}

	if o.Flight == "" {
		return identity.Address{}, fmt.Errorf("missing flight code")
	}

	if len(o.Flight) > maxFlightCodeLen {
		return identity.Address{}, fmt.Errorf("flight code longer than %d bytes", maxFlightCodeLen)
	}

	return id, nil
}

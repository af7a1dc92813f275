package airline

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"FlightSurety/internal/events"
	"FlightSurety/internal/identity"
)

// Flight status codes reported by oracles.
const (
	StatusUnknown       uint8 = 0
	StatusOnTime        uint8 = 10
	StatusLateAirline   uint8 = 20
	StatusLateWeather   uint8 = 30
	StatusLateTechnical uint8 = 40
	StatusLateOther     uint8 = 50
)

var (
	// ErrFlightExists is returned when an airline registers the same flight code twice.
	ErrFlightExists = errors.New("flight already registered")

	// ErrUnknownFlight is returned when looking up a flight that was never registered.
	ErrUnknownFlight = errors.New("flight not registered")
)

// StatusName returns a readable name for a status code.
func StatusName(code uint8) string {
	switch code {
	case StatusUnknown:
		return "unknown"
	case StatusOnTime:
		return "on-time"
	case StatusLateAirline:
		return "late-airline"
	case StatusLateWeather:
		return "late-weather"
	case StatusLateTechnical:
		return "late-technical"
	case StatusLateOther:
		return "late-other"
	default:
		return fmt.Sprintf("status-%d", code)
	}
}

// flightID keys flights by airline and code.
type flightID struct {
	airline identity.Address
	code    string
}

// Flight is a scheduled flight.
type Flight struct {
	Airline   identity.Address // Airline operates the flight
	Code      string           // Code is the flight identifier
	Timestamp uint64           // Timestamp is the scheduled departure (unix seconds)
	Status    uint8            // Status is the last finalized status code
	StatusSeq uint64           // StatusSeq is the log sequence of the report that set Status
	UpdatedAt time.Time        // UpdatedAt is when Status last changed
}

// RegisterFlight schedules a flight for a participating airline.
func (c *Consortium) RegisterFlight(airline identity.Address, code string, timestamp uint64) (Flight, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isParticipating(airline) {
		return Flight{}, ErrNotParticipating
	}

	id := flightID{airline: airline, code: code}
	if _, ok := c.flights[id]; ok {
		return Flight{}, ErrFlightExists
	}

	_, err := c.pub.Append(events.Event{
		Kind:      events.KindFlightRegistered,
		Actor:     airline,
		Subject:   airline,
		Flight:    code,
		Timestamp: timestamp,
	})
	if err != nil {
		return Flight{}, fmt.Errorf("publish flight:\n%w", err)
	}

	f := &Flight{
		Airline:   airline,
		Code:      code,
		Timestamp: timestamp,
		Status:    StatusUnknown,
		UpdatedAt: c.now(),
	}
	c.flights[id] = f

	return *f, nil
}

// Flight returns a copy of the flight record.
func (c *Consortium) Flight(airline identity.Address, code string) (Flight, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.flights[flightID{airline: airline, code: code}]
	if !ok {
		return Flight{}, false
	}

	return *f, true
}

// SetStatus overwrites the flight status with a finalized code. seq orders
// finalizations: a status older than the one already recorded is ignored and
// SetStatus reports false.
func (c *Consortium) SetStatus(airline identity.Address, code string, status uint8, seq uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.flights[flightID{airline: airline, code: code}]
	if !ok {
		return false, ErrUnknownFlight
	}

	if seq < f.StatusSeq {
		return false, nil
	}

	f.Status = status
	f.StatusSeq = seq
	f.UpdatedAt = c.now()

	return true, nil
}

// Flights returns every flight sorted by airline then code.
func (c *Consortium) Flights() []Flight {
	c.mu.RLock()
	out := make([]Flight, 0, len(c.flights))
	for _, f := range c.flights {
		out = append(out, *f)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Airline != out[j].Airline {
			return out[i].Airline.String() < out[j].Airline.String()
		}
		return out[i].Code < out[j].Code
	})

	return out
}

// RestoreFlight inserts a flight from the event log without checks or events.
func (c *Consortium) RestoreFlight(airline identity.Address, code string, timestamp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := flightID{airline: airline, code: code}
	if _, ok := c.flights[id]; ok {
		return
	}

	c.flights[id] = &Flight{Airline: airline, Code: code, Timestamp: timestamp, UpdatedAt: c.now()}
}

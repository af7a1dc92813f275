// Package airline manages the airline consortium and the flights its members schedule.
//
// The first airline is the owner. Until MultiPartyThreshold airlines participate, any
// participating airline can register a new one; after that a new airline needs votes from
// half of the participating airlines. An airline participates once it has paid FundingFee.
package airline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"FlightSurety/internal/events"
	"FlightSurety/internal/identity"
	"FlightSurety/internal/logger"
)

const (
	// FundingFee is the amount, in wei, an airline pays to participate (10 ether).
	FundingFee uint64 = 10_000_000_000_000_000_000

	// MultiPartyThreshold is the number of participating airlines from which new
	// registrations need consensus.
	MultiPartyThreshold = 4
)

var (
	// ErrNotParticipating is returned when an unfunded or unknown airline acts.
	ErrNotParticipating = errors.New("airline is not participating")

	// ErrAirlineExists is returned when registering an airline twice.
	ErrAirlineExists = errors.New("airline already registered")

	// ErrDuplicateVote is returned when an airline votes twice for the same candidate.
	ErrDuplicateVote = errors.New("airline already voted for candidate")

	// ErrUnknownAirline is returned when funding an airline that is not registered.
	ErrUnknownAirline = errors.New("airline not registered")

	// ErrInsufficientFunding is returned when the funding amount is below FundingFee.
	ErrInsufficientFunding = errors.New("insufficient airline funding")

	// ErrAlreadyFunded is returned when funding an airline twice.
	ErrAlreadyFunded = errors.New("airline already funded")
)

// Airline is a consortium member.
type Airline struct {
	ID           identity.Address // ID is the airline's principal
	Funded       bool             // Funded is true once FundingFee was paid
	Funding      uint64           // Funding is the amount paid
	RegisteredAt time.Time        // RegisteredAt is the registration time
}

// Registration reports the effect of a Register call.
type Registration struct {
	Registered bool // Registered is true once the airline joined
	Votes      int  // Votes is the number of votes collected so far
	Needed     int  // Needed is the number of votes required
}

// Consortium holds airlines and their flights. It is safe for concurrent use.
type Consortium struct {
	mu            sync.RWMutex
	owner         identity.Address
	airlines      map[identity.Address]*Airline
	candidates    map[identity.Address]map[identity.Address]struct{} // candidate -> voters
	participating int
	flights       map[flightID]*Flight
	pub           events.Publisher
	now           func() time.Time
}

// New creates a consortium whose first, unfunded airline is owner.
func New(owner identity.Address, pub events.Publisher) *Consortium {
	c := &Consortium{
		owner:      owner,
		airlines:   make(map[identity.Address]*Airline),
		candidates: make(map[identity.Address]map[identity.Address]struct{}),
		flights:    make(map[flightID]*Flight),
		pub:        pub,
		now:        time.Now,
	}

	c.airlines[owner] = &Airline{ID: owner, RegisteredAt: c.now()}

	return c
}

// Owner returns the first airline.
func (c *Consortium) Owner() identity.Address {
	return c.owner
}

// Register registers candidate on behalf of caller, directly or by multi-party vote.
func (c *Consortium) Register(caller, candidate identity.Address) (Registration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isParticipating(caller) {
		return Registration{}, ErrNotParticipating
	}

	if _, ok := c.airlines[candidate]; ok {
		return Registration{}, ErrAirlineExists
	}

	if c.participating < MultiPartyThreshold {
		if err := c.admit(caller, candidate); err != nil {
			return Registration{}, err
		}
		return Registration{Registered: true, Votes: 1, Needed: 1}, nil
	}

	voters := c.candidates[candidate]
	if _, voted := voters[caller]; voted {
		return Registration{}, ErrDuplicateVote
	}

	needed := (c.participating + 1) / 2
	votes := len(voters) + 1

	if votes < needed {
		if voters == nil {
			voters = make(map[identity.Address]struct{})
			c.candidates[candidate] = voters
		}
		voters[caller] = struct{}{}

		logger.Debug("airline vote recorded",
			"candidate", candidate.Short(),
			"votes", votes,
			"needed", needed,
		)

		return Registration{Votes: votes, Needed: needed}, nil
	}

	if err := c.admit(caller, candidate); err != nil {
		return Registration{}, err
	}

	delete(c.candidates, candidate)

	return Registration{Registered: true, Votes: votes, Needed: needed}, nil
}

// admit stores candidate and publishes AirlineRegistered. Caller must hold mu.
func (c *Consortium) admit(sponsor, candidate identity.Address) error {
	_, err := c.pub.Append(events.Event{
		Kind:    events.KindAirlineRegistered,
		Actor:   sponsor,
		Subject: candidate,
	})
	if err != nil {
		return fmt.Errorf("publish airline registration:\n%w", err)
	}

	c.airlines[candidate] = &Airline{ID: candidate, RegisteredAt: c.now()}

	logger.Info("airline registered", "airline", candidate.Short(), "sponsor", sponsor.Short())

	return nil
}

// Fund records the participation fee of a registered airline.
func (c *Consortium) Fund(id identity.Address, amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.airlines[id]
	if !ok {
		return ErrUnknownAirline
	}

	if a.Funded {
		return ErrAlreadyFunded
	}

	if amount < FundingFee {
		return fmt.Errorf("%w: paid %d, need %d", ErrInsufficientFunding, amount, FundingFee)
	}

	_, err := c.pub.Append(events.Event{
		Kind:   events.KindAirlineFunded,
		Actor:  id,
		Amount: amount,
	})
	if err != nil {
		return fmt.Errorf("publish funding:\n%w", err)
	}

	a.Funded = true
	a.Funding = amount
	c.participating++

	logger.Info("airline funded", "airline", id.Short(), "participating", c.participating)

	return nil
}

// Airline returns a copy of the airline record.
func (c *Consortium) Airline(id identity.Address) (Airline, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.airlines[id]
	if !ok {
		return Airline{}, false
	}

	return *a, true
}

// IsAirline reports whether id is registered.
func (c *Consortium) IsAirline(id identity.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.airlines[id]
	return ok
}

// IsParticipating reports whether id is registered and funded.
func (c *Consortium) IsParticipating(id identity.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.isParticipating(id)
}

// Participating returns the number of funded airlines.
func (c *Consortium) Participating() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.participating
}

// isParticipating is IsParticipating without locking.
func (c *Consortium) isParticipating(id identity.Address) bool {
	a, ok := c.airlines[id]
	return ok && a.Funded
}

// RestoreAirline inserts an airline recorded in the event log without checks or events.
func (c *Consortium) RestoreAirline(id identity.Address, registeredAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.airlines[id]; ok {
		return
	}

	c.airlines[id] = &Airline{ID: id, RegisteredAt: registeredAt}
}

// RestoreFunding marks a restored airline as funded without checks or events.
func (c *Consortium) RestoreFunding(id identity.Address, amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.airlines[id]
	if !ok {
		return ErrUnknownAirline
	}

	if a.Funded {
		return ErrAlreadyFunded
	}

	a.Funded = true
	a.Funding = amount
	c.participating++

	return nil
}

// Package consensus is the service facade of the oracle system.
//
// The Engine ties the oracle registry, the request ledger and the airline consortium
// together: it verifies response signatures, forwards votes to the ledger and, when a
// status reaches quorum, records it on the flight and publishes the finalization once.
package consensus

import (
	"errors"
	"fmt"
	"sync/atomic"

	"FlightSurety/internal/airline"
	"FlightSurety/internal/events"
	"FlightSurety/internal/identity"
	"FlightSurety/internal/ledger"
	"FlightSurety/internal/logger"
	"FlightSurety/internal/oracle"
)

var (
	// ErrInvalidSignature is returned when a response signature does not verify.
	ErrInvalidSignature = errors.New("invalid response signature")

	// ErrNotOperational is returned by mutating calls while the engine is paused.
	ErrNotOperational = errors.New("engine is not operational")

	// ErrNotOwner is returned when a non-owner toggles the operational switch.
	ErrNotOwner = errors.New("caller is not the owner")
)

// Config holds the parameters shared by Build and Replay.
type Config struct {
	Owner           identity.Address // Owner is the first airline and the operator
	Quorum          int              // Quorum overrides ledger.MinResponses when positive
	Seed            [32]byte         // Seed is the registry entropy; zero draws one from Source
	Source          *oracle.Source   // Source draws request indexes; nil uses system entropy
	RegistrationFee uint64           // RegistrationFee overrides oracle.RegistrationFee when positive
	Publisher       events.Publisher // Publisher receives every event
}

// Response is a signed oracle answer to a status request.
type Response struct {
	Oracle    identity.Address // Oracle is the responding identity
	Index     uint8            // Index is the request index
	Airline   identity.Address // Airline operates the flight
	Flight    string           // Flight is the flight code
	Timestamp uint64           // Timestamp is the scheduled departure
	Status    uint8            // Status is the reported status code
	Signature []byte           // Signature signs oracle.ResponseMessage
}

// Key returns the request key the response answers.
func (r Response) Key() ledger.Key {
	return ledger.Key{Index: r.Index, Airline: r.Airline, Flight: r.Flight, Timestamp: r.Timestamp}
}

// Message returns the digest the oracle signs.
func (r Response) Message() []byte {
	return oracle.ResponseMessage(r.Index, r.Airline, r.Flight, r.Timestamp, r.Status)
}

// Status is a point-in-time summary of the engine.
type Status struct {
	Operational    bool   `json:"operational"`
	Oracles        int    `json:"oracles"`
	Airlines       int    `json:"participatingAirlines"`
	OpenRequests   int    `json:"openRequests"`
	ClosedRequests int    `json:"closedRequests"`
	Finalized      uint64 `json:"finalized"`
	Quorum         int    `json:"quorum"`
}

// Engine is the process-wide oracle consensus service. It is safe for concurrent use.
type Engine struct {
	owner       identity.Address
	registry    *oracle.Registry
	ledger      *ledger.Ledger
	airlines    *airline.Consortium
	pub         events.Publisher
	operational atomic.Bool
	finalized   atomic.Uint64
}

// New creates an operational engine over existing components.
func New(cfg Config, registry *oracle.Registry, led *ledger.Ledger, airlines *airline.Consortium, pub events.Publisher) *Engine {
	e := &Engine{
		owner:    cfg.Owner,
		registry: registry,
		ledger:   led,
		airlines: airlines,
		pub:      pub,
	}

	e.operational.Store(true)

	return e
}

// Build creates the registry, ledger and consortium described by cfg and wraps them.
func Build(cfg Config) *Engine {
	src := cfg.Source
	if src == nil {
		src = oracle.NewRandomSource()
	}

	seed := cfg.Seed
	if seed == ([32]byte{}) {
		seed = src.Seed32()
	}

	pub := cfg.Publisher
	if pub == nil {
		pub = &events.Discard{}
	}

	var regOpts []oracle.RegistryOption
	if cfg.RegistrationFee > 0 {
		regOpts = append(regOpts, oracle.WithRegistrationFee(cfg.RegistrationFee))
	}

	registry := oracle.NewRegistry(seed, pub, regOpts...)
	led := ledger.New(registry, src, pub, ledger.WithQuorum(cfg.Quorum))
	airlines := airline.New(cfg.Owner, pub)

	return New(cfg, registry, led, airlines, pub)
}

// Registry returns the oracle registry.
func (e *Engine) Registry() *oracle.Registry { return e.registry }

// Ledger returns the request ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Airlines returns the airline consortium.
func (e *Engine) Airlines() *airline.Consortium { return e.airlines }

// Owner returns the operator identity.
func (e *Engine) Owner() identity.Address { return e.owner }

// IsOperational reports whether mutating calls are accepted.
func (e *Engine) IsOperational() bool {
	return e.operational.Load()
}

// SetOperational pauses or resumes the engine. Only the owner may call it.
func (e *Engine) SetOperational(caller identity.Address, mode bool) error {
	if caller != e.owner {
		return ErrNotOwner
	}

	if e.operational.Swap(mode) != mode {
		logger.Info("operational mode changed", "operational", mode)
	}

	return nil
}

// RegisterOracle registers an oracle after checking the paid fee.
func (e *Engine) RegisterOracle(id identity.Address, feePaid uint64, opts ...oracle.RegisterOption) (oracle.Indexes, error) {
	if !e.IsOperational() {
		return oracle.Indexes{}, ErrNotOperational
	}

	return e.registry.Register(id, feePaid, opts...)
}

// OracleIndexes returns the triple of a registered oracle.
func (e *Engine) OracleIndexes(id identity.Address) (oracle.Indexes, error) {
	return e.registry.Indexes(id)
}

// RegisterAirline registers or votes for candidate on behalf of caller.
func (e *Engine) RegisterAirline(caller, candidate identity.Address) (airline.Registration, error) {
	if !e.IsOperational() {
		return airline.Registration{}, ErrNotOperational
	}

	return e.airlines.Register(caller, candidate)
}

// FundAirline records an airline's participation fee.
func (e *Engine) FundAirline(id identity.Address, amount uint64) error {
	if !e.IsOperational() {
		return ErrNotOperational
	}

	return e.airlines.Fund(id, amount)
}

// RegisterFlight schedules a flight for a participating airline.
func (e *Engine) RegisterFlight(id identity.Address, code string, timestamp uint64) (airline.Flight, error) {
	if !e.IsOperational() {
		return airline.Flight{}, ErrNotOperational
	}

	return e.airlines.RegisterFlight(id, code, timestamp)
}

// RequestStatus opens a status request for the flight and returns its index.
func (e *Engine) RequestStatus(id identity.Address, code string, timestamp uint64) (uint8, error) {
	if !e.IsOperational() {
		return 0, ErrNotOperational
	}

	return e.ledger.Open(id, code, timestamp)
}

// FlightStatus returns the flight record holding the latest finalized status.
func (e *Engine) FlightStatus(id identity.Address, code string) (airline.Flight, error) {
	f, ok := e.airlines.Flight(id, code)
	if !ok {
		return airline.Flight{}, airline.ErrUnknownFlight
	}

	return f, nil
}

// LatestRequest returns the most recent status request opened for the flight key.
func (e *Engine) LatestRequest(id identity.Address, code string, timestamp uint64) (ledger.Request, bool) {
	return e.ledger.Latest(ledger.FlightKey{Airline: id, Flight: code, Timestamp: timestamp})
}

// Airline returns the airline record for id.
func (e *Engine) Airline(id identity.Address) (airline.Airline, error) {
	a, ok := e.airlines.Airline(id)
	if !ok {
		return airline.Airline{}, airline.ErrUnknownAirline
	}

	return a, nil
}

// Submit verifies and records an oracle response. The call whose vote completes the
// quorum updates the flight and publishes StatusFinalized.
func (e *Engine) Submit(r Response) (ledger.Result, error) {
	if !e.IsOperational() {
		return ledger.Result{}, ErrNotOperational
	}

	// Unknown oracles and index mismatches are reported by the ledger in its own order.
	if o, err := e.registry.Oracle(r.Oracle); err == nil && o.Indexes.Contains(r.Index) && len(o.PublicKey) > 0 {
		if !oracle.Verify(r.Signature, r.Message(), o.PublicKey) {
			return ledger.Result{}, ErrInvalidSignature
		}
	}

	res, err := e.ledger.Submit(ledger.Vote{
		Oracle:    r.Oracle,
		Key:       r.Key(),
		Status:    r.Status,
		Signature: r.Signature,
	})
	if err != nil {
		return res, err
	}

	if !res.Finalized {
		return res, nil
	}

	if err := e.finalize(r, res); err != nil {
		return res, err
	}

	return res, nil
}

// finalize records the winning status and publishes StatusFinalized.
func (e *Engine) finalize(r Response, res ledger.Result) error {
	if !recordStatus(e.airlines, r.Airline, r.Flight, r.Timestamp, res.Status, res.Seq) {
		logger.Debug("newer flight status already recorded", "flight", r.Flight, "index", r.Index)
	}

	ev := events.Event{
		Kind:      events.KindStatusFinalized,
		Subject:   r.Airline,
		Index:     r.Index,
		Flight:    r.Flight,
		Timestamp: r.Timestamp,
		Status:    res.Status,
		Voters:    res.Voters,
	}

	if agg, ok := aggregate(res.Signatures); ok {
		ev.Signature = agg
	}

	if _, err := e.pub.Append(ev); err != nil {
		return fmt.Errorf("publish finalization:\n%w", err)
	}

	e.finalized.Add(1)

	logger.Info("flight status finalized",
		"airline", r.Airline.Short(),
		"flight", r.Flight,
		"index", r.Index,
		"status", airline.StatusName(res.Status),
		"voters", len(res.Voters),
	)

	return nil
}

// Status summarizes the engine state.
func (e *Engine) Status() Status {
	open, closed := e.ledger.Stats()

	return Status{
		Operational:    e.IsOperational(),
		Oracles:        e.registry.Len(),
		Airlines:       e.airlines.Participating(),
		OpenRequests:   open,
		ClosedRequests: closed,
		Finalized:      e.finalized.Load(),
		Quorum:         e.ledger.Quorum(),
	}
}

// recordStatus overwrites the flight status unless a later finalization (by report
// sequence) already set it, creating the flight record when the request was opened for an
// unregistered flight. It reports whether the status was applied.
func recordStatus(c *airline.Consortium, id identity.Address, code string, timestamp uint64, status uint8, seq uint64) bool {
	applied, err := c.SetStatus(id, code, status, seq)
	if errors.Is(err, airline.ErrUnknownFlight) {
		c.RestoreFlight(id, code, timestamp)
		applied, _ = c.SetStatus(id, code, status, seq)
	}

	return applied
}

// aggregate combines the voters' signatures when every voter signed.
func aggregate(signatures [][]byte) ([]byte, bool) {
	if len(signatures) == 0 {
		return nil, false
	}

	for _, sig := range signatures {
		if len(sig) == 0 {
			return nil, false
		}
	}

	agg, err := oracle.AggregateSignatures(signatures)
	if err != nil {
		logger.Warn("aggregate finalization signatures", "error", err)
		return nil, false
	}

	return agg, true
}

package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"FlightSurety/internal/events"
	"FlightSurety/internal/identity"
	"FlightSurety/internal/ledger"
	"FlightSurety/internal/logger"
	"FlightSurety/internal/oracle"
)

// ErrReplayDiverged is returned when a recorded finalization disagrees with the status
// recomputed from the recorded reports.
var ErrReplayDiverged = errors.New("replay diverged from event log")

// gatedPublisher drops events while muted and forwards them afterwards.
type gatedPublisher struct {
	next  events.Publisher
	muted atomic.Bool
}

// Append implements events.Publisher.
func (g *gatedPublisher) Append(ev events.Event) (uint64, error) {
	if g.muted.Load() {
		return 0, nil
	}

	return g.next.Append(ev)
}

// replayer re-applies events to a fresh engine.
type replayer struct {
	engine  *Engine
	pending map[ledger.Key]ledger.Result // pending holds recomputed finalizations awaiting their record
	applied int
}

// Replay rebuilds an engine from src. Registrations, requests and reports are
// re-applied in sequence order and every recorded StatusFinalized is checked against the
// recomputed outcome. The returned engine publishes new events to cfg.Publisher.
func Replay(ctx context.Context, src events.Source, cfg Config) (*Engine, error) {
	start := time.Now()

	next := cfg.Publisher
	if next == nil {
		next = &events.Discard{}
	}

	gate := &gatedPublisher{next: next}
	gate.muted.Store(true)

	cfg.Publisher = gate
	e := Build(cfg)

	r := &replayer{engine: e, pending: make(map[ledger.Key]ledger.Result)}

	err := src.Replay(1, func(ev events.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.apply(ev); err != nil {
			return fmt.Errorf("event %d (%s):\n%w", ev.Seq, ev.Kind, err)
		}

		r.applied++

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay:\n%w", err)
	}

	for key := range r.pending {
		logger.Warn("finalization missing from log", "key", key.String())
	}

	gate.muted.Store(false)

	logger.Info("event log replayed",
		"events", r.applied,
		"oracles", e.registry.Len(),
		"finalized", e.finalized.Load(),
		logger.Timed(start),
	)

	return e, nil
}

// apply re-applies one event.
func (r *replayer) apply(ev events.Event) error {
	e := r.engine

	switch ev.Kind {
	case events.KindOracleRegistered:
		return e.registry.Restore(oracle.Oracle{
			ID:           ev.Actor,
			Indexes:      oracle.Indexes(ev.Indexes),
			RegisteredAt: ev.Time,
			PublicKey:    ev.Signature,
		})

	case events.KindAirlineRegistered:
		e.airlines.RestoreAirline(ev.Subject, ev.Time)

	case events.KindAirlineFunded:
		return e.airlines.RestoreFunding(ev.Actor, ev.Amount)

	case events.KindFlightRegistered:
		e.airlines.RestoreFlight(ev.Actor, ev.Flight, ev.Timestamp)

	case events.KindRequestOpened:
		return e.ledger.Restore(requestKey(ev), ev.Time)

	case events.KindOracleReport:
		return r.applyReport(ev)

	case events.KindStatusFinalized:
		return r.checkFinalized(ev)
	}

	return nil
}

// applyReport replays an accepted report through the ledger.
func (r *replayer) applyReport(ev events.Event) error {
	key := requestKey(ev)

	res, err := r.engine.ledger.Submit(ledger.Vote{
		Oracle:    ev.Actor,
		Key:       key,
		Status:    ev.Status,
		Signature: ev.Signature,
	})
	if err != nil {
		return fmt.Errorf("%w: report rejected: %v", ErrReplayDiverged, err)
	}

	if res.Finalized {
		recordStatus(r.engine.airlines, key.Airline, key.Flight, key.Timestamp, res.Status, ev.Seq)
		r.pending[key] = res
	}

	return nil
}

// checkFinalized compares a recorded finalization with the recomputed one.
func (r *replayer) checkFinalized(ev events.Event) error {
	key := requestKey(ev)

	res, ok := r.pending[key]
	if !ok {
		return fmt.Errorf("%w: %s finalized without quorum", ErrReplayDiverged, key.String())
	}

	if res.Status != ev.Status {
		return fmt.Errorf("%w: %s finalized %d, recomputed %d", ErrReplayDiverged, key.String(), ev.Status, res.Status)
	}

	if !sameVoters(res.Voters, ev.Voters) {
		return fmt.Errorf("%w: %s voters differ", ErrReplayDiverged, key.String())
	}

	delete(r.pending, key)
	r.engine.finalized.Add(1)

	return nil
}

// requestKey extracts the request key of a request-scoped event.
func requestKey(ev events.Event) ledger.Key {
	return ledger.Key{Index: ev.Index, Airline: ev.Subject, Flight: ev.Flight, Timestamp: ev.Timestamp}
}

// sameVoters compares voter lists in order.
func sameVoters(a, b []identity.Address) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

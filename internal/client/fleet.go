// Package client runs the oracle agents that answer status requests.
//
// A Fleet owns a set of agents, registers them with the engine and then reacts to
// RequestOpened events: every agent holding the request index answers once, through a
// bounded worker pool.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"

	"FlightSurety/internal/consensus"
	"FlightSurety/internal/events"
	"FlightSurety/internal/identity"
	"FlightSurety/internal/ledger"
	"FlightSurety/internal/logger"
	"FlightSurety/internal/oracle"
)

const (
	// defaultWorkers bounds concurrent submissions.
	defaultWorkers = 16

	// defaultQueueSize bounds queued submissions before Submit blocks.
	defaultQueueSize = 4096
)

// Engine is the subset of the consensus engine agents depend on.
type Engine interface {
	RegisterOracle(id identity.Address, feePaid uint64, opts ...oracle.RegisterOption) (oracle.Indexes, error)
	OracleIndexes(id identity.Address) (oracle.Indexes, error)
	Submit(r consensus.Response) (ledger.Result, error)
}

// Agent is one oracle identity with its signing key.
type Agent struct {
	ID      identity.Address // ID is the oracle principal
	Keys    *oracle.KeyPair  // Keys sign responses
	Indexes oracle.Indexes   // Indexes is set once registered
}

// Option configures a Fleet.
type Option func(*Fleet)

// WithWorkers sets the number of concurrent submissions.
func WithWorkers(n int) Option {
	return func(f *Fleet) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithFee sets the registration fee paid by each agent.
func WithFee(fee uint64) Option {
	return func(f *Fleet) {
		f.fee = fee
	}
}

// WithStatusPicker sets how agents choose the status they report.
func WithStatusPicker(pick func() uint8) Option {
	return func(f *Fleet) {
		f.pick = pick
	}
}

// WithDedupTTL sets how long answered requests are remembered.
func WithDedupTTL(ttl time.Duration) Option {
	return func(f *Fleet) {
		f.dedupTTL = ttl
	}
}

// WithLabel sets the label agent identities are derived from.
func WithLabel(label string) Option {
	return func(f *Fleet) {
		f.label = label
	}
}

// Fleet runs a set of oracle agents.
type Fleet struct {
	engine   Engine
	agents   []*Agent
	label    string
	fee      uint64
	workers  int
	pick     func() uint8
	dedupTTL time.Duration
	dedup    *Dedup
	pool     pond.Pool

	submitted atomic.Uint64 // submitted counts accepted responses
	rejected  atomic.Uint64 // rejected counts expected rejections
	failed    atomic.Uint64 // failed counts unexpected errors
}

// NewFleet creates n agents with identities derived from the fleet label and BLS keys
// derived from keySeed.
func NewFleet(engine Engine, n int, keySeed []byte, opts ...Option) (*Fleet, error) {
	f := &Fleet{
		engine:  engine,
		label:   "oracle",
		fee:     oracle.RegistrationFee,
		workers: defaultWorkers,
		pick:    WeightedStatus(oracle.NewRandomSource()),
	}

	for _, opt := range opts {
		opt(f)
	}

	f.agents = make([]*Agent, n)
	for i := range f.agents {
		id := identity.Derive(f.label, uint64(i))

		kp, err := oracle.DeriveKeyPair(id, keySeed)
		if err != nil {
			return nil, fmt.Errorf("derive key for agent %d:\n%w", i, err)
		}

		f.agents[i] = &Agent{ID: id, Keys: kp}
	}

	f.dedup = NewDedup(f.dedupTTL)
	f.pool = pond.NewPool(f.workers, pond.WithQueueSize(defaultQueueSize))

	return f, nil
}

// Agents returns copies of the fleet's agents.
func (f *Fleet) Agents() []Agent {
	out := make([]Agent, len(f.agents))
	for i, a := range f.agents {
		out[i] = *a
	}
	return out
}

// Register registers every agent, stopping at the first failure. Agents already
// registered, for example restored from the event log, keep their recorded triple.
func (f *Fleet) Register() error {
	start := time.Now()
	resumed := 0

	for _, a := range f.agents {
		ix, err := f.engine.RegisterOracle(a.ID, f.fee, oracle.WithPublicKey(a.Keys.PublicKey()))
		if errors.Is(err, oracle.ErrAlreadyRegistered) {
			ix, err = f.engine.OracleIndexes(a.ID)
			resumed++
		}
		if err != nil {
			return fmt.Errorf("register oracle %s:\n%w", a.ID.Short(), err)
		}

		a.Indexes = ix
	}

	logger.Info("oracles registered", "count", len(f.agents), "resumed", resumed, logger.Timed(start))

	return nil
}

// Run answers RequestOpened events from evs until ctx is cancelled or evs closes, then
// waits for in-flight submissions. StatusFinalized events release the agents' dedup
// entries for the closed request.
func (f *Fleet) Run(ctx context.Context, evs <-chan events.Event) error {
	// Not bound to ctx: Wait must drain started submissions, queued ones see ctx and skip.
	group := f.pool.NewGroup()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case ev, ok := <-evs:
			if !ok {
				break loop
			}

			switch ev.Kind {
			case events.KindRequestOpened:
				f.dispatch(ctx, group, ev)
			case events.KindStatusFinalized:
				f.release(eventKey(ev))
			}
		}
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return fmt.Errorf("wait for submissions:\n%w", err)
	}

	logger.Info("oracle fleet stopped",
		"submitted", f.submitted.Load(),
		"rejected", f.rejected.Load(),
		"failed", f.failed.Load(),
	)

	return nil
}

// eventKey extracts the request key of a request-scoped event.
func eventKey(ev events.Event) ledger.Key {
	return ledger.Key{Index: ev.Index, Airline: ev.Subject, Flight: ev.Flight, Timestamp: ev.Timestamp}
}

// dispatch queues one submission per eligible agent.
func (f *Fleet) dispatch(ctx context.Context, group pond.TaskGroup, ev events.Event) {
	key := eventKey(ev)

	for _, a := range f.agents {
		if !a.Indexes.Contains(key.Index) || !f.dedup.Check(a.ID, key) {
			continue
		}

		agent := a
		group.Submit(func() {
			if ctx.Err() != nil {
				f.dedup.Forget(agent.ID, key)
				return
			}

			f.respond(agent, key)
		})
	}
}

// respond signs and submits one response.
func (f *Fleet) respond(a *Agent, key ledger.Key) {
	r := consensus.Response{
		Oracle:    a.ID,
		Index:     key.Index,
		Airline:   key.Airline,
		Flight:    key.Flight,
		Timestamp: key.Timestamp,
		Status:    f.pick(),
	}
	r.Signature = a.Keys.Sign(r.Message())

	_, err := f.engine.Submit(r)

	switch {
	case err == nil:
		f.submitted.Add(1)
		f.dedup.Pin(a.ID, key)
	case IsExpected(err):
		f.rejected.Add(1)
		if errors.Is(err, ledger.ErrDuplicateSubmission) {
			f.dedup.Pin(a.ID, key)
		}
		logger.Debug("response rejected", "oracle", a.ID.Short(), "key", key.String(), "error", err)
	default:
		// The ledger holds no vote from this agent: answer the next announcement.
		f.dedup.Forget(a.ID, key)
		f.failed.Add(1)
		logger.Warn("response failed", "oracle", a.ID.Short(), "key", key.String(), "error", err)
	}
}

// release unpins the dedup entries of agents holding the closed request's index.
func (f *Fleet) release(key ledger.Key) {
	for _, a := range f.agents {
		if a.Indexes.Contains(key.Index) {
			f.dedup.Release(a.ID, key)
		}
	}
}

// Stats returns accepted, expected-rejected and failed submission counts.
func (f *Fleet) Stats() (submitted, rejected, failed uint64) {
	return f.submitted.Load(), f.rejected.Load(), f.failed.Load()
}

// Close stops the worker pool and the dedup cleanup.
func (f *Fleet) Close() {
	f.pool.StopAndWait()
	f.dedup.Close()
}

// IsExpected reports whether err is a normal outcome of racing agents rather than a fault.
func IsExpected(err error) bool {
	return errors.Is(err, ledger.ErrRequestClosed) ||
		errors.Is(err, ledger.ErrDuplicateSubmission) ||
		errors.Is(err, ledger.ErrIndexMismatch)
}

package oracle

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"FlightSurety/internal/events"
	"FlightSurety/internal/identity"
	"FlightSurety/internal/logger"
)

// RegistrationFee is the minimum fee, in wei, an oracle pays to register (1 ether).
const RegistrationFee uint64 = 1_000_000_000_000_000_000

// Oracle is a registered oracle. It never changes after registration.
type Oracle struct {
	ID           identity.Address // ID is the oracle's principal
	Indexes      Indexes          // Indexes are the oracle's assigned slots
	RegisteredAt time.Time        // RegisteredAt is the registration time
	PublicKey    []byte           // PublicKey is the optional BLS key verifying responses
}

// Registry tracks registered oracles. It is append-only and safe for concurrent use;
// registrations of the same identity are serialized.
type Registry struct {
	oracles *xsync.Map[identity.Address, *Oracle]
	counter atomic.Uint64    // counter feeds Assign, one value per registration attempt
	seed    [32]byte         // seed is the per-process entropy mixed into assignments
	fee     uint64           // fee is the minimum registration fee
	pub     events.Publisher // pub receives OracleRegistered events
	now     func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistrationFee overrides the minimum registration fee.
func WithRegistrationFee(fee uint64) RegistryOption {
	return func(r *Registry) {
		r.fee = fee
	}
}

// WithClock overrides the registration time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry. seed is the entropy surrogate mixed into every
// index assignment; draw it from a Source.
func NewRegistry(seed [32]byte, pub events.Publisher, opts ...RegistryOption) *Registry {
	r := &Registry{
		oracles: xsync.NewMap[identity.Address, *Oracle](),
		seed:    seed,
		fee:     RegistrationFee,
		pub:     pub,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RegisterOption configures a single registration.
type RegisterOption func(*Oracle)

// WithPublicKey attaches a compressed BLS public key to the oracle.
func WithPublicKey(pk []byte) RegisterOption {
	return func(o *Oracle) {
		o.PublicKey = append([]byte(nil), pk...)
	}
}

// Register registers id after checking the paid fee and returns its index triple.
// A failed registration leaves the registry unchanged.
func (r *Registry) Register(id identity.Address, feePaid uint64, opts ...RegisterOption) (Indexes, error) {
	if feePaid < r.fee {
		return Indexes{}, fmt.Errorf("%w: paid %d, need %d", ErrInsufficientFee, feePaid, r.fee)
	}

	candidate := &Oracle{ID: id}
	for _, opt := range opts {
		opt(candidate)
	}

	if candidate.PublicKey != nil && !ValidPublicKey(candidate.PublicKey) {
		return Indexes{}, ErrInvalidPublicKey
	}

	var regErr error

	r.oracles.Compute(id, func(old *Oracle, loaded bool) (*Oracle, xsync.ComputeOp) {
		if loaded {
			regErr = ErrAlreadyRegistered
			return old, xsync.CancelOp
		}

		candidate.Indexes = Assign(id, r.counter.Add(1), r.seed)
		candidate.RegisteredAt = r.now()

		_, err := r.pub.Append(events.Event{
			Kind:      events.KindOracleRegistered,
			Time:      candidate.RegisteredAt,
			Actor:     id,
			Amount:    feePaid,
			Indexes:   candidate.Indexes,
			Signature: candidate.PublicKey,
		})
		if err != nil {
			regErr = fmt.Errorf("publish registration:\n%w", err)
			return old, xsync.CancelOp
		}

		return candidate, xsync.UpdateOp
	})

	if regErr != nil {
		return Indexes{}, regErr
	}

	logger.Debug("oracle registered",
		"oracle", id.Short(),
		"indexes", fmt.Sprintf("%d,%d,%d", candidate.Indexes[0], candidate.Indexes[1], candidate.Indexes[2]),
	)

	return candidate.Indexes, nil
}

// Indexes returns the triple assigned to id.
func (r *Registry) Indexes(id identity.Address) (Indexes, error) {
	o, ok := r.oracles.Load(id)
	if !ok {
		return Indexes{}, ErrNotRegistered
	}

	return o.Indexes, nil
}

// Oracle returns a copy of the registered oracle.
func (r *Registry) Oracle(id identity.Address) (Oracle, error) {
	o, ok := r.oracles.Load(id)
	if !ok {
		return Oracle{}, ErrNotRegistered
	}

	return *o, nil
}

// Len returns the number of registered oracles.
func (r *Registry) Len() int {
	return r.oracles.Size()
}

// Restore inserts a previously registered oracle without fee checks or events.
// Used when rebuilding state from the event log.
func (r *Registry) Restore(o Oracle) error {
	if _, loaded := r.oracles.LoadOrStore(o.ID, &o); loaded {
		return ErrAlreadyRegistered
	}

	r.counter.Add(1)

	return nil
}

package consensus

import (
	"errors"
	"testing"
	"time"

	"FlightSurety/internal/airline"
	"FlightSurety/internal/events"
	"FlightSurety/internal/identity"
	"FlightSurety/internal/ledger"
	"FlightSurety/internal/oracle"
)

const testTimestamp = 1_700_000_000

// fixture is an engine with a funded owner and one registered flight.
type fixture struct {
	engine *Engine
	mem    *events.Memory
	owner  identity.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := events.NewMemory()
	owner := identity.Derive("owner", 0)

	e := Build(Config{
		Owner:     owner,
		Source:    oracle.NewSource(42),
		Publisher: mem,
	})

	if err := e.FundAirline(owner, airline.FundingFee); err != nil {
		t.Fatalf("fund owner: %v", err)
	}

	if _, err := e.RegisterFlight(owner, "ND1309", testTimestamp); err != nil {
		t.Fatalf("register flight: %v", err)
	}

	return &fixture{engine: e, mem: mem, owner: owner}
}

// signer is a registered oracle with its key pair.
type signer struct {
	id   identity.Address
	keys *oracle.KeyPair
	ix   oracle.Indexes
}

// registerSigners registers n oracles with BLS keys.
func (f *fixture) registerSigners(t *testing.T, n int) []signer {
	t.Helper()

	out := make([]signer, 0, n)
	for i := 0; i < n; i++ {
		id := identity.Derive("oracle", uint64(i))

		kp, err := oracle.DeriveKeyPair(id, []byte("engine-test"))
		if err != nil {
			t.Fatalf("derive key: %v", err)
		}

		ix, err := f.engine.RegisterOracle(id, oracle.RegistrationFee, oracle.WithPublicKey(kp.PublicKey()))
		if err != nil {
			t.Fatalf("register oracle %d: %v", i, err)
		}

		out = append(out, signer{id: id, keys: kp, ix: ix})
	}

	return out
}

// response builds a signed response for ND1309 at testTimestamp.
func (s signer) response(index uint8, owner identity.Address, status uint8) Response {
	return s.responseAt(index, owner, testTimestamp, status)
}

// responseAt builds a signed response for ND1309 scheduled at timestamp.
func (s signer) responseAt(index uint8, owner identity.Address, timestamp uint64, status uint8) Response {
	r := Response{
		Oracle:    s.id,
		Index:     index,
		Airline:   owner,
		Flight:    "ND1309",
		Timestamp: timestamp,
		Status:    status,
	}
	r.Signature = s.keys.Sign(r.Message())

	return r
}

// holders returns the signers whose triple contains index.
func holders(signers []signer, index uint8) []signer {
	var out []signer
	for _, s := range signers {
		if s.ix.Contains(index) {
			out = append(out, s)
		}
	}
	return out
}

// TestForcedIndexQuorum registers three oracles on index 7, opens a request under index 7
// and checks that three matching responses close it and set the flight status once.
func TestForcedIndexQuorum(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	key := ledger.Key{Index: 7, Airline: f.owner, Flight: "ND1309", Timestamp: testTimestamp}
	if err := e.Ledger().Restore(key, time.Now()); err != nil {
		t.Fatalf("restore request: %v", err)
	}

	for i := 0; i < ledger.MinResponses; i++ {
		id := identity.Derive("forced", uint64(i))
		if err := e.Registry().Restore(oracle.Oracle{ID: id, Indexes: oracle.Indexes{7, 7, 7}}); err != nil {
			t.Fatalf("restore oracle: %v", err)
		}

		res, err := e.Submit(Response{
			Oracle:    id,
			Index:     7,
			Airline:   f.owner,
			Flight:    "ND1309",
			Timestamp: testTimestamp,
			Status:    airline.StatusLateAirline,
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}

		if want := i == ledger.MinResponses-1; res.Finalized != want {
			t.Fatalf("submit %d finalized = %v, want %v", i, res.Finalized, want)
		}
	}

	req, ok := e.Ledger().Request(key)
	if !ok || req.Open {
		t.Fatalf("request should be closed: %+v", req)
	}

	fl, err := e.FlightStatus(f.owner, "ND1309")
	if err != nil {
		t.Fatalf("flight status: %v", err)
	}

	if fl.Status != airline.StatusLateAirline {
		t.Errorf("flight status = %d, want %d", fl.Status, airline.StatusLateAirline)
	}

	if got := f.mem.Count(events.KindStatusFinalized); got != 1 {
		t.Errorf("StatusFinalized events = %d, want 1", got)
	}

	// Unsigned voters produce no aggregate signature.
	if fin := f.mem.Filter(events.KindStatusFinalized)[0]; len(fin.Signature) != 0 || len(fin.Voters) != ledger.MinResponses {
		t.Errorf("unexpected finalization: %d voters, %d signature bytes", len(fin.Voters), len(fin.Signature))
	}
}

// TestSeededIndexQuorum searches for a seed under which three registrations land on
// index 7 and the next request draws index 7, then finalizes that request through the
// regular registration and open paths.
func TestSeededIndexQuorum(t *testing.T) {
	const target = 7

	for seed := uint64(1); seed <= 500; seed++ {
		mem := events.NewMemory()
		owner := identity.Derive("owner", 0)
		e := Build(Config{Owner: owner, Source: oracle.NewSource(seed), Publisher: mem})

		if err := e.FundAirline(owner, airline.FundingFee); err != nil {
			t.Fatalf("fund owner: %v", err)
		}

		var voters []identity.Address
		for i := 0; len(voters) < ledger.MinResponses && i < 100; i++ {
			id := identity.Derive("seeded", uint64(i))

			ix, err := e.RegisterOracle(id, oracle.RegistrationFee)
			if err != nil {
				t.Fatalf("register oracle: %v", err)
			}

			if ix.Contains(target) {
				voters = append(voters, id)
			}
		}

		if len(voters) < ledger.MinResponses {
			continue
		}

		index, err := e.RequestStatus(owner, "ND1309", testTimestamp)
		if err != nil {
			t.Fatalf("request status: %v", err)
		}

		if index != target {
			continue
		}

		var res ledger.Result
		for _, id := range voters {
			res, err = e.Submit(Response{
				Oracle:    id,
				Index:     target,
				Airline:   owner,
				Flight:    "ND1309",
				Timestamp: testTimestamp,
				Status:    airline.StatusLateWeather,
			})
			if err != nil {
				t.Fatalf("seed %d: submit: %v", seed, err)
			}
		}

		if !res.Finalized || res.Status != airline.StatusLateWeather {
			t.Fatalf("seed %d: result = %+v, want finalized late-weather", seed, res)
		}

		if mem.Count(events.KindStatusFinalized) != 1 {
			t.Errorf("seed %d: StatusFinalized events = %d, want 1", seed, mem.Count(events.KindStatusFinalized))
		}

		return
	}

	t.Fatal("no seed assigned index 7 to three oracles and drew it for the request")
}

// TestRegisterOracleInsufficientFee checks a fee one wei short is rejected without change.
func TestRegisterOracleInsufficientFee(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.RegisterOracle(identity.Derive("oracle", 0), oracle.RegistrationFee-1)
	if !errors.Is(err, oracle.ErrInsufficientFee) {
		t.Fatalf("expected ErrInsufficientFee, got %v", err)
	}

	if f.engine.Registry().Len() != 0 {
		t.Errorf("registry size = %d, want 0", f.engine.Registry().Len())
	}

	if f.mem.Count(events.KindOracleRegistered) != 0 {
		t.Error("OracleRegistered published for rejected registration")
	}
}

// TestSignedQuorumAggregates runs the full flow with signing oracles and checks the
// finalization carries a verifiable aggregate signature.
func TestSignedQuorumAggregates(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	signers := f.registerSigners(t, 60)

	index, err := e.RequestStatus(f.owner, "ND1309", testTimestamp)
	if err != nil {
		t.Fatalf("request status: %v", err)
	}

	eligible := holders(signers, index)
	if len(eligible) < ledger.MinResponses {
		t.Fatalf("only %d oracles hold index %d", len(eligible), index)
	}

	var last ledger.Result
	for _, s := range eligible[:ledger.MinResponses] {
		last, err = e.Submit(s.response(index, f.owner, airline.StatusOnTime))
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	if !last.Finalized {
		t.Fatal("quorum did not finalize")
	}

	// Responses after close are rejected regardless of status.
	if len(eligible) > ledger.MinResponses {
		late := eligible[ledger.MinResponses]
		if _, err := e.Submit(late.response(index, f.owner, airline.StatusLateWeather)); !errors.Is(err, ledger.ErrRequestClosed) {
			t.Fatalf("expected ErrRequestClosed, got %v", err)
		}
	}

	fin := f.mem.Filter(events.KindStatusFinalized)
	if len(fin) != 1 {
		t.Fatalf("StatusFinalized events = %d, want 1", len(fin))
	}

	pks := make([][]byte, 0, ledger.MinResponses)
	for _, voter := range fin[0].Voters {
		o, err := e.Registry().Oracle(voter)
		if err != nil {
			t.Fatalf("voter lookup: %v", err)
		}
		pks = append(pks, o.PublicKey)
	}

	msg := oracle.ResponseMessage(index, f.owner, "ND1309", testTimestamp, airline.StatusOnTime)
	if !oracle.VerifyAggregated(fin[0].Signature, msg, pks) {
		t.Error("aggregate signature does not verify")
	}

	if st := e.Status(); st.Finalized != 1 || st.ClosedRequests != 1 || st.Oracles != 60 {
		t.Errorf("unexpected status: %+v", st)
	}
}

// TestForgedSignatureRejected checks a response signed with the wrong key changes nothing.
func TestForgedSignatureRejected(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	signers := f.registerSigners(t, 60)

	index, err := e.RequestStatus(f.owner, "ND1309", testTimestamp)
	if err != nil {
		t.Fatalf("request status: %v", err)
	}

	eligible := holders(signers, index)
	if len(eligible) < 2 {
		t.Fatalf("only %d oracles hold index %d", len(eligible), index)
	}

	forged := eligible[0].response(index, f.owner, airline.StatusOnTime)
	forged.Signature = eligible[1].keys.Sign(forged.Message())

	if _, err := e.Submit(forged); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	key := ledger.Key{Index: index, Airline: f.owner, Flight: "ND1309", Timestamp: testTimestamp}
	req, _ := e.Ledger().Request(key)
	if req.Votes() != 0 {
		t.Errorf("votes after forged response = %d, want 0", req.Votes())
	}

	// The genuine response from the same oracle is still accepted.
	if _, err := e.Submit(eligible[0].response(index, f.owner, airline.StatusOnTime)); err != nil {
		t.Fatalf("genuine submit: %v", err)
	}
}

// TestOperationalSwitch checks only the owner can pause and that pausing blocks mutations.
func TestOperationalSwitch(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	if err := e.SetOperational(identity.Derive("stranger", 0), false); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	if err := e.SetOperational(f.owner, false); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if _, err := e.RequestStatus(f.owner, "ND1309", testTimestamp); !errors.Is(err, ErrNotOperational) {
		t.Fatalf("expected ErrNotOperational, got %v", err)
	}

	if _, err := e.RegisterOracle(identity.Derive("oracle", 0), oracle.RegistrationFee); !errors.Is(err, ErrNotOperational) {
		t.Fatalf("expected ErrNotOperational, got %v", err)
	}

	if _, err := e.Submit(Response{}); !errors.Is(err, ErrNotOperational) {
		t.Fatalf("expected ErrNotOperational, got %v", err)
	}

	// Reads stay available.
	if _, err := e.FlightStatus(f.owner, "ND1309"); err != nil {
		t.Fatalf("flight status while paused: %v", err)
	}

	if err := e.SetOperational(f.owner, true); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if _, err := e.RequestStatus(f.owner, "ND1309", testTimestamp); err != nil {
		t.Fatalf("request after resume: %v", err)
	}
}

// TestUnregisteredFlightGetsStatus checks a request for an unscheduled flight still
// records its finalized status.
func TestUnregisteredFlightGetsStatus(t *testing.T) {
	f := newFixture(t)
	e := f.engine

	key := ledger.Key{Index: 2, Airline: f.owner, Flight: "XX9", Timestamp: 5}
	if err := e.Ledger().Restore(key, time.Now()); err != nil {
		t.Fatalf("restore request: %v", err)
	}

	for i := 0; i < ledger.MinResponses; i++ {
		id := identity.Derive("adhoc", uint64(i))
		if err := e.Registry().Restore(oracle.Oracle{ID: id, Indexes: oracle.Indexes{2, 3, 4}}); err != nil {
			t.Fatalf("restore oracle: %v", err)
		}

		if _, err := e.Submit(Response{Oracle: id, Index: 2, Airline: f.owner, Flight: "XX9", Timestamp: 5, Status: airline.StatusLateOther}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	fl, err := e.FlightStatus(f.owner, "XX9")
	if err != nil || fl.Status != airline.StatusLateOther {
		t.Fatalf("flight = %+v, %v", fl, err)
	}
}

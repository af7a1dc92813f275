package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"FlightSurety/internal/airline"
	"FlightSurety/internal/api"
	oracleclient "FlightSurety/internal/client"
	"FlightSurety/internal/consensus"
	"FlightSurety/internal/events"
	"FlightSurety/internal/identity"
	"FlightSurety/internal/oracle"
)

const testDeparture = 1_700_000_000

// testNode is an in-process engine, oracle fleet and API server.
type testNode struct {
	client *Client
	engine *consensus.Engine
	owner  identity.Address
}

// startTestNode wires an engine with a running fleet behind an httptest server.
func startTestNode(t *testing.T) *testNode {
	t.Helper()

	mem := events.NewMemory()
	bus := events.NewBus(mem)
	owner := identity.Derive("owner", 0)

	eng := consensus.Build(consensus.Config{Owner: owner, Source: oracle.NewSource(5), Publisher: bus})

	if err := eng.FundAirline(owner, airline.FundingFee); err != nil {
		t.Fatalf("fund owner: %v", err)
	}

	if _, err := eng.RegisterFlight(owner, "ND1309", testDeparture); err != nil {
		t.Fatalf("register flight: %v", err)
	}

	fleet, err := oracleclient.NewFleet(eng, 60, []byte("sdk-test"),
		oracleclient.WithStatusPicker(oracleclient.FixedStatus(airline.StatusLateWeather)),
	)
	if err != nil {
		t.Fatalf("new fleet: %v", err)
	}

	if err := fleet.Register(); err != nil {
		t.Fatalf("register fleet: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	sub := bus.Subscribe(events.KindRequestOpened)
	go func() { done <- fleet.Run(ctx, sub.C()) }()

	srv := httptest.NewServer(api.New("", eng, mem).Handler())

	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		fleet.Close()
	})

	return &testNode{
		client: NewClient(strings.TrimPrefix(srv.URL, "http://")),
		engine: eng,
		owner:  owner,
	}
}

// TestHealthAndStatus checks the read-only endpoints decode.
func TestHealthAndStatus(t *testing.T) {
	n := startTestNode(t)

	if err := n.client.Health(); err != nil {
		t.Fatalf("health: %v", err)
	}

	st, err := n.client.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if !st.Operational || st.Oracles != 60 || st.Airlines != 1 || st.Quorum != 3 {
		t.Errorf("unexpected status: %+v", st)
	}
}

// TestRequestStatusFinalizes opens a request over HTTP and waits for the fleet to finalize it.
func TestRequestStatusFinalizes(t *testing.T) {
	n := startTestNode(t)

	info, err := n.client.RequestStatus(n.owner, "ND1309", testDeparture)
	if err != nil {
		t.Fatalf("request status: %v", err)
	}

	if info.Flight != "ND1309" || info.Airline != n.owner.String() {
		t.Errorf("unexpected request info: %+v", info)
	}

	ev, err := n.client.WaitForFinalization(n.owner, "ND1309", 1, 5*time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}

	if ev.Index != info.Index || ev.Status != airline.StatusLateWeather || len(ev.Voters) != 3 {
		t.Errorf("unexpected finalization: %+v", ev)
	}

	if ev.Signature == "" {
		t.Error("finalization should carry the aggregate signature")
	}

	fl, err := n.client.Flight(n.owner, "ND1309")
	if err != nil {
		t.Fatalf("flight: %v", err)
	}

	if fl.Status != airline.StatusLateWeather || fl.StatusName != "late-weather" {
		t.Errorf("unexpected flight: %+v", fl)
	}

	if fl.Request == nil || fl.Request.Open || fl.Request.Index != info.Index || fl.Request.Votes < 3 {
		t.Errorf("unexpected latest request: %+v", fl.Request)
	}

	got, err := n.client.Event(ev.Seq)
	if err != nil {
		t.Fatalf("event: %v", err)
	}

	if got.Kind != ev.Kind || got.Signature != ev.Signature {
		t.Errorf("event %d = %+v, want %+v", ev.Seq, got, ev)
	}
}

// TestAirline checks the owner airline is reported funded.
func TestAirline(t *testing.T) {
	n := startTestNode(t)

	info, err := n.client.Airline(n.owner)
	if err != nil {
		t.Fatalf("airline: %v", err)
	}

	if !info.Funded || info.Funding != airline.FundingFee || info.Airline != n.owner.String() {
		t.Errorf("unexpected airline: %+v", info)
	}

	var se *StatusError
	if _, err := n.client.Airline(identity.Derive("stranger", 0)); !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("expected 404 StatusError, got %v", err)
	}
}

// TestErrorsCarryStatusCode checks API errors surface as StatusError.
func TestErrorsCarryStatusCode(t *testing.T) {
	n := startTestNode(t)

	_, err := n.client.Flight(n.owner, "NOPE")

	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}

	if err := n.engine.SetOperational(n.owner, false); err != nil {
		t.Fatalf("pause: %v", err)
	}

	_, err = n.client.RequestStatus(n.owner, "ND1309", testDeparture)
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 StatusError, got %v", err)
	}

	if !strings.Contains(se.Message, "not operational") {
		t.Errorf("unexpected message %q", se.Message)
	}
}

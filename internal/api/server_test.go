package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"FlightSurety/internal/airline"
	"FlightSurety/internal/consensus"
	"FlightSurety/internal/events"
	"FlightSurety/internal/identity"
	"FlightSurety/internal/ledger"
)

// mockEngine records requests and serves fixed flights.
type mockEngine struct {
	opened   []ledger.FlightKey
	openErr  error
	flights  map[string]airline.Flight
	requests map[ledger.FlightKey]ledger.Request
	airlines map[identity.Address]airline.Airline
}

func (m *mockEngine) RequestStatus(id identity.Address, code string, timestamp uint64) (uint8, error) {
	if m.openErr != nil {
		return 0, m.openErr
	}

	m.opened = append(m.opened, ledger.FlightKey{Airline: id, Flight: code, Timestamp: timestamp})
	return 7, nil
}

func (m *mockEngine) FlightStatus(id identity.Address, code string) (airline.Flight, error) {
	f, ok := m.flights[code]
	if !ok || f.Airline != id {
		return airline.Flight{}, airline.ErrUnknownFlight
	}
	return f, nil
}

func (m *mockEngine) LatestRequest(id identity.Address, code string, timestamp uint64) (ledger.Request, bool) {
	req, ok := m.requests[ledger.FlightKey{Airline: id, Flight: code, Timestamp: timestamp}]
	return req, ok
}

func (m *mockEngine) Airline(id identity.Address) (airline.Airline, error) {
	a, ok := m.airlines[id]
	if !ok {
		return airline.Airline{}, airline.ErrUnknownAirline
	}
	return a, nil
}

func (m *mockEngine) Status() consensus.Status {
	return consensus.Status{Operational: true, Oracles: 20, Quorum: 3}
}

// serve runs one request through the server's routes.
func serve(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	return w
}

func TestHealthEndpoint(t *testing.T) {
	server := New(":0", &mockEngine{}, nil)

	w := serve(t, server, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestOpenRequest_Success(t *testing.T) {
	eng := &mockEngine{}
	server := New(":0", eng, nil)

	owner := identity.Derive("owner", 0)
	body, _ := json.Marshal(map[string]any{"airline": owner.String(), "flight": "ND1309", "timestamp": 1700000000})

	w := serve(t, server, "POST", "/requests", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	if len(eng.opened) != 1 || eng.opened[0].Airline != owner || eng.opened[0].Timestamp != 1700000000 {
		t.Fatalf("unexpected opened requests: %+v", eng.opened)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["index"] != float64(7) {
		t.Errorf("expected index 7, got %v", resp["index"])
	}
}

func TestOpenRequest_InvalidBody(t *testing.T) {
	server := New(":0", &mockEngine{}, nil)

	cases := map[string][]byte{
		"not json":       []byte("{"),
		"bad airline":    []byte(`{"airline":"zz","flight":"ND1309"}`),
		"missing flight": []byte(`{"airline":"` + identity.Derive("owner", 0).String() + `"}`),
	}

	for name, body := range cases {
		w := serve(t, server, "POST", "/requests", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", name, w.Code)
		}
	}
}

func TestOpenRequest_EngineErrors(t *testing.T) {
	cases := map[error]int{
		consensus.ErrNotOperational: http.StatusServiceUnavailable,
		ledger.ErrRequestsExhausted: http.StatusConflict,
	}

	body, _ := json.Marshal(map[string]any{"airline": identity.Derive("owner", 0).String(), "flight": "ND1309"})

	for err, want := range cases {
		server := New(":0", &mockEngine{openErr: err}, nil)

		w := serve(t, server, "POST", "/requests", body)
		if w.Code != want {
			t.Errorf("%v: expected status %d, got %d", err, want, w.Code)
		}
	}
}

func TestFlightEndpoint(t *testing.T) {
	owner := identity.Derive("owner", 0)
	eng := &mockEngine{
		flights: map[string]airline.Flight{
			"ND1309": {Airline: owner, Code: "ND1309", Timestamp: 5, Status: airline.StatusLateAirline},
		},
		requests: map[ledger.FlightKey]ledger.Request{
			{Airline: owner, Flight: "ND1309", Timestamp: 5}: {
				Key:       ledger.Key{Index: 4, Airline: owner, Flight: "ND1309", Timestamp: 5},
				Status:    airline.StatusLateAirline,
				Responses: map[uint8][]identity.Address{airline.StatusLateAirline: {owner, owner, owner}},
			},
		},
	}
	server := New(":0", eng, nil)

	w := serve(t, server, "GET", "/flights/"+owner.String()+"/ND1309", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["status"] != float64(airline.StatusLateAirline) || resp["statusName"] != "late-airline" {
		t.Errorf("unexpected flight: %v", resp)
	}

	req, ok := resp["request"].(map[string]any)
	if !ok || req["index"] != float64(4) || req["open"] != false || req["votes"] != float64(3) {
		t.Errorf("unexpected latest request: %v", resp["request"])
	}

	if w := serve(t, server, "GET", "/flights/"+owner.String()+"/XX1", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown flight, got %d", w.Code)
	}

	if w := serve(t, server, "GET", "/flights/nothex/ND1309", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad airline, got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	server := New(":0", &mockEngine{}, nil)

	w := serve(t, server, "GET", "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["oracles"] != float64(20) || resp["operational"] != true {
		t.Errorf("unexpected status: %v", resp)
	}
}

func TestEventsEndpoint(t *testing.T) {
	mem := events.NewMemory()
	for i := 0; i < 5; i++ {
		mem.Append(events.Event{Kind: events.KindRequestOpened, Index: uint8(i), Flight: "ND1309"})
	}

	server := New(":0", &mockEngine{}, mem)

	w := serve(t, server, "GET", "/events?from=2&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Events []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if len(resp.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(resp.Events))
	}

	if resp.Events[0]["seq"] != float64(2) || resp.Events[0]["kind"] != "OracleRequest" {
		t.Errorf("unexpected first event: %v", resp.Events[0])
	}

	if w := serve(t, New(":0", &mockEngine{}, nil), "GET", "/events", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without event log, got %d", w.Code)
	}
}

func TestAirlineEndpoint(t *testing.T) {
	owner := identity.Derive("owner", 0)
	eng := &mockEngine{airlines: map[identity.Address]airline.Airline{
		owner: {ID: owner, Funded: true, Funding: airline.FundingFee},
	}}
	server := New(":0", eng, nil)

	w := serve(t, server, "GET", "/airlines/"+owner.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["funded"] != true || resp["airline"] != owner.String() {
		t.Errorf("unexpected airline: %v", resp)
	}

	if w := serve(t, server, "GET", "/airlines/"+identity.Derive("stranger", 0).String(), nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown airline, got %d", w.Code)
	}
}

func TestEventBySequence(t *testing.T) {
	mem := events.NewMemory()
	mem.Append(events.Event{Kind: events.KindFlightRegistered, Flight: "ND1309", Timestamp: 5})

	server := New(":0", &mockEngine{}, mem)

	w := serve(t, server, "GET", "/events/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["seq"] != float64(1) || resp["flight"] != "ND1309" {
		t.Errorf("unexpected event: %v", resp)
	}

	if w := serve(t, server, "GET", "/events/9", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing event, got %d", w.Code)
	}

	if w := serve(t, server, "GET", "/events/x", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad sequence, got %d", w.Code)
	}
}

func TestStartStop(t *testing.T) {
	if err := New("127.0.0.1:0", &mockEngine{}, nil).Stop(); err != nil {
		t.Fatalf("stop before start: %v", err)
	}

	server := New("127.0.0.1:0", &mockEngine{}, nil)
	if err := server.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

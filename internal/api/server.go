package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"FlightSurety/internal/airline"
	"FlightSurety/internal/consensus"
	"FlightSurety/internal/events"
	"FlightSurety/internal/identity"
	"FlightSurety/internal/ledger"
	"FlightSurety/internal/logger"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 64 << 10

	// defaultEventLimit is the page size of GET /events.
	defaultEventLimit = 100

	// maxEventLimit caps the page size of GET /events.
	maxEventLimit = 1000
)

// Engine is the consensus capability served over HTTP.
type Engine interface {
	RequestStatus(id identity.Address, code string, timestamp uint64) (uint8, error)
	FlightStatus(id identity.Address, code string) (airline.Flight, error)
	LatestRequest(id identity.Address, code string, timestamp uint64) (ledger.Request, bool)
	Airline(id identity.Address) (airline.Airline, error)
	Status() consensus.Status
}

// EventSource is the event log served over HTTP.
type EventSource interface {
	events.Source
	Get(seq uint64) (events.Event, bool, error)
}

// Server is the HTTP API server.
type Server struct {
	addr   string       // addr is the HTTP listen address
	engine Engine       // engine opens requests and answers queries
	events EventSource  // events serves the event log, may be nil
	server *http.Server // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, engine Engine, source EventSource) *Server {
	return &Server{
		addr:   addr,
		engine: engine,
		events: source,
	}
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /requests", s.handleOpenRequest)
	mux.HandleFunc("GET /flights/{airline}/{flight}", s.handleFlight)
	mux.HandleFunc("GET /airlines/{airline}", s.handleAirline)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /events/{seq}", s.handleEvent)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleOpenRequest handles POST /requests.
func (s *Server) handleOpenRequest(w http.ResponseWriter, r *http.Request) {
	var body openRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id, err := body.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	index, err := s.engine.RequestStatus(id, body.Flight, body.Timestamp)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	logger.Debug("status requested via api", "airline", id.Short(), "flight", body.Flight, "index", index)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"index":     index,
		"airline":   id.String(),
		"flight":    body.Flight,
		"timestamp": body.Timestamp,
	})
}

// handleFlight handles GET /flights/{airline}/{flight}.
func (s *Server) handleFlight(w http.ResponseWriter, r *http.Request) {
	id, err := identity.Parse(r.PathValue("airline"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid airline address")
		return
	}

	f, err := s.engine.FlightStatus(id, r.PathValue("flight"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	view := flightView(f)
	if req, ok := s.engine.LatestRequest(id, f.Code, f.Timestamp); ok {
		view["request"] = requestView(req)
	}

	writeJSON(w, http.StatusOK, view)
}

// handleAirline handles GET /airlines/{airline}.
func (s *Server) handleAirline(w http.ResponseWriter, r *http.Request) {
	id, err := identity.Parse(r.PathValue("airline"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid airline address")
		return
	}

	a, err := s.engine.Airline(id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"airline":      a.ID.String(),
		"funded":       a.Funded,
		"funding":      a.Funding,
		"registeredAt": a.RegisteredAt,
	})
}

// handleEvent handles GET /events/{seq}.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event log not available")
		return
	}

	seq, err := strconv.ParseUint(r.PathValue("seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sequence")
		return
	}

	ev, ok, err := s.events.Get(seq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read event log")
		return
	}

	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	writeJSON(w, http.StatusOK, eventView(ev))
}

// handleEvents handles GET /events?from=N&limit=M.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event log not available")
		return
	}

	from, err := queryUint(r, "from", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}

	limit, err := queryUint(r, "limit", defaultEventLimit)
	if err != nil || limit == 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	limit = min(limit, maxEventLimit)

	out := make([]map[string]any, 0, limit)
	errPageFull := errors.New("page full")

	err = s.events.Replay(from, func(ev events.Event) error {
		if uint64(len(out)) >= limit {
			return errPageFull
		}
		out = append(out, eventView(ev))
		return nil
	})
	if err != nil && !errors.Is(err, errPageFull) {
		writeError(w, http.StatusInternalServerError, "read event log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, consensus.ErrNotOperational):
		return http.StatusServiceUnavailable
	case errors.Is(err, airline.ErrUnknownFlight), errors.Is(err, airline.ErrUnknownAirline):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrRequestsExhausted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// flightView renders a flight for JSON.
func flightView(f airline.Flight) map[string]any {
	return map[string]any{
		"airline":    f.Airline.String(),
		"flight":     f.Code,
		"timestamp":  f.Timestamp,
		"status":     f.Status,
		"statusName": airline.StatusName(f.Status),
		"updatedAt":  f.UpdatedAt,
	}
}

// requestView renders a status request for JSON.
func requestView(req ledger.Request) map[string]any {
	v := map[string]any{
		"index":    req.Key.Index,
		"open":     req.Open,
		"votes":    req.Votes(),
		"openedAt": req.OpenedAt,
	}

	if !req.Open {
		v["status"] = req.Status
		v["closedAt"] = req.ClosedAt
	}

	return v
}

// eventView renders an event for JSON.
func eventView(ev events.Event) map[string]any {
	v := map[string]any{
		"seq":  ev.Seq,
		"kind": ev.Kind.String(),
		"time": ev.Time,
	}

	if !ev.Actor.IsZero() {
		v["actor"] = ev.Actor.String()
	}

	if !ev.Subject.IsZero() {
		v["subject"] = ev.Subject.String()
	}

	switch ev.Kind {
	case events.KindOracleRegistered:
		v["indexes"] = []uint8{ev.Indexes[0], ev.Indexes[1], ev.Indexes[2]}
		v["fee"] = ev.Amount
	case events.KindRequestOpened, events.KindOracleReport, events.KindStatusFinalized:
		v["index"] = ev.Index
		v["flight"] = ev.Flight
		v["timestamp"] = ev.Timestamp
		if ev.Kind != events.KindRequestOpened {
			v["status"] = ev.Status
		}
	case events.KindAirlineFunded:
		v["amount"] = ev.Amount
	case events.KindFlightRegistered:
		v["flight"] = ev.Flight
		v["timestamp"] = ev.Timestamp
	}

	if len(ev.Voters) > 0 {
		voters := make([]string, len(ev.Voters))
		for i, a := range ev.Voters {
			voters[i] = a.String()
		}
		v["voters"] = voters
	}

	if ev.Kind == events.KindStatusFinalized && len(ev.Signature) > 0 {
		v["signature"] = hex.EncodeToString(ev.Signature)
	}

	return v
}

// queryUint parses an optional unsigned query parameter.
func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	return strconv.ParseUint(raw, 10, 64)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// Package client is a Go client for the oracle node HTTP API.
package client

import (
	"fmt"
	"net/url"
	"time"

	"FlightSurety/internal/identity"
)

// Client connects to an oracle node via HTTP.
type Client struct {
	nodeAddr string // nodeAddr is the HTTP address (e.g. "127.0.0.1:8080")
}

// FlightInfo is a flight as reported by the node.
type FlightInfo struct {
	Airline    string    `json:"airline"`
	Flight     string    `json:"flight"`
	Timestamp  uint64    `json:"timestamp"`
	Status     uint8     `json:"status"`
	StatusName string    `json:"statusName"`
	UpdatedAt  time.Time `json:"updatedAt"`

	Request *FlightRequest `json:"request,omitempty"` // Request is the latest status request for the scheduled departure
}

// FlightRequest is the latest status request of a flight.
type FlightRequest struct {
	Index    uint8     `json:"index"`
	Open     bool      `json:"open"`
	Votes    int       `json:"votes"`
	Status   uint8     `json:"status"`
	OpenedAt time.Time `json:"openedAt"`
	ClosedAt time.Time `json:"closedAt"`
}

// AirlineInfo is an airline as reported by the node.
type AirlineInfo struct {
	Airline      string    `json:"airline"`
	Funded       bool      `json:"funded"`
	Funding      uint64    `json:"funding"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// RequestInfo is the answer to an opened status request.
type RequestInfo struct {
	Index     uint8  `json:"index"`
	Airline   string `json:"airline"`
	Flight    string `json:"flight"`
	Timestamp uint64 `json:"timestamp"`
}

// NodeStatus is the node's engine summary.
type NodeStatus struct {
	Operational    bool   `json:"operational"`
	Oracles        int    `json:"oracles"`
	Airlines       int    `json:"participatingAirlines"`
	OpenRequests   int    `json:"openRequests"`
	ClosedRequests int    `json:"closedRequests"`
	Finalized      uint64 `json:"finalized"`
	Quorum         int    `json:"quorum"`
}

// EventInfo is one event of the node's log.
type EventInfo struct {
	Seq       uint64    `json:"seq"`
	Kind      string    `json:"kind"`
	Time      time.Time `json:"time"`
	Actor     string    `json:"actor,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Index     uint8     `json:"index"`
	Flight    string    `json:"flight,omitempty"`
	Timestamp uint64    `json:"timestamp"`
	Status    uint8     `json:"status"`
	Voters    []string  `json:"voters,omitempty"`
	Signature string    `json:"signature,omitempty"`
}

// NewClient creates a client for the node at nodeAddr.
func NewClient(nodeAddr string) *Client {
	return &Client{nodeAddr: nodeAddr}
}

// Health returns nil when the node answers GET /health.
func (c *Client) Health() error {
	var resp map[string]string
	return httpGet(c.url("/health"), &resp)
}

// Status returns the node's engine summary.
func (c *Client) Status() (NodeStatus, error) {
	var st NodeStatus
	err := httpGet(c.url("/status"), &st)
	return st, err
}

// RequestStatus asks the node to open a status request for a flight.
func (c *Client) RequestStatus(airline identity.Address, flight string, timestamp uint64) (RequestInfo, error) {
	body := map[string]any{
		"airline":   airline.String(),
		"flight":    flight,
		"timestamp": timestamp,
	}

	var info RequestInfo
	err := httpPostJSON(c.url("/requests"), body, &info)
	return info, err
}

// Flight returns the node's record of a flight.
func (c *Client) Flight(airline identity.Address, flight string) (FlightInfo, error) {
	var info FlightInfo
	err := httpGet(c.url("/flights/"+airline.String()+"/"+url.PathEscape(flight)), &info)
	return info, err
}

// Airline returns the node's record of an airline.
func (c *Client) Airline(airline identity.Address) (AirlineInfo, error) {
	var info AirlineInfo
	err := httpGet(c.url("/airlines/"+airline.String()), &info)
	return info, err
}

// Event returns the event at sequence seq.
func (c *Client) Event(seq uint64) (EventInfo, error) {
	var ev EventInfo
	err := httpGet(c.url(fmt.Sprintf("/events/%d", seq)), &ev)
	return ev, err
}

// Events returns up to limit events starting at sequence from.
func (c *Client) Events(from uint64, limit int) ([]EventInfo, error) {
	var resp struct {
		Events []EventInfo `json:"events"`
	}

	err := httpGet(c.url(fmt.Sprintf("/events?from=%d&limit=%d", from, limit)), &resp)
	return resp.Events, err
}

// WaitForFinalization polls the event log until a FlightStatusInfo event for the flight
// appears after sequence from, and returns it.
func (c *Client) WaitForFinalization(airline identity.Address, flight string, from uint64, timeout time.Duration) (EventInfo, error) {
	deadline := time.Now().Add(timeout)
	next := from

	for time.Now().Before(deadline) {
		evs, err := c.Events(next, 500)
		if err != nil {
			return EventInfo{}, err
		}

		for _, ev := range evs {
			next = ev.Seq + 1
			if ev.Kind == "FlightStatusInfo" && ev.Subject == airline.String() && ev.Flight == flight {
				return ev, nil
			}
		}

		time.Sleep(50 * time.Millisecond)
	}

	return EventInfo{}, fmt.Errorf("no finalization for %s within %s", flight, timeout)
}

// url builds an absolute URL for path.
func (c *Client) url(path string) string {
	return "http://" + c.nodeAddr + path
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"FlightSurety/internal/airline"
	"FlightSurety/internal/api"
	"FlightSurety/internal/client"
	"FlightSurety/internal/consensus"
	"FlightSurety/internal/events"
	"FlightSurety/internal/identity"
	"FlightSurety/internal/ledger"
	"FlightSurety/internal/logger"
	"FlightSurety/internal/oracle"
	"FlightSurety/internal/storage"
	"FlightSurety/internal/sync"
)

// Node wires storage, the event log, the engine, the oracle fleet and the HTTP API.
type Node struct {
	cfg   *Config
	owner identity.Address
	src   *oracle.Source

	storage     *storage.Storage
	log         *events.Log
	bus         *events.Bus
	engine      *consensus.Engine
	fleet       *client.Fleet
	api         *api.Server
	snapManager *sync.SnapshotManager

	cancel    context.CancelFunc
	fleetDone chan error
}

// NewNode opens storage and rebuilds the engine from the event log.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{
		cfg:   cfg,
		owner: identity.Derive(cfg.OwnerLabel, 0),
	}

	if cfg.Seed != 0 {
		n.src = oracle.NewSource(cfg.Seed)
	} else {
		n.src = oracle.NewRandomSource()
	}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initLog(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initEngine(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initFleet(); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

// initStorage initializes the Pebble storage.
func (n *Node) initStorage() error {
	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(n.cfg.DataPath, "db"))
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}

	n.storage = db

	return nil
}

// initLog opens the event log, restoring the latest snapshot into an empty log.
func (n *Node) initLog() error {
	log, err := events.OpenLog(n.storage)
	if err != nil {
		return fmt.Errorf("open event log:\n%w", err)
	}

	if _, err := sync.RestoreLatest(n.snapshotDir(), log); err != nil {
		return err
	}

	n.log = log
	n.bus = events.NewBus(log)

	return nil
}

// initEngine replays the event log into a fresh engine publishing to the bus.
func (n *Node) initEngine() error {
	engine, err := consensus.Replay(context.Background(), n.log, consensus.Config{
		Owner:     n.owner,
		Quorum:    n.cfg.MinResponses,
		Source:    n.src,
		Publisher: n.bus,
	})
	if err != nil {
		return fmt.Errorf("rebuild engine:\n%w", err)
	}

	n.engine = engine

	return nil
}

// initFleet creates the oracle agents.
func (n *Node) initFleet() error {
	fleet, err := client.NewFleet(n.engine, n.cfg.Oracles, []byte(n.cfg.KeySeed),
		client.WithWorkers(n.cfg.Workers),
		client.WithStatusPicker(client.WeightedStatus(n.src)),
	)
	if err != nil {
		return fmt.Errorf("init fleet:\n%w", err)
	}

	n.fleet = fleet

	return nil
}

// Run registers the owner's flights and the oracles, starts the fleet and the API and
// blocks until SIGINT or SIGTERM.
func (n *Node) Run() error {
	if err := n.setupOwner(); err != nil {
		n.Close()
		return err
	}

	if err := n.fleet.Register(); err != nil {
		n.Close()
		return fmt.Errorf("register oracles:\n%w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	sub := n.bus.Subscribe(events.KindRequestOpened, events.KindStatusFinalized)
	n.fleetDone = make(chan error, 1)

	go func() {
		n.fleetDone <- n.fleet.Run(ctx, sub.C())
	}()

	n.api = api.New(n.cfg.HTTPAddress, n.engine, n.log)
	if err := n.api.Start(); err != nil {
		n.Close()
		return fmt.Errorf("start api:\n%w", err)
	}

	n.snapManager = sync.NewSnapshotManager(n.snapshotDir(), n.log, n.cfg.SnapshotInterval)
	n.snapManager.Start()

	if n.cfg.RequestInterval > 0 {
		go n.requestLoop(ctx)
	}

	return n.waitForShutdown()
}

// setupOwner funds the owner airline and schedules its demo flights when not already
// present in the log.
func (n *Node) setupOwner() error {
	airlines := n.engine.Airlines()

	if !airlines.IsParticipating(n.owner) {
		if err := n.engine.FundAirline(n.owner, airline.FundingFee); err != nil {
			return fmt.Errorf("fund owner airline:\n%w", err)
		}
	}

	departure := uint64(time.Now().Add(time.Hour).Truncate(time.Hour).Unix())

	for i, code := range n.cfg.flightCodes() {
		if _, ok := airlines.Flight(n.owner, code); ok {
			continue
		}

		if _, err := n.engine.RegisterFlight(n.owner, code, departure+uint64(i)*3600); err != nil {
			return fmt.Errorf("register flight %s:\n%w", code, err)
		}
	}

	logger.Info("owner airline ready", "airline", n.owner.String(), "flights", len(airlines.Flights()))

	return nil
}

// requestLoop periodically requests the status of a random demo flight.
func (n *Node) requestLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.RequestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		flights := n.engine.Airlines().Flights()
		if len(flights) == 0 {
			continue
		}

		f := flights[n.src.IntN(len(flights))]

		index, err := n.engine.RequestStatus(f.Airline, f.Code, f.Timestamp)
		switch {
		case errors.Is(err, ledger.ErrRequestsExhausted):
			logger.Debug("flight requests exhausted", "flight", f.Code)
		case err != nil:
			logger.Warn("request status", "flight", f.Code, "error", err)
		default:
			logger.Debug("status requested", "flight", f.Code, "index", index)
		}
	}
}

// waitForShutdown blocks until SIGINT or SIGTERM, then closes the node.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// snapshotDir is where event log snapshots are written.
func (n *Node) snapshotDir() string {
	return filepath.Join(n.cfg.DataPath, "snapshots")
}

// Close stops every component in reverse start order.
func (n *Node) Close() error {
	if n.api != nil {
		if err := n.api.Stop(); err != nil {
			logger.Warn("api server stopped with error", "error", err)
		}
	}

	if n.cancel != nil {
		n.cancel()
	}

	if n.fleetDone != nil {
		if err := <-n.fleetDone; err != nil {
			logger.Warn("fleet stopped with error", "error", err)
		}
	}

	if n.fleet != nil {
		n.fleet.Close()
	}

	if n.bus != nil {
		n.bus.Close()
	}

	if n.snapManager != nil {
		n.snapManager.Stop()

		if data, count := n.snapManager.Latest(); data != nil {
			logger.Info("final snapshot written", "events", count, "bytes", len(data))
		}
	}

	if n.storage != nil {
		return n.storage.Close()
	}

	return nil
}

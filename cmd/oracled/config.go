package main

import (
	"flag"
	"strings"
	"time"

	"FlightSurety/internal/ledger"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for the event log and snapshots.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// Oracles is the number of oracle agents run by this node.
	Oracles int

	// Workers bounds concurrent oracle submissions.
	Workers int

	// Seed makes index draws reproducible; zero uses system entropy.
	Seed uint64

	// KeySeed derives the agents' BLS keys.
	KeySeed string

	// OwnerLabel derives the owner airline identity.
	OwnerLabel string

	// Flights are the owner's demo flight codes, comma separated.
	Flights string

	// MinResponses is the number of matching responses that finalize a request.
	MinResponses int

	// RequestInterval periodically requests the status of a demo flight; zero disables it.
	RequestInterval time.Duration

	// SnapshotInterval is the interval between event log snapshots.
	SnapshotInterval time.Duration

	// LogLevel is the minimum log level.
	LogLevel string
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	flag.IntVar(&cfg.Oracles, "oracles", 20, "Number of oracle agents")
	flag.IntVar(&cfg.Workers, "workers", 16, "Concurrent oracle submissions")
	flag.Uint64Var(&cfg.Seed, "seed", 0, "Random seed for index draws (0 = system entropy)")
	flag.StringVar(&cfg.KeySeed, "key-seed", "flightsurety-oracles", "Seed deriving oracle BLS keys")
	flag.StringVar(&cfg.OwnerLabel, "owner-label", "owner", "Label deriving the owner airline identity")
	flag.StringVar(&cfg.Flights, "flights", "ND1309,ND1310,ND1311", "Owner demo flights, comma separated")
	flag.IntVar(&cfg.MinResponses, "min-responses", ledger.MinResponses, "Matching responses required to finalize")
	flag.DurationVar(&cfg.RequestInterval, "request-interval", 0, "Interval between automatic status requests (0 = off)")
	flag.DurationVar(&cfg.SnapshotInterval, "snapshot-interval", 30*time.Second, "Interval between event log snapshots")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	return cfg
}

// flightCodes splits the flights flag.
func (c *Config) flightCodes() []string {
	var out []string
	for _, code := range strings.Split(c.Flights, ",") {
		if code = strings.TrimSpace(code); code != "" {
			out = append(out, code)
		}
	}
	return out
}

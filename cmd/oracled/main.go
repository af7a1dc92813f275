package main

import (
	"fmt"
	"os"

	"FlightSurety/internal/logger"
)

func main() {
	cfg := parseFlags()

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	logger.Init(level)

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run(cfg *Config) error {
	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(cfg)

	return node.Run()
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config) {
	logger.Info("starting FlightSurety oracle node",
		"http", cfg.HTTPAddress,
		"data", cfg.DataPath,
		"oracles", cfg.Oracles,
		"min_responses", cfg.MinResponses,
		"owner", cfg.OwnerLabel,
		"flights", cfg.Flights,
	)
}

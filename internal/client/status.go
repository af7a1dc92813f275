package client

import "FlightSurety/internal/oracle"

// statusTable weights late-airline above the other codes, one entry per draw slot.
var statusTable = [oracle.MaxIndex]uint8{0, 10, 20, 30, 40, 50, 20, 20, 20, 20}

// WeightedStatus returns a picker drawing uniformly from statusTable with src.
func WeightedStatus(src *oracle.Source) func() uint8 {
	return func() uint8 {
		return statusTable[src.IntN(len(statusTable))]
	}
}

// FixedStatus returns a picker that always reports status.
func FixedStatus(status uint8) func() uint8 {
	return func() uint8 {
		return status
	}
}

//go:build ignore

package main

import (
	"bytes"
	"fmt"
	"os"

	"FlightSurety/internal/events"
	"FlightSurety/internal/storage"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <db1_path> <db2_path>\n", os.Args[0])
		os.Exit(1)
	}

	db1Path := os.Args[1]
	db2Path := os.Args[2]

	log1, close1 := openLog(db1Path)
	defer close1()

	log2, close2 := openLog(db2Path)
	defer close2()

	events1 := collectEvents(log1)
	events2 := collectEvents(log2)

	fmt.Printf("DB1 (%s): %d events\n", db1Path, len(events1))
	fmt.Printf("DB2 (%s): %d events\n", db2Path, len(events2))

	different := compare(events1, events2)

	if len(different) == 0 && len(events1) == len(events2) {
		fmt.Println("\n✓ Logs are identical!")
		os.Exit(0)
	}

	fmt.Println("\n✗ Logs differ:")

	if len(events1) != len(events2) {
		fmt.Printf("  - Length mismatch: %d vs %d\n", len(events1), len(events2))
	}

	if len(different) > 0 {
		fmt.Printf("  - Events with different content: %d\n", len(different))
		for _, seq := range different {
			fmt.Printf("      seq %d: %s vs %s\n", seq, events1[seq-1].Kind, events2[seq-1].Kind)
		}
	}

	os.Exit(1)
}

func openLog(path string) (*events.Log, func()) {
	db, err := storage.New(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
		os.Exit(1)
	}

	log, err := events.OpenLog(db)
	if err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "open log %s: %v\n", path, err)
		os.Exit(1)
	}

	return log, func() { db.Close() }
}

func collectEvents(log *events.Log) []events.Event {
	var out []events.Event

	err := log.Replay(1, func(ev events.Event) error {
		out = append(out, ev)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}

	return out
}

func compare(ev1, ev2 []events.Event) (different []uint64) {
	n := min(len(ev1), len(ev2))

	for i := 0; i < n; i++ {
		if !bytes.Equal(events.Encode(ev1[i]), events.Encode(ev2[i])) {
			different = append(different, ev1[i].Seq)
		}
	}

	return
}

package oracle

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// Source is a concurrency-safe pseudo-random generator. Seeded sources are reproducible
// for tests and replays; NewRandomSource is for production.
type Source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource creates a reproducible source from seed.
func NewSource(seed uint64) *Source {
	return &Source{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandomSource creates a source seeded from the operating system.
func NewRandomSource() *Source {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic("read system entropy: " + err.Error())
	}

	return &Source{rng: rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(b[:8]),
		binary.LittleEndian.Uint64(b[8:]),
	))}
}

// IntN returns a uniform value in [0, n). n must be positive.
func (s *Source) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rng.IntN(n)
}

// Seed32 draws 32 bytes, used as the registry entropy seed.
func (s *Source) Seed32() [32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seed [32]byte
	for i := 0; i < len(seed); i += 8 {
		binary.BigEndian.PutUint64(seed[i:], s.rng.Uint64())
	}

	return seed
}

package oracle

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"FlightSurety/internal/identity"
)

// MaxIndex bounds the index space: every index is in [0, MaxIndex).
const MaxIndex = 10

// Indexes is the triple of index slots assigned to an oracle. Values may repeat.
type Indexes [3]uint8

// Contains reports whether index is one of the triple's slots.
func (ix Indexes) Contains(index uint8) bool {
	return ix[0] == index || ix[1] == index || ix[2] == index
}

// Assign derives an oracle's index triple from its identity, the registration counter and
// the process entropy seed. It is a pure function so assignments can be audited and
// replayed: index i is BLAKE3(identity || counter || seed)[8i:8i+8] mod MaxIndex.
func Assign(id identity.Address, counter uint64, seed [32]byte) Indexes {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	h := blake3.New()
	h.Write(id[:])
	h.Write(buf[:])
	h.Write(seed[:])

	var digest [32]byte
	h.Sum(digest[:0])

	var ix Indexes
	for i := range ix {
		v := binary.BigEndian.Uint64(digest[i*8 : (i+1)*8])
		ix[i] = uint8(v % MaxIndex)
	}

	return ix
}

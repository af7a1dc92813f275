// Package identity defines the opaque principal identifiers shared by oracles and airlines.
package identity

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the byte length of an Address.
const Size = 32

// Address is an opaque 32-byte principal identifier.
type Address [Size]byte

// Zero is the unset address.
var Zero Address

// Derive builds a deterministic address as BLAKE3(label || counter).
// Used for demo identities and in tests.
func Derive(label string, counter uint64) Address {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	h := blake3.New()
	h.Write([]byte(label))
	h.Write(buf[:])

	var a Address
	h.Sum(a[:0])

	return a
}

// FromBytes copies b into an Address. b must be exactly Size bytes.
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, fmt.Errorf("invalid address length: got %d, want %d", len(b), Size)
	}

	copy(a[:], b)

	return a, nil
}

// Parse decodes a hex-encoded address.
func Parse(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("decode address:\n%w", err)
	}

	return FromBytes(b)
}

// String returns the full hex encoding.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Short returns the first 8 bytes in hex, for logs.
func (a Address) Short() string {
	return hex.EncodeToString(a[:8])
}

// IsZero reports whether a is unset.
func (a Address) IsZero() bool {
	return a == Zero
}

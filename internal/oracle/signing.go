package oracle

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"

	"FlightSurety/internal/identity"
)

const (
	// PublicKeySize is the size of a compressed BLS public key in bytes.
	PublicKeySize = 48

	// SignatureSize is the size of a compressed BLS signature in bytes.
	SignatureSize = 96
)

// blsDST is the domain separation tag for BLS signatures.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// KeyPair holds an oracle's BLS private/public key pair.
type KeyPair struct {
	secret *blst.SecretKey // secret is the private key
	public *blst.P1Affine  // public is the public key
}

// DeriveKeyPair derives a deterministic key pair bound to an oracle identity and a
// secret seed via BLAKE3("flightsurety-oracle-keygen" || seed || identity).
func DeriveKeyPair(id identity.Address, seed []byte) (*KeyPair, error) {
	h := blake3.New()
	h.Write([]byte("flightsurety-oracle-keygen"))
	h.Write(seed)
	h.Write(id[:])

	var derived [32]byte
	h.Sum(derived[:0])

	return KeyPairFromSeed(derived[:])
}

// GenerateKeyPair creates a key pair from a random seed.
func GenerateKeyPair() (*KeyPair, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return KeyPairFromSeed(ikm[:])
}

// KeyPairFromSeed creates a key pair from a seed of at least 32 bytes.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate BLS key")
	}

	return &KeyPair{
		secret: secret,
		public: new(blst.P1Affine).From(secret),
	}, nil
}

// Sign creates a BLS signature over message.
func (k *KeyPair) Sign(message []byte) []byte {
	return new(blst.P2Affine).Sign(k.secret, message, blsDST).Compress()
}

// PublicKey returns the compressed public key.
func (k *KeyPair) PublicKey() []byte {
	return k.public.Compress()
}

// ResponseMessage is the digest an oracle signs when reporting status for a request:
// BLAKE3(index || airline || len(flight) || flight || timestamp || status).
func ResponseMessage(index uint8, airline identity.Address, flight string, timestamp uint64, status uint8) []byte {
	var buf [8]byte

	h := blake3.New()
	h.Write([]byte{index})
	h.Write(airline[:])

	binary.BigEndian.PutUint64(buf[:], uint64(len(flight)))
	h.Write(buf[:])
	h.Write([]byte(flight))

	binary.BigEndian.PutUint64(buf[:], timestamp)
	h.Write(buf[:])
	h.Write([]byte{status})

	return h.Sum(nil)
}

// ValidPublicKey reports whether pk is a well-formed compressed BLS public key.
func ValidPublicKey(pk []byte) bool {
	if len(pk) != PublicKeySize {
		return false
	}

	p := new(blst.P1Affine).Uncompress(pk)
	return p != nil && p.KeyValidate()
}

// Verify checks a BLS signature against a message and public key.
func Verify(signature, message, publicKey []byte) bool {
	if len(signature) != SignatureSize || len(publicKey) != PublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, message, blsDST)
}

// AggregateSignatures combines signatures over the same message into one.
func AggregateSignatures(signatures [][]byte) ([]byte, error) {
	if len(signatures) == 0 {
		return nil, fmt.Errorf("no signatures to aggregate")
	}

	sigs := make([]*blst.P2Affine, len(signatures))

	for i, sigBytes := range signatures {
		if len(sigBytes) != SignatureSize {
			return nil, fmt.Errorf("invalid signature size at index %d", i)
		}

		sig := new(blst.P2Affine).Uncompress(sigBytes)
		if sig == nil {
			return nil, fmt.Errorf("invalid signature at index %d", i)
		}

		sigs[i] = sig
	}

	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(sigs, true) {
		return nil, fmt.Errorf("signature aggregation failed")
	}

	return agg.ToAffine().Compress(), nil
}

// VerifyAggregated verifies an aggregate signature over message against several keys.
func VerifyAggregated(signature, message []byte, publicKeys [][]byte) bool {
	if len(signature) != SignatureSize || len(publicKeys) == 0 {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pks := make([]*blst.P1Affine, len(publicKeys))

	for i, pkBytes := range publicKeys {
		if len(pkBytes) != PublicKeySize {
			return false
		}

		pk := new(blst.P1Affine).Uncompress(pkBytes)
		if pk == nil {
			return false
		}

		pks[i] = pk
	}

	aggPk := new(blst.P1Aggregate)
	if !aggPk.Aggregate(pks, true) {
		return false
	}

	return sig.Verify(true, aggPk.ToAffine(), true, message, blsDST)
}

package curvemath

import (
	"crypto/sha256"
	"hash"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// DigestSize is the output size of every supported hash and the digest size
// accepted by both curves.
const DigestSize = 32

// Hash digests data with the selected algorithm.
func Hash(algo HashAlgo, data []byte) ([]byte, error) {
	h, err := NewHasher(algo)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

func NewHasher(algo HashAlgo) (hash.Hash, error) {
	switch algo {
	case SHA2_256:
		return sha256.New(), nil
	case SHA3_256:
		return sha3.New256(), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedHashAlgorithm, "hash algorithm %s", algo)
	}
}

// Keccak256 is the legacy Keccak digest used by EVM signing schemes.
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}

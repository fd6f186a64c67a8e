package curvemath

import (
	"math/big"

	"github.com/cockroachdb/errors"
)

const (
	PrivateKeySize   = 32
	PublicKeySize    = 64 // uncompressed X||Y, no 04 prefix
	SignatureSize    = 64 // r||s
	RecoverableSize  = 65 // r||s||v
	compressedPubLen = 33
)

// Curve is one ECDSA curve. Public keys cross this interface in the canonical
// 64-byte X||Y form.
type Curve interface {
	Algo() SignAlgo
	Order() *big.Int
	ValidPrivateKey(priv []byte) bool
	PublicKey(priv []byte) ([]byte, error)
	CompressedPublicKey(priv []byte) ([]byte, error)
	// ParsePublicKey accepts 64-byte raw, 65-byte 04-prefixed or 33-byte
	// compressed encodings and returns the canonical 64-byte form.
	ParsePublicKey(pub []byte) ([]byte, error)
	// Sign returns the primitive's native output: r||s for P-256 and
	// r||s||v (v in {0,1}) for secp256k1. Signing is deterministic.
	Sign(digest, priv []byte) ([]byte, error)
	Verify(pub, digest, sig []byte) bool
}

var curves = map[SignAlgo]Curve{
	ECDSA_P256:      p256Curve{},
	ECDSA_secp256k1: secp256k1Curve{},
}

// CurveFor dispatches on the closed algorithm enum.
func CurveFor(algo SignAlgo) (Curve, error) {
	c, ok := curves[algo]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedAlgorithmPair, "sign algorithm %s", algo)
	}
	return c, nil
}

// PrivateKey is a raw scalar tagged with the curve it belongs to.
type PrivateKey struct {
	Algo SignAlgo
	D    []byte
}

// Zero wipes the scalar in place.
func (k PrivateKey) Zero() {
	for i := range k.D {
		k.D[i] = 0
	}
}

func checkDigest(digest []byte) error {
	if len(digest) != DigestSize {
		return errors.Wrapf(ErrInvalidDigestLength, "got %d bytes, want %d", len(digest), DigestSize)
	}
	return nil
}

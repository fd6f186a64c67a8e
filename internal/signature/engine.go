// Package signature signs byte payloads and digests with a selected curve and
// hash. Every function is pure: keys and digests are never logged or kept.
package signature

import (
	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/quantum-wallet-core/internal/curvemath"
)

var (
	ErrCurveMismatch            = errors.New("private key belongs to a different curve")
	ErrUnsupportedAlgorithmPair = curvemath.ErrUnsupportedAlgorithmPair
	ErrUnsupportedHashAlgorithm = curvemath.ErrUnsupportedHashAlgorithm
	ErrInvalidDigestLength      = curvemath.ErrInvalidDigestLength
	ErrInvalidSignature         = errors.New("invalid signature encoding")
)

// Request is an algorithm-agnostic signing request. HashAlgo is ignored when
// IsPrehashed is set.
type Request struct {
	Payload           []byte
	SignAlgo          curvemath.SignAlgo
	HashAlgo          curvemath.HashAlgo
	IsPrehashed       bool
	IncludeRecoveryID bool
}

// Sign returns r||s, or r||s||v when a recovery id was requested on secp256k1.
func Sign(req Request, key curvemath.PrivateKey) ([]byte, error) {
	curve, err := curveFor(req)
	if err != nil {
		return nil, err
	}
	if key.Algo != req.SignAlgo {
		return nil, errors.Wrapf(ErrCurveMismatch, "key is %s, request is %s", key.Algo, req.SignAlgo)
	}

	digest, err := Digest(req)
	if err != nil {
		return nil, err
	}

	sig, err := curve.Sign(digest, key.D)
	if err != nil {
		return nil, err
	}
	if req.IncludeRecoveryID {
		if len(sig) != curvemath.RecoverableSize {
			return nil, errors.Wrap(ErrUnsupportedAlgorithmPair, "curve does not emit a recovery id")
		}
		return sig, nil
	}
	return sig[:curvemath.SignatureSize], nil
}

// Verify checks sig (r||s, optionally followed by v) against a canonical
// 64-byte public key.
func Verify(pub []byte, req Request, sig []byte) (bool, error) {
	curve, err := curveFor(req)
	if err != nil {
		return false, err
	}
	digest, err := Digest(req)
	if err != nil {
		return false, err
	}
	switch len(sig) {
	case curvemath.SignatureSize:
	case curvemath.RecoverableSize:
		sig = sig[:curvemath.SignatureSize]
	default:
		return false, errors.Wrapf(ErrInvalidSignature, "length %d", len(sig))
	}
	return curve.Verify(pub, digest, sig), nil
}

// Digest returns the 32-byte value the curve signs for req. The length rule is
// applied to both the prehashed and the hashed path.
func Digest(req Request) ([]byte, error) {
	var digest []byte
	if req.IsPrehashed {
		digest = req.Payload
	} else {
		h, err := curvemath.Hash(req.HashAlgo, req.Payload)
		if err != nil {
			return nil, err
		}
		digest = h
	}
	if len(digest) != curvemath.DigestSize {
		return nil, errors.Wrapf(ErrInvalidDigestLength, "got %d bytes, want %d", len(digest), curvemath.DigestSize)
	}
	return digest, nil
}

// ToEthereumV rewrites a trailing recovery id from {0,1} to {27,28}.
func ToEthereumV(sig []byte) ([]byte, error) {
	if len(sig) != curvemath.RecoverableSize {
		return nil, errors.Wrapf(ErrInvalidSignature, "want %d bytes, got %d", curvemath.RecoverableSize, len(sig))
	}
	out := append([]byte(nil), sig...)
	if out[64] < 27 {
		out[64] += 27
	}
	return out, nil
}

func curveFor(req Request) (curvemath.Curve, error) {
	curve, err := curvemath.CurveFor(req.SignAlgo)
	if err != nil {
		return nil, err
	}
	if req.IncludeRecoveryID && req.SignAlgo != curvemath.ECDSA_secp256k1 {
		return nil, errors.Wrapf(ErrUnsupportedAlgorithmPair, "recovery id is not defined for %s", req.SignAlgo)
	}
	return curve, nil
}

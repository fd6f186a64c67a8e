// Package curvemath wraps the two ECDSA curves and the digest functions used by
// the signing core. Curve arithmetic is delegated to go-ethereum, decred and the
// standard library; this package only selects, validates and serialises.
package curvemath

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// SignAlgo selects the curve. Values follow the Flow account-key encoding.
type SignAlgo uint8

const (
	ECDSA_P256      SignAlgo = 2
	ECDSA_secp256k1 SignAlgo = 3
)

// HashAlgo selects the pre-signing digest function. Values follow the Flow
// account-key encoding.
type HashAlgo uint8

const (
	SHA2_256 HashAlgo = 1
	SHA3_256 HashAlgo = 3
)

func (a SignAlgo) String() string {
	switch a {
	case ECDSA_P256:
		return "ECDSA_P256"
	case ECDSA_secp256k1:
		return "ECDSA_secp256k1"
	default:
		return "SignAlgo(" + strconv.Itoa(int(a)) + ")"
	}
}

func (a SignAlgo) Valid() bool {
	return a == ECDSA_P256 || a == ECDSA_secp256k1
}

func (h HashAlgo) String() string {
	switch h {
	case SHA2_256:
		return "SHA2_256"
	case SHA3_256:
		return "SHA3_256"
	default:
		return "HashAlgo(" + strconv.Itoa(int(h)) + ")"
	}
}

func (h HashAlgo) Valid() bool {
	return h == SHA2_256 || h == SHA3_256
}

// ParseSignAlgo accepts the canonical name, a few common aliases, or the numeric code.
func ParseSignAlgo(s string) (SignAlgo, error) {
	switch normalizeAlgoName(s) {
	case "ECDSAP256", "P256", "SECP256R1", "NISTP256", "2":
		return ECDSA_P256, nil
	case "ECDSASECP256K1", "SECP256K1", "3":
		return ECDSA_secp256k1, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedAlgorithmPair, "sign algorithm %q", s)
}

// ParseHashAlgo accepts the canonical name, a few common aliases, or the numeric code.
func ParseHashAlgo(s string) (HashAlgo, error) {
	switch normalizeAlgoName(s) {
	case "SHA2256", "SHA256", "1":
		return SHA2_256, nil
	case "SHA3256", "3":
		return SHA3_256, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedHashAlgorithm, "hash algorithm %q", s)
}

func (a SignAlgo) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, errors.Wrapf(ErrUnsupportedAlgorithmPair, "sign algorithm %d", a)
	}
	return []byte(a.String()), nil
}

func (a *SignAlgo) UnmarshalText(b []byte) error {
	v, err := ParseSignAlgo(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (h HashAlgo) MarshalText() ([]byte, error) {
	if !h.Valid() {
		return nil, errors.Wrapf(ErrUnsupportedHashAlgorithm, "hash algorithm %d", h)
	}
	return []byte(h.String()), nil
}

func (h *HashAlgo) UnmarshalText(b []byte) error {
	v, err := ParseHashAlgo(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

func normalizeAlgoName(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

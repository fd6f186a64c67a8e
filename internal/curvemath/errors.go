package curvemath

import "github.com/cockroachdb/errors"

var (
	ErrUnsupportedAlgorithmPair = errors.New("unsupported algorithm pair")
	ErrUnsupportedHashAlgorithm = errors.New("unsupported hash algorithm")
	ErrInvalidDigestLength      = errors.New("invalid digest length")
	ErrInvalidPrivateKey        = errors.New("invalid private key")
	ErrInvalidPublicKey         = errors.New("invalid public key")
)

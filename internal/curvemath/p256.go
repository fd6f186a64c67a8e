package curvemath

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"math/big"

	"github.com/codahale/rfc6979"
	"github.com/cockroachdb/errors"
)

type p256Curve struct{}

func (p256Curve) Algo() SignAlgo { return ECDSA_P256 }

func (p256Curve) Order() *big.Int { return new(big.Int).Set(elliptic.P256().Params().N) }

func (c p256Curve) ValidPrivateKey(priv []byte) bool {
	_, err := c.privateKey(priv)
	return err == nil
}

func (c p256Curve) PublicKey(priv []byte) ([]byte, error) {
	k, err := c.privateKey(priv)
	if err != nil {
		return nil, err
	}
	out := make([]byte, PublicKeySize)
	k.X.FillBytes(out[:32])
	k.Y.FillBytes(out[32:])
	return out, nil
}

func (c p256Curve) CompressedPublicKey(priv []byte) ([]byte, error) {
	k, err := c.privateKey(priv)
	if err != nil {
		return nil, err
	}
	return elliptic.MarshalCompressed(elliptic.P256(), k.X, k.Y), nil
}

func (p256Curve) ParsePublicKey(pub []byte) ([]byte, error) {
	var full []byte
	switch {
	case len(pub) == PublicKeySize:
		full = append([]byte{0x04}, pub...)
	case len(pub) == PublicKeySize+1 && pub[0] == 0x04:
		full = pub
	case len(pub) == compressedPubLen:
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), pub)
		if x == nil {
			return nil, errors.Wrap(ErrInvalidPublicKey, "p256: point not on curve")
		}
		full = make([]byte, PublicKeySize+1)
		full[0] = 0x04
		x.FillBytes(full[1:33])
		y.FillBytes(full[33:])
	default:
		return nil, errors.Wrapf(ErrInvalidPublicKey, "p256: unexpected length %d", len(pub))
	}

	if _, err := ecdh.P256().NewPublicKey(full); err != nil {
		return nil, errors.Wrap(ErrInvalidPublicKey, "p256: point not on curve")
	}
	return append([]byte(nil), full[1:]...), nil
}

// Sign uses RFC 6979 nonces with HMAC-SHA256 and no low-S normalisation, so the
// output matches the published P-256 test vectors.
func (c p256Curve) Sign(digest, priv []byte) ([]byte, error) {
	if err := checkDigest(digest); err != nil {
		return nil, err
	}
	k, err := c.privateKey(priv)
	if err != nil {
		return nil, err
	}
	defer k.D.SetInt64(0)

	r, s, err := rfc6979.SignECDSA(k, digest, sha256.New)
	if err != nil {
		return nil, errors.Wrap(err, "p256 sign")
	}
	out := make([]byte, SignatureSize)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out, nil
}

func (c p256Curve) Verify(pub, digest, sig []byte) bool {
	if len(digest) != DigestSize || len(sig) != SignatureSize {
		return false
	}
	canon, err := c.ParsePublicKey(pub)
	if err != nil {
		return false
	}
	key := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(canon[:32]),
		Y:     new(big.Int).SetBytes(canon[32:]),
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(key, digest, r, s)
}

func (p256Curve) privateKey(priv []byte) (*ecdsa.PrivateKey, error) {
	if len(priv) != PrivateKeySize {
		return nil, errors.Wrapf(ErrInvalidPrivateKey, "p256: want %d bytes, got %d", PrivateKeySize, len(priv))
	}
	// ecdh rejects zero and scalars >= n.
	ek, err := ecdh.P256().NewPrivateKey(priv)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidPrivateKey, "p256: scalar out of range")
	}
	pub := ek.PublicKey().Bytes()
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(pub[1:33]),
			Y:     new(big.Int).SetBytes(pub[33:]),
		},
		D: new(big.Int).SetBytes(priv),
	}, nil
}

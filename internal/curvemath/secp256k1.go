package curvemath

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
)

type secp256k1Curve struct{}

func (secp256k1Curve) Algo() SignAlgo { return ECDSA_secp256k1 }

func (secp256k1Curve) Order() *big.Int { return new(big.Int).Set(crypto.S256().Params().N) }

func (secp256k1Curve) ValidPrivateKey(priv []byte) bool {
	_, err := crypto.ToECDSA(priv)
	return err == nil
}

func (secp256k1Curve) PublicKey(priv []byte) ([]byte, error) {
	k, err := crypto.ToECDSA(priv)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidPrivateKey, "secp256k1: "+err.Error())
	}
	return crypto.FromECDSAPub(&k.PublicKey)[1:], nil
}

func (secp256k1Curve) CompressedPublicKey(priv []byte) ([]byte, error) {
	k, err := crypto.ToECDSA(priv)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidPrivateKey, "secp256k1: "+err.Error())
	}
	return crypto.CompressPubkey(&k.PublicKey), nil
}

func (secp256k1Curve) ParsePublicKey(pub []byte) ([]byte, error) {
	in := pub
	if len(pub) == PublicKeySize {
		in = append([]byte{0x04}, pub...)
	}
	pk, err := secp256k1.ParsePubKey(in)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPublicKey, "secp256k1: %v", err)
	}
	return pk.SerializeUncompressed()[1:], nil
}

func (secp256k1Curve) Sign(digest, priv []byte) ([]byte, error) {
	if err := checkDigest(digest); err != nil {
		return nil, err
	}
	k, err := crypto.ToECDSA(priv)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidPrivateKey, "secp256k1: "+err.Error())
	}
	defer k.D.SetInt64(0)

	sig, err := crypto.Sign(digest, k)
	if err != nil {
		return nil, errors.Wrap(err, "secp256k1 sign")
	}
	return sig, nil
}

func (c secp256k1Curve) Verify(pub, digest, sig []byte) bool {
	if len(digest) != DigestSize || len(sig) != SignatureSize {
		return false
	}
	canon, err := c.ParsePublicKey(pub)
	if err != nil {
		return false
	}
	return crypto.VerifySignature(append([]byte{0x04}, canon...), digest, sig)
}

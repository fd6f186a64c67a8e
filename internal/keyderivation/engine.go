// Package keyderivation turns seed phrases, raw private keys and bare public
// keys into dual-curve key tuples. Every call is a pure function of its
// explicit inputs.
package keyderivation

import (
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/quantumauth-io/quantum-wallet-core/internal/curvemath"
)

// DefaultPath is the Flow BIP-44 path (coin type 539).
const DefaultPath = "m/44'/539'/0'/0/0"

var (
	ErrInvalidSeed        = errors.New("invalid seed phrase")
	ErrInvalidPath        = errors.New("invalid derivation path")
	ErrInvalidKeyEncoding = errors.New("invalid key encoding")
	ErrInvalidPublicKey   = errors.New("invalid public key")
)

// DerivationInput is the full, explicit input of a seed derivation.
type DerivationInput struct {
	Mnemonic   string
	Path       string // empty selects DefaultPath
	Passphrase string
}

type PrivateKey struct {
	PK []byte `json:"pk"`
}

type PublicKey struct {
	PubK []byte `json:"pubK"`
}

type PrivateKeyTuple struct {
	P256      PrivateKey `json:"P256"`
	SECP256K1 PrivateKey `json:"SECP256K1"`
}

type PublicKeyTuple struct {
	P256      PublicKey `json:"P256"`
	SECP256K1 PublicKey `json:"SECP256K1"`
}

type PublicPrivateKeyTuple struct {
	Private PrivateKeyTuple
	Public  PublicKeyTuple
}

// Key returns the scalar for algo tagged with its curve, so it cannot be fed
// to the other curve by accident.
func (t PrivateKeyTuple) Key(algo curvemath.SignAlgo) (curvemath.PrivateKey, error) {
	var d []byte
	switch algo {
	case curvemath.ECDSA_P256:
		d = t.P256.PK
	case curvemath.ECDSA_secp256k1:
		d = t.SECP256K1.PK
	default:
		return curvemath.PrivateKey{}, errors.Wrapf(curvemath.ErrUnsupportedAlgorithmPair, "sign algorithm %s", algo)
	}
	if len(d) == 0 {
		return curvemath.PrivateKey{}, errors.Newf("no %s private key in tuple", algo)
	}
	return curvemath.PrivateKey{Algo: algo, D: d}, nil
}

// Zero wipes both scalars.
func (t PrivateKeyTuple) Zero() {
	zeroBytes(t.P256.PK)
	zeroBytes(t.SECP256K1.PK)
}

func (t PublicKeyTuple) Key(algo curvemath.SignAlgo) []byte {
	switch algo {
	case curvemath.ECDSA_P256:
		return t.P256.PubK
	case curvemath.ECDSA_secp256k1:
		return t.SECP256K1.PubK
	}
	return nil
}

// DeriveFromSeed derives one key per curve from the same mnemonic, path and
// passphrase.
func DeriveFromSeed(in DerivationInput) (PublicPrivateKeyTuple, error) {
	mnemonic := strings.Join(strings.Fields(in.Mnemonic), " ")
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, in.Passphrase)
	if err != nil {
		return PublicPrivateKeyTuple{}, errors.Wrap(ErrInvalidSeed, err.Error())
	}
	defer zeroBytes(seed)

	path, err := ParsePath(in.Path)
	if err != nil {
		return PublicPrivateKeyTuple{}, err
	}

	var out PublicPrivateKeyTuple
	for _, algo := range []curvemath.SignAlgo{curvemath.ECDSA_P256, curvemath.ECDSA_secp256k1} {
		curve, err := curvemath.CurveFor(algo)
		if err != nil {
			return PublicPrivateKeyTuple{}, err
		}
		priv, err := derivePath(curve, seed, path)
		if err != nil {
			out.Private.Zero()
			return PublicPrivateKeyTuple{}, err
		}
		pub, err := curve.PublicKey(priv)
		if err != nil {
			zeroBytes(priv)
			out.Private.Zero()
			return PublicPrivateKeyTuple{}, err
		}
		out.set(algo, priv, pub)
	}
	return out, nil
}

// DeriveFromPrivateKey treats the same 32 bytes as an independent scalar on
// each curve. The scalar must be valid on both.
func DeriveFromPrivateKey(pk []byte) (PublicPrivateKeyTuple, error) {
	if len(pk) != curvemath.PrivateKeySize {
		return PublicPrivateKeyTuple{}, errors.Wrapf(ErrInvalidKeyEncoding, "want %d bytes, got %d", curvemath.PrivateKeySize, len(pk))
	}

	var out PublicPrivateKeyTuple
	for _, algo := range []curvemath.SignAlgo{curvemath.ECDSA_P256, curvemath.ECDSA_secp256k1} {
		curve, err := curvemath.CurveFor(algo)
		if err != nil {
			return PublicPrivateKeyTuple{}, err
		}
		pub, err := curve.PublicKey(pk)
		if err != nil {
			out.Private.Zero()
			return PublicPrivateKeyTuple{}, errors.Wrapf(ErrInvalidKeyEncoding, "scalar not valid on %s", algo)
		}
		out.set(algo, append([]byte(nil), pk...), pub)
	}
	return out, nil
}

// DeriveFromPrivateKeyHex is DeriveFromPrivateKey over a hex string with an
// optional 0x prefix.
func DeriveFromPrivateKeyHex(s string) (PublicPrivateKeyTuple, error) {
	b, err := decodeHex(s)
	if err != nil {
		return PublicPrivateKeyTuple{}, err
	}
	defer zeroBytes(b)
	return DeriveFromPrivateKey(b)
}

// DerivePublicOnly wraps a single known public key into the tuple shape. The
// key is placed on every curve it is a valid point of; it must be valid on at
// least one.
func DerivePublicOnly(pub []byte) (PublicKeyTuple, error) {
	var out PublicKeyTuple
	found := false
	for _, algo := range []curvemath.SignAlgo{curvemath.ECDSA_P256, curvemath.ECDSA_secp256k1} {
		curve, err := curvemath.CurveFor(algo)
		if err != nil {
			return PublicKeyTuple{}, err
		}
		canon, err := curve.ParsePublicKey(pub)
		if err != nil {
			continue
		}
		found = true
		switch algo {
		case curvemath.ECDSA_P256:
			out.P256.PubK = canon
		case curvemath.ECDSA_secp256k1:
			out.SECP256K1.PubK = canon
		}
	}
	if !found {
		return PublicKeyTuple{}, errors.Wrap(ErrInvalidPublicKey, "point is not on a supported curve")
	}
	return out, nil
}

// DerivePublicOnlyFor pins the curve instead of detecting it.
func DerivePublicOnlyFor(algo curvemath.SignAlgo, pub []byte) (PublicKeyTuple, error) {
	curve, err := curvemath.CurveFor(algo)
	if err != nil {
		return PublicKeyTuple{}, err
	}
	canon, err := curve.ParsePublicKey(pub)
	if err != nil {
		return PublicKeyTuple{}, errors.Wrapf(ErrInvalidPublicKey, "not a %s point", algo)
	}
	var out PublicKeyTuple
	if algo == curvemath.ECDSA_P256 {
		out.P256.PubK = canon
	} else {
		out.SECP256K1.PubK = canon
	}
	return out, nil
}

func DerivePublicOnlyHex(s string) (PublicKeyTuple, error) {
	b, err := decodeHex(s)
	if err != nil {
		return PublicKeyTuple{}, err
	}
	return DerivePublicOnly(b)
}

// ParsePath parses an absolute BIP-32 path. An empty path selects DefaultPath.
func ParsePath(p string) (accounts.DerivationPath, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		p = DefaultPath
	}
	if !strings.HasPrefix(p, "m/") && p != "m" {
		return nil, errors.Wrapf(ErrInvalidPath, "%q is not absolute", p)
	}
	path, err := accounts.ParseDerivationPath(p)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPath, "%q: %v", p, err)
	}
	return path, nil
}

// GenerateMnemonic returns a fresh BIP-39 mnemonic with bits of entropy
// (128 for 12 words, 256 for 24).
func GenerateMnemonic(bits int) (string, error) {
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", errors.Wrap(err, "mnemonic entropy")
	}
	defer zeroBytes(entropy)
	m, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", errors.Wrap(err, "mnemonic")
	}
	return m, nil
}

// ValidMnemonic reports whether the phrase passes the BIP-39 wordlist checksum.
func ValidMnemonic(m string) bool {
	return bip39.IsMnemonicValid(strings.Join(strings.Fields(m), " "))
}

// EVMAddress returns the Ethereum-style address of a canonical secp256k1
// public key.
func EVMAddress(pub []byte) (common.Address, error) {
	curve, err := curvemath.CurveFor(curvemath.ECDSA_secp256k1)
	if err != nil {
		return common.Address{}, err
	}
	canon, err := curve.ParsePublicKey(pub)
	if err != nil {
		return common.Address{}, errors.Wrap(ErrInvalidPublicKey, "not a secp256k1 point")
	}
	return common.BytesToAddress(crypto.Keccak256(canon)[12:]), nil
}

func (t *PublicPrivateKeyTuple) set(algo curvemath.SignAlgo, priv, pub []byte) {
	switch algo {
	case curvemath.ECDSA_P256:
		t.Private.P256.PK = priv
		t.Public.P256.PubK = pub
	case curvemath.ECDSA_secp256k1:
		t.Private.SECP256K1.PK = priv
		t.Public.SECP256K1.PubK = pub
	}
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, errors.Wrap(ErrInvalidKeyEncoding, "empty hex")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKeyEncoding, err.Error())
	}
	return b, nil
}

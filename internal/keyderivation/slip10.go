package keyderivation

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/accounts"

	"github.com/quantumauth-io/quantum-wallet-core/internal/curvemath"
)

// hardenedOffset is the first hardened child index (BIP-32), the same value
// accounts.ParseDerivationPath adds for a trailing '.
const hardenedOffset = 0x80000000

// SLIP-10 master-key HMAC keys.
var masterSeedKeys = map[curvemath.SignAlgo][]byte{
	curvemath.ECDSA_secp256k1: []byte("Bitcoin seed"),
	curvemath.ECDSA_P256:      []byte("Nist256p1 seed"),
}

type extendedKey struct {
	key       []byte
	chainCode []byte
}

func (k *extendedKey) zero() {
	zeroBytes(k.key)
	zeroBytes(k.chainCode)
}

func hmacSHA512(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha512.New, key)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// masterKey derives the SLIP-10 root. An out-of-range IL is retried by
// re-hashing the full HMAC output.
func masterKey(curve curvemath.Curve, seed []byte) extendedKey {
	hmacKey := masterSeedKeys[curve.Algo()]
	I := hmacSHA512(hmacKey, seed)
	for !curve.ValidPrivateKey(I[:32]) {
		next := hmacSHA512(hmacKey, I)
		zeroBytes(I)
		I = next
	}
	return extendedKey{key: I[:32], chainCode: I[32:]}
}

func childKey(curve curvemath.Curve, parent extendedKey, index uint32) (extendedKey, error) {
	var data []byte
	if index >= hardenedOffset {
		data = make([]byte, 0, 37)
		data = append(data, 0x00)
		data = append(data, parent.key...)
	} else {
		pub, err := curve.CompressedPublicKey(parent.key)
		if err != nil {
			return extendedKey{}, err
		}
		data = append(make([]byte, 0, 37), pub...)
	}
	data = binary.BigEndian.AppendUint32(data, index)

	n := curve.Order()
	kpar := new(big.Int).SetBytes(parent.key)
	for {
		I := hmacSHA512(parent.chainCode, data)
		IL, IR := I[:32], I[32:]

		il := new(big.Int).SetBytes(IL)
		if il.Cmp(n) < 0 {
			ki := il.Add(il, kpar)
			ki.Mod(ki, n)
			if ki.Sign() != 0 {
				return extendedKey{key: ki.FillBytes(make([]byte, 32)), chainCode: IR}, nil
			}
		}
		// SLIP-10: retry with 0x01 || IR || ser32(i)
		data = data[:0]
		data = append(data, 0x01)
		data = append(data, IR...)
		data = binary.BigEndian.AppendUint32(data, index)
	}
}

// derivePath walks a parsed BIP-32 path from the seed's master node.
func derivePath(curve curvemath.Curve, seed []byte, path accounts.DerivationPath) ([]byte, error) {
	node := masterKey(curve, seed)
	for _, idx := range path {
		next, err := childKey(curve, node, idx)
		node.zero()
		if err != nil {
			return nil, errors.Wrapf(err, "derive child %d", idx)
		}
		node = next
	}
	zeroBytes(node.chainCode)
	return node.key, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

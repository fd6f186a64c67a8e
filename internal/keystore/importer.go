// Package keystore imports Web3 secret-storage (V3) keystore documents.
package keystore

import (
	"encoding/hex"
	"encoding/json"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"golang.org/x/crypto/scrypt"
)

// ErrKeystoreDecryptionFailed is the only error ImportJSON returns. Wrong
// passwords, corrupt ciphertext and malformed documents are not distinguished.
var ErrKeystoreDecryptionFailed = errors.New("keystore decryption failed")

const (
	scryptR     = 8
	scryptDKLen = 32

	v3Version = 3
	v3Cipher  = "aes-128-ctr"
)

// Importer decrypts keystore documents.
type Importer struct {
	dummyN int
	dummyP int

	burns atomic.Int64
}

type Option func(*Importer)

// WithDummyScrypt sets the cost of the KDF run for documents that fail before
// reaching their own KDF. Production should keep the standard parameters.
func WithDummyScrypt(n, p int) Option {
	return func(i *Importer) {
		i.dummyN = n
		i.dummyP = p
	}
}

func NewImporter(opts ...Option) *Importer {
	i := &Importer{
		dummyN: gethkeystore.StandardScryptN,
		dummyP: gethkeystore.StandardScryptP,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// ImportJSON decrypts blob with password and returns the 32-byte private key.
func (i *Importer) ImportJSON(blob []byte, password string) ([]byte, error) {
	// Documents that cannot reach their own KDF pay for a dummy one. Once the
	// KDF has run every failure returns as is.
	if !reachesKDF(blob) {
		i.burnKDF(password)
		return nil, ErrKeystoreDecryptionFailed
	}

	key, err := gethkeystore.DecryptKey(blob, password)
	if err != nil {
		return nil, ErrKeystoreDecryptionFailed
	}

	raw := crypto.FromECDSA(key.PrivateKey)
	key.PrivateKey.D.SetInt64(0)
	if len(raw) != 32 {
		return nil, ErrKeystoreDecryptionFailed
	}
	return raw, nil
}

type v3Document struct {
	Version int                     `json:"version"`
	ID      string                  `json:"id"`
	Crypto  gethkeystore.CryptoJSON `json:"crypto"`
}

// reachesKDF reports whether decryption of blob gets as far as key
// derivation.
func reachesKDF(blob []byte) bool {
	var doc v3Document
	if err := json.Unmarshal(blob, &doc); err != nil {
		return false
	}
	if doc.Version != v3Version || doc.Crypto.Cipher != v3Cipher {
		return false
	}
	if _, err := uuid.Parse(doc.ID); err != nil {
		return false
	}
	for _, h := range []string{doc.Crypto.MAC, doc.Crypto.CipherParams.IV, doc.Crypto.CipherText} {
		if _, err := hex.DecodeString(h); err != nil {
			return false
		}
	}
	return kdfParamsUsable(doc.Crypto.KDF, doc.Crypto.KDFParams)
}

func kdfParamsUsable(kdf string, params map[string]any) bool {
	salt, ok := params["salt"].(string)
	if !ok {
		return false
	}
	if _, err := hex.DecodeString(salt); err != nil {
		return false
	}
	// the MAC reads bytes 16..32 of the derived key
	if dkLen, ok := intParam(params, "dklen"); !ok || dkLen < 32 {
		return false
	}

	switch kdf {
	case "scrypt":
		n, okN := intParam(params, "n")
		r, okR := intParam(params, "r")
		p, okP := intParam(params, "p")
		return okN && okR && okP && n > 1 && n&(n-1) == 0 && r > 0 && p > 0
	case "pbkdf2":
		c, ok := intParam(params, "c")
		return ok && c > 0 && params["prf"] == "hmac-sha256"
	default:
		return false
	}
}

func intParam(params map[string]any, name string) (int, bool) {
	f, ok := params[name].(float64)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func (i *Importer) burnKDF(password string) {
	i.burns.Add(1)
	salt := make([]byte, 32)
	out, err := scrypt.Key([]byte(password), salt, i.dummyN, scryptR, i.dummyP, scryptDKLen)
	if err == nil {
		for j := range out {
			out[j] = 0
		}
	}
}

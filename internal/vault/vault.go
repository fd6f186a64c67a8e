// Package vault keeps account metadata in a plain index and each account's
// signing secret in its own password-sealed file. Secrets are only decrypted
// for the duration of a single WithPrivateKey call.
package vault

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/quantumauth-io/quantum-wallet-core/internal/constants"
	"github.com/quantumauth-io/quantum-wallet-core/internal/curvemath"
	"github.com/quantumauth-io/quantum-wallet-core/internal/keyderivation"
	"github.com/quantumauth-io/quantum-wallet-core/internal/securefile"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrDuplicateAccount = errors.New("account already exists")
	ErrWatchOnly        = errors.New("account has no private key")
	ErrSecretMismatch   = errors.New("stored secret does not match account public key")
)

type Source string

const (
	SourceMnemonic   Source = "mnemonic"
	SourcePrivateKey Source = "privateKey"
	SourceKeystore   Source = "keystore"
	SourceWatchOnly  Source = "watchOnly"
)

type Account struct {
	ID        string             `json:"id"`
	Address   string             `json:"address"`
	KeyIndex  int                `json:"keyIndex"`
	SignAlgo  curvemath.SignAlgo `json:"signAlgo"`
	HashAlgo  curvemath.HashAlgo `json:"hashAlgo"`
	PublicKey string             `json:"publicKey"`
	Source    Source             `json:"source"`
	Label     string             `json:"label,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

func (a Account) WatchOnly() bool { return a.Source == SourceWatchOnly }

// IsEVM reports whether the address is a 20-byte EVM address rather than an
// 8-byte Flow address.
func (a Account) IsEVM() bool {
	return len(strings.TrimPrefix(a.Address, "0x")) == 40
}

// Secret is the sealed part of an account. Exactly one of Mnemonic or
// PrivateKey is set.
type Secret struct {
	Mnemonic   string `json:"mnemonic,omitempty"`
	Path       string `json:"path,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
	PrivateKey string `json:"privateKey,omitempty"`
}

type index struct {
	Schema   int       `json:"schema"`
	Accounts []Account `json:"accounts"`
}

type Vault struct {
	mu       sync.RWMutex
	dir      string
	opts     securefile.Options
	accounts []Account
}

// Open loads the account index under dir. A missing index is an empty vault.
func Open(dir string, opts ...securefile.Options) (*Vault, error) {
	v := &Vault{dir: dir}
	if len(opts) > 0 {
		v.opts = opts[0]
	}

	idx, err := securefile.ReadJSON[index](v.indexPath())
	switch {
	case err == nil:
		v.accounts = idx.Accounts
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, errors.Wrap(err, "load account index")
	}
	return v, nil
}

func (v *Vault) Accounts() []Account {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]Account(nil), v.accounts...)
}

// Lookup finds an account by address. keyIndex < 0 matches any key index.
func (v *Vault) Lookup(address string, keyIndex int) (Account, error) {
	want := NormalizeAddress(address)
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, a := range v.accounts {
		if a.Address == want && (keyIndex < 0 || a.KeyIndex == keyIndex) {
			return a, nil
		}
	}
	return Account{}, errors.Wrapf(ErrAccountNotFound, "%s", address)
}

// Add stores a new account and, unless it is watch-only, its sealed secret.
func (v *Vault) Add(acct Account, secret *Secret, password []byte) (Account, error) {
	if !acct.SignAlgo.Valid() {
		return Account{}, errors.Wrapf(curvemath.ErrUnsupportedAlgorithmPair, "sign algorithm %s", acct.SignAlgo)
	}
	if !acct.HashAlgo.Valid() {
		return Account{}, errors.Wrapf(curvemath.ErrUnsupportedHashAlgorithm, "hash algorithm %s", acct.HashAlgo)
	}
	acct.Address = NormalizeAddress(acct.Address)
	if acct.Address == "0x" {
		return Account{}, errors.New("account address is required")
	}
	if (secret == nil) != acct.WatchOnly() {
		return Account{}, errors.New("a secret is required unless the account is watch-only")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, a := range v.accounts {
		if a.Address == acct.Address && a.KeyIndex == acct.KeyIndex {
			return Account{}, errors.Wrapf(ErrDuplicateAccount, "%s/%d", acct.Address, acct.KeyIndex)
		}
	}

	acct.ID = uuid.NewString()
	acct.CreatedAt = time.Now().UTC()

	if secret != nil {
		if err := securefile.WriteEncryptedJSON(v.secretPath(acct.ID), *secret, password, v.secretOpts(acct.ID)); err != nil {
			return Account{}, errors.Wrap(err, "seal account secret")
		}
	}

	next := append(append([]Account(nil), v.accounts...), acct)
	if err := v.persist(next); err != nil {
		_ = os.Remove(v.secretPath(acct.ID))
		return Account{}, err
	}
	v.accounts = next
	return acct, nil
}

func (v *Vault) Remove(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	next := make([]Account, 0, len(v.accounts))
	found := false
	for _, a := range v.accounts {
		if a.ID == id {
			found = true
			continue
		}
		next = append(next, a)
	}
	if !found {
		return errors.Wrapf(ErrAccountNotFound, "id %s", id)
	}
	if err := v.persist(next); err != nil {
		return err
	}
	v.accounts = next
	if err := os.Remove(v.secretPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove account secret")
	}
	return nil
}

// WithPrivateKey unseals the account's secret, derives its curve-tagged key and
// hands it to fn. The key is wiped when fn returns.
func (v *Vault) WithPrivateKey(acct Account, password []byte, fn func(curvemath.PrivateKey) error) error {
	if acct.WatchOnly() {
		return errors.Wrapf(ErrWatchOnly, "%s", acct.Address)
	}

	secret, err := securefile.ReadEncryptedJSON[Secret](v.secretPath(acct.ID), password, v.secretOpts(acct.ID))
	if err != nil {
		return err
	}

	key, err := secret.key(acct.SignAlgo)
	if err != nil {
		return err
	}
	defer key.Zero()

	curve, err := curvemath.CurveFor(acct.SignAlgo)
	if err != nil {
		return err
	}
	pub, err := curve.PublicKey(key.D)
	if err != nil {
		return err
	}
	if want, _ := hex.DecodeString(acct.PublicKey); !bytes.Equal(pub, want) {
		return ErrSecretMismatch
	}
	return fn(key)
}

func (s Secret) key(algo curvemath.SignAlgo) (curvemath.PrivateKey, error) {
	switch {
	case s.Mnemonic != "":
		tuple, err := keyderivation.DeriveFromSeed(keyderivation.DerivationInput{
			Mnemonic:   s.Mnemonic,
			Path:       s.Path,
			Passphrase: s.Passphrase,
		})
		if err != nil {
			return curvemath.PrivateKey{}, err
		}
		k, err := tuple.Private.Key(algo)
		if err != nil {
			tuple.Private.Zero()
			return curvemath.PrivateKey{}, err
		}
		// keep only the requested curve's scalar alive
		out := curvemath.PrivateKey{Algo: algo, D: append([]byte(nil), k.D...)}
		tuple.Private.Zero()
		return out, nil

	case s.PrivateKey != "":
		d, err := hex.DecodeString(strings.TrimPrefix(s.PrivateKey, "0x"))
		if err != nil || len(d) != curvemath.PrivateKeySize {
			return curvemath.PrivateKey{}, errors.Wrap(keyderivation.ErrInvalidKeyEncoding, "stored private key")
		}
		return curvemath.PrivateKey{Algo: algo, D: d}, nil
	}
	return curvemath.PrivateKey{}, errors.New("empty account secret")
}

func (v *Vault) persist(accounts []Account) error {
	idx := index{Schema: constants.SchemaV1, Accounts: accounts}
	if err := securefile.WriteJSON(v.indexPath(), idx, constants.FilePerm, constants.DirectoryPerm); err != nil {
		return errors.Wrap(err, "write account index")
	}
	return nil
}

func (v *Vault) secretOpts(id string) securefile.Options {
	o := v.opts
	o.AAD = []byte(constants.SecretAADPrefix + id)
	return o
}

func (v *Vault) indexPath() string {
	return filepath.Join(v.dir, constants.AccountsFile)
}

func (v *Vault) secretPath(id string) string {
	return filepath.Join(v.dir, constants.SecretsDir, id+".json")
}

// NormalizeAddress lowercases and 0x-prefixes an address.
func NormalizeAddress(a string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	return "0x" + strings.TrimPrefix(a, "0x")
}

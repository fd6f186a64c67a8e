package wallet

import (
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/quantum-wallet-core/internal/curvemath"
	"github.com/quantumauth-io/quantum-wallet-core/internal/keyderivation"
	"github.com/quantumauth-io/quantum-wallet-core/internal/vault"
)

// ImportOptions describe the account a key is registered under. Address may
// be empty for secp256k1 keys, in which case the EVM address is used.
type ImportOptions struct {
	Address  string
	KeyIndex int
	SignAlgo curvemath.SignAlgo
	HashAlgo curvemath.HashAlgo
	Label    string
	// Password seals the account secret in the vault.
	Password []byte
}

func (w *Wallet) ImportMnemonic(in keyderivation.DerivationInput, opts ImportOptions) (vault.Account, error) {
	if _, err := keyderivation.ParsePath(in.Path); err != nil {
		return vault.Account{}, err
	}
	tuple, err := keyderivation.DeriveFromSeed(in)
	if err != nil {
		return vault.Account{}, err
	}
	defer tuple.Private.Zero()

	path := strings.TrimSpace(in.Path)
	if path == "" {
		path = keyderivation.DefaultPath
	}
	secret := &vault.Secret{Mnemonic: in.Mnemonic, Path: path, Passphrase: in.Passphrase}
	return w.register(tuple.Public, vault.SourceMnemonic, secret, opts)
}

func (w *Wallet) ImportPrivateKey(hexKey string, opts ImportOptions) (vault.Account, error) {
	tuple, err := keyderivation.DeriveFromPrivateKeyHex(hexKey)
	if err != nil {
		return vault.Account{}, err
	}
	defer tuple.Private.Zero()

	return w.register(tuple.Public, vault.SourcePrivateKey, &vault.Secret{PrivateKey: encodeKey(tuple, opts.SignAlgo)}, opts)
}

// ImportKeystore decrypts a V3 keystore with keystorePassword and stores the
// key sealed with opts.Password.
func (w *Wallet) ImportKeystore(blob []byte, keystorePassword string, opts ImportOptions) (vault.Account, error) {
	raw, err := w.importer.ImportJSON(blob, keystorePassword)
	if err != nil {
		return vault.Account{}, err
	}
	defer zero(raw)

	tuple, err := keyderivation.DeriveFromPrivateKey(raw)
	if err != nil {
		return vault.Account{}, err
	}
	defer tuple.Private.Zero()

	return w.register(tuple.Public, vault.SourceKeystore, &vault.Secret{PrivateKey: encodeKey(tuple, opts.SignAlgo)}, opts)
}

// ImportPublicKey registers a watch-only account. Signing with it fails with
// vault.ErrWatchOnly.
func (w *Wallet) ImportPublicKey(hexPub string, opts ImportOptions) (vault.Account, error) {
	pub, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexPub), "0x"))
	if err != nil {
		return vault.Account{}, errors.Wrap(keyderivation.ErrInvalidKeyEncoding, err.Error())
	}
	tuple, err := keyderivation.DerivePublicOnlyFor(opts.SignAlgo, pub)
	if err != nil {
		return vault.Account{}, err
	}
	opts.Password = nil
	return w.register(tuple, vault.SourceWatchOnly, nil, opts)
}

func (w *Wallet) register(pub keyderivation.PublicKeyTuple, src vault.Source, secret *vault.Secret, opts ImportOptions) (vault.Account, error) {
	if !opts.SignAlgo.Valid() {
		return vault.Account{}, errors.Wrapf(curvemath.ErrUnsupportedAlgorithmPair, "sign algorithm %s", opts.SignAlgo)
	}
	if opts.HashAlgo == 0 {
		opts.HashAlgo = curvemath.SHA3_256
	}

	pk := pub.Key(opts.SignAlgo)
	if len(pk) == 0 {
		return vault.Account{}, errors.Wrapf(keyderivation.ErrInvalidPublicKey, "no %s public key", opts.SignAlgo)
	}

	address := opts.Address
	if strings.TrimSpace(address) == "" {
		if opts.SignAlgo != curvemath.ECDSA_secp256k1 {
			return vault.Account{}, errors.New("an account address is required for P-256 keys")
		}
		evm, err := keyderivation.EVMAddress(pk)
		if err != nil {
			return vault.Account{}, err
		}
		address = evm.Hex()
	}

	return w.vault.Add(vault.Account{
		Address:   address,
		KeyIndex:  opts.KeyIndex,
		SignAlgo:  opts.SignAlgo,
		HashAlgo:  opts.HashAlgo,
		PublicKey: hex.EncodeToString(pk),
		Source:    src,
		Label:     opts.Label,
	}, secret, opts.Password)
}

func encodeKey(tuple keyderivation.PublicPrivateKeyTuple, algo curvemath.SignAlgo) string {
	k, err := tuple.Private.Key(algo)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(k.D)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

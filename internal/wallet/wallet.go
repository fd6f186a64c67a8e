// Package wallet signs approved requests with accounts held in the vault.
package wallet

import (
	"context"
	"encoding/hex"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/accounts"

	"github.com/quantumauth-io/quantum-wallet-core/internal/approval"
	"github.com/quantumauth-io/quantum-wallet-core/internal/curvemath"
	"github.com/quantumauth-io/quantum-wallet-core/internal/keyderivation"
	"github.com/quantumauth-io/quantum-wallet-core/internal/keystore"
	"github.com/quantumauth-io/quantum-wallet-core/internal/securefile"
	"github.com/quantumauth-io/quantum-wallet-core/internal/signature"
	"github.com/quantumauth-io/quantum-wallet-core/internal/typeddata"
	"github.com/quantumauth-io/quantum-wallet-core/internal/vault"
)

var ErrEVMKeyRequired = errors.New("evm signing requires a secp256k1 account")

type Wallet struct {
	vault    *vault.Vault
	importer *keystore.Importer
}

func New(v *vault.Vault, importer *keystore.Importer) *Wallet {
	if importer == nil {
		importer = keystore.NewImporter()
	}
	return &Wallet{vault: v, importer: importer}
}

func (w *Wallet) Accounts() []AccountInfo {
	accts := w.vault.Accounts()
	out := make([]AccountInfo, 0, len(accts))
	for _, a := range accts {
		out = append(out, AccountInfo{
			Address:   a.Address,
			KeyIndex:  a.KeyIndex,
			SignAlgo:  a.SignAlgo,
			HashAlgo:  a.HashAlgo,
			PublicKey: a.PublicKey,
			Label:     a.Label,
			WatchOnly: a.WatchOnly(),
		})
	}
	return out
}

// Approve implements approval.Signer.
func (w *Wallet) Approve(ctx context.Context, req approval.Request, d approval.Decision) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		out any
		err error
	)
	switch req.Kind {
	case approval.KindConnect:
		out = ConnectResult{Accounts: w.Accounts()}
	case approval.KindSignMessage:
		out, err = w.signMessage(req, d.Secret)
	case approval.KindSignTransaction:
		out, err = w.signTransaction(req, d.Secret)
	case approval.KindSignTypedData:
		out, err = w.signTypedData(req, d.Secret)
	default:
		err = errors.Wrapf(ErrInvalidPayload, "unsupported kind %q", req.Kind)
	}
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// Preview implements approval.Previewer. It decodes the payload and resolves
// the account without touching key material.
func (w *Wallet) Preview(_ context.Context, req approval.Request) (any, error) {
	switch req.Kind {
	case approval.KindConnect:
		return Preview{Accounts: w.Accounts()}, nil

	case approval.KindSignMessage:
		p, err := decodePayload[signMessagePayload](req.Payload)
		if err != nil {
			return nil, err
		}
		acct, err := w.vault.Lookup(p.Address, p.keyIndex())
		if err != nil {
			return nil, err
		}
		msg, err := decodeHexField("message", p.Message)
		if err != nil {
			return nil, err
		}
		return Preview{Address: acct.Address, KeyIndex: acct.KeyIndex, Text: displayText(msg), Hex: hex.EncodeToString(msg)}, nil

	case approval.KindSignTransaction:
		p, err := decodePayload[signTransactionPayload](req.Payload)
		if err != nil {
			return nil, err
		}
		acct, err := w.vault.Lookup(p.Address, p.keyIndex())
		if err != nil {
			return nil, err
		}
		payload, err := decodeHexField("payload", p.Payload)
		if err != nil {
			return nil, err
		}
		return Preview{Address: acct.Address, KeyIndex: acct.KeyIndex, Hex: hex.EncodeToString(payload)}, nil

	case approval.KindSignTypedData:
		p, err := decodePayload[signTypedDataPayload](req.Payload)
		if err != nil {
			return nil, err
		}
		acct, err := w.vault.Lookup(p.Address, p.keyIndex())
		if err != nil {
			return nil, err
		}
		doc, err := typeddata.Parse(p.TypedData)
		if err != nil {
			return nil, err
		}
		digest, err := typeddata.Hash(doc)
		if err != nil {
			return nil, err
		}
		return Preview{
			Address:     acct.Address,
			KeyIndex:    acct.KeyIndex,
			PrimaryType: doc.PrimaryType,
			Domain:      doc.Domain,
			Digest:      "0x" + hex.EncodeToString(digest[:]),
		}, nil
	}
	return nil, errors.Wrapf(ErrInvalidPayload, "unsupported kind %q", req.Kind)
}

func (w *Wallet) signMessage(req approval.Request, password []byte) (CompositeSignature, error) {
	p, err := decodePayload[signMessagePayload](req.Payload)
	if err != nil {
		return CompositeSignature{}, err
	}
	acct, err := w.vault.Lookup(p.Address, p.keyIndex())
	if err != nil {
		return CompositeSignature{}, err
	}
	msg, err := decodeHexField("message", p.Message)
	if err != nil {
		return CompositeSignature{}, err
	}

	if acct.IsEVM() {
		return w.signEVMDigest(acct, accounts.TextHash(msg), password)
	}

	var sig []byte
	err = w.vault.WithPrivateKey(acct, password, func(k curvemath.PrivateKey) error {
		sig, err = signature.SignMessageWithDomainTag(msg, k, acct.HashAlgo)
		return err
	})
	if err != nil {
		return CompositeSignature{}, err
	}
	return newCompositeSignature(acct, sig), nil
}

func (w *Wallet) signTransaction(req approval.Request, password []byte) (CompositeSignature, error) {
	p, err := decodePayload[signTransactionPayload](req.Payload)
	if err != nil {
		return CompositeSignature{}, err
	}
	acct, err := w.vault.Lookup(p.Address, p.keyIndex())
	if err != nil {
		return CompositeSignature{}, err
	}
	payload, err := decodeHexField("payload", p.Payload)
	if err != nil {
		return CompositeSignature{}, err
	}

	var sig []byte
	err = w.vault.WithPrivateKey(acct, password, func(k curvemath.PrivateKey) error {
		if p.WithDomainTag {
			sig, err = signature.SignWithTag(signature.TransactionDomainTag, payload, k, acct.HashAlgo)
			return err
		}
		sig, err = signature.Sign(signature.Request{
			Payload:  payload,
			SignAlgo: acct.SignAlgo,
			HashAlgo: acct.HashAlgo,
		}, k)
		return err
	})
	if err != nil {
		return CompositeSignature{}, err
	}
	return newCompositeSignature(acct, sig), nil
}

func (w *Wallet) signTypedData(req approval.Request, password []byte) (CompositeSignature, error) {
	p, err := decodePayload[signTypedDataPayload](req.Payload)
	if err != nil {
		return CompositeSignature{}, err
	}
	acct, err := w.vault.Lookup(p.Address, p.keyIndex())
	if err != nil {
		return CompositeSignature{}, err
	}
	doc, err := typeddata.Parse(p.TypedData)
	if err != nil {
		return CompositeSignature{}, err
	}
	digest, err := typeddata.Hash(doc)
	if err != nil {
		return CompositeSignature{}, err
	}
	return w.signEVMDigest(acct, digest[:], password)
}

// signEVMDigest signs a 32-byte digest and returns r||s||v with v in {27,28}.
func (w *Wallet) signEVMDigest(acct vault.Account, digest, password []byte) (CompositeSignature, error) {
	if acct.SignAlgo != curvemath.ECDSA_secp256k1 {
		return CompositeSignature{}, errors.Wrapf(ErrEVMKeyRequired, "%s uses %s", acct.Address, acct.SignAlgo)
	}

	var sig []byte
	err := w.vault.WithPrivateKey(acct, password, func(k curvemath.PrivateKey) error {
		raw, err := signature.Sign(signature.Request{
			Payload:           digest,
			SignAlgo:          curvemath.ECDSA_secp256k1,
			IsPrehashed:       true,
			IncludeRecoveryID: true,
		}, k)
		if err != nil {
			return err
		}
		sig, err = signature.ToEthereumV(raw)
		return err
	})
	if err != nil {
		return CompositeSignature{}, err
	}
	return newCompositeSignature(acct, sig), nil
}

// classify marks errors the user can fix from the consent UI.
func classify(err error) error {
	switch {
	case errors.Is(err, securefile.ErrInvalidPasswordOrCorrupt),
		errors.Is(err, securefile.ErrEmptyPassword),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrEVMKeyRequired),
		errors.Is(err, vault.ErrAccountNotFound),
		errors.Is(err, vault.ErrWatchOnly),
		errors.Is(err, typeddata.ErrInvalidTypedData),
		errors.Is(err, typeddata.ErrUnknownPrimaryType),
		errors.Is(err, typeddata.ErrUnresolvedFieldType),
		errors.Is(err, keyderivation.ErrInvalidSeed),
		errors.Is(err, keystore.ErrKeystoreDecryptionFailed),
		errors.Is(err, curvemath.ErrInvalidDigestLength):
		return approval.InputError(err)
	}
	return err
}

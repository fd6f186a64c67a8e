package wallet

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/quantumauth-io/quantum-wallet-core/internal/curvemath"
	"github.com/quantumauth-io/quantum-wallet-core/internal/vault"
)

var ErrInvalidPayload = errors.New("invalid request payload")

// accountRef selects the signing account. A nil KeyIndex matches any key.
type accountRef struct {
	Address  string `json:"address"`
	KeyIndex *int   `json:"keyIndex,omitempty"`
}

func (r accountRef) keyIndex() int {
	if r.KeyIndex == nil {
		return -1
	}
	return *r.KeyIndex
}

type signMessagePayload struct {
	accountRef
	Message string `json:"message"` // hex
}

type signTransactionPayload struct {
	accountRef
	Payload       string `json:"payload"` // hex
	WithDomainTag bool   `json:"withDomainTag,omitempty"`
}

type signTypedDataPayload struct {
	accountRef
	TypedData json.RawMessage `json:"typedData"`
}

// CompositeSignature identifies which account key produced a signature.
type CompositeSignature struct {
	Address   string `json:"address"`
	KeyIndex  int    `json:"keyIndex"`
	Signature string `json:"signature"`
}

func newCompositeSignature(acct vault.Account, sig []byte) CompositeSignature {
	return CompositeSignature{
		Address:   acct.Address,
		KeyIndex:  acct.KeyIndex,
		Signature: hex.EncodeToString(sig),
	}
}

type AccountInfo struct {
	Address   string             `json:"address"`
	KeyIndex  int                `json:"keyIndex"`
	SignAlgo  curvemath.SignAlgo `json:"signAlgo"`
	HashAlgo  curvemath.HashAlgo `json:"hashAlgo"`
	PublicKey string             `json:"publicKey"`
	Label     string             `json:"label,omitempty"`
	WatchOnly bool               `json:"watchOnly,omitempty"`
}

type ConnectResult struct {
	Accounts []AccountInfo `json:"accounts"`
}

// Preview is what the consent UI shows for a request.
type Preview struct {
	Address     string         `json:"address,omitempty"`
	KeyIndex    int            `json:"keyIndex,omitempty"`
	Text        string         `json:"text,omitempty"`
	Hex         string         `json:"hex,omitempty"`
	PrimaryType string         `json:"primaryType,omitempty"`
	Domain      map[string]any `json:"domain,omitempty"`
	Digest      string         `json:"digest,omitempty"`
	Accounts    []AccountInfo  `json:"accounts,omitempty"`
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, errors.Wrap(ErrInvalidPayload, "empty payload")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.Wrap(ErrInvalidPayload, err.Error())
	}
	return out, nil
}

func decodeHexField(name, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil && !errors.Is(err, hexutil.ErrEmptyString) {
		return nil, errors.Wrapf(ErrInvalidPayload, "%s: %v", name, err)
	}
	if len(b) == 0 {
		return nil, errors.Wrapf(ErrInvalidPayload, "%s is empty", name)
	}
	return b, nil
}

// displayText returns msg as text when it is printable UTF-8.
func displayText(msg []byte) string {
	if !utf8.Valid(msg) {
		return ""
	}
	for _, r := range string(msg) {
		if r < 0x20 && r != '\n' && r != '\t' && r != '\r' {
			return ""
		}
	}
	return string(msg)
}

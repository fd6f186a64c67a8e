package signature

import (
	"github.com/quantumauth-io/quantum-wallet-core/internal/curvemath"
)

// DomainTagLength is the fixed width every domain tag is right-padded to.
const DomainTagLength = 32

var (
	// UserDomainTag namespaces arbitrary user-message signatures.
	UserDomainTag = NewDomainTag("FLOW-V0.0-user")
	// TransactionDomainTag namespaces transaction envelope signatures.
	TransactionDomainTag = NewDomainTag("FLOW-V0.0-transaction")
)

// DomainTag is an ASCII string right-padded with zero bytes.
type DomainTag [DomainTagLength]byte

// NewDomainTag panics when s does not fit; tags are protocol constants.
func NewDomainTag(s string) DomainTag {
	if len(s) > DomainTagLength {
		panic("signature: domain tag longer than 32 bytes")
	}
	var t DomainTag
	copy(t[:], s)
	return t
}

// Prefix returns tag || message in a fresh buffer.
func (t DomainTag) Prefix(message []byte) []byte {
	out := make([]byte, 0, DomainTagLength+len(message))
	out = append(out, t[:]...)
	return append(out, message...)
}

// SignWithTag hashes tag || message with hashAlgo and signs it with key's curve.
func SignWithTag(tag DomainTag, message []byte, key curvemath.PrivateKey, hashAlgo curvemath.HashAlgo) ([]byte, error) {
	return Sign(Request{
		Payload:  tag.Prefix(message),
		SignAlgo: key.Algo,
		HashAlgo: hashAlgo,
	}, key)
}

// SignMessageWithDomainTag signs a user message under UserDomainTag.
func SignMessageWithDomainTag(message []byte, key curvemath.PrivateKey, hashAlgo curvemath.HashAlgo) ([]byte, error) {
	return SignWithTag(UserDomainTag, message, key, hashAlgo)
}

// VerifyMessageWithDomainTag is the counterpart of SignMessageWithDomainTag.
func VerifyMessageWithDomainTag(pub, message, sig []byte, signAlgo curvemath.SignAlgo, hashAlgo curvemath.HashAlgo) (bool, error) {
	return Verify(pub, Request{
		Payload:  UserDomainTag.Prefix(message),
		SignAlgo: signAlgo,
		HashAlgo: hashAlgo,
	}, sig)
}

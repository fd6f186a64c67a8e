package typeddata

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/quantumauth-io/quantum-wallet-core/internal/curvemath"
)

// Hash returns keccak256(0x19 0x01 || domainSeparator || hashStruct(message)).
// When the primary type is the domain type itself the message hash is omitted.
func Hash(doc *Document) ([32]byte, error) {
	var out [32]byte
	if doc == nil {
		return out, errors.Wrap(ErrInvalidTypedData, "nil document")
	}

	ds, err := DomainSeparator(doc)
	if err != nil {
		return out, err
	}

	parts := [][]byte{{0x19, 0x01}, ds}
	if doc.PrimaryType != DomainType {
		mh, err := MessageHash(doc)
		if err != nil {
			return out, err
		}
		parts = append(parts, mh)
	}
	copy(out[:], curvemath.Keccak256(parts...))
	return out, nil
}

// HashHex renders Hash as 0x-prefixed hex.
func HashHex(doc *Document) (string, error) {
	h, err := Hash(doc)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(h[:]), nil
}

// DomainSeparator hashes the domain with the full (unfiltered) type map.
func DomainSeparator(doc *Document) ([]byte, error) {
	types := make(Types, len(doc.Types)+1)
	for name, fields := range doc.Types {
		types[name] = fields
	}
	types[DomainType] = doc.domainDefinition()

	enc := encoder{types: types}
	if err := enc.validate(); err != nil {
		return nil, err
	}
	ds, err := enc.hashStruct(DomainType, doc.Domain, 0)
	if err != nil {
		return nil, errors.Wrap(err, "domain")
	}
	return ds, nil
}

// MessageHash hashes the message against the type map with the domain entry
// removed.
func MessageHash(doc *Document) ([]byte, error) {
	types := doc.messageTypes()
	if doc.PrimaryType == "" {
		return nil, errors.Wrap(ErrUnknownPrimaryType, "empty primaryType")
	}
	if _, ok := types[doc.PrimaryType]; !ok {
		return nil, errors.Wrapf(ErrUnknownPrimaryType, "%q", doc.PrimaryType)
	}

	enc := encoder{types: types}
	if err := enc.validate(); err != nil {
		return nil, err
	}
	mh, err := enc.hashStruct(doc.PrimaryType, doc.Message, 0)
	if err != nil {
		return nil, errors.Wrap(err, "message")
	}
	return mh, nil
}

// EncodeType returns the canonical type string of name, e.g.
// "Mail(Person from,Person to,string contents)Person(string name,address wallet)".
func (d *Document) EncodeType(name string) (string, error) {
	types := d.messageTypes()
	if name == DomainType {
		types[DomainType] = d.domainDefinition()
	}
	if _, ok := types[name]; !ok {
		return "", errors.Wrapf(ErrUnknownPrimaryType, "%q", name)
	}
	return encoder{types: types}.encodeType(name), nil
}

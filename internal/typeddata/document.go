// Package typeddata computes EIP-712 (v4) digests of typed-data documents.
package typeddata

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// DomainType is the reserved type name of the domain separator struct.
const DomainType = "EIP712Domain"

var (
	ErrUnknownPrimaryType  = errors.New("unknown primary type")
	ErrUnresolvedFieldType = errors.New("unresolved field type")
	ErrInvalidTypedData    = errors.New("invalid typed data")
)

type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Types map[string][]Field

// Document mirrors the eth_signTypedData_v4 JSON shape. Numbers decoded by
// Parse are kept as json.Number so large integers survive.
type Document struct {
	Types       Types          `json:"types"`
	PrimaryType string         `json:"primaryType"`
	Domain      map[string]any `json:"domain"`
	Message     map[string]any `json:"message"`
}

// Parse decodes a typed-data JSON document.
func Parse(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrapf(ErrInvalidTypedData, "decode: %v", err)
	}
	if doc.Types == nil {
		return nil, errors.Wrap(ErrInvalidTypedData, "missing types")
	}
	if doc.Domain == nil {
		doc.Domain = map[string]any{}
	}
	if doc.Message == nil {
		doc.Message = map[string]any{}
	}
	return &doc, nil
}

// canonical domain fields, in the order EIP-712 lists them.
var domainFields = []Field{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
	{Name: "salt", Type: "bytes32"},
}

// domainDefinition returns the declared domain type, or synthesises one from
// the domain fields that are present.
func (d *Document) domainDefinition() []Field {
	if def, ok := d.Types[DomainType]; ok {
		return def
	}
	var def []Field
	for _, f := range domainFields {
		if v, ok := d.Domain[f.Name]; ok && v != nil {
			def = append(def, f)
		}
	}
	return def
}

// messageTypes is a copy of the type map without the domain entry.
func (d *Document) messageTypes() Types {
	out := make(Types, len(d.Types))
	for name, fields := range d.Types {
		if name == DomainType {
			continue
		}
		out[name] = fields
	}
	return out
}

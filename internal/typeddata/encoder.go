package typeddata

import (
	"bytes"
	"encoding/json"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/quantumauth-io/quantum-wallet-core/internal/curvemath"
)

// maxDepth bounds recursion over attacker-supplied nesting.
const maxDepth = 64

type encoder struct {
	types Types
}

// validate resolves every field type of every declared struct.
func (e encoder) validate() error {
	for name, fields := range e.types {
		if name == "" {
			return errors.Wrap(ErrInvalidTypedData, "empty type name")
		}
		seen := make(map[string]struct{}, len(fields))
		for _, f := range fields {
			if f.Name == "" {
				return errors.Wrapf(ErrInvalidTypedData, "type %s has a field without a name", name)
			}
			if _, dup := seen[f.Name]; dup {
				return errors.Wrapf(ErrInvalidTypedData, "type %s declares %s twice", name, f.Name)
			}
			seen[f.Name] = struct{}{}

			if err := e.resolve(f.Type); err != nil {
				return errors.Wrapf(err, "%s.%s", name, f.Name)
			}
		}
	}
	return nil
}

func (e encoder) resolve(t string) error {
	for {
		elem, _, isArray, err := splitArray(t)
		if err != nil {
			return err
		}
		if !isArray {
			break
		}
		t = elem
	}
	if _, ok := e.types[t]; ok {
		return nil
	}
	if isPrimitive(t) {
		return nil
	}
	return errors.Wrapf(ErrUnresolvedFieldType, "%q", t)
}

func (e encoder) dependencies(t string, found map[string]struct{}) {
	t = baseType(t)
	if _, ok := found[t]; ok {
		return
	}
	fields, ok := e.types[t]
	if !ok {
		return
	}
	found[t] = struct{}{}
	for _, f := range fields {
		e.dependencies(f.Type, found)
	}
}

// encodeType renders primary followed by its dependencies sorted by name.
func (e encoder) encodeType(primary string) string {
	found := map[string]struct{}{}
	e.dependencies(primary, found)
	delete(found, primary)

	deps := make([]string, 0, len(found))
	for d := range found {
		deps = append(deps, d)
	}
	sort.Strings(deps)

	var b strings.Builder
	for _, name := range append([]string{primary}, deps...) {
		b.WriteString(name)
		b.WriteByte('(')
		for i, f := range e.types[name] {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(f.Type)
			b.WriteByte(' ')
			b.WriteString(f.Name)
		}
		b.WriteByte(')')
	}
	return b.String()
}

func (e encoder) hashStruct(name string, data map[string]any, depth int) ([]byte, error) {
	enc, err := e.encodeData(name, data, depth)
	if err != nil {
		return nil, err
	}
	return curvemath.Keccak256(enc), nil
}

func (e encoder) encodeData(name string, data map[string]any, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, errors.Wrap(ErrInvalidTypedData, "nesting too deep")
	}
	fields, ok := e.types[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnresolvedFieldType, "%q", name)
	}

	declared := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		declared[f.Name] = struct{}{}
	}
	for k := range data {
		if _, ok := declared[k]; !ok {
			return nil, errors.Wrapf(ErrInvalidTypedData, "%s has undeclared field %q", name, k)
		}
	}

	var buf bytes.Buffer
	buf.Write(curvemath.Keccak256([]byte(e.encodeType(name))))
	for _, f := range fields {
		v, ok := data[f.Name]
		if !ok {
			return nil, errors.Wrapf(ErrInvalidTypedData, "%s.%s is missing", name, f.Name)
		}
		enc, err := e.encodeValue(f.Type, v, depth+1)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", name, f.Name)
		}
		buf.Write(enc)
	}
	return buf.Bytes(), nil
}

// encodeValue returns the 32-byte encoding of v as type t.
func (e encoder) encodeValue(t string, v any, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, errors.Wrap(ErrInvalidTypedData, "nesting too deep")
	}

	elem, size, isArray, err := splitArray(t)
	if err != nil {
		return nil, err
	}
	if isArray {
		items, ok := v.([]any)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidTypedData, "%s: expected an array", t)
		}
		if size >= 0 && len(items) != size {
			return nil, errors.Wrapf(ErrInvalidTypedData, "%s: expected %d items, got %d", t, size, len(items))
		}
		var buf bytes.Buffer
		for i, item := range items {
			enc, err := e.encodeValue(elem, item, depth+1)
			if err != nil {
				return nil, errors.Wrapf(err, "[%d]", i)
			}
			buf.Write(enc)
		}
		return curvemath.Keccak256(buf.Bytes()), nil
	}

	if _, ok := e.types[t]; ok {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidTypedData, "%s: expected an object", t)
		}
		return e.hashStruct(t, m, depth+1)
	}

	return encodePrimitive(t, v)
}

func encodePrimitive(t string, v any) ([]byte, error) {
	mismatch := func() error {
		return errors.Wrapf(ErrInvalidTypedData, "value %v is not a valid %s", v, t)
	}

	switch {
	case t == "address":
		s, ok := v.(string)
		if !ok || !common.IsHexAddress(s) {
			return nil, mismatch()
		}
		return common.LeftPadBytes(common.HexToAddress(s).Bytes(), 32), nil

	case t == "bool":
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch()
		}
		out := make([]byte, 32)
		if b {
			out[31] = 1
		}
		return out, nil

	case t == "string":
		s, ok := v.(string)
		if !ok {
			return nil, mismatch()
		}
		return curvemath.Keccak256([]byte(s)), nil

	case t == "bytes":
		b, ok := parseBytes(v)
		if !ok {
			return nil, mismatch()
		}
		return curvemath.Keccak256(b), nil

	case strings.HasPrefix(t, "bytes"):
		n, _ := strconv.Atoi(t[len("bytes"):])
		b, ok := parseBytes(v)
		if !ok || len(b) != n {
			return nil, mismatch()
		}
		out := make([]byte, 32)
		copy(out, b)
		return out, nil

	case strings.HasPrefix(t, "uint"), strings.HasPrefix(t, "int"):
		x, err := parseInteger(t, v)
		if err != nil {
			return nil, err
		}
		return math.U256Bytes(x), nil
	}
	return nil, errors.Wrapf(ErrUnresolvedFieldType, "%q", t)
}

func parseBytes(v any) ([]byte, bool) {
	switch x := v.(type) {
	case []byte:
		return x, true
	case string:
		b, err := hexutil.Decode(x)
		if err != nil {
			return nil, false
		}
		return b, true
	}
	return nil, false
}

// parseInteger accepts JSON numbers, decimal or 0x-hex strings and big.Int,
// and enforces the declared bit width. The result is a fresh big.Int.
func parseInteger(t string, v any) (*big.Int, error) {
	signed := strings.HasPrefix(t, "int")
	bits := integerBits(t)

	var x *big.Int
	switch val := v.(type) {
	case json.Number:
		b, ok := math.ParseBig256(val.String())
		if !ok {
			return nil, errors.Wrapf(ErrInvalidTypedData, "%s: invalid number %s", t, val)
		}
		x = b
	case string:
		b, ok := math.ParseBig256(strings.TrimSpace(val))
		if !ok {
			return nil, errors.Wrapf(ErrInvalidTypedData, "%s: invalid number %q", t, val)
		}
		x = b
	case float64:
		if float64(int64(val)) != val {
			return nil, errors.Wrapf(ErrInvalidTypedData, "%s: lossy float %v", t, val)
		}
		x = big.NewInt(int64(val))
	case int:
		x = big.NewInt(int64(val))
	case int64:
		x = big.NewInt(val)
	case uint64:
		x = new(big.Int).SetUint64(val)
	case *big.Int:
		if val == nil {
			return nil, errors.Wrapf(ErrInvalidTypedData, "%s: nil integer", t)
		}
		x = new(big.Int).Set(val)
	default:
		return nil, errors.Wrapf(ErrInvalidTypedData, "%s: unsupported value %T", t, v)
	}

	if signed {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
		minV := new(big.Int).Neg(limit)
		if x.Cmp(minV) < 0 || x.Cmp(limit) >= 0 {
			return nil, errors.Wrapf(ErrInvalidTypedData, "%s: %s out of range", t, x)
		}
	} else if x.Sign() < 0 || x.BitLen() > bits {
		return nil, errors.Wrapf(ErrInvalidTypedData, "%s: %s out of range", t, x)
	}
	return x, nil
}

// splitArray peels the outermost array suffix: "Foo[2][]" -> ("Foo[2]", -1).
// size is -1 for dynamic arrays.
func splitArray(t string) (elem string, size int, isArray bool, err error) {
	if !strings.HasSuffix(t, "]") {
		return t, 0, false, nil
	}
	open := strings.LastIndex(t, "[")
	if open <= 0 {
		return "", 0, false, errors.Wrapf(ErrUnresolvedFieldType, "%q", t)
	}
	inner := t[open+1 : len(t)-1]
	if inner == "" {
		return t[:open], -1, true, nil
	}
	n, convErr := strconv.Atoi(inner)
	if convErr != nil || n <= 0 {
		return "", 0, false, errors.Wrapf(ErrUnresolvedFieldType, "%q", t)
	}
	return t[:open], n, true, nil
}

func baseType(t string) string {
	if i := strings.Index(t, "["); i >= 0 {
		return t[:i]
	}
	return t
}

func isPrimitive(t string) bool {
	switch t {
	case "address", "bool", "string", "bytes":
		return true
	}
	if strings.HasPrefix(t, "bytes") {
		n, err := strconv.Atoi(t[len("bytes"):])
		return err == nil && n >= 1 && n <= 32
	}
	if strings.HasPrefix(t, "uint") || strings.HasPrefix(t, "int") {
		return integerBits(t) > 0
	}
	return false
}

// integerBits returns the width of uintN/intN, 256 for bare uint/int, or 0
// when t is not a valid integer type.
func integerBits(t string) int {
	suffix := strings.TrimPrefix(strings.TrimPrefix(t, "u"), "int")
	if !strings.HasPrefix(strings.TrimPrefix(t, "u"), "int") {
		return 0
	}
	if suffix == "" {
		return 256
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 8 || n > 256 || n%8 != 0 {
		return 0
	}
	return n
}

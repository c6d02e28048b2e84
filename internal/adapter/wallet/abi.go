package wallet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"

	"walletbridge/internal/domain"
)

const wordSize = 32

// Keccak256 is the legacy (pre-standard) Keccak used by Ethereum.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// abiType is one elementary ABI type. Tuples and arrays are not supported.
type abiType struct {
	kind string // address, bool, uint, int, bytes, fixedbytes, string
	bits int    // uint/int width, fixedbytes length
}

func (t abiType) dynamic() bool { return t.kind == "bytes" || t.kind == "string" }

func (t abiType) canonical() string {
	switch t.kind {
	case "uint", "int":
		return t.kind + strconv.Itoa(t.bits)
	case "fixedbytes":
		return "bytes" + strconv.Itoa(t.bits)
	default:
		return t.kind
	}
}

func parseType(s string) (abiType, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "address" || s == "bool" || s == "string" || s == "bytes":
		return abiType{kind: s}, nil
	case s == "uint" || s == "int":
		return abiType{kind: s, bits: 256}, nil
	case strings.HasPrefix(s, "uint") || strings.HasPrefix(s, "int"):
		kind := "int"
		if strings.HasPrefix(s, "uint") {
			kind = "uint"
		}
		bits, err := strconv.Atoi(strings.TrimPrefix(s, kind))
		if err != nil || bits <= 0 || bits > 256 || bits%8 != 0 {
			return abiType{}, fmt.Errorf("%w: invalid ABI type %q", domain.ErrInvalidInput, s)
		}
		return abiType{kind: kind, bits: bits}, nil
	case strings.HasPrefix(s, "bytes"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "bytes"))
		if err != nil || n <= 0 || n > 32 {
			return abiType{}, fmt.Errorf("%w: invalid ABI type %q", domain.ErrInvalidInput, s)
		}
		return abiType{kind: "fixedbytes", bits: n}, nil
	default:
		return abiType{}, fmt.Errorf("%w: unsupported ABI type %q", domain.ErrInvalidInput, s)
	}
}

// parseSignature splits "name(type,...)" into its name and input types.
func parseSignature(sig string) (string, []abiType, error) {
	open := strings.IndexByte(sig, '(')
	if open < 0 || !strings.HasSuffix(sig, ")") {
		return "", nil, fmt.Errorf("%w: malformed method signature %q", domain.ErrInvalidInput, sig)
	}
	name := strings.TrimSpace(sig[:open])
	inner := sig[open+1 : len(sig)-1]
	if strings.ContainsAny(inner, "()[]") {
		return "", nil, fmt.Errorf("%w: tuple and array parameters are not supported in %q", domain.ErrInvalidInput, sig)
	}
	if strings.TrimSpace(inner) == "" {
		return name, nil, nil
	}
	var types []abiType
	for _, part := range strings.Split(inner, ",") {
		// Tolerate named parameters such as "address to".
		fields := strings.Fields(part)
		if len(fields) == 0 {
			return "", nil, fmt.Errorf("%w: empty parameter in %q", domain.ErrInvalidInput, sig)
		}
		t, err := parseType(fields[0])
		if err != nil {
			return "", nil, err
		}
		types = append(types, t)
	}
	return name, types, nil
}

// SelectorEncoder builds contract call data from a human readable method
// signature and JSON parameters.
type SelectorEncoder struct{}

// Selector returns the 4 byte method id of sig.
func (SelectorEncoder) Selector(sig string) ([]byte, error) {
	name, types, err := parseSignature(sig)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: method signature %q has no name", domain.ErrInvalidInput, sig)
	}
	canon := make([]string, len(types))
	for i, t := range types {
		canon[i] = t.canonical()
	}
	return Keccak256([]byte(name + "(" + strings.Join(canon, ",") + ")"))[:4], nil
}

// EncodeCall returns selector(sig) followed by the encoded params.
func (e SelectorEncoder) EncodeCall(sig string, params []json.RawMessage) ([]byte, error) {
	selector, err := e.Selector(sig)
	if err != nil {
		return nil, err
	}
	_, types, _ := parseSignature(sig)
	args, err := encodeArgs(types, params)
	if err != nil {
		return nil, err
	}
	return append(selector, args...), nil
}

// EncodeDeployment returns bytecode followed by the encoded constructor
// params. An empty signature means no constructor arguments.
func (SelectorEncoder) EncodeDeployment(bytecode []byte, constructorSig string, params []json.RawMessage) ([]byte, error) {
	out := append([]byte(nil), bytecode...)
	if strings.TrimSpace(constructorSig) == "" {
		if len(params) > 0 {
			return nil, fmt.Errorf("%w: constructor parameters given without a signature", domain.ErrInvalidInput)
		}
		return out, nil
	}
	_, types, err := parseSignature(constructorSig)
	if err != nil {
		return nil, err
	}
	args, err := encodeArgs(types, params)
	if err != nil {
		return nil, err
	}
	return append(out, args...), nil
}

func encodeArgs(types []abiType, params []json.RawMessage) ([]byte, error) {
	if len(types) != len(params) {
		return nil, fmt.Errorf("%w: expected %d parameters, got %d", domain.ErrInvalidInput, len(types), len(params))
	}
	var head, tail bytes.Buffer
	headSize := wordSize * len(types)
	for i, t := range types {
		enc, err := encodeValue(t, params[i])
		if err != nil {
			return nil, fmt.Errorf("parameter %d (%s): %w", i, t.canonical(), err)
		}
		if !t.dynamic() {
			head.Write(enc)
			continue
		}
		head.Write(word(big.NewInt(int64(headSize + tail.Len()))))
		tail.Write(enc)
	}
	return append(head.Bytes(), tail.Bytes()...), nil
}

func encodeValue(t abiType, raw json.RawMessage) ([]byte, error) {
	switch t.kind {
	case "bool":
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("%w: want a boolean", domain.ErrInvalidInput)
		}
		if b {
			return word(big.NewInt(1)), nil
		}
		return word(new(big.Int)), nil
	case "address":
		v, err := decodeInteger(raw)
		if err != nil {
			return nil, err
		}
		if v.Sign() < 0 || v.BitLen() > 160 {
			return nil, fmt.Errorf("%w: address out of range", domain.ErrInvalidInput)
		}
		return word(v), nil
	case "uint":
		v, err := decodeInteger(raw)
		if err != nil {
			return nil, err
		}
		if v.Sign() < 0 || v.BitLen() > t.bits {
			return nil, fmt.Errorf("%w: value does not fit uint%d", domain.ErrInvalidInput, t.bits)
		}
		return word(v), nil
	case "int":
		v, err := decodeInteger(raw)
		if err != nil {
			return nil, err
		}
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.bits-1))
		if v.Cmp(limit) >= 0 || v.Cmp(new(big.Int).Neg(limit)) < 0 {
			return nil, fmt.Errorf("%w: value does not fit int%d", domain.ErrInvalidInput, t.bits)
		}
		if v.Sign() < 0 {
			v = new(big.Int).Add(v, new(big.Int).Lsh(big.NewInt(1), 256))
		}
		return word(v), nil
	case "fixedbytes":
		b, err := decodeHex(raw)
		if err != nil {
			return nil, err
		}
		if len(b) > t.bits {
			return nil, fmt.Errorf("%w: %d bytes do not fit bytes%d", domain.ErrInvalidInput, len(b), t.bits)
		}
		return padRight(b), nil
	case "bytes":
		b, err := decodeHex(raw)
		if err != nil {
			return nil, err
		}
		return append(word(big.NewInt(int64(len(b)))), padRight(b)...), nil
	case "string":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: want a string", domain.ErrInvalidInput)
		}
		return append(word(big.NewInt(int64(len(s)))), padRight([]byte(s))...), nil
	default:
		return nil, fmt.Errorf("%w: unsupported ABI type %q", domain.ErrInvalidInput, t.kind)
	}
}

// decodeInteger accepts a JSON integer or a 0x hex / decimal string.
func decodeInteger(raw json.RawMessage) (*big.Int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		return domain.ParseQuantity(s)
	}
	v, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%w: want an integer, got %s", domain.ErrInvalidInput, raw)
	}
	return v, nil
}

func decodeHex(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: want a 0x hex string", domain.ErrInvalidInput)
	}
	return domain.ParseBytes(s)
}

// word left pads a non-negative v to 32 bytes.
func word(v *big.Int) []byte {
	return v.FillBytes(make([]byte, wordSize))
}

func padRight(b []byte) []byte {
	n := (len(b) + wordSize - 1) / wordSize * wordSize
	out := make([]byte, n)
	copy(out, b)
	return out
}

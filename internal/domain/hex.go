package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Bytes is a byte string encoded on the wire as 0x-prefixed hex.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatBytes(b))
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("bytes: %w", err)
	}
	decoded, err := ParseBytes(s)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// FormatBytes renders b as 0x-prefixed hex.
func FormatBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// ParseBytes decodes 0x-prefixed hex. An odd digit count is left padded.
func ParseBytes(s string) ([]byte, error) {
	digits, ok := strings.CutPrefix(s, "0x")
	if !ok {
		return nil, fmt.Errorf("%w: hex string %q lacks 0x prefix", ErrInvalidInput, s)
	}
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	out, err := hex.DecodeString(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return out, nil
}

// FormatQuantity renders v as a JSON-RPC quantity (0x-prefixed, no padding).
func FormatQuantity(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return "0x" + v.Text(16)
}

// FormatAddress renders v as a 20 byte 0x-prefixed address.
func FormatAddress(v *big.Int) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("0x%040x", v)
}

// ParseQuantity parses a 0x-prefixed hex quantity or a decimal string.
func ParseQuantity(s string) (*big.Int, error) {
	v := new(big.Int)
	if digits, ok := strings.CutPrefix(s, "0x"); ok {
		if digits == "" {
			return v, nil
		}
		if _, ok := v.SetString(digits, 16); !ok {
			return nil, fmt.Errorf("%w: invalid hex quantity %q", ErrInvalidInput, s)
		}
		return v, nil
	}
	if _, ok := v.SetString(s, 10); !ok {
		return nil, fmt.Errorf("%w: invalid quantity %q", ErrInvalidInput, s)
	}
	return v, nil
}

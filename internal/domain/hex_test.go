package domain

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesJSON(t *testing.T) {
	raw, err := json.Marshal(LocalContractCallResult{Result: Bytes{0xde, 0xad, 0xbe, 0xef}})
	require.NoError(t, err)
	assert.Equal(t, `{"result":"0xdeadbeef"}`, string(raw))

	var back LocalContractCallResult
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, Bytes{0xde, 0xad, 0xbe, 0xef}, back.Result)
}

func TestParseBytes(t *testing.T) {
	b, err := ParseBytes("0xabc")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0xbc}, b)

	_, err = ParseBytes("abc")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ParseBytes("0xzz")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFormatQuantity(t *testing.T) {
	assert.Equal(t, "0x0", FormatQuantity(nil))
	assert.Equal(t, "0x0", FormatQuantity(big.NewInt(0)))
	assert.Equal(t, "0x7b", FormatQuantity(big.NewInt(123)))
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "0x0000000000000000000000000000000000000abc", FormatAddress(big.NewInt(0xabc)))
	assert.Equal(t, "", FormatAddress(nil))
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0x7b", 123},
		{"0x", 0},
		{"123", 123},
	}
	for _, tt := range tests {
		got, err := ParseQuantity(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.Int64(), tt.in)
	}

	_, err := ParseQuantity("0xnope")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = ParseQuantity("twelve")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

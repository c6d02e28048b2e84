package wallet

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletbridge/internal/domain"
)

func raws(vals ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(vals))
	for i, v := range vals {
		out[i] = json.RawMessage(v)
	}
	return out
}

func TestKeccak256(t *testing.T) {
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", hex.EncodeToString(Keccak256()))
}

func TestSelector(t *testing.T) {
	tests := []struct {
		sig  string
		want string
	}{
		{"transfer(address,uint256)", "a9059cbb"},
		{"balanceOf(address)", "70a08231"},
		{"totalSupply()", "18160ddd"},
		// uint is canonicalised to uint256 and parameter names are ignored.
		{"transfer(address to, uint amount)", "a9059cbb"},
	}
	for _, tt := range tests {
		t.Run(tt.sig, func(t *testing.T) {
			sel, err := SelectorEncoder{}.Selector(tt.sig)
			require.NoError(t, err)
			assert.Equal(t, tt.want, hex.EncodeToString(sel))
		})
	}
}

func TestSelectorRejects(t *testing.T) {
	for _, sig := range []string{"transfer", "(address)", "f(uint7)", "f(bytes33)", "f((uint256,bool))", "f(uint256[])", "f(float)"} {
		_, err := SelectorEncoder{}.Selector(sig)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, sig)
	}
}

func TestEncodeCallStatic(t *testing.T) {
	data, err := SelectorEncoder{}.EncodeCall("transfer(address,uint256)", raws(`"0xabc"`, `1000`))
	require.NoError(t, err)
	want := "a9059cbb" +
		strings.Repeat("0", 61) + "abc" +
		strings.Repeat("0", 61) + "3e8"
	assert.Equal(t, want, hex.EncodeToString(data))
}

func TestEncodeCallDynamic(t *testing.T) {
	data, err := SelectorEncoder{}.EncodeCall("f(uint8,string)", raws(`"0x1"`, `"hi"`))
	require.NoError(t, err)
	args := hex.EncodeToString(data[4:])
	require.Len(t, args, 4*64)
	assert.Equal(t, strings.Repeat("0", 63)+"1", args[0:64])
	assert.Equal(t, strings.Repeat("0", 62)+"40", args[64:128], "offset of the string tail")
	assert.Equal(t, strings.Repeat("0", 63)+"2", args[128:192])
	assert.Equal(t, "6869"+strings.Repeat("0", 60), args[192:256])
}

func TestEncodeValues(t *testing.T) {
	tests := []struct {
		name string
		sig  string
		arg  string
		want string
	}{
		{"bool true", "f(bool)", `true`, strings.Repeat("0", 63) + "1"},
		{"negative int", "f(int8)", `-1`, strings.Repeat("f", 64)},
		{"fixed bytes", "f(bytes2)", `"0xbeef"`, "beef" + strings.Repeat("0", 60)},
		{"empty bytes", "f(bytes)", `"0x"`, strings.Repeat("0", 62) + "20" + strings.Repeat("0", 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := SelectorEncoder{}.EncodeCall(tt.sig, raws(tt.arg))
			require.NoError(t, err)
			assert.Equal(t, tt.want, hex.EncodeToString(data[4:]))
		})
	}
}

func TestEncodeValueRange(t *testing.T) {
	tests := []struct {
		sig string
		arg string
	}{
		{"f(uint8)", `256`},
		{"f(uint8)", `-1`},
		{"f(int8)", `128`},
		{"f(int8)", `-129`},
		{"f(address)", `"0x1` + strings.Repeat("0", 40) + `"`},
		{"f(bytes1)", `"0xbeef"`},
		{"f(bool)", `"yes"`},
		{"f(string)", `12`},
	}
	for _, tt := range tests {
		_, err := SelectorEncoder{}.EncodeCall(tt.sig, raws(tt.arg))
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "%s %s", tt.sig, tt.arg)
	}
}

func TestEncodeCallArity(t *testing.T) {
	_, err := SelectorEncoder{}.EncodeCall("f(uint256,uint256)", raws(`1`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEncodeDeployment(t *testing.T) {
	enc := SelectorEncoder{}
	code := []byte{0x60, 0x80}

	data, err := enc.EncodeDeployment(code, "", nil)
	require.NoError(t, err)
	assert.Equal(t, code, data)

	data, err = enc.EncodeDeployment(code, "constructor(uint256)", raws(`5`))
	require.NoError(t, err)
	assert.Equal(t, "6080"+strings.Repeat("0", 63)+"5", hex.EncodeToString(data))

	_, err = enc.EncodeDeployment(code, "", raws(`5`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

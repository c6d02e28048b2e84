package wallet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletbridge/internal/domain"
)

type call struct {
	method string
	params []json.RawMessage
}

// fakeRPC records calls and answers from a per-method table.
type fakeRPC struct {
	mu      sync.Mutex
	calls   []call
	results map[string]string
	err     error
}

func (f *fakeRPC) Call(_ context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: method, params: params})
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[method]; ok {
		return json.RawMessage(r), nil
	}
	return json.RawMessage(`null`), nil
}

func (f *fakeRPC) last(t *testing.T) call {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func (f *fakeRPC) txObject(t *testing.T) map[string]string {
	t.Helper()
	c := f.last(t)
	require.NotEmpty(t, c.params)
	var tx map[string]string
	require.NoError(t, json.Unmarshal(c.params[0], &tx))
	return tx
}

type fixedSigner struct {
	sig     domain.Signature
	err     error
	message []byte
}

func (s *fixedSigner) SignPersonal(_ context.Context, _ *big.Int, message []byte) (domain.Signature, error) {
	s.message = message
	return s.sig, s.err
}

const walletAddr = "0x0000000000000000000000000000000000000abc"

func TestNewViewingWalletValidates(t *testing.T) {
	_, err := NewViewingWallet(nil, &fakeRPC{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = NewViewingWallet(new(big.Int).Lsh(big.NewInt(1), 160), &fakeRPC{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = NewViewingWallet(big.NewInt(1), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestViewingLocalContractCall(t *testing.T) {
	rpc := &fakeRPC{results: map[string]string{"eth_call": `"0x2a"`}}
	w, err := NewViewingWallet(big.NewInt(0xabc), rpc)
	require.NoError(t, err)

	out, err := w.LocalContractCall(context.Background(), domain.LocalContractCallRequest{
		ContractAddress:  big.NewInt(0xdef),
		MethodSignature:  "balanceOf(address)",
		MethodParameters: raws(`"0xabc"`),
		Value:            big.NewInt(0),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2a}, out)

	tx := rpc.txObject(t)
	assert.Equal(t, walletAddr, tx["from"])
	assert.True(t, strings.HasPrefix(tx["data"], "0x70a08231"))
}

func TestViewingLocalContractCallCaller(t *testing.T) {
	rpc := &fakeRPC{results: map[string]string{"eth_call": `"0x"`}}
	w, err := NewViewingWallet(big.NewInt(0xabc), rpc)
	require.NoError(t, err)

	_, err = w.LocalContractCall(context.Background(), domain.LocalContractCallRequest{
		ContractAddress: big.NewInt(0xdef),
		MethodSignature: "totalSupply()",
		Value:           big.NewInt(0),
		Caller:          big.NewInt(0x123),
	})
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000000000000000000123", rpc.txObject(t)["from"])
}

func TestViewingLegacyInjectsSender(t *testing.T) {
	rpc := &fakeRPC{results: map[string]string{"eth_estimateGas": `"0x5208"`}}
	w, err := NewViewingWallet(big.NewInt(0xabc), rpc)
	require.NoError(t, err)

	raw, err := w.LegacyJSONRPC(context.Background(), "eth_estimateGas", raws(`{"to":"0x01"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `"0x5208"`, string(raw))
	assert.Equal(t, map[string]string{"to": "0x01", "from": walletAddr}, rpc.txObject(t))
}

func TestViewingLegacyRejectsForeignSender(t *testing.T) {
	w, err := NewViewingWallet(big.NewInt(0xabc), &fakeRPC{})
	require.NoError(t, err)

	_, err = w.LegacyJSONRPC(context.Background(), "eth_call", raws(`{"from":"0x01"}`))
	var rpcErr *domain.JSONRPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)

	_, err = w.LegacyJSONRPC(context.Background(), "eth_call", nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)
}

func TestViewingLegacyRefusesTransactions(t *testing.T) {
	rpc := &fakeRPC{}
	w, err := NewViewingWallet(big.NewInt(0xabc), rpc)
	require.NoError(t, err)

	_, err = w.LegacyJSONRPC(context.Background(), "eth_sendTransaction", raws(`{}`))
	var rpcErr *domain.JSONRPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
	assert.Equal(t, "Cannot call eth_sendTransaction with this type of wallet.", rpcErr.Message)
	assert.Empty(t, rpc.calls)
}

func TestNodeWalletSubmissions(t *testing.T) {
	rpc := &fakeRPC{results: map[string]string{"eth_sendTransaction": `"0xfeed"`, "eth_chainId": `"0x1"`}}
	w, err := NewNodeWallet(big.NewInt(0xabc), rpc)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := w.SubmitContractCall(ctx, domain.SubmitContractCallRequest{
		ContractAddress:  big.NewInt(0xdef),
		MethodSignature:  "transfer(address,uint256)",
		MethodParameters: raws(`"0x1"`, `2`),
		Value:            big.NewInt(0),
		GasLimit:         big.NewInt(21000),
	})
	require.NoError(t, err)
	assert.Equal(t, &domain.SubmitResult{Confidence: 0.5, UpdateChannelName: "contract call status - 0xfeed"}, res)
	tx := rpc.txObject(t)
	assert.Equal(t, walletAddr, tx["from"])
	assert.Equal(t, "0x5208", tx["gas"])
	assert.True(t, strings.HasPrefix(tx["data"], "0xa9059cbb"))

	res, err = w.SubmitContractDeployment(ctx, domain.SubmitContractDeploymentRequest{
		Bytecode: domain.Bytes{0x60, 0x80},
		Value:    big.NewInt(0),
		ChainID:  big.NewInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, &domain.SubmitResult{Confidence: 0.5, UpdateChannelName: "contract deployment status - 0xfeed"}, res)
	tx = rpc.txObject(t)
	assert.Equal(t, "0x6080", tx["data"])
	assert.NotContains(t, tx, "to")

	res, err = w.SubmitNativeTokenTransfer(ctx, domain.SubmitNativeTokenTransferRequest{
		To:    big.NewInt(0x1),
		Value: big.NewInt(1000),
		Nonce: big.NewInt(7),
	})
	require.NoError(t, err)
	assert.Equal(t, &domain.SubmitResult{Confidence: 1, UpdateChannelName: "native token transfer status - 0xfeed"}, res)
	tx = rpc.txObject(t)
	assert.Equal(t, "0x3e8", tx["value"])
	assert.Equal(t, "0x7", tx["nonce"])
}

func TestNodeWalletChainMismatch(t *testing.T) {
	rpc := &fakeRPC{results: map[string]string{"eth_chainId": `"0x5"`}}
	w, err := NewNodeWallet(big.NewInt(0xabc), rpc)
	require.NoError(t, err)

	_, err = w.SubmitNativeTokenTransfer(context.Background(), domain.SubmitNativeTokenTransferRequest{
		To: big.NewInt(1), Value: big.NewInt(1), ChainID: big.NewInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, "eth_chainId", rpc.last(t).method)
}

func TestNodeWalletTransferNeedsRecipient(t *testing.T) {
	w, err := NewNodeWallet(big.NewInt(0xabc), &fakeRPC{})
	require.NoError(t, err)
	_, err = w.SubmitNativeTokenTransfer(context.Background(), domain.SubmitNativeTokenTransferRequest{Value: big.NewInt(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNodeWalletLegacySendsFromWallet(t *testing.T) {
	rpc := &fakeRPC{results: map[string]string{"eth_sendTransaction": `"0xfeed"`}}
	w, err := NewNodeWallet(big.NewInt(0xabc), rpc)
	require.NoError(t, err)

	raw, err := w.LegacyJSONRPC(context.Background(), "eth_sendTransaction", raws(`{"to":"0x01","value":"0x1"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `"0xfeed"`, string(raw))
	assert.Equal(t, walletAddr, rpc.txObject(t)["from"])

	_, err = w.LegacyJSONRPC(context.Background(), "eth_blockNumber", nil)
	require.NoError(t, err)
	assert.Equal(t, "eth_blockNumber", rpc.last(t).method)
}

func TestSigningWalletSignMessage(t *testing.T) {
	signer := &fixedSigner{sig: domain.Signature{R: big.NewInt(1), S: big.NewInt(2), V: 1}}
	w, err := NewSigningWallet(big.NewInt(0xabc), &fakeRPC{}, signer)
	require.NoError(t, err)

	res, err := w.SignMessage(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.RequestedMessage)
	assert.Equal(t, "\x19Ethereum Signed Message:\n5hello", res.SignedMessage)
	assert.Equal(t, new(big.Int).SetBytes(Keccak256([]byte(res.SignedMessage))), res.SignedBytes)
	assert.Equal(t, uint8(28), res.Signature.V)
	assert.Equal(t, []byte("hello"), signer.message)
}

func TestSigningWalletSignerError(t *testing.T) {
	w, err := NewSigningWallet(big.NewInt(0xabc), &fakeRPC{}, &fixedSigner{err: errors.New("locked")})
	require.NoError(t, err)
	_, err = w.SignMessage(context.Background(), "hello")
	assert.ErrorContains(t, err, "locked")

	_, err = NewSigningWallet(big.NewInt(0xabc), &fakeRPC{}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNodeSigner(t *testing.T) {
	sig := strings.Repeat("11", 32) + strings.Repeat("22", 32) + "01"
	rpc := &fakeRPC{results: map[string]string{"eth_sign": `"0x` + sig + `"`}}

	got, err := NodeSigner{RPC: rpc}.SignPersonal(context.Background(), big.NewInt(0xabc), []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, uint8(28), got.V)
	assert.Equal(t, strings.Repeat("11", 32), hex.EncodeToString(got.R.Bytes()))

	c := rpc.last(t)
	assert.Equal(t, "eth_sign", c.method)
	assert.JSONEq(t, `"`+walletAddr+`"`, string(c.params[0]))
	assert.JSONEq(t, `"0x6869"`, string(c.params[1]))
}

func TestParseSignatureLength(t *testing.T) {
	_, err := ParseSignature(make([]byte, 64))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

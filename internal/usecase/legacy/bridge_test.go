package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletbridge/internal/domain"
)

type recordingRPC struct {
	calls  []string
	result json.RawMessage
	err    error
}

func (r *recordingRPC) Call(_ context.Context, method string, _ []json.RawMessage) (json.RawMessage, error) {
	r.calls = append(r.calls, method)
	if r.err != nil {
		return nil, r.err
	}
	if r.result == nil {
		return json.RawMessage(`"remote"`), nil
	}
	return r.result, nil
}

type viewOnly struct{ address *big.Int }

func (v viewOnly) Address() *big.Int { return v.address }

type legacyWallet struct {
	viewOnly
	calls []string
}

func (w *legacyWallet) LegacyJSONRPC(_ context.Context, method string, _ []json.RawMessage) (json.RawMessage, error) {
	w.calls = append(w.calls, method)
	return json.RawMessage(`"wallet"`), nil
}

func TestGasPriceAnsweredLocally(t *testing.T) {
	rpc := &recordingRPC{}
	b := NewBridge(rpc, FixedGasPrice(big.NewInt(1_000_000_000)), nil)

	raw, err := b.Handle(context.Background(), nil, "eth_gasPrice", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x3b9aca00"`, string(raw))
	assert.Empty(t, rpc.calls)
}

func TestGasPriceFromNodeWhenNoSource(t *testing.T) {
	rpc := &recordingRPC{result: json.RawMessage(`"0x2a"`)}
	b := NewBridge(rpc, nil, nil)

	raw, err := b.Handle(context.Background(), nil, "eth_gasPrice", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x2a"`, string(raw))
	assert.Equal(t, []string{"eth_gasPrice"}, rpc.calls)
}

func TestAccountsWithoutWallet(t *testing.T) {
	b := NewBridge(&recordingRPC{}, FixedGasPrice(big.NewInt(1)), nil)
	ctx := context.Background()

	raw, err := b.Handle(ctx, nil, "eth_coinbase", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `null`, string(raw))

	raw, err = b.Handle(ctx, nil, "eth_accounts", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestAccountsWithWallet(t *testing.T) {
	b := NewBridge(&recordingRPC{}, FixedGasPrice(big.NewInt(1)), nil)
	ctx := context.Background()
	w := viewOnly{address: big.NewInt(0xabc)}

	raw, err := b.Handle(ctx, w, "eth_coinbase", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x0000000000000000000000000000000000000abc"`, string(raw))

	raw, err = b.Handle(ctx, w, "eth_accounts", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `["0x0000000000000000000000000000000000000abc"]`, string(raw))
}

func TestCallRouting(t *testing.T) {
	ctx := context.Background()
	for _, method := range []string{"eth_call", "eth_estimateGas"} {
		t.Run(method, func(t *testing.T) {
			rpc := &recordingRPC{}
			b := NewBridge(rpc, nil, nil)

			raw, err := b.Handle(ctx, nil, method, nil)
			require.NoError(t, err)
			assert.JSONEq(t, `"remote"`, string(raw))

			// A view-only wallet without legacy support still goes remote.
			_, err = b.Handle(ctx, viewOnly{address: big.NewInt(1)}, method, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{method, method}, rpc.calls)

			w := &legacyWallet{viewOnly: viewOnly{address: big.NewInt(1)}}
			raw, err = b.Handle(ctx, w, method, nil)
			require.NoError(t, err)
			assert.JSONEq(t, `"wallet"`, string(raw))
			assert.Equal(t, []string{method}, w.calls)
		})
	}
}

func TestSendTransactionNeedsWallet(t *testing.T) {
	ctx := context.Background()
	rpc := &recordingRPC{}
	b := NewBridge(rpc, nil, nil)

	for _, method := range []string{"eth_sendTransaction", "eth_signTransaction"} {
		_, err := b.Handle(ctx, nil, method, nil)
		var rpcErr *domain.JSONRPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, -32601, rpcErr.Code)
		assert.Equal(t, "Cannot call "+method+" without choosing a wallet.", rpcErr.Message)

		_, err = b.Handle(ctx, viewOnly{address: big.NewInt(1)}, method, nil)
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, "Cannot call "+method+" with this type of wallet.", rpcErr.Message)

		w := &legacyWallet{viewOnly: viewOnly{address: big.NewInt(1)}}
		raw, err := b.Handle(ctx, w, method, nil)
		require.NoError(t, err)
		assert.JSONEq(t, `"wallet"`, string(raw))
	}
	assert.Empty(t, rpc.calls)
}

func TestOtherMethodsForwarded(t *testing.T) {
	rpc := &recordingRPC{result: json.RawMessage(`"0x10"`)}
	b := NewBridge(rpc, nil, nil)

	raw, err := b.Handle(context.Background(), nil, "eth_blockNumber", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x10"`, string(raw))

	_, err = b.Handle(context.Background(), nil, "debug_traceTransaction", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"eth_blockNumber", "debug_traceTransaction"}, rpc.calls)
}

func TestForwardErrorsPassThrough(t *testing.T) {
	nodeErr := &domain.JSONRPCError{Code: -32000, Message: "header not found"}
	b := NewBridge(&recordingRPC{err: nodeErr}, nil, nil)

	_, err := b.Handle(context.Background(), nil, "eth_getBlockByNumber", nil)
	assert.True(t, errors.Is(err, nodeErr))
}

func TestNoRemoteConfigured(t *testing.T) {
	b := NewBridge(nil, FixedGasPrice(big.NewInt(1)), nil)
	_, err := b.Handle(context.Background(), nil, "eth_chainId", nil)
	assert.ErrorIs(t, err, domain.ErrRPCUnavailable)
}

package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletbridge/internal/domain"
	"walletbridge/internal/usecase/legacy"
)

type recordingChannel struct {
	mu        sync.Mutex
	caps      domain.CapabilitySet
	addresses []*big.Int
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{caps: domain.NewCapabilitySet()}
}

func (c *recordingChannel) UpdateCapabilities(_ context.Context, update domain.CapabilityUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for capability, on := range update {
		if on {
			c.caps.Add(capability)
		} else {
			c.caps.Remove(capability)
		}
	}
	return nil
}

func (c *recordingChannel) SetWalletAddress(_ context.Context, address *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addresses = append(c.addresses, address)
	return nil
}

func (c *recordingChannel) capabilities() []domain.Capability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps.List()
}

func attachedHandler(t *testing.T, rpc *fakeRPC) (*Handler, *recordingChannel) {
	t.Helper()
	h := NewHandler(rpc, legacy.NewBridge(rpc, legacy.FixedGasPrice(big.NewInt(1)), nil))
	ch := newRecordingChannel()
	require.NoError(t, h.Attach(context.Background(), ch))
	return h, ch
}

func TestAttachEnablesCallAndSubmit(t *testing.T) {
	_, ch := attachedHandler(t, &fakeRPC{})
	assert.Equal(t, []domain.Capability{domain.CapabilityCall, domain.CapabilitySubmit}, ch.capabilities())
}

func TestUpdateWalletDerivesCapabilities(t *testing.T) {
	rpc := &fakeRPC{}
	h, ch := attachedHandler(t, rpc)
	ctx := context.Background()

	viewing, err := NewViewingWallet(big.NewInt(0xabc), rpc)
	require.NoError(t, err)
	require.NoError(t, h.UpdateWallet(ctx, viewing))
	assert.Equal(t, []domain.Capability{domain.CapabilityCall, domain.CapabilitySubmit, domain.CapabilityLegacy}, ch.capabilities())

	signing, err := NewSigningWallet(big.NewInt(0xdef), rpc, &fixedSigner{})
	require.NoError(t, err)
	require.NoError(t, h.UpdateWallet(ctx, signing))
	assert.Equal(t, []domain.Capability{
		domain.CapabilitySignTransaction,
		domain.CapabilitySignMessage,
		domain.CapabilityCall,
		domain.CapabilitySubmit,
		domain.CapabilityLegacy,
	}, ch.capabilities())

	require.NoError(t, h.UpdateWallet(ctx, nil))
	assert.Equal(t, []domain.Capability{domain.CapabilityCall, domain.CapabilitySubmit}, ch.capabilities())
	assert.Equal(t, []*big.Int{big.NewInt(0xabc), big.NewInt(0xdef), nil}, ch.addresses)
}

func TestUpdateWalletBeforeAttach(t *testing.T) {
	h := NewHandler(&fakeRPC{}, nil)
	w, err := NewViewingWallet(big.NewInt(1), &fakeRPC{})
	require.NoError(t, err)
	require.NoError(t, h.UpdateWallet(context.Background(), w))
	assert.Same(t, w, h.Wallet())
}

func TestSignMessageErrors(t *testing.T) {
	rpc := &fakeRPC{}
	h, _ := attachedHandler(t, rpc)
	ctx := context.Background()

	_, err := h.SignMessage(ctx, "hi")
	assert.EqualError(t, err, "Cannot sign a message without connecting a wallet.")
	assert.ErrorIs(t, err, domain.ErrWalletRequired)

	w, err := NewNodeWallet(big.NewInt(1), rpc)
	require.NoError(t, err)
	require.NoError(t, h.UpdateWallet(ctx, w))
	_, err = h.SignMessage(ctx, "hi")
	assert.EqualError(t, err, "Cannot sign a message with this type of wallet.  Are you using a view-only wallet?")
	assert.ErrorIs(t, err, domain.ErrSigningUnsupported)
}

func TestSubmitErrors(t *testing.T) {
	rpc := &fakeRPC{}
	h, _ := attachedHandler(t, rpc)
	ctx := context.Background()

	_, err := h.SubmitContractCall(ctx, domain.SubmitContractCallRequest{})
	assert.EqualError(t, err, "Cannot submit transactions without connecting a wallet.")
	_, err = h.SubmitContractDeployment(ctx, domain.SubmitContractDeploymentRequest{})
	assert.EqualError(t, err, "Cannot submit transactions without connecting a wallet.")
	_, err = h.SubmitNativeTokenTransfer(ctx, domain.SubmitNativeTokenTransferRequest{})
	assert.EqualError(t, err, "Cannot transfer ETH without connecting a wallet.")

	w, err := NewViewingWallet(big.NewInt(1), rpc)
	require.NoError(t, err)
	require.NoError(t, h.UpdateWallet(ctx, w))
	_, err = h.SubmitContractCall(ctx, domain.SubmitContractCallRequest{})
	assert.EqualError(t, err, "Cannot submit transactions with this type of wallet.  Are you using a view-only wallet?")
	_, err = h.SubmitNativeTokenTransfer(ctx, domain.SubmitNativeTokenTransferRequest{})
	assert.EqualError(t, err, "Cannot transfer ETH with this type of wallet.  Are you using a view-only wallet?")
	assert.Empty(t, rpc.calls)
}

func TestSubmitThroughWallet(t *testing.T) {
	rpc := &fakeRPC{results: map[string]string{"eth_sendTransaction": `"0x01"`}}
	h, _ := attachedHandler(t, rpc)
	w, err := NewNodeWallet(big.NewInt(0xabc), rpc)
	require.NoError(t, err)
	require.NoError(t, h.UpdateWallet(context.Background(), w))

	res, err := h.SubmitNativeTokenTransfer(context.Background(), domain.SubmitNativeTokenTransferRequest{To: big.NewInt(2), Value: big.NewInt(3)})
	require.NoError(t, err)
	assert.Equal(t, "native token transfer status - 0x01", res.UpdateChannelName)
}

func TestHandlerGetBalance(t *testing.T) {
	rpc := &fakeRPC{results: map[string]string{"eth_getBalance": `"0x7b"`}}
	h, _ := attachedHandler(t, rpc)

	balance, err := h.GetBalance(context.Background(), big.NewInt(0xabc))
	require.NoError(t, err)
	assert.Equal(t, int64(123), balance.Int64())

	_, err = NewHandler(nil, nil).GetBalance(context.Background(), big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrRPCUnavailable)
}

func TestHandlerLocalContractCallWithoutWallet(t *testing.T) {
	rpc := &fakeRPC{results: map[string]string{"eth_call": `"0x01"`}}
	h, _ := attachedHandler(t, rpc)

	out, err := h.LocalContractCall(context.Background(), domain.LocalContractCallRequest{
		ContractAddress: big.NewInt(0xdef),
		MethodSignature: "totalSupply()",
		Value:           big.NewInt(0),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, out)
	tx := rpc.txObject(t)
	assert.NotContains(t, tx, "from")
	assert.Equal(t, "0x18160ddd", tx["data"])
}

func TestHandlerLegacyUsesAttachedWallet(t *testing.T) {
	rpc := &fakeRPC{}
	h, _ := attachedHandler(t, rpc)
	ctx := context.Background()

	raw, err := h.LegacyJSONRPC(ctx, "eth_accounts", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))

	w, err := NewViewingWallet(big.NewInt(0xabc), rpc)
	require.NoError(t, err)
	require.NoError(t, h.UpdateWallet(ctx, w))
	raw, err = h.LegacyJSONRPC(ctx, "eth_accounts", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `["`+walletAddr+`"]`, string(raw))
}

func TestHandlerOnErrorAndAnnouncement(t *testing.T) {
	var got error
	ann := domain.ProviderAnnouncement{ProviderID: "p1", FriendlyName: "Test"}
	h := NewHandler(&fakeRPC{}, nil, WithAnnouncement(ann), WithErrorCallback(func(err error) { got = err }))

	h.OnError(errors.New("boom"))
	assert.EqualError(t, got, "boom")

	a, err := h.GetProviderAnnouncement(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ann, a)
}

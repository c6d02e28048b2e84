package walletsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletbridge/internal/adapter/gateway"
	"walletbridge/internal/adapter/wallet"
	"walletbridge/internal/domain"
	"walletbridge/internal/infra/config"
	"walletbridge/internal/transport"
	"walletbridge/internal/usecase/client"
	"walletbridge/internal/usecase/scheduling"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeNode answers a handful of eth methods. eth_getBalance waits on block
// when it is set.
type fakeNode struct {
	block chan struct{}
}

func (n *fakeNode) Call(ctx context.Context, method string, _ []json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "eth_getBalance":
		if n.block != nil {
			select {
			case <-n.block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return json.RawMessage(`"0x2a"`), nil
	case "eth_chainId":
		return json.RawMessage(`"0x1"`), nil
	case "eth_gasPrice":
		return json.RawMessage(`"0x3b9aca00"`), nil
	}
	return nil, fmt.Errorf("unexpected method %s", method)
}

var testAnnouncement = domain.ProviderAnnouncement{
	ProviderID:         "test-wallet",
	SupportedProtocols: []domain.Protocol{{Name: "hot_ostrich", Version: "0.1"}},
	FriendlyName:       "Test Wallet",
	ChainName:          "mainnet",
}

func startProvider(t *testing.T, surface transport.Transport, node *fakeNode) (*Provider, *wallet.Handler) {
	t.Helper()
	handler := wallet.NewHandler(node, nil, wallet.WithAnnouncement(testAnnouncement), wallet.WithLogger(testLogger()))
	p, err := NewProvider(context.Background(), surface, handler, WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, handler
}

func startClient(t *testing.T, surface transport.Transport) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), surface, WithLogger(testLogger()))
	require.NoError(t, err)
	c.OnError(func(error) {})
	t.Cleanup(c.Close)
	return c
}

func timeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewProviderValidation(t *testing.T) {
	window := transport.NewWindow("page", nil)
	defer window.Close()
	handler := wallet.NewHandler(&fakeNode{}, nil, wallet.WithAnnouncement(testAnnouncement))

	_, err := NewProvider(context.Background(), nil, handler)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewProvider(context.Background(), window, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewProvider(context.Background(), window, wallet.NewHandler(&fakeNode{}, nil))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestProviderServesItsAnnouncedID(t *testing.T) {
	window := transport.NewWindow("page", nil)
	t.Cleanup(window.Close)
	p, handler := startProvider(t, window, &fakeNode{})
	c := startClient(t, window)
	ctx := timeout(t)

	own, err := handler.GetProviderAnnouncement(ctx)
	require.NoError(t, err)
	assert.Equal(t, own.ProviderID, p.ID())

	ann, err := c.WaitForProvider(ctx, "")
	require.NoError(t, err)
	ch, err := c.Connect(ctx, ann.ProviderID, client.HotOstrichHandlers{})
	require.NoError(t, err)
	_, err = ch.GetBalance(ctx, big.NewInt(1))
	assert.NoError(t, err)
}

func TestWaitForAnyProviderPicksFirstToAnnounce(t *testing.T) {
	window := transport.NewWindow("page", nil)
	t.Cleanup(window.Close)
	c := startClient(t, window)
	ctx := timeout(t)

	for _, id := range []string{"zebra-wallet", "aardvark-wallet"} {
		ann := testAnnouncement
		ann.ProviderID = id
		handler := wallet.NewHandler(&fakeNode{}, nil, wallet.WithAnnouncement(ann), wallet.WithLogger(testLogger()))
		p, err := NewProvider(context.Background(), window, handler, WithLogger(testLogger()))
		require.NoError(t, err)
		t.Cleanup(p.Close)
		_, err = c.WaitForProvider(ctx, id)
		require.NoError(t, err)
	}

	ann, err := c.WaitForProvider(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "zebra-wallet", ann.ProviderID)
	assert.Len(t, c.Providers(), 2)
}

func TestNewClientRequiresTransport(t *testing.T) {
	_, err := NewClient(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestProviderDiscoveryAndBalance(t *testing.T) {
	window := transport.NewWindow("page", nil)
	t.Cleanup(window.Close)
	p, _ := startProvider(t, window, &fakeNode{})
	c := startClient(t, window)
	ctx := timeout(t)

	ann, err := c.WaitForProvider(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, p.ID(), ann.ProviderID)
	assert.Equal(t, "Test Wallet", ann.FriendlyName)
	assert.Len(t, c.Providers(), 1)

	ch, err := c.Connect(ctx, ann.ProviderID, client.HotOstrichHandlers{})
	require.NoError(t, err)
	assert.True(t, ch.Capabilities().Has(domain.CapabilityCall))
	assert.True(t, ch.Capabilities().Has(domain.CapabilitySubmit))
	assert.False(t, ch.Capabilities().Has(domain.CapabilityAddress))

	balance, err := ch.GetBalance(ctx, big.NewInt(0xbeef))
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance.Int64())

	again, err := c.Connect(ctx, ann.ProviderID, client.HotOstrichHandlers{})
	require.NoError(t, err)
	assert.Same(t, ch, again)
}

func TestWaitForSpecificProvider(t *testing.T) {
	window := transport.NewWindow("page", nil)
	t.Cleanup(window.Close)
	c := startClient(t, window)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.WaitForProvider(short, testAnnouncement.ProviderID)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	startProvider(t, window, &fakeNode{})
	ann, err := c.WaitForProvider(timeout(t), testAnnouncement.ProviderID)
	require.NoError(t, err)
	assert.Equal(t, testAnnouncement.ProviderID, ann.ProviderID)
}

func TestWalletUpdateReachesClient(t *testing.T) {
	window := transport.NewWindow("page", nil)
	t.Cleanup(window.Close)
	node := &fakeNode{}
	_, handler := startProvider(t, window, node)
	c := startClient(t, window)
	ctx := timeout(t)

	var changed atomic.Int32
	ch, err := c.Connect(ctx, testAnnouncement.ProviderID, client.HotOstrichHandlers{
		OnWalletAddressChanged: func() { changed.Add(1) },
	})
	require.NoError(t, err)

	address, _ := new(big.Int).SetString("5aeda56215b167893e80b4fe645ba6d5bab767de", 16)
	viewing, err := wallet.NewViewingWallet(address, node)
	require.NoError(t, err)
	require.NoError(t, handler.UpdateWallet(ctx, viewing))

	require.Eventually(t, func() bool {
		got, ok := ch.WalletAddress()
		return ok && got.Cmp(address) == 0
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return ch.Capabilities().Has(domain.CapabilityLegacy)
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, ch.Capabilities().Has(domain.CapabilityAddress))
	assert.False(t, ch.Capabilities().Has(domain.CapabilitySignMessage))
	assert.GreaterOrEqual(t, changed.Load(), int32(1))

	accounts, err := ch.LegacyJSONRPC(ctx, "eth_accounts", nil)
	require.NoError(t, err)
	want, _ := json.Marshal([]string{domain.FormatAddress(address)})
	assert.JSONEq(t, string(want), string(accounts))

	chainID, err := ch.LegacyJSONRPC(ctx, "eth_chainId", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x1"`, string(chainID))
}

func TestExpirePendingAndActions(t *testing.T) {
	window := transport.NewWindow("page", nil)
	t.Cleanup(window.Close)
	node := &fakeNode{block: make(chan struct{})}
	startProvider(t, window, node)
	t.Cleanup(func() { close(node.block) })
	c := startClient(t, window)
	ctx := timeout(t)

	ch, err := c.Connect(ctx, testAnnouncement.ProviderID, client.HotOstrichHandlers{})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.GetBalance(ctx, big.NewInt(1))
		errCh <- err
	}()
	require.Eventually(t, func() bool { return ch.PendingCount() == 1 }, 3*time.Second, 10*time.Millisecond)

	s := scheduling.NewScheduler(testLogger())
	c.RegisterActions(s, time.Nanosecond)
	for _, task := range scheduling.FromConfig(config.ClientConfig{ExpireSchedule: "20ms", PendingTTL: time.Nanosecond}) {
		require.NoError(t, s.AddTask(task))
	}
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrRequestExpired)
	case <-time.After(3 * time.Second):
		t.Fatal("pending request was not expired")
	}
}

func TestDisconnectFailsPending(t *testing.T) {
	window := transport.NewWindow("page", nil)
	t.Cleanup(window.Close)
	node := &fakeNode{block: make(chan struct{})}
	startProvider(t, window, node)
	t.Cleanup(func() { close(node.block) })
	c := startClient(t, window)
	ctx := timeout(t)

	ch, err := c.Connect(ctx, testAnnouncement.ProviderID, client.HotOstrichHandlers{})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.GetBalance(ctx, big.NewInt(1))
		errCh <- err
	}()
	require.Eventually(t, func() bool { return ch.PendingCount() == 1 }, 3*time.Second, 10*time.Millisecond)

	c.Disconnect(testAnnouncement.ProviderID)
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrChannelClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("pending request survived disconnect")
	}
}

func TestClientClose(t *testing.T) {
	window := transport.NewWindow("page", nil)
	t.Cleanup(window.Close)
	c := startClient(t, window)

	c.Close()
	c.Close()
	_, err := c.Connect(context.Background(), "anything", client.HotOstrichHandlers{})
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
}

func TestOverGateway(t *testing.T) {
	window := transport.NewWindow("extension", nil)
	t.Cleanup(window.Close)
	startProvider(t, window, &fakeNode{})

	srv := gateway.NewServer(window, nil, config.GatewayConfig{MaxMessageBytes: 1 << 20}, gateway.WithLogger(testLogger()))
	gwCtx, cancel := context.WithCancel(context.Background())
	hs := httptest.NewServer(srv.Handler(gwCtx))
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		hs.Close()
		cancel()
	})

	ctx := timeout(t)
	port, err := transport.DialPort(ctx, "ws"+strings.TrimPrefix(hs.URL, "http")+"/ws", "", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })
	require.Eventually(t, func() bool { return srv.Connections() == 1 }, 3*time.Second, 10*time.Millisecond)

	c := startClient(t, port)
	ann, err := c.WaitForProvider(ctx, "")
	require.NoError(t, err)

	ch, err := c.Connect(ctx, ann.ProviderID, client.HotOstrichHandlers{})
	require.NoError(t, err)
	balance, err := ch.GetBalance(ctx, big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance.Int64())
}

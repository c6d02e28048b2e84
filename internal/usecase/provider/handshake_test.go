package provider

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletbridge/internal/domain"
	"walletbridge/internal/protocol"
	"walletbridge/internal/transport"
	"walletbridge/internal/usecase/client"
)

type stubAnnouncer struct {
	calls atomic.Int32
	fail  bool
	errs  chan error
}

func (s *stubAnnouncer) OnError(err error) { s.errs <- err }

func (s *stubAnnouncer) GetProviderAnnouncement(context.Context) (domain.ProviderAnnouncement, error) {
	s.calls.Add(1)
	if s.fail {
		return domain.ProviderAnnouncement{}, errors.New("wallet locked")
	}
	return domain.ProviderAnnouncement{
		ProviderID:         testProvider,
		SupportedProtocols: protocol.SupportedProtocols(),
		FriendlyName:       "Test Wallet",
		ChainName:          "mainnet",
	}, nil
}

func providerAnnouncements(t *testing.T, w *transport.Window) chan domain.ProviderAnnouncement {
	seen := make(chan domain.ProviderAnnouncement, 16)
	remove := w.AddListener(func(payload []byte) {
		msg, ok, err := protocol.Decode(payload, protocol.KindHandshake, protocol.HandshakeProviderChannel)
		if !ok || err != nil {
			return
		}
		n, isNote := msg.(protocol.Notification)
		if !isNote {
			return
		}
		var ann domain.ProviderAnnouncement
		if json.Unmarshal(n.Payload, &ann) == nil {
			seen <- ann
		}
	})
	t.Cleanup(remove)
	return seen
}

func nextAnnouncement(t *testing.T, ch <-chan domain.ProviderAnnouncement) domain.ProviderAnnouncement {
	t.Helper()
	select {
	case ann := <-ch:
		return ann
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for provider announcement")
		return domain.ProviderAnnouncement{}
	}
}

func clientAnnounce(t *testing.T, w *transport.Window) {
	t.Helper()
	raw, err := protocol.Encode(protocol.HandshakeClientChannel, protocol.KindHandshake,
		protocol.Broadcast{Kind: protocol.KindClientAnnouncement, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.NoError(t, w.Post(context.Background(), raw))
}

func TestProviderAnnouncesOnStartAndOnEveryClientAnnouncement(t *testing.T) {
	w := transport.NewWindow("test", nil)
	defer w.Close()
	seen := providerAnnouncements(t, w)
	a := &stubAnnouncer{errs: make(chan error, 4)}

	h, err := NewHandshakeChannel(w, a)
	require.NoError(t, err)
	defer h.Shutdown()

	ann := nextAnnouncement(t, seen)
	assert.Equal(t, testProvider, ann.ProviderID)
	assert.Equal(t, "Test Wallet", ann.FriendlyName)

	clientAnnounce(t, w)
	clientAnnounce(t, w)
	nextAnnouncement(t, seen)
	nextAnnouncement(t, seen)
	assert.Equal(t, int32(3), a.calls.Load())
}

func TestProviderAnnouncementErrorReported(t *testing.T) {
	w := transport.NewWindow("test", nil)
	defer w.Close()
	a := &stubAnnouncer{fail: true, errs: make(chan error, 4)}

	h, err := NewHandshakeChannel(w, a)
	require.NoError(t, err)
	defer h.Shutdown()

	select {
	case err := <-a.errs:
		assert.ErrorContains(t, err, "wallet locked")
	case <-time.After(2 * time.Second):
		t.Fatal("announcement error not reported")
	}
}

func TestHandshakeDiscovery(t *testing.T) {
	w := transport.NewWindow("test", nil)
	defer w.Close()
	a := &stubAnnouncer{errs: make(chan error, 4)}

	h, err := NewHandshakeChannel(w, a)
	require.NoError(t, err)
	defer h.Shutdown()

	found := make(chan domain.ProviderAnnouncement, 4)
	c, err := client.NewHandshakeChannel(context.Background(), w, client.HandshakeHandlers{
		OnProviderAnnounced: func(ann domain.ProviderAnnouncement) { found <- ann },
	})
	require.NoError(t, err)
	defer c.Shutdown()

	ann := nextAnnouncement(t, found)
	assert.Equal(t, testProvider, ann.ProviderID)
	assert.True(t, ann.Supports(string(protocol.KindHotOstrich)))
	_, ok := c.Provider(testProvider)
	assert.True(t, ok)
}

func TestHandshakeShutdownIgnoresClients(t *testing.T) {
	w := transport.NewWindow("test", nil)
	defer w.Close()
	seen := providerAnnouncements(t, w)
	a := &stubAnnouncer{errs: make(chan error, 4)}

	h, err := NewHandshakeChannel(w, a)
	require.NoError(t, err)
	nextAnnouncement(t, seen)
	h.Shutdown()

	clientAnnounce(t, w)
	select {
	case <-seen:
		t.Fatal("announced after shutdown")
	case <-time.After(50 * time.Millisecond):
	}
}

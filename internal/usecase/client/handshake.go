// Package client implements the dapp side of the handshake and hot ostrich
// protocols.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"walletbridge/internal/domain"
	"walletbridge/internal/protocol"
	"walletbridge/internal/transport"
	"walletbridge/internal/usecase/channel"
)

// HandshakeHandlers receive handshake channel events. Either may be nil.
type HandshakeHandlers struct {
	OnError             func(err error)
	OnProviderAnnounced func(announcement domain.ProviderAnnouncement)
}

// HandshakeChannel discovers providers sharing a transport.
type HandshakeChannel struct {
	base     *channel.Base
	handlers HandshakeHandlers
	suppress bool

	mu        sync.RWMutex
	providers map[string]domain.ProviderAnnouncement
	raw       map[string][]byte
}

// NewHandshakeChannel starts listening for provider announcements and
// announces the client once.
func NewHandshakeChannel(ctx context.Context, t transport.Transport, handlers HandshakeHandlers, opts ...channel.Option) (*HandshakeChannel, error) {
	o := channel.Apply(opts...)
	c := &HandshakeChannel{
		handlers:  handlers,
		suppress:  o.SuppressDuplicates,
		providers: make(map[string]domain.ProviderAnnouncement),
		raw:       make(map[string][]byte),
	}
	base, err := channel.NewBase(channel.Config{
		Transport: t,
		Protocol:  protocol.KindHandshake,
		Listen:    protocol.HandshakeProviderChannel,
		Send:      protocol.HandshakeClientChannel,
		Role:      channel.RoleClient,
	}, c.onMessage, handlers.OnError, o)
	if err != nil {
		return nil, err
	}
	c.base = base
	base.Start()

	if err := c.ReRequestProviders(ctx); err != nil {
		base.Shutdown()
		return nil, err
	}
	return c, nil
}

// ReRequestProviders broadcasts a client announcement. Every provider on
// the transport answers with its announcement.
func (c *HandshakeChannel) ReRequestProviders(ctx context.Context) error {
	msg := protocol.Broadcast{Kind: protocol.KindClientAnnouncement}
	if err := c.base.Send(ctx, msg); err != nil {
		return domain.WrapOp("handshake.announce", err)
	}
	return nil
}

// KnownProviders returns the latest announcement of every provider seen,
// ordered by provider id.
func (c *HandshakeChannel) KnownProviders() []domain.ProviderAnnouncement {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ProviderAnnouncement, 0, len(c.providers))
	for _, a := range c.providers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

// Provider returns the latest announcement of providerID.
func (c *HandshakeChannel) Provider(providerID string) (domain.ProviderAnnouncement, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.providers[providerID]
	return a, ok
}

// Shutdown stops listening.
func (c *HandshakeChannel) Shutdown() { c.base.Shutdown() }

func (c *HandshakeChannel) onMessage(msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.Notification:
		switch m.Kind {
		case protocol.KindProviderAnnouncement:
			return c.onProviderAnnouncement(m.Payload)
		default:
			panic(protocol.Unreachable(m.Kind))
		}
	case protocol.Response:
		return fmt.Errorf("%w: handshake response %s", domain.ErrUnexpectedMessageType, m.Kind)
	default:
		panic(protocol.Unreachable(msg))
	}
}

func (c *HandshakeChannel) onProviderAnnouncement(payload json.RawMessage) error {
	var a domain.ProviderAnnouncement
	if err := json.Unmarshal(payload, &a); err != nil {
		return fmt.Errorf("%w: provider announcement: %v", domain.ErrMalformedMessage, err)
	}
	if a.ProviderID == "" {
		return fmt.Errorf("%w: provider announcement without provider_id", domain.ErrMalformedMessage)
	}

	c.mu.Lock()
	duplicate := bytes.Equal(c.raw[a.ProviderID], payload)
	c.providers[a.ProviderID] = a
	c.raw[a.ProviderID] = append([]byte(nil), payload...)
	c.mu.Unlock()

	if duplicate && c.suppress {
		c.base.Logger().Debug("duplicate provider announcement suppressed", "provider_id", a.ProviderID)
		return nil
	}
	c.base.Logger().Debug("provider announced", "provider_id", a.ProviderID, "friendly_name", a.FriendlyName)
	c.base.Publish(context.Background(), domain.EventProviderAnnounced, a.ProviderID, a)
	if c.handlers.OnProviderAnnounced != nil {
		c.handlers.OnProviderAnnounced(a)
	}
	return nil
}

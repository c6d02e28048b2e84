package walletsdk

import (
	"context"

	"walletbridge/internal/adapter/wallet"
	"walletbridge/internal/domain"
	"walletbridge/internal/transport"
	"walletbridge/internal/usecase/provider"
)

// ProviderHandler serves the wallet side of both protocols.
// *wallet.Handler from internal/adapter/wallet satisfies it.
type ProviderHandler interface {
	provider.HotOstrichHandler
	GetProviderAnnouncement(ctx context.Context) (domain.ProviderAnnouncement, error)
}

// attacher is implemented by handlers that manage capabilities themselves.
type attacher interface {
	Attach(ctx context.Context, ch wallet.CapabilityChannel) error
}

// Provider is a wallet provider reachable over one transport.
type Provider struct {
	announcement domain.ProviderAnnouncement
	handshake    *provider.HandshakeChannel
	hotOstrich   *provider.HotOstrichChannel
}

// NewProvider starts the provider's hot ostrich channel, attaches handler
// to it when the handler supports that, and then starts announcing on the
// handshake channel. The hot ostrich channel is named by the provider id of
// the handler's own announcement, the one clients discover.
func NewProvider(ctx context.Context, t transport.Transport, handler ProviderHandler, opts ...Option) (*Provider, error) {
	if t == nil {
		return nil, domain.NewDomainError("walletsdk.NewProvider", domain.ErrInvalidInput, "transport is required")
	}
	if handler == nil {
		return nil, domain.NewDomainError("walletsdk.NewProvider", domain.ErrInvalidInput, "handler is required")
	}
	announcement, err := handler.GetProviderAnnouncement(ctx)
	if err != nil {
		return nil, domain.WrapOp("walletsdk.announcement", err)
	}
	if announcement.ProviderID == "" {
		return nil, domain.NewDomainError("walletsdk.NewProvider", domain.ErrInvalidInput, "announcement provider id is required")
	}
	o := applyOptions(opts)

	hot, err := provider.NewHotOstrichChannel(t, announcement.ProviderID, handler, o.channels...)
	if err != nil {
		return nil, err
	}
	if a, ok := handler.(attacher); ok {
		if err := a.Attach(ctx, hot); err != nil {
			hot.Shutdown()
			return nil, domain.WrapOp("walletsdk.attach", err)
		}
	}
	hs, err := provider.NewHandshakeChannel(t, handler, o.channels...)
	if err != nil {
		hot.Shutdown()
		return nil, err
	}
	o.logger.Info("provider started", "provider_id", announcement.ProviderID, "friendly_name", announcement.FriendlyName)
	return &Provider{announcement: announcement, handshake: hs, hotOstrich: hot}, nil
}

// ID returns the provider id.
func (p *Provider) ID() string { return p.announcement.ProviderID }

// Channel returns the hot ostrich channel, for capability and address
// updates outside a handler.
func (p *Provider) Channel() *provider.HotOstrichChannel { return p.hotOstrich }

// Announce re-sends the provider announcement.
func (p *Provider) Announce(ctx context.Context) error { return p.handshake.Announce(ctx) }

// Close shuts both channels down and waits for in-flight requests.
func (p *Provider) Close() {
	p.handshake.Shutdown()
	p.hotOstrich.Shutdown()
}

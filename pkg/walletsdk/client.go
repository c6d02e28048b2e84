package walletsdk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"walletbridge/internal/domain"
	"walletbridge/internal/transport"
	"walletbridge/internal/usecase/channel"
	"walletbridge/internal/usecase/client"
	"walletbridge/internal/usecase/scheduling"
)

// Client is a dapp's view of every provider sharing a transport.
type Client struct {
	transport transport.Transport
	logger    *slog.Logger
	channels  []channel.Option
	handshake *client.HandshakeChannel

	mu        sync.Mutex
	announced chan struct{} // closed and replaced on every announcement
	first     string        // provider id of the earliest announcement
	conns     map[string]*client.HotOstrichChannel
	onError   func(error)
	closed    bool
}

// NewClient starts the handshake channel and broadcasts a client
// announcement so providers on t introduce themselves.
func NewClient(ctx context.Context, t transport.Transport, opts ...Option) (*Client, error) {
	if t == nil {
		return nil, domain.NewDomainError("walletsdk.NewClient", domain.ErrInvalidInput, "transport is required")
	}
	o := applyOptions(opts)
	c := &Client{
		transport: t,
		logger:    o.logger.With("component", "walletsdk"),
		channels:  o.channels,
		announced: make(chan struct{}),
		conns:     make(map[string]*client.HotOstrichChannel),
	}
	hs, err := client.NewHandshakeChannel(ctx, t, client.HandshakeHandlers{
		OnError:             c.reportError,
		OnProviderAnnounced: c.providerAnnounced,
	}, o.channels...)
	if err != nil {
		return nil, err
	}
	c.handshake = hs
	return c, nil
}

// OnError sets the callback for channel errors of the handshake channel
// and of every connection made without its own OnError.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

func (c *Client) reportError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
		return
	}
	c.logger.Warn("channel error", "error", err)
}

func (c *Client) providerAnnounced(a domain.ProviderAnnouncement) {
	c.mu.Lock()
	if c.first == "" {
		c.first = a.ProviderID
	}
	close(c.announced)
	c.announced = make(chan struct{})
	c.mu.Unlock()
}

// Providers returns every provider announced so far, ordered by id.
func (c *Client) Providers() []domain.ProviderAnnouncement {
	return c.handshake.KnownProviders()
}

// Rediscover asks every provider to announce itself again.
func (c *Client) Rediscover(ctx context.Context) error {
	return c.handshake.ReRequestProviders(ctx)
}

// WaitForProvider blocks until providerID has announced itself. With an
// empty providerID it returns the first provider to announce.
func (c *Client) WaitForProvider(ctx context.Context, providerID string) (domain.ProviderAnnouncement, error) {
	for {
		c.mu.Lock()
		wait := c.announced
		id := providerID
		if id == "" {
			id = c.first
		}
		c.mu.Unlock()

		if id != "" {
			if a, ok := c.handshake.Provider(id); ok {
				return a, nil
			}
		}

		select {
		case <-ctx.Done():
			return domain.ProviderAnnouncement{}, domain.WrapOp("walletsdk.wait", ctx.Err())
		case <-wait:
		}
	}
}

// Connect returns the hot ostrich channel for providerID, creating it on
// first use, and waits until its capabilities are known. handlers only
// apply to a newly created channel.
func (c *Client) Connect(ctx context.Context, providerID string, handlers client.HotOstrichHandlers) (*client.HotOstrichChannel, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.ErrChannelClosed
	}
	ch, ok := c.conns[providerID]
	if !ok {
		if handlers.OnError == nil {
			handlers.OnError = c.reportError
		}
		var err error
		ch, err = client.NewHotOstrichChannel(c.transport, providerID, handlers, c.channels...)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		c.conns[providerID] = ch
		c.logger.Debug("provider connected", "provider_id", providerID)
	}
	c.mu.Unlock()

	select {
	case <-ch.Ready():
		return ch, nil
	case <-ctx.Done():
		return nil, domain.WrapOp("walletsdk.connect", ctx.Err())
	}
}

// Disconnect shuts the channel to providerID down, failing its pending
// requests.
func (c *Client) Disconnect(providerID string) {
	c.mu.Lock()
	ch, ok := c.conns[providerID]
	delete(c.conns, providerID)
	c.mu.Unlock()
	if ok {
		ch.Shutdown()
	}
}

func (c *Client) connections() []*client.HotOstrichChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*client.HotOstrichChannel, 0, len(c.conns))
	for _, ch := range c.conns {
		out = append(out, ch)
	}
	return out
}

// ExpirePending fails requests on every connection that have waited at
// least ttl and returns how many were expired.
func (c *Client) ExpirePending(ttl time.Duration) int {
	now := time.Now()
	n := 0
	for _, ch := range c.connections() {
		n += ch.ExpirePending(now, ttl)
	}
	return n
}

// RegisterActions binds the client's housekeeping to s: rediscovery and,
// when pendingTTL is positive, expiry of stale requests.
func (c *Client) RegisterActions(s *scheduling.Scheduler, pendingTTL time.Duration) {
	s.RegisterAction(scheduling.ActionRediscoverProviders, c.Rediscover)
	if pendingTTL > 0 {
		s.RegisterAction(scheduling.ActionExpirePending, func(context.Context) error {
			c.ExpirePending(pendingTTL)
			return nil
		})
	}
}

// Close shuts every channel down.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conns := c.conns
	c.conns = nil
	c.mu.Unlock()

	c.handshake.Shutdown()
	for _, ch := range conns {
		ch.Shutdown()
	}
}

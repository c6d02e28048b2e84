// Package provider implements the wallet side of the handshake and hot
// ostrich protocols.
package provider

import (
	"context"
	"fmt"
	"sync"

	"walletbridge/internal/domain"
	"walletbridge/internal/protocol"
	"walletbridge/internal/transport"
	"walletbridge/internal/usecase/channel"
)

// HandshakeHandler supplies the announcement and receives channel errors.
type HandshakeHandler interface {
	OnError(err error)
	GetProviderAnnouncement(ctx context.Context) (domain.ProviderAnnouncement, error)
}

// HandshakeChannel announces the provider once when created and again on
// every client announcement, without rate limiting.
type HandshakeChannel struct {
	base    *channel.Base
	handler HandshakeHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewHandshakeChannel starts listening for client announcements and
// announces the provider in the background.
func NewHandshakeChannel(t transport.Transport, handler HandshakeHandler, opts ...channel.Option) (*HandshakeChannel, error) {
	if handler == nil {
		return nil, domain.NewDomainError("handshake.New", domain.ErrInvalidInput, "handler is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &HandshakeChannel{handler: handler, ctx: ctx, cancel: cancel}
	base, err := channel.NewBase(channel.Config{
		Transport: t,
		Protocol:  protocol.KindHandshake,
		Listen:    protocol.HandshakeClientChannel,
		Send:      protocol.HandshakeProviderChannel,
		Role:      channel.RoleProvider,
	}, c.onMessage, handler.OnError, channel.Apply(opts...))
	if err != nil {
		cancel()
		return nil, err
	}
	c.base = base
	base.Start()
	c.announceAsync()
	return c, nil
}

// Announce sends the current provider announcement.
func (c *HandshakeChannel) Announce(ctx context.Context) error {
	ann, err := c.handler.GetProviderAnnouncement(ctx)
	if err != nil {
		return domain.WrapOp("handshake.announcement", err)
	}
	msg, err := protocol.NewNotification(protocol.KindProviderAnnouncement, ann)
	if err != nil {
		return err
	}
	if err := c.base.Send(ctx, msg); err != nil {
		return domain.WrapOp("handshake.announce", err)
	}
	c.base.Metrics().NotificationSent(string(protocol.KindProviderAnnouncement))
	c.base.Publish(ctx, domain.EventProviderAnnounced, ann.ProviderID, ann)
	return nil
}

// Shutdown stops listening and waits for in-flight announcements.
func (c *HandshakeChannel) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.base.Shutdown()
	c.wg.Wait()
}

func (c *HandshakeChannel) announceAsync() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.base.Recover()
		if err := c.Announce(c.ctx); err != nil && c.ctx.Err() == nil {
			c.base.Fail(err)
		}
	}()
}

func (c *HandshakeChannel) onMessage(msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.Broadcast:
		switch m.Kind {
		case protocol.KindClientAnnouncement:
			c.announceAsync()
			return nil
		default:
			panic(protocol.Unreachable(m.Kind))
		}
	case protocol.Request:
		return fmt.Errorf("%w: handshake request %s", domain.ErrUnexpectedMessageType, m.Kind)
	default:
		panic(protocol.Unreachable(msg))
	}
}

package provider

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"walletbridge/internal/domain"
	"walletbridge/internal/protocol"
	"walletbridge/internal/transport"
	"walletbridge/internal/usecase/channel"
)

// HotOstrichHandler services requests and receives channel errors.
type HotOstrichHandler interface {
	domain.WalletHandler
	OnError(err error)
}

// HotOstrichChannel owns the provider's capability set and wallet address
// and answers client requests. Each request is served on its own
// goroutine; every request gets exactly one response.
type HotOstrichChannel struct {
	base       *channel.Base
	providerID string
	handler    HotOstrichHandler
	routes     map[protocol.Kind]route

	// sendMu is held from a change until its notifications are out, so
	// observers see changes in the order they were applied. mu guards the
	// state alone and is never held across a send.
	sendMu       sync.Mutex
	mu           sync.Mutex
	capabilities domain.CapabilitySet
	address      *big.Int

	ctx      context.Context
	cancel   context.CancelFunc
	lifeMu   sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// NewHotOstrichChannel starts serving requests for providerID with an
// empty capability set.
func NewHotOstrichChannel(t transport.Transport, providerID string, handler HotOstrichHandler, opts ...channel.Option) (*HotOstrichChannel, error) {
	if providerID == "" {
		return nil, domain.NewDomainError("hotostrich.New", domain.ErrInvalidInput, "provider id is required")
	}
	if handler == nil {
		return nil, domain.NewDomainError("hotostrich.New", domain.ErrInvalidInput, "handler is required")
	}
	o := channel.Apply(opts...)
	o.Logger = o.Logger.With("provider_id", providerID)
	ctx, cancel := context.WithCancel(context.Background())
	c := &HotOstrichChannel{
		providerID:   providerID,
		handler:      handler,
		capabilities: domain.NewCapabilitySet(),
		ctx:          ctx,
		cancel:       cancel,
	}
	c.routes = c.routeTable()
	for _, kind := range protocol.RequestKinds {
		if _, ok := c.routes[kind]; !ok {
			panic(protocol.Unreachable(kind))
		}
	}

	base, err := channel.NewBase(channel.Config{
		Transport: t,
		Protocol:  protocol.KindHotOstrich,
		Listen:    protocol.ClientChannel(providerID),
		Send:      protocol.ProviderChannel(providerID),
		Role:      channel.RoleProvider,
	}, c.onMessage, handler.OnError, o)
	if err != nil {
		cancel()
		return nil, err
	}
	c.base = base
	base.Start()
	return c, nil
}

// ProviderID returns the id this channel serves.
func (c *HotOstrichChannel) ProviderID() string { return c.providerID }

// Capabilities returns a copy of the current capability set.
func (c *HotOstrichChannel) Capabilities() domain.CapabilitySet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities.Clone()
}

// WalletAddress returns the current wallet address or
// domain.ErrWalletAddressUnset.
func (c *HotOstrichChannel) WalletAddress() (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.address == nil {
		return nil, domain.NewDomainError("hotostrich.WalletAddress", domain.ErrWalletAddressUnset, "")
	}
	return new(big.Int).Set(c.address), nil
}

// UpdateCapabilities applies a partial update. Capabilities absent from
// update are left alone. When anything changed, one capabilities_changed
// notification with the full resulting set is sent.
//
// address is derived from the wallet address: setting it true without an
// address fails with domain.ErrAddressWithoutWallet, setting it false
// clears the address.
func (c *HotOstrichChannel) UpdateCapabilities(ctx context.Context, update domain.CapabilityUpdate) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.applyUpdate(ctx, update)
}

// applyUpdate needs sendMu.
func (c *HotOstrichChannel) applyUpdate(ctx context.Context, update domain.CapabilityUpdate) error {
	c.mu.Lock()
	snapshot, changed, err := c.updateLocked(update)
	c.mu.Unlock()
	if err != nil || !changed {
		return err
	}
	return c.notifyCapabilities(ctx, snapshot)
}

// updateLocked applies update and returns the resulting set.
func (c *HotOstrichChannel) updateLocked(update domain.CapabilityUpdate) (domain.CapabilitySet, bool, error) {
	for capability, enabled := range update {
		if !capability.Valid() {
			return nil, false, domain.NewDomainError("hotostrich.UpdateCapabilities", domain.ErrInvalidInput,
				fmt.Sprintf("unknown capability %q", capability))
		}
		if capability == domain.CapabilityAddress && enabled && c.address == nil {
			return nil, false, domain.NewDomainError("hotostrich.UpdateCapabilities", domain.ErrAddressWithoutWallet,
				"set a wallet address instead")
		}
	}

	next := c.capabilities.Clone()
	changed := false
	clearAddress := false
	for capability, enabled := range update {
		switch {
		case enabled && !next.Has(capability):
			next.Add(capability)
			changed = true
		case !enabled && next.Has(capability):
			next.Remove(capability)
			changed = true
		}
		if capability == domain.CapabilityAddress && !enabled && c.address != nil {
			clearAddress = true
			changed = true
		}
	}
	if !changed {
		return nil, false, nil
	}

	c.capabilities = next
	if clearAddress {
		c.address = nil
	}
	return next.Clone(), true, nil
}

// SetWalletAddress stores address, forcing the address capability on, and
// notifies clients. A nil address clears it; clients learn of that only
// through the capability set losing address.
func (c *HotOstrichChannel) SetWalletAddress(ctx context.Context, address *big.Int) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if address == nil {
		return c.applyUpdate(ctx, domain.CapabilityUpdate{domain.CapabilityAddress: false})
	}

	c.mu.Lock()
	c.address = new(big.Int).Set(address)
	var snapshot domain.CapabilitySet
	if !c.capabilities.Has(domain.CapabilityAddress) {
		c.capabilities.Add(domain.CapabilityAddress)
		snapshot = c.capabilities.Clone()
	}
	payload := domain.WalletAddressPayload{Address: new(big.Int).Set(address)}
	c.mu.Unlock()

	if snapshot != nil {
		if err := c.notifyCapabilities(ctx, snapshot); err != nil {
			return err
		}
	}
	if err := c.notify(ctx, protocol.KindWalletAddressChanged, payload); err != nil {
		return err
	}
	c.base.Publish(ctx, domain.EventWalletAddressChanged, c.providerID, payload)
	return nil
}

func (c *HotOstrichChannel) notifyCapabilities(ctx context.Context, capabilities domain.CapabilitySet) error {
	payload := domain.CapabilitiesPayload{Capabilities: capabilities}
	if err := c.notify(ctx, protocol.KindCapabilitiesChanged, payload); err != nil {
		return err
	}
	c.base.Publish(ctx, domain.EventCapabilitiesChanged, c.providerID, payload)
	return nil
}

func (c *HotOstrichChannel) notify(ctx context.Context, kind protocol.Kind, payload any) error {
	msg, err := protocol.NewNotification(kind, payload)
	if err != nil {
		return err
	}
	if err := c.base.Send(ctx, msg); err != nil {
		return domain.WrapOp("hotostrich.notify", err)
	}
	c.base.Metrics().NotificationSent(string(kind))
	return nil
}

// Shutdown stops accepting requests and waits for in-flight handlers.
// Their responses are dropped.
func (c *HotOstrichChannel) Shutdown() {
	c.lifeMu.Lock()
	if c.closed {
		c.lifeMu.Unlock()
		return
	}
	c.closed = true
	c.lifeMu.Unlock()

	c.base.Shutdown()
	c.cancel()
	c.inflight.Wait()
}

func (c *HotOstrichChannel) onMessage(msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.Request:
		c.serve(m)
		return nil
	case protocol.Broadcast:
		return fmt.Errorf("%w: hot ostrich broadcast %s", domain.ErrUnexpectedMessageType, m.Kind)
	default:
		panic(protocol.Unreachable(msg))
	}
}

func (c *HotOstrichChannel) serve(req protocol.Request) {
	c.lifeMu.RLock()
	defer c.lifeMu.RUnlock()
	if c.closed {
		return
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer c.base.Recover()
		c.dispatch(req)
	}()
}

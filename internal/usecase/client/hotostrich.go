package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"walletbridge/internal/domain"
	"walletbridge/internal/infra/tracer"
	"walletbridge/internal/protocol"
	"walletbridge/internal/transport"
	"walletbridge/internal/usecase/channel"
)

// HotOstrichHandlers receive hot ostrich channel events. Any may be nil.
// The change callbacks carry no payload; read Capabilities or
// WalletAddress from the channel instead. Callbacks run on the channel's
// delivery goroutine and must not wait on requests of the same channel.
type HotOstrichHandlers struct {
	OnError                func(err error)
	OnWalletAddressChanged func()
	OnCapabilitiesChanged  func()
}

// HotOstrichChannel talks to one provider. Requests may be issued
// concurrently; responses are matched by kind and correlation id only.
type HotOstrichChannel struct {
	base       *channel.Base
	providerID string
	handlers   HotOstrichHandlers
	guard      bool
	pending    pendingTable
	now        func() time.Time

	mu           sync.RWMutex
	capabilities domain.CapabilitySet // nil until the provider has told us
	address      *big.Int

	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
}

// NewHotOstrichChannel starts listening to providerID and fetches its
// capabilities and, when advertised, its wallet address in the background.
func NewHotOstrichChannel(t transport.Transport, providerID string, handlers HotOstrichHandlers, opts ...channel.Option) (*HotOstrichChannel, error) {
	if providerID == "" {
		return nil, domain.NewDomainError("hotostrich.New", domain.ErrInvalidInput, "provider id is required")
	}
	o := channel.Apply(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	c := &HotOstrichChannel{
		providerID: providerID,
		handlers:   handlers,
		guard:      !o.DisableCapabilityGuard,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		ready:      make(chan struct{}),
	}
	o.Logger = o.Logger.With("provider_id", providerID)
	base, err := channel.NewBase(channel.Config{
		Transport: t,
		Protocol:  protocol.KindHotOstrich,
		Listen:    protocol.ProviderChannel(providerID),
		Send:      protocol.ClientChannel(providerID),
		Role:      channel.RoleClient,
	}, c.onMessage, handlers.OnError, o)
	if err != nil {
		cancel()
		return nil, err
	}
	c.base = base
	base.Start()

	go c.setup()
	return c, nil
}

// ProviderID returns the provider this channel talks to.
func (c *HotOstrichChannel) ProviderID() string { return c.providerID }

// Ready is closed once the initial capability and address fetch finished,
// successfully or not.
func (c *HotOstrichChannel) Ready() <-chan struct{} { return c.ready }

// Capabilities returns the last known capability set. It is empty until
// the provider has reported one.
func (c *HotOstrichChannel) Capabilities() domain.CapabilitySet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.capabilities == nil {
		return domain.NewCapabilitySet()
	}
	return c.capabilities.Clone()
}

// WalletAddress returns the last known wallet address.
func (c *HotOstrichChannel) WalletAddress() (*big.Int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.address == nil {
		return nil, false
	}
	return new(big.Int).Set(c.address), true
}

// PendingCount returns the number of requests awaiting a response.
func (c *HotOstrichChannel) PendingCount() int { return c.pending.len() }

// GetBalance returns the balance of address.
func (c *HotOstrichChannel) GetBalance(ctx context.Context, address *big.Int) (*big.Int, error) {
	res, err := call[domain.GetBalanceResult](ctx, c, protocol.KindGetBalance, domain.GetBalanceRequest{Address: address})
	if err != nil {
		return nil, err
	}
	return res.Balance, nil
}

// LocalContractCall executes a read-only contract call.
func (c *HotOstrichChannel) LocalContractCall(ctx context.Context, req domain.LocalContractCallRequest) ([]byte, error) {
	res, err := call[domain.LocalContractCallResult](ctx, c, protocol.KindLocalContractCall, req)
	if err != nil {
		return nil, err
	}
	return res.Result, nil
}

// SignMessage asks the provider's wallet to sign message.
func (c *HotOstrichChannel) SignMessage(ctx context.Context, message string) (*domain.SignMessageResult, error) {
	res, err := call[domain.SignMessageResult](ctx, c, protocol.KindSignMessage, domain.SignMessageRequest{Message: message})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HotOstrichChannel) SubmitContractCall(ctx context.Context, req domain.SubmitContractCallRequest) (*domain.SubmitResult, error) {
	return submit(ctx, c, protocol.KindSubmitContractCall, req)
}

func (c *HotOstrichChannel) SubmitContractDeployment(ctx context.Context, req domain.SubmitContractDeploymentRequest) (*domain.SubmitResult, error) {
	return submit(ctx, c, protocol.KindSubmitContractDeployment, req)
}

func (c *HotOstrichChannel) SubmitNativeTokenTransfer(ctx context.Context, req domain.SubmitNativeTokenTransferRequest) (*domain.SubmitResult, error) {
	return submit(ctx, c, protocol.KindSubmitNativeTokenTransfer, req)
}

// LegacyJSONRPC forwards a raw JSON-RPC call through the provider.
func (c *HotOstrichChannel) LegacyJSONRPC(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	if params == nil {
		params = []json.RawMessage{}
	}
	res, err := call[domain.LegacyJSONRPCResult](ctx, c, protocol.KindLegacyJSONRPC, domain.LegacyJSONRPCRequest{Method: method, Parameters: params})
	if err != nil {
		return nil, err
	}
	return res.Result, nil
}

// Invoke sends a request of kind and waits for its response payload. It
// returns a *domain.ProviderError for failure responses and ctx.Err() when
// ctx ends first; the pending record is dropped in both cases.
func (c *HotOstrichChannel) Invoke(ctx context.Context, kind protocol.Kind, payload any) (json.RawMessage, error) {
	if !kind.IsRequest() {
		return nil, domain.NewDomainError("hotostrich.Invoke", domain.ErrUnknownKind, string(kind))
	}
	if err := c.checkCapability(kind); err != nil {
		return nil, err
	}

	id := ulid.Make().String()
	ctx, span := tracer.StartRequest(ctx, tracer.Invoke, c.providerID, string(kind), id)
	start := time.Now()
	raw, err := c.roundTrip(ctx, kind, id, payload)
	c.base.Metrics().ObserveRequest(string(channel.RoleClient), string(kind), err == nil, time.Since(start))
	span.End(err)
	return raw, err
}

func (c *HotOstrichChannel) checkCapability(kind protocol.Kind) error {
	if !c.guard {
		return nil
	}
	required, ok := kind.RequiredCapability()
	if !ok {
		return nil
	}
	c.mu.RLock()
	known, has := c.capabilities != nil, c.capabilities.Has(required)
	c.mu.RUnlock()
	if known && !has {
		return domain.NewDomainError("hotostrich.Invoke", domain.ErrCapabilityUnavailable,
			fmt.Sprintf("%s requires %s", kind, required))
	}
	return nil
}

func (c *HotOstrichChannel) roundTrip(ctx context.Context, kind protocol.Kind, id string, payload any) (json.RawMessage, error) {
	req, err := protocol.NewRequest(kind, id, payload)
	if err != nil {
		return nil, err
	}

	// Record before sending; the response may arrive before Send returns.
	p := newPendingRequest(kind, id, c.now())
	c.pending.add(p)
	c.base.Metrics().AddPending(c.providerID, 1)

	if err := c.base.Send(ctx, req); err != nil {
		c.dropPending(p)
		return nil, err
	}

	select {
	case o := <-p.future:
		return o.payload, o.err
	case <-ctx.Done():
		c.dropPending(p)
		return nil, ctx.Err()
	}
}

func (c *HotOstrichChannel) dropPending(p *pendingRequest) {
	if c.pending.remove(p) {
		c.base.Metrics().AddPending(c.providerID, -1)
	}
}

// ExpirePending fails every request that has waited at least ttl with
// domain.ErrRequestExpired and returns how many were expired.
func (c *HotOstrichChannel) ExpirePending(now time.Time, ttl time.Duration) int {
	stale := c.pending.expire(now, ttl)
	for _, p := range stale {
		p.resolve(outcome{err: domain.NewDomainError("hotostrich.Invoke", domain.ErrRequestExpired,
			fmt.Sprintf("%s %s after %s", p.kind, p.correlationID, now.Sub(p.entryTime).Round(time.Millisecond)))})
	}
	if n := len(stale); n > 0 {
		c.base.Metrics().AddPending(c.providerID, -n)
		c.base.Logger().Info("expired pending requests", "count", n, "ttl", ttl)
	}
	return len(stale)
}

// Shutdown stops listening and fails every pending request with
// domain.ErrChannelClosed. The provider is not told.
func (c *HotOstrichChannel) Shutdown() {
	c.cancel()
	c.base.Shutdown()
	drained := c.pending.drain()
	for _, p := range drained {
		p.resolve(outcome{err: domain.ErrChannelClosed})
	}
	if n := len(drained); n > 0 {
		c.base.Metrics().AddPending(c.providerID, -n)
	}
}

func (c *HotOstrichChannel) setup() {
	defer close(c.ready)

	caps, err := call[domain.CapabilitiesPayload](c.ctx, c, protocol.KindGetCapabilities, struct{}{})
	if err != nil {
		c.setupFailed(err)
		return
	}
	c.applyCapabilities(caps.Capabilities)

	if !c.Capabilities().Has(domain.CapabilityAddress) {
		return
	}
	addr, err := call[domain.WalletAddressPayload](c.ctx, c, protocol.KindGetWalletAddress, struct{}{})
	if err != nil {
		c.setupFailed(err)
		return
	}
	c.applyWalletAddress(addr.Address)
}

func (c *HotOstrichChannel) setupFailed(err error) {
	if c.ctx.Err() != nil || errors.Is(err, domain.ErrChannelClosed) {
		return
	}
	c.base.Fail(domain.WrapOp("hotostrich.setup", err))
}

func (c *HotOstrichChannel) onMessage(msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.Response:
		return c.onResponse(m)
	case protocol.Notification:
		switch m.Kind {
		case protocol.KindWalletAddressChanged:
			var p domain.WalletAddressPayload
			if err := json.Unmarshal(m.Payload, &p); err != nil {
				return fmt.Errorf("%w: %s: %v", domain.ErrMalformedMessage, m.Kind, err)
			}
			c.applyWalletAddress(p.Address)
			return nil
		case protocol.KindCapabilitiesChanged:
			var p domain.CapabilitiesPayload
			if err := json.Unmarshal(m.Payload, &p); err != nil {
				return fmt.Errorf("%w: %s: %v", domain.ErrMalformedMessage, m.Kind, err)
			}
			c.applyCapabilities(p.Capabilities)
			return nil
		default:
			panic(protocol.Unreachable(m.Kind))
		}
	default:
		panic(protocol.Unreachable(msg))
	}
}

func (c *HotOstrichChannel) onResponse(r protocol.Response) error {
	p := c.pending.take(r.Kind, r.CorrelationID)
	if p == nil {
		return fmt.Errorf("%w: received a response without finding a matching request, maybe it already timed out: %s %s",
			domain.ErrNoPendingRequest, r.Kind, r.CorrelationID)
	}
	c.base.Metrics().AddPending(c.providerID, -1)

	if r.Success {
		p.resolve(outcome{payload: r.Payload})
		return nil
	}
	var f protocol.FailurePayload
	if err := json.Unmarshal(r.Payload, &f); err != nil {
		p.resolve(outcome{err: fmt.Errorf("%w: failure payload: %v", domain.ErrMalformedMessage, err)})
		return nil
	}
	p.resolve(outcome{err: f.Err()})
	return nil
}

func (c *HotOstrichChannel) applyCapabilities(caps domain.CapabilitySet) {
	if caps == nil {
		caps = domain.NewCapabilitySet()
	}
	c.mu.Lock()
	addressDropped := c.capabilities.Has(domain.CapabilityAddress) && !caps.Has(domain.CapabilityAddress)
	c.capabilities = caps.Clone()
	if addressDropped {
		c.address = nil
	}
	c.mu.Unlock()

	c.base.Publish(c.ctx, domain.EventCapabilitiesChanged, c.providerID, domain.CapabilitiesPayload{Capabilities: caps})
	if c.handlers.OnCapabilitiesChanged != nil {
		c.handlers.OnCapabilitiesChanged()
	}
	if addressDropped {
		c.walletAddressChanged(nil)
	}
}

func (c *HotOstrichChannel) applyWalletAddress(address *big.Int) {
	c.mu.Lock()
	if address == nil {
		c.address = nil
	} else {
		c.address = new(big.Int).Set(address)
	}
	c.mu.Unlock()
	c.walletAddressChanged(address)
}

func (c *HotOstrichChannel) walletAddressChanged(address *big.Int) {
	c.base.Publish(c.ctx, domain.EventWalletAddressChanged, c.providerID, domain.WalletAddressPayload{Address: address})
	if c.handlers.OnWalletAddressChanged != nil {
		c.handlers.OnWalletAddressChanged()
	}
}

// call invokes kind and decodes the success payload into T.
func call[T any](ctx context.Context, c *HotOstrichChannel, kind protocol.Kind, payload any) (T, error) {
	var out T
	raw, err := c.Invoke(ctx, kind, payload)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %s result: %v", domain.ErrMalformedMessage, kind, err)
	}
	return out, nil
}

func submit[T any](ctx context.Context, c *HotOstrichChannel, kind protocol.Kind, req T) (*domain.SubmitResult, error) {
	res, err := call[domain.SubmitResult](ctx, c, kind, req)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

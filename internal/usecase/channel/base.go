// Package channel holds the half of a protocol channel shared by clients
// and providers: transport listening, envelope gates, role filtering,
// error funnelling and enveloped sends.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"walletbridge/internal/domain"
	"walletbridge/internal/infra/metrics"
	"walletbridge/internal/protocol"
	"walletbridge/internal/transport"
)

// Role is the side of a channel. It decides which message types are
// accepted: clients take notifications and responses, providers take
// broadcasts and requests.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
)

func (r Role) accepts(t protocol.MessageType) bool {
	switch r {
	case RoleClient:
		return t == protocol.TypeNotification || t == protocol.TypeResponse
	case RoleProvider:
		return t == protocol.TypeBroadcast || t == protocol.TypeRequest
	default:
		return false
	}
}

// Options are shared by every channel constructor.
type Options struct {
	// Parent receives a copy of every send when it differs from the
	// primary transport.
	Parent  transport.Transport
	Logger  *slog.Logger
	Metrics *metrics.Collector
	// Bus receives channel events when set.
	Bus domain.EventBus
	// SuppressDuplicates silences repeated identical provider
	// announcements on a client handshake channel.
	SuppressDuplicates bool
	// DisableCapabilityGuard lets a client send requests its provider has
	// not advertised a capability for.
	DisableCapabilityGuard bool
}

// Option configures Options.
type Option func(*Options)

// WithParent mirrors every send onto parent.
func WithParent(parent transport.Transport) Option {
	return func(o *Options) { o.Parent = parent }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithEventBus publishes channel events on bus.
func WithEventBus(bus domain.EventBus) Option {
	return func(o *Options) { o.Bus = bus }
}

// WithSuppressDuplicates enables duplicate announcement suppression.
func WithSuppressDuplicates() Option {
	return func(o *Options) { o.SuppressDuplicates = true }
}

// WithoutCapabilityGuard disables the client-side capability check.
func WithoutCapabilityGuard() Option {
	return func(o *Options) { o.DisableCapabilityGuard = true }
}

// Apply folds opts into an Options value with defaults filled in.
func Apply(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Config describes one channel half.
type Config struct {
	Transport transport.Transport
	Protocol  protocol.ProtocolKind
	// Listen is the channel name accepted on inbound envelopes.
	Listen string
	// Send is the channel name put on outbound envelopes.
	Send string
	Role Role
}

// MessageHandler processes one accepted message. A returned error or a
// panic is routed to the error callback.
type MessageHandler func(msg protocol.Message) error

// ErrorHandler receives every error a channel reports.
type ErrorHandler func(err error)

// Base is the shared channel half. It is safe for concurrent use.
type Base struct {
	cfg     Config
	opts    Options
	logger  *slog.Logger
	handle  MessageHandler
	onError ErrorHandler

	mu     sync.Mutex
	remove func()
	closed bool
}

// NewBase validates cfg and returns an unstarted channel half.
func NewBase(cfg Config, handle MessageHandler, onError ErrorHandler, opts Options) (*Base, error) {
	if cfg.Transport == nil {
		return nil, domain.NewDomainError("channel.New", domain.ErrInvalidInput, "transport is required")
	}
	if cfg.Listen == "" || cfg.Send == "" {
		return nil, domain.NewDomainError("channel.New", domain.ErrInvalidInput, "channel names are required")
	}
	if handle == nil {
		return nil, domain.NewDomainError("channel.New", domain.ErrInvalidInput, "message handler is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Base{
		cfg:     cfg,
		opts:    opts,
		logger:  opts.Logger.With("channel", cfg.Listen, "role", string(cfg.Role)),
		handle:  handle,
		onError: onError,
	}, nil
}

// Start registers the transport listener. It is idempotent.
func (b *Base) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remove != nil || b.closed {
		return
	}
	b.remove = b.cfg.Transport.AddListener(b.receive)
}

// Logger returns the channel's logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Metrics returns the channel's collector, which may be nil.
func (b *Base) Metrics() *metrics.Collector { return b.opts.Metrics }

// Options returns the options the channel was built with.
func (b *Base) Options() Options { return b.opts }

func (b *Base) receive(payload []byte) {
	msg, ok, err := protocol.Decode(payload, b.cfg.Protocol, b.cfg.Listen)
	if !ok {
		b.opts.Metrics.EnvelopeDropped("noise")
		return
	}
	if err != nil {
		b.Fail(err)
		return
	}
	if !b.cfg.Role.accepts(msg.MessageType()) {
		// Own-side traffic sharing the channel name, e.g. another client.
		b.opts.Metrics.EnvelopeDropped("role")
		return
	}
	b.Dispatch(msg)
}

// Dispatch runs the message handler, converting a panic or returned error
// into an error callback.
func (b *Base) Dispatch(msg protocol.Message) {
	defer b.Recover()
	if err := b.handle(msg); err != nil {
		b.Fail(err)
	}
}

// Recover converts a panic into an error callback. It must be deferred.
func (b *Base) Recover() {
	if r := recover(); r != nil {
		b.Fail(domain.AsError(r))
	}
}

// Fail logs err and hands it to the error callback.
func (b *Base) Fail(err error) {
	if err == nil {
		return
	}
	b.logger.Warn("channel error", "error", err)
	b.opts.Metrics.ProtocolError(string(b.cfg.Role))
	b.Publish(context.Background(), domain.EventChannelError, "", domain.ChannelErrorPayload{Error: err.Error()})
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("error callback panicked", "panic", r)
		}
	}()
	b.onError(err)
}

// Publish sends an event to the configured bus, if any.
func (b *Base) Publish(ctx context.Context, t domain.EventType, providerID string, payload any) {
	if b.opts.Bus == nil {
		return
	}
	ev, err := domain.NewEvent(t, providerID, payload)
	if err != nil {
		b.logger.Warn("event encode failed", "event", t, "error", err)
		return
	}
	b.opts.Bus.Publish(ctx, ev)
}

// Send envelopes msg and posts it to the transport, then to the parent
// when one is configured and distinct.
func (b *Base) Send(ctx context.Context, msg protocol.Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return domain.ErrChannelClosed
	}
	payload, err := protocol.Encode(b.cfg.Send, b.cfg.Protocol, msg)
	if err != nil {
		return err
	}
	if err := b.cfg.Transport.Post(ctx, payload); err != nil {
		return fmt.Errorf("post %s %s: %w", msg.MessageType(), msg.MessageKind(), err)
	}
	if parent := b.opts.Parent; parent != nil && parent != b.cfg.Transport {
		if err := parent.Post(ctx, payload); err != nil {
			return fmt.Errorf("post %s %s to parent: %w", msg.MessageType(), msg.MessageKind(), err)
		}
	}
	return nil
}

// Shutdown removes the transport listener. Sends fail afterwards with
// domain.ErrChannelClosed.
func (b *Base) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.remove != nil {
		b.remove()
		b.remove = nil
	}
}

// Closed reports whether Shutdown has been called.
func (b *Base) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// IsClosed reports whether err means the channel was shut down.
func IsClosed(err error) bool { return errors.Is(err, domain.ErrChannelClosed) }

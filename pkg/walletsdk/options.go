package walletsdk

import (
	"log/slog"

	"walletbridge/internal/domain"
	"walletbridge/internal/infra/metrics"
	"walletbridge/internal/transport"
	"walletbridge/internal/usecase/channel"
)

type options struct {
	logger   *slog.Logger
	channels []channel.Option
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.channels = append(o.channels, channel.WithLogger(o.logger))
	return o
}

// Option configures a Provider or Client.
type Option func(*options)

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records protocol metrics on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.channels = append(o.channels, channel.WithMetrics(m)) }
}

// WithEventBus publishes channel events on bus.
func WithEventBus(bus domain.EventBus) Option {
	return func(o *options) { o.channels = append(o.channels, channel.WithEventBus(bus)) }
}

// WithParent mirrors every send onto parent as well, the way a framed page
// also posts to its opener.
func WithParent(parent transport.Transport) Option {
	return func(o *options) { o.channels = append(o.channels, channel.WithParent(parent)) }
}

// WithSuppressDuplicates silences repeated identical provider
// announcements. Client only.
func WithSuppressDuplicates() Option {
	return func(o *options) { o.channels = append(o.channels, channel.WithSuppressDuplicates()) }
}

// WithoutCapabilityGuard lets a client send requests the provider has not
// advertised a capability for. Client only.
func WithoutCapabilityGuard() Option {
	return func(o *options) { o.channels = append(o.channels, channel.WithoutCapabilityGuard()) }
}

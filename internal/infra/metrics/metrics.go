// Package metrics exposes Prometheus collectors for channel and gateway
// activity. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "walletbridge").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry receives the collectors. Default: a fresh registry.
	Registry *prometheus.Registry
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) { c.Buckets = buckets }
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) { c.Registry = registry }
}

// Collector holds every walletbridge metric.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pending         *prometheus.GaugeVec
	notifications   *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	protocolErrors  *prometheus.CounterVec
	relayed         *prometheus.CounterVec
	connections     prometheus.Gauge
}

// New registers the collectors.
func New(opts ...Option) *Collector {
	cfg := Config{Namespace: "walletbridge", Buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(cfg.Registry)

	return &Collector{
		registry: cfg.Registry,

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "requests_total",
			Help:        "Hot ostrich requests completed, by role, kind and outcome",
			ConstLabels: cfg.ConstLabels,
		}, []string{"role", "kind", "outcome"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "request_duration_seconds",
			Help:        "Hot ostrich request latency in seconds",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}, []string{"role", "kind"}),

		pending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "pending_requests",
			Help:        "Client requests awaiting a response, by provider",
			ConstLabels: cfg.ConstLabels,
		}, []string{"provider"}),

		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "notifications_sent_total",
			Help:        "Provider notifications sent, by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),

		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "envelopes_dropped_total",
			Help:        "Transport payloads ignored by a channel, by reason",
			ConstLabels: cfg.ConstLabels,
		}, []string{"reason"}),

		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "protocol_errors_total",
			Help:        "Errors reported to channel error callbacks, by channel",
			ConstLabels: cfg.ConstLabels,
		}, []string{"channel"}),

		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "gateway_relayed_total",
			Help:        "Payloads relayed by the gateway, by direction",
			ConstLabels: cfg.ConstLabels,
		}, []string{"direction"}),

		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        "gateway_connections",
			Help:        "Open gateway websocket connections",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

// Registry returns the registry backing c.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed request.
func (c *Collector) ObserveRequest(role, kind string, success bool, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.requestsTotal.WithLabelValues(role, kind, outcome).Inc()
	c.requestDuration.WithLabelValues(role, kind).Observe(d.Seconds())
}

// AddPending adjusts the pending gauge for provider by delta.
func (c *Collector) AddPending(provider string, delta int) {
	if c == nil {
		return
	}
	c.pending.WithLabelValues(provider).Add(float64(delta))
}

// NotificationSent counts one provider notification.
func (c *Collector) NotificationSent(kind string) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(kind).Inc()
}

// EnvelopeDropped counts one ignored transport payload.
func (c *Collector) EnvelopeDropped(reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(reason).Inc()
}

// ProtocolError counts one error handed to a channel's error callback.
func (c *Collector) ProtocolError(channel string) {
	if c == nil {
		return
	}
	c.protocolErrors.WithLabelValues(channel).Inc()
}

// Relayed counts one payload relayed by the gateway in direction
// ("inbound" or "outbound").
func (c *Collector) Relayed(direction string) {
	if c == nil {
		return
	}
	c.relayed.WithLabelValues(direction).Inc()
}

// ConnectionOpened and ConnectionClosed track open gateway connections.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connections.Inc()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connections.Dec()
}

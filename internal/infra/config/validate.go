package config

import (
	"fmt"
	"math/big"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"walletbridge/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateTransport(cfg, ve)
	validateGateway(cfg, ve)
	validateProvider(cfg, ve)
	validateClient(cfg, ve)
	validateDiscovery(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch cfg.Logger.Level {
	case "", "debug", "info", "warn", "error":
	default:
		ve.Add("logger.level %q must be one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if cfg.Tracer.SampleRatio < 0 {
		ve.Add("tracer.sample_ratio must not be negative")
	}
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "stdout", "noop":
	default:
		ve.Add("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
}

func validateTransport(cfg *Config, ve *ValidationError) {
	t := cfg.Transport
	switch t.Kind {
	case "memory":
	case "websocket":
		if t.URL == "" {
			ve.Add("transport.url is required for the websocket transport")
		} else if u, err := url.Parse(t.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			ve.Add("transport.url %q must be a ws:// or wss:// URL", t.URL)
		}
	case "redis":
		if t.Redis.Addr == "" {
			ve.Add("transport.redis.addr is required for the redis transport")
		}
		if t.Redis.Channel == "" {
			ve.Add("transport.redis.channel is required for the redis transport")
		}
	default:
		ve.Add("transport.kind %q must be memory, websocket or redis", t.Kind)
	}
	if t.TargetOrigin == "" {
		ve.Add("transport.target_origin is required (use \"*\" to accept any origin)")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	g := cfg.Gateway
	if !g.Enabled {
		return
	}
	if g.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(g.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", g.Addr)
	}
	if g.Auth.Enabled && len(g.Auth.Tokens) == 0 {
		ve.Add("gateway.auth.tokens must not be empty when auth is enabled")
	}
	for i, tok := range g.Auth.Tokens {
		if tok.Token == "" {
			ve.Add("gateway.auth.tokens[%d].token is required", i)
		}
	}
	if g.RateLimit.Rate < 0 || g.RateLimit.Burst < 0 {
		ve.Add("gateway.rate_limit must not be negative")
	}
	if g.ConnectsPerMin < 0 {
		ve.Add("gateway.connects_per_min must not be negative")
	}
	if cfg.Transport.TargetOrigin != "*" && cfg.Transport.TargetOrigin != "" && len(g.OriginPatterns) == 0 {
		ve.Add("gateway.origin_patterns is required when transport.target_origin is %q", cfg.Transport.TargetOrigin)
	}
}

func validateProvider(cfg *Config, ve *ValidationError) {
	p := cfg.Provider
	if p.ID == "" {
		ve.Add("provider.id is required")
	}
	if p.ViewingAddress != "" {
		if _, err := domain.ParseQuantity(p.ViewingAddress); err != nil {
			ve.Add("provider.viewing_address %q is not a hex address", p.ViewingAddress)
		}
	}
	switch p.WalletMode {
	case "", "view", "submit", "sign":
	default:
		ve.Add("provider.wallet_mode %q must be view, submit or sign", p.WalletMode)
	}
	if p.WalletMode != "" && p.WalletMode != "view" && p.ViewingAddress == "" {
		ve.Add("provider.wallet_mode %q needs provider.viewing_address", p.WalletMode)
	}
	if p.GasPrice != "" {
		if v, ok := new(big.Int).SetString(p.GasPrice, 10); !ok || v.Sign() < 0 {
			ve.Add("provider.gas_price %q must be a non-negative decimal integer", p.GasPrice)
		}
	}
	for i, name := range p.Capabilities {
		c := domain.Capability(name)
		switch {
		case !c.Valid():
			ve.Add("provider.capabilities[%d] %q is not a known capability", i, name)
		case c == domain.CapabilityAddress:
			ve.Add("provider.capabilities[%d]: address is derived from viewing_address", i)
		}
	}
	if p.RPC.Endpoint != "" {
		if u, err := url.Parse(p.RPC.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			ve.Add("provider.rpc.endpoint %q must be an http(s) URL", p.RPC.Endpoint)
		}
	}
	if p.RPC.RateLimit.Rate < 0 || p.RPC.RateLimit.Burst < 0 {
		ve.Add("provider.rpc.rate_limit must not be negative")
	}
}

func validateClient(cfg *Config, ve *ValidationError) {
	c := cfg.Client
	if c.RequestTimeout < 0 {
		ve.Add("client.request_timeout must not be negative")
	}
	if c.PendingTTL < 0 {
		ve.Add("client.pending_ttl must not be negative")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"client.expire_schedule":     c.ExpireSchedule,
		"client.rediscover_schedule": c.RediscoverSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			ve.Add("%s %q: %v", name, spec, err)
		}
	}
}

func validateDiscovery(cfg *Config, ve *ValidationError) {
	if !cfg.Discovery.MDNS {
		return
	}
	if cfg.Discovery.Service == "" {
		ve.Add("discovery.service is required when mdns is enabled")
	}
	if cfg.Discovery.Timeout <= 0 {
		ve.Add("discovery.timeout must be positive when mdns is enabled")
	}
}

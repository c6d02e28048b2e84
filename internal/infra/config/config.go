package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Transport TransportConfig `yaml:"transport"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Provider  ProviderConfig  `yaml:"provider"`
	Client    ClientConfig    `yaml:"client"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Includes  []string        `yaml:"includes,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"` // 0 or >= 1 samples everything
}

// MetricsConfig holds Prometheus settings. Metrics are served by the gateway.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// TransportConfig selects the message surface both channel halves share.
type TransportConfig struct {
	Kind string `yaml:"kind"` // "memory", "websocket", "redis"
	// URL and Token are used by the websocket kind to dial a gateway.
	URL   string      `yaml:"url"`
	Token string      `yaml:"token"`
	Redis RedisConfig `yaml:"redis"`
	// TargetOrigin restricts which page origins may exchange messages. "*"
	// accepts any origin and is the default.
	TargetOrigin string `yaml:"target_origin"`
}

// RedisConfig configures the redis pub/sub transport.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// GatewayConfig holds websocket gateway settings.
type GatewayConfig struct {
	Enabled         bool            `yaml:"enabled"`
	Addr            string          `yaml:"addr"`
	Auth            AuthConfig      `yaml:"auth"`
	OriginPatterns  []string        `yaml:"origin_patterns"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	MaxMessageBytes int64           `yaml:"max_message_bytes"`
	ConnectsPerMin  int             `yaml:"connects_per_min"` // websocket upgrades per client IP
	TrustedProxies  []string        `yaml:"trusted_proxies"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Tokens  []TokenConfig `yaml:"tokens"`
}

// TokenConfig is a named static bearer token.
type TokenConfig struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// RateLimitConfig is a token bucket: Rate events per second with Burst.
type RateLimitConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// ProviderConfig describes the wallet provider served by `walletbridge serve`.
type ProviderConfig struct {
	ID             string   `yaml:"id"`
	FriendlyName   string   `yaml:"friendly_name"`
	FriendlyIcon   string   `yaml:"friendly_icon"` // base64 png
	ChainName      string   `yaml:"chain_name"`
	ViewingAddress string   `yaml:"viewing_address"` // hex; empty means no wallet attached
	// WalletMode is what the node may do for ViewingAddress: "view",
	// "submit" (eth_sendTransaction) or "sign" (submit plus eth_sign).
	WalletMode string `yaml:"wallet_mode"`
	GasPrice       string   `yaml:"gas_price"`       // decimal wei; empty asks the RPC endpoint
	Capabilities   []string `yaml:"capabilities"`
	RPC            RPCConfig `yaml:"rpc"`
}

// RPCConfig configures the remote Ethereum JSON-RPC endpoint.
type RPCConfig struct {
	Endpoint       string               `yaml:"endpoint"`
	ConnTimeout    time.Duration        `yaml:"conn_timeout"`
	RespTimeout    time.Duration        `yaml:"resp_timeout"`
	Pool           PoolConfig           `yaml:"pool"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// CircuitBreakerConfig holds circuit breaker settings for the RPC endpoint.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ClientConfig holds settings for the dapp side.
type ClientConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// PendingTTL > 0 enables the expire_pending job.
	PendingTTL time.Duration `yaml:"pending_ttl"`
	// ExpireSchedule and RediscoverSchedule are cron specs; empty disables.
	ExpireSchedule            string `yaml:"expire_schedule"`
	RediscoverSchedule        string `yaml:"rediscover_schedule"`
	SuppressDuplicateAnnounce bool   `yaml:"suppress_duplicate_announcements"`
	CapabilityGuard           bool   `yaml:"capability_guard"`
}

// DiscoveryConfig holds LAN discovery settings.
type DiscoveryConfig struct {
	MDNS    bool          `yaml:"mdns"`
	Service string        `yaml:"service"`
	Domain  string        `yaml:"domain"`
	Timeout time.Duration `yaml:"timeout"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter:    "stdout",
			SampleRatio: 1,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "walletbridge",
		},
		Transport: TransportConfig{
			Kind:         "memory",
			TargetOrigin: "*",
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				Channel: "walletbridge",
			},
		},
		Gateway: GatewayConfig{
			Enabled:         true,
			Addr:            "127.0.0.1:8546",
			RateLimit:       RateLimitConfig{Rate: 50, Burst: 100},
			MaxMessageBytes: 1 << 20,
			ConnectsPerMin:  60,
		},
		Provider: ProviderConfig{
			ID:           "walletbridge",
			FriendlyName: "Wallet Bridge",
			ChainName:    "mainnet",
			WalletMode:   "view",
			RPC: RPCConfig{
				Endpoint:    "http://localhost:8545",
				ConnTimeout: 10 * time.Second,
				RespTimeout: 30 * time.Second,
				CircuitBreaker: CircuitBreakerConfig{
					Enabled:     true,
					MaxFailures: 5,
					Timeout:     30 * time.Second,
					Interval:    60 * time.Second,
				},
				RateLimit: RateLimitConfig{Rate: 20, Burst: 40},
			},
		},
		Client: ClientConfig{
			RequestTimeout:  30 * time.Second,
			PendingTTL:      0,
			ExpireSchedule:  "@every 30s",
			CapabilityGuard: true,
		},
		Discovery: DiscoveryConfig{
			Service: "_walletbridge._tcp",
			Domain:  "local.",
			Timeout: 3 * time.Second,
		},
	}
}

// Load builds the configuration: defaults, then the file at path and its
// includes, then WALLETBRIDGE_* overrides, then sealed secrets opened with
// the passphrase in WALLETBRIDGE_CONFIG_KEY. A missing file leaves the
// defaults in place.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if err := loadFile(cfg, path); err != nil {
		return nil, err
	}
	ApplyEnvOverrides(cfg)
	if err := openSecrets(cfg, os.Getenv(ConfigKeyEnv)); err != nil {
		return nil, fmt.Errorf("config secrets: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays path onto cfg. Includes are merged first so the
// including file wins on every key it sets.
func loadFile(cfg *Config, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := validatePermissions(abs); err != nil {
		return err
	}

	var head struct {
		Includes []string `yaml:"includes"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("parse config %s: %w", abs, err)
	}
	if len(head.Includes) > 0 {
		cfg.Includes = head.Includes
		if err := newIncluder(abs).apply(cfg, filepath.Dir(abs)); err != nil {
			return err
		}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", abs, err)
	}
	cfg.Includes = nil
	return nil
}

// ApplyEnvOverrides maps WALLETBRIDGE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WALLETBRIDGE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("WALLETBRIDGE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("WALLETBRIDGE_TRACER_ENABLED"); v != "" {
		cfg.Tracer.Enabled = v == "true"
	}
	if v := os.Getenv("WALLETBRIDGE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("WALLETBRIDGE_TRACER_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracer.SampleRatio = f
		}
	}
	if v := os.Getenv("WALLETBRIDGE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true"
	}
	if v := os.Getenv("WALLETBRIDGE_TRANSPORT_KIND"); v != "" {
		cfg.Transport.Kind = v
	}
	if v := os.Getenv("WALLETBRIDGE_TRANSPORT_URL"); v != "" {
		cfg.Transport.URL = v
	}
	if v := os.Getenv("WALLETBRIDGE_TRANSPORT_TOKEN"); v != "" {
		cfg.Transport.Token = v
	}
	if v := os.Getenv("WALLETBRIDGE_TRANSPORT_TARGET_ORIGIN"); v != "" {
		cfg.Transport.TargetOrigin = v
	}
	if v := os.Getenv("WALLETBRIDGE_REDIS_ADDR"); v != "" {
		cfg.Transport.Redis.Addr = v
	}
	if v := os.Getenv("WALLETBRIDGE_REDIS_PASSWORD"); v != "" {
		cfg.Transport.Redis.Password = v
	}
	if v := os.Getenv("WALLETBRIDGE_REDIS_CHANNEL"); v != "" {
		cfg.Transport.Redis.Channel = v
	}
	if v := os.Getenv("WALLETBRIDGE_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("WALLETBRIDGE_GATEWAY_ORIGIN_PATTERNS"); v != "" {
		cfg.Gateway.OriginPatterns = splitAndTrim(v, ",")
	}
	if v := os.Getenv("WALLETBRIDGE_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Enabled = true
		cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{Name: "env", Token: v})
	}
	if v := os.Getenv("WALLETBRIDGE_PROVIDER_ID"); v != "" {
		cfg.Provider.ID = v
	}
	if v := os.Getenv("WALLETBRIDGE_PROVIDER_CHAIN_NAME"); v != "" {
		cfg.Provider.ChainName = v
	}
	if v := os.Getenv("WALLETBRIDGE_PROVIDER_VIEWING_ADDRESS"); v != "" {
		cfg.Provider.ViewingAddress = v
	}
	if v := os.Getenv("WALLETBRIDGE_PROVIDER_WALLET_MODE"); v != "" {
		cfg.Provider.WalletMode = v
	}
	if v := os.Getenv("WALLETBRIDGE_PROVIDER_GAS_PRICE"); v != "" {
		cfg.Provider.GasPrice = v
	}
	if v := os.Getenv("WALLETBRIDGE_RPC_ENDPOINT"); v != "" {
		cfg.Provider.RPC.Endpoint = v
	}
	if v := os.Getenv("WALLETBRIDGE_CLIENT_PENDING_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Client.PendingTTL = d
		}
	}
	if v := os.Getenv("WALLETBRIDGE_CLIENT_REDISCOVER_SCHEDULE"); v != "" {
		cfg.Client.RediscoverSchedule = v
	}
	if v := os.Getenv("WALLETBRIDGE_DISCOVERY_MDNS"); v != "" {
		cfg.Discovery.MDNS = v == "true"
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// validatePermissions rejects config files that anyone but the owner can
// write. Sealed secrets are only as safe as the file holding them.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		return fmt.Errorf("config file %s is group or world writable (mode %#o)", path, perm)
	}
	return nil
}

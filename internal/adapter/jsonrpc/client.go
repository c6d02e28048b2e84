// Package jsonrpc is an HTTP JSON-RPC 2.0 client for a remote Ethereum
// node, protected by a circuit breaker and an outbound rate limiter.
package jsonrpc

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"walletbridge/internal/domain"
	"walletbridge/internal/infra/config"
)

// Values used where RPCConfig leaves a field zero.
var rpcDefaults = config.RPCConfig{
	ConnTimeout: 10 * time.Second,
	RespTimeout: 30 * time.Second,
	CircuitBreaker: config.CircuitBreakerConfig{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		Interval:    time.Minute,
	},
	Pool: config.PoolConfig{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     2 * time.Minute,
	},
}

// orDefault returns v, or def when v is zero or negative.
func orDefault[T cmp.Ordered](v, def T) T {
	var zero T
	if v <= zero {
		return def
	}
	return v
}

// withDefaults fills the zero tuning fields of cfg.
func withDefaults(cfg config.RPCConfig) config.RPCConfig {
	d := rpcDefaults
	cfg.ConnTimeout = orDefault(cfg.ConnTimeout, d.ConnTimeout)
	cfg.RespTimeout = orDefault(cfg.RespTimeout, d.RespTimeout)

	cb := &cfg.CircuitBreaker
	cb.MaxFailures = orDefault(cb.MaxFailures, d.CircuitBreaker.MaxFailures)
	cb.Timeout = orDefault(cb.Timeout, d.CircuitBreaker.Timeout)
	cb.Interval = orDefault(cb.Interval, d.CircuitBreaker.Interval)

	p := &cfg.Pool
	p.MaxIdleConns = orDefault(p.MaxIdleConns, d.Pool.MaxIdleConns)
	p.MaxIdleConnsPerHost = orDefault(p.MaxIdleConnsPerHost, d.Pool.MaxIdleConnsPerHost)
	p.MaxConnsPerHost = orDefault(p.MaxConnsPerHost, d.Pool.MaxConnsPerHost)
	p.IdleConnTimeout = orDefault(p.IdleConnTimeout, d.Pool.IdleConnTimeout)
	return cfg
}

// maxResponseBytes bounds a single response body.
const maxResponseBytes = 16 << 20

// Caller issues raw JSON-RPC calls. *Client implements it.
type Caller interface {
	Call(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error)
}

type request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      uint64            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client talks to one JSON-RPC endpoint. It is safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[json.RawMessage]
	limiter  *rate.Limiter
	logger   *slog.Logger
	nextID   atomic.Uint64
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for cfg.Endpoint. A disabled circuit breaker or a
// zero rate leaves that protection off.
func New(cfg config.RPCConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, domain.NewDomainError("jsonrpc.New", domain.ErrInvalidInput, "endpoint is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = withDefaults(cfg)
	c := &Client{
		endpoint: cfg.Endpoint,
		http:     newHTTPClient(cfg),
		logger:   logger.With("component", "jsonrpc", "endpoint", cfg.Endpoint),
	}
	if cfg.CircuitBreaker.Enabled {
		c.breaker = gobreaker.NewCircuitBreaker[json.RawMessage](breakerSettings(cfg.Endpoint, cfg.CircuitBreaker, c.logger))
	}
	if r := cfg.RateLimit; r.Rate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(r.Rate), max(r.Burst, 1))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// breakerSettings trips after MaxFailures consecutive transport failures
// and lets a single probe through while half-open. A JSON-RPC error counts
// as success: the node answered.
func breakerSettings(endpoint string, cfg config.CircuitBreakerConfig, logger *slog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "rpc:" + endpoint,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			level := slog.LevelWarn
			if to == gobreaker.StateClosed {
				level = slog.LevelInfo
			}
			logger.Log(context.Background(), level, "rpc circuit "+to.String(), "previous", from.String())
		},
		IsSuccessful: func(err error) bool {
			var rpcErr *domain.JSONRPCError
			return err == nil || errors.As(err, &rpcErr)
		},
	}
}

// newHTTPClient bounds a call by connect plus response-header time.
func newHTTPClient(cfg config.RPCConfig) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.ConnTimeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: cfg.ConnTimeout + cfg.RespTimeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			TLSHandshakeTimeout:   cfg.ConnTimeout,
			ResponseHeaderTimeout: cfg.RespTimeout,
			MaxIdleConns:          cfg.Pool.MaxIdleConns,
			MaxIdleConnsPerHost:   cfg.Pool.MaxIdleConnsPerHost,
			MaxConnsPerHost:       cfg.Pool.MaxConnsPerHost,
			IdleConnTimeout:       cfg.Pool.IdleConnTimeout,
		},
	}
}

// Call invokes method with params and returns the raw result. Node errors
// come back as *domain.JSONRPCError; transport failures and an open
// circuit wrap domain.ErrRPCUnavailable.
func (c *Client) Call(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	if params == nil {
		params = []json.RawMessage{}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrRateLimit, method, err)
		}
	}
	if c.breaker == nil {
		return c.do(ctx, method, params)
	}
	result, err := c.breaker.Execute(func() (json.RawMessage, error) {
		return c.do(ctx, method, params)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: circuit open: %v", domain.ErrRPCUnavailable, method, err)
	}
	return result, err
}

func (c *Client) do(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	body, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", domain.ErrInvalidInput, method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRPCUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrRPCUnavailable, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", domain.ErrRPCUnavailable, method, err)
	}
	c.logger.Debug("rpc call", "method", method, "id", id, "status", resp.StatusCode, "duration", time.Since(start))

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: %s: http %d", domain.ErrRPCUnavailable, method, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s: decode response: %v", domain.ErrRPCUnavailable, method, err)
	}
	if out.Error != nil {
		rpcErr := &domain.JSONRPCError{Code: out.Error.Code, Message: out.Error.Message}
		if len(out.Error.Data) > 0 {
			rpcErr.Data = out.Error.Data
		}
		return nil, rpcErr
	}
	if out.Result == nil {
		return json.RawMessage("null"), nil
	}
	return out.Result, nil
}

// State reports the circuit breaker state; closed when there is none.
func (c *Client) State() gobreaker.State {
	if c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.State()
}


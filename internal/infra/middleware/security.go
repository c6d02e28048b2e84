// Package middleware holds HTTP middleware for the gateway.
package middleware

import (
	"context"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleAfter is how long an idle client IP keeps its limiter.
const staleAfter = 3 * time.Minute

// SecurityHeaders adds response headers suited to a JSON/metrics endpoint
// that is never framed or rendered.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	RequestsPerMin int
	BurstSize      int
	// TrustedProxies are peers whose X-Forwarded-For / X-Real-IP headers
	// are believed. Empty means proxy headers are ignored.
	TrustedProxies []string
}

// RateLimit applies a token bucket per client IP. Idle entries are pruned
// until ctx is cancelled. A zero RequestsPerMin disables limiting.
func RateLimit(ctx context.Context, cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RequestsPerMin <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.RequestsPerMin
	}

	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	clients := make(map[string]*client)
	var mu sync.Mutex

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mu.Lock()
				for ip, c := range clients {
					if time.Since(c.lastSeen) > staleAfter {
						delete(clients, ip)
					}
				}
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, cfg.TrustedProxies)

			mu.Lock()
			c, ok := clients[ip]
			if !ok {
				c = &client{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerMin)/60.0, cfg.BurstSize)}
				clients[ip] = c
			}
			c.lastSeen = time.Now()
			limiter := c.limiter
			mu.Unlock()

			if !limiter.Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the TCP peer address of r, or the forwarded client
// address when the peer is a trusted proxy.
func ClientIP(r *http.Request, trustedProxies []string) string {
	direct := r.RemoteAddr
	if host, _, err := net.SplitHostPort(direct); err == nil {
		direct = host
	}
	if !slices.Contains(trustedProxies, direct) {
		return direct
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return direct
}

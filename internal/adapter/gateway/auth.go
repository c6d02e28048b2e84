package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"walletbridge/internal/domain"
	"walletbridge/internal/infra/config"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name string
}

// Authenticator validates incoming gateway connections.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

// NewAuthenticator builds the authenticator described by cfg.
func NewAuthenticator(cfg config.AuthConfig) Authenticator {
	if !cfg.Enabled {
		return AnonymousAuth{}
	}
	return NewStaticTokenAuth(cfg.Tokens)
}

// AnonymousAuth accepts every connection.
type AnonymousAuth struct{}

func (AnonymousAuth) Authenticate(string) (*ClientInfo, error) {
	return &ClientInfo{Name: "anonymous"}, nil
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from named tokens.
func NewStaticTokenAuth(tokens []config.TokenConfig) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, 0, len(tokens))}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		a.entries = append(a.entries, authEntry{token: []byte(t.Token), info: &ClientInfo{Name: t.Name}})
	}
	return a
}

// Authenticate returns client info if the token is valid.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			return e.info, nil
		}
	}
	return nil, domain.ErrGatewayAuthFailed
}

// tokenFrom reads a bearer token from the Authorization header, falling
// back to the token query parameter browsers must use for websockets.
func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

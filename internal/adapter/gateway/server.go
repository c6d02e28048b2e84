// Package gateway relays a transport surface to remote pages over
// websockets, the way a content script bridges a page and an extension.
// Every connection sees every payload posted on the surface, its own
// included, and everything it sends is posted onto the surface.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"walletbridge/internal/domain"
	"walletbridge/internal/infra/config"
	"walletbridge/internal/infra/metrics"
	"walletbridge/internal/infra/middleware"
	"walletbridge/internal/transport"
)

const (
	sendQueue       = 64
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// defaultOriginPatterns admit local development pages only.
var defaultOriginPatterns = []string{
	"localhost",
	"localhost:*",
	"127.0.0.1",
	"127.0.0.1:*",
	"[::1]",
	"[::1]:*",
}

// clientConn tracks a single websocket connection.
type clientConn struct {
	id        uint64
	info      *ClientInfo
	ws        *websocket.Conn
	limiter   *rate.Limiter
	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *clientConn) close() { c.closeOnce.Do(func() { close(c.done) }) }

// Server is the websocket gateway.
type Server struct {
	surface transport.Transport
	auth    Authenticator
	cfg     config.GatewayConfig
	logger  *slog.Logger
	metrics *metrics.Collector
	bus     domain.EventBus

	clients sync.Map // connID (uint64) -> *clientConn
	count   atomic.Int64
	nextID  atomic.Uint64
	started time.Time

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	ready     chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records relay counters and serves them at /metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithEventBus publishes connect and disconnect events.
func WithEventBus(bus domain.EventBus) Option {
	return func(s *Server) { s.bus = bus }
}

// NewServer creates a gateway relaying to surface.
func NewServer(surface transport.Transport, auth Authenticator, cfg config.GatewayConfig, opts ...Option) *Server {
	if auth == nil {
		auth = AnonymousAuth{}
	}
	s := &Server{
		surface: surface,
		auth:    auth,
		cfg:     cfg,
		logger:  slog.Default(),
		started: time.Now(),
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "gateway")
	return s
}

// Handler returns the gateway's routes. ctx bounds the upgrade limiter's
// background pruning.
func (s *Server) Handler(ctx context.Context) http.Handler {
	limit := middleware.RateLimit(ctx, middleware.RateLimitConfig{
		RequestsPerMin: s.cfg.ConnectsPerMin,
		TrustedProxies: s.cfg.TrustedProxies,
	})
	mux := http.NewServeMux()
	mux.Handle("/ws", limit(http.HandlerFunc(s.handleUpgrade)))
	mux.Handle("/healthz", middleware.SecurityHeaders(http.HandlerFunc(s.handleHealth)))
	mux.Handle("/metrics", middleware.SecurityHeaders(s.metrics.Handler()))
	return mux
}

// Start accepts connections until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	srv := &http.Server{Handler: s.Handler(ctx), ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()
	close(s.ready)
	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Ready is closed once Start has bound its listener.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// BoundAddr returns the address Start bound to.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int { return int(s.count.Load()) }

// Stop closes every connection and shuts the HTTP server down. The whole
// shutdown shares one budget of shutdownTimeout, or less if ctx ends first.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	s.closeClients(ctx)

	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// closeClients runs the close handshakes of all connections at once.
// Peers that have not answered when ctx ends are dropped.
func (s *Server) closeClients(ctx context.Context) {
	var wg sync.WaitGroup
	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		s.clients.Delete(key)
		cc.close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			closed := make(chan struct{})
			go func() {
				defer close(closed)
				cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
			}()
			select {
			case <-closed:
			case <-ctx.Done():
				cc.ws.CloseNow()
			}
		}()
		return true
	})
	wg.Wait()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	info, err := s.auth.Authenticate(tokenFrom(r))
	if err != nil {
		s.logger.Warn("gateway auth rejected", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	patterns := s.cfg.OriginPatterns
	if len(patterns) == 0 {
		patterns = defaultOriginPatterns
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: patterns})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	if s.cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.cfg.MaxMessageBytes)
	}

	cc := &clientConn{
		id:     s.nextID.Add(1),
		info:   info,
		ws:     ws,
		sendCh: make(chan []byte, sendQueue),
		done:   make(chan struct{}),
	}
	if s.cfg.RateLimit.Rate > 0 {
		burst := s.cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		cc.limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit.Rate), burst)
	}
	remove := s.surface.AddListener(func(payload []byte) {
		select {
		case cc.sendCh <- payload:
		case <-cc.done:
		}
	})
	s.clients.Store(cc.id, cc)
	s.count.Add(1)
	s.metrics.ConnectionOpened()
	conn := domain.GatewayConnectionPayload{ConnID: cc.id, Client: info.Name, Remote: r.RemoteAddr}
	s.publish(r.Context(), domain.EventGatewayConnected, conn)
	s.logger.Info("gateway client connected", "conn_id", cc.id, "client", info.Name)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	remove()
	cc.close()
	s.clients.Delete(cc.id)
	s.count.Add(-1)
	s.metrics.ConnectionClosed()
	ws.Close(websocket.StatusNormalClosure, "")
	s.publish(context.Background(), domain.EventGatewayDisconnected, conn)
	s.logger.Info("gateway client disconnected", "conn_id", cc.id)
}

// readLoop posts every inbound text message onto the surface. A
// connection over its rate limit is slowed down, not dropped.
func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		typ, data, err := cc.ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				s.logger.Debug("gateway read ended", "conn_id", cc.id, "error", err)
			}
			return
		}
		if typ != websocket.MessageText || !json.Valid(data) {
			s.metrics.EnvelopeDropped("gateway_invalid")
			continue
		}
		if cc.limiter != nil {
			if err := cc.limiter.Wait(ctx); err != nil {
				return
			}
		}
		if err := s.surface.Post(ctx, data); err != nil {
			s.logger.Warn("gateway post failed", "conn_id", cc.id, "error", err)
			return
		}
		s.metrics.Relayed("inbound")
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case payload := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := cc.ws.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				s.logger.Debug("gateway write failed", "conn_id", cc.id, "error", err)
				cc.ws.Close(websocket.StatusInternalError, "write failed")
				return
			}
			s.metrics.Relayed("outbound")
		}
	}
}

func (s *Server) publish(ctx context.Context, t domain.EventType, payload any) {
	if s.bus == nil {
		return
	}
	ev, err := domain.NewEvent(t, "", payload)
	if err != nil {
		s.logger.Warn("gateway event encode failed", "type", t, "error", err)
		return
	}
	s.bus.Publish(ctx, ev)
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	Connections   int    `json:"connections"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{
		Status:        "ok",
		Connections:   s.Connections(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"walletbridge/internal/domain"
	"walletbridge/internal/infra/config"
	"walletbridge/internal/infra/metrics"
	"walletbridge/internal/transport"
)

// --- test doubles ---

type testBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *testBus) Publish(_ context.Context, event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *testBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *testBus) SubscribeAll(domain.EventHandler) func() { return func() {} }
func (b *testBus) Close() {}

func (b *testBus) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.EventType
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

// collector gathers payloads delivered to a surface listener.
type collector struct {
	mu  sync.Mutex
	got []string
}

func (c *collector) handle(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, string(p))
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		Enabled:         true,
		Addr:            "127.0.0.1:0",
		MaxMessageBytes: 1 << 16,
	}
}

type harness struct {
	window *transport.Window
	server *Server
	http   *httptest.Server
	bus    *testBus
}

func newHarness(t *testing.T, auth Authenticator, mutate ...func(*config.GatewayConfig)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	window := transport.NewWindow("test", nil)
	bus := &testBus{}
	srv := NewServer(window, auth, cfg, WithEventBus(bus), WithMetrics(metrics.New()))
	ctx, cancel := context.WithCancel(context.Background())
	hs := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		hs.Close()
		cancel()
		window.Close()
	})
	return &harness{window: window, server: srv, http: hs, bus: bus}
}

func (h *harness) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws" + query
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	require.NoError(t, err)
	return string(data)
}

func waitConnections(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Connections() == n }, 3*time.Second, 10*time.Millisecond)
}

// --- tests ---

func TestRelaySurfaceToClient(t *testing.T) {
	h := newHarness(t, nil)
	ws := dial(t, h.wsURL(""))
	waitConnections(t, h.server, 1)

	require.NoError(t, h.window.Post(context.Background(), []byte(`{"data":1}`)))
	assert.Equal(t, `{"data":1}`, read(t, ws))
}

func TestRelayClientToSurface(t *testing.T) {
	h := newHarness(t, nil)
	c := &collector{}
	h.window.AddListener(c.handle)
	ws := dial(t, h.wsURL(""))
	waitConnections(t, h.server, 1)

	ctx := context.Background()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{"a":1}`)))
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`not json`)))
	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{"a":2}`)))

	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`}, c.snapshot())

	// The sender sees its own posts, as a page does with postMessage.
	assert.Equal(t, `{"a":1}`, read(t, ws))
	assert.Equal(t, `{"a":2}`, read(t, ws))
}

func TestRelayBetweenClients(t *testing.T) {
	h := newHarness(t, nil)
	a := dial(t, h.wsURL(""))
	b := dial(t, h.wsURL(""))
	waitConnections(t, h.server, 2)

	require.NoError(t, a.Write(context.Background(), websocket.MessageText, []byte(`"hello"`)))
	assert.Equal(t, `"hello"`, read(t, b))
}

func TestAuthReject(t *testing.T) {
	auth := NewStaticTokenAuth([]config.TokenConfig{{Name: "dapp", Token: "test-token"}})
	h := newHarness(t, auth)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, h.wsURL("?token=wrong"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	dial(t, h.wsURL("?token=test-token"))
	waitConnections(t, h.server, 1)
}

func TestOriginRejected(t *testing.T) {
	h := newHarness(t, nil, func(cfg *config.GatewayConfig) {
		cfg.OriginPatterns = []string{"dapp.example"}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := websocket.Dial(ctx, h.wsURL(""), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	require.Error(t, err)

	_, _, err = websocket.Dial(ctx, h.wsURL(""), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://dapp.example"}},
	})
	require.NoError(t, err)
}

func TestOversizedMessageClosesConnection(t *testing.T) {
	h := newHarness(t, nil, func(cfg *config.GatewayConfig) { cfg.MaxMessageBytes = 16 })
	ws := dial(t, h.wsURL(""))
	waitConnections(t, h.server, 1)

	big := `"` + strings.Repeat("x", 64) + `"`
	_ = ws.Write(context.Background(), websocket.MessageText, []byte(big))
	waitConnections(t, h.server, 0)
}

func TestConnectRateLimit(t *testing.T) {
	h := newHarness(t, nil, func(cfg *config.GatewayConfig) { cfg.ConnectsPerMin = 1 })
	dial(t, h.wsURL(""))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, h.wsURL(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestConnectionEvents(t *testing.T) {
	h := newHarness(t, nil)
	ws := dial(t, h.wsURL(""))
	waitConnections(t, h.server, 1)
	ws.Close(websocket.StatusNormalClosure, "")
	waitConnections(t, h.server, 0)

	require.Eventually(t, func() bool { return len(h.bus.types()) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []domain.EventType{domain.EventGatewayConnected, domain.EventGatewayDisconnected}, h.bus.types())
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, nil)
	dial(t, h.wsURL(""))
	waitConnections(t, h.server, 1)

	resp, err := http.Get(h.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Connections)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	ws := dial(t, h.wsURL(""))
	waitConnections(t, h.server, 1)
	require.NoError(t, h.window.Post(context.Background(), []byte(`{}`)))
	read(t, ws)

	scrape := func() string {
		resp, err := http.Get(h.http.URL + "/metrics")
		if err != nil {
			return ""
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}
	require.Eventually(t, func() bool {
		return strings.Contains(scrape(), `walletbridge_gateway_relayed_total{direction="outbound"} 1`)
	}, 3*time.Second, 20*time.Millisecond)
	assert.Contains(t, scrape(), "walletbridge_gateway_connections 1")
}

func TestStartAndStop(t *testing.T) {
	window := transport.NewWindow("test", nil)
	defer window.Close()
	srv := NewServer(window, nil, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case <-srv.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("server did not start in time")
	}
	require.NotEmpty(t, srv.BoundAddr())

	// A page that keeps reading answers the close handshake at once.
	ws := dial(t, "ws://"+srv.BoundAddr()+"/ws")
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := ws.Read(context.Background()); err != nil {
				readErr <- err
				return
			}
		}
	}()
	waitConnections(t, srv, 1)

	start := time.Now()
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout):
		t.Fatal("server did not stop")
	}
	assert.Less(t, time.Since(start), time.Second)

	select {
	case err := <-readErr:
		assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	case <-time.After(3 * time.Second):
		t.Fatal("client was not closed")
	}
}

func TestStopSharesDeadlineAcrossSilentClients(t *testing.T) {
	h := newHarness(t, nil)
	// These pages never read, so none of them answers the close handshake.
	for i := 0; i < 3; i++ {
		dial(t, h.wsURL(""))
	}
	waitConnections(t, h.server, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, h.server.Stop(ctx))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second, "Stop with 3 silent clients took %v", elapsed)
	waitConnections(t, h.server, 0)
}

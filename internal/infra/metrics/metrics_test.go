package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveRequest("provider", "get_balance", true, time.Millisecond)
	c.AddPending("p1", 1)
	c.NotificationSent("capabilities_changed")
	c.EnvelopeDropped("noise")
	c.ProtocolError("client")
	c.Relayed("inbound")
	c.ConnectionOpened()
	c.ConnectionClosed()
	assert.Nil(t, c.Registry())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestCollectorCounts(t *testing.T) {
	c := New()

	c.ObserveRequest("provider", "get_balance", true, 10*time.Millisecond)
	c.ObserveRequest("provider", "get_balance", false, 10*time.Millisecond)
	c.ObserveRequest("provider", "get_balance", true, 10*time.Millisecond)
	c.AddPending("p1", 2)
	c.AddPending("p1", -1)
	c.EnvelopeDropped("noise")

	body := scrape(t, c)
	assert.Contains(t, body, `walletbridge_requests_total{kind="get_balance",outcome="success",role="provider"} 2`)
	assert.Contains(t, body, `walletbridge_requests_total{kind="get_balance",outcome="failure",role="provider"} 1`)
	assert.Contains(t, body, `walletbridge_pending_requests{provider="p1"} 1`)
	assert.Contains(t, body, `walletbridge_envelopes_dropped_total{reason="noise"} 1`)
	assert.Contains(t, body, `walletbridge_request_duration_seconds_count{kind="get_balance",role="provider"} 3`)
}

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestCollectorHandlerExposesNamespace(t *testing.T) {
	c := New(WithNamespace("test"), WithConstLabels(prometheus.Labels{"instance": "a"}))
	c.NotificationSent("wallet_address_changed")

	assert.Contains(t, scrape(t, c), `test_notifications_sent_total{instance="a",kind="wallet_address_changed"} 1`)
}

func TestCollectorsAreIsolatedPerRegistry(t *testing.T) {
	// Two collectors must not collide on registration.
	a := New()
	b := New()
	a.Relayed("inbound")
	b.Relayed("outbound")
	assert.Contains(t, scrape(t, a), `walletbridge_gateway_relayed_total{direction="inbound"} 1`)
	assert.NotContains(t, scrape(t, b), `direction="inbound"`)
}

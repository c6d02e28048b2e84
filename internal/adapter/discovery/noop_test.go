//go:build !mdns

package discovery

import (
	"context"
	"testing"

	"walletbridge/internal/domain"
	"walletbridge/internal/infra/config"
)

func TestNoopDiscoverer(t *testing.T) {
	d := New(config.DiscoveryConfig{}, nil)
	gateways, err := d.Scan(context.Background())
	if err != nil || gateways != nil {
		t.Errorf("Scan = %v, %v; want nil, nil", gateways, err)
	}
	if err := d.Advertise(context.Background(), "x", 1, domain.ProviderAnnouncement{}); err != nil {
		t.Errorf("Advertise: %v", err)
	}
}

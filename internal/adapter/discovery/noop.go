//go:build !mdns

package discovery

import (
	"context"
	"log/slog"

	"walletbridge/internal/domain"
	"walletbridge/internal/infra/config"
)

// NoopDiscoverer is used when mDNS support is not compiled in.
type NoopDiscoverer struct {
	logger *slog.Logger
}

// New returns a NoopDiscoverer. Build with -tags mdns for LAN discovery.
func New(_ config.DiscoveryConfig, logger *slog.Logger) Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopDiscoverer{logger: logger}
}

func (n *NoopDiscoverer) Scan(context.Context) ([]Gateway, error) {
	n.logger.Debug("mdns discovery not compiled in")
	return nil, nil
}

func (n *NoopDiscoverer) Advertise(context.Context, string, int, domain.ProviderAnnouncement) error {
	n.logger.Debug("mdns advertising not compiled in")
	return nil
}

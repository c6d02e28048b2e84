//go:build mdns

package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"walletbridge/internal/domain"
	"walletbridge/internal/infra/config"
)

const (
	defaultService = "_walletbridge._tcp"
	defaultDomain  = "local."
	defaultTimeout = 3 * time.Second
)

// MDNSDiscoverer discovers gateways via mDNS/DNS-SD.
type MDNSDiscoverer struct {
	service string
	domain  string
	timeout time.Duration
	logger  *slog.Logger
}

// New returns an MDNSDiscoverer for cfg.
func New(cfg config.DiscoveryConfig, logger *slog.Logger) Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	d := &MDNSDiscoverer{
		service: cfg.Service,
		domain:  cfg.Domain,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "mdns"),
	}
	if d.service == "" {
		d.service = defaultService
	}
	if d.domain == "" {
		d.domain = defaultDomain
	}
	if d.timeout <= 0 {
		d.timeout = defaultTimeout
	}
	return d
}

// Scan browses for gateways until the scan timeout or ctx ends.
func (d *MDNSDiscoverer) Scan(ctx context.Context) ([]Gateway, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var mu sync.Mutex
	var gateways []Gateway
	var wg sync.WaitGroup

	scanCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			g, ok := entryToGateway(entry)
			if !ok {
				continue
			}
			mu.Lock()
			gateways = append(gateways, g)
			mu.Unlock()
			d.logger.Debug("mdns discovered gateway", "provider_id", g.ProviderID, "addr", g.Addr)
		}
	}()

	if err := resolver.Browse(scanCtx, d.service, d.domain, entries); err != nil {
		cancel()
		wg.Wait()
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-scanCtx.Done()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return append([]Gateway(nil), gateways...), nil
}

// Advertise registers the gateway until ctx is cancelled.
func (d *MDNSDiscoverer) Advertise(ctx context.Context, instance string, port int, a domain.ProviderAnnouncement) error {
	server, err := zeroconf.Register(instance, d.service, d.domain, port, AnnouncementTXT(a, "/ws"), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	d.logger.Info("mdns advertising", "instance", instance, "port", port, "provider_id", a.ProviderID)
	<-ctx.Done()
	server.Shutdown()
	return nil
}

func entryToGateway(entry *zeroconf.ServiceEntry) (Gateway, bool) {
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return Gateway{}, false
	}
	return gatewayFromTXT(entry.ServiceRecord.Instance, host, entry.Port, entry.Text), true
}

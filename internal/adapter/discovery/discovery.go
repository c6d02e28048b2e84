// Package discovery finds wallet gateways on the local network. Gateways
// advertise a DNS-SD service whose TXT records summarise the provider
// announcement, so a client can pick a gateway before connecting.
package discovery

import (
	"context"
	"net"
	"strconv"
	"strings"

	"walletbridge/internal/domain"
)

// TXT record keys.
const (
	txtProviderID = "id"
	txtName       = "name"
	txtChain      = "chain"
	txtProtocols  = "protocols"
	txtPath       = "path"
)

// maxTXTValue keeps each key=value pair inside one DNS character-string.
const maxTXTValue = 200

// Gateway is one advertised gateway.
type Gateway struct {
	Instance     string
	Addr         string // host:port
	Path         string
	ProviderID   string
	FriendlyName string
	ChainName    string
	Protocols    []string
}

// URL returns the websocket endpoint of g.
func (g Gateway) URL() string {
	path := g.Path
	if path == "" {
		path = "/ws"
	}
	return "ws://" + g.Addr + path
}

// Discoverer advertises and scans for gateways.
type Discoverer interface {
	Scan(ctx context.Context) ([]Gateway, error)
	// Advertise blocks until ctx is cancelled.
	Advertise(ctx context.Context, instance string, port int, a domain.ProviderAnnouncement) error
}

// AnnouncementTXT encodes the parts of a that fit in TXT records.
func AnnouncementTXT(a domain.ProviderAnnouncement, path string) []string {
	protocols := make([]string, 0, len(a.SupportedProtocols))
	for _, p := range a.SupportedProtocols {
		protocols = append(protocols, p.Name+"@"+p.Version)
	}
	txt := []string{
		txtProviderID + "=" + truncate(a.ProviderID),
		txtName + "=" + truncate(a.FriendlyName),
		txtChain + "=" + truncate(a.ChainName),
		txtProtocols + "=" + truncate(strings.Join(protocols, ",")),
	}
	if path != "" {
		txt = append(txt, txtPath+"="+truncate(path))
	}
	return txt
}

// gatewayFromTXT builds a Gateway from a resolved entry.
func gatewayFromTXT(instance string, host string, port int, txt []string) Gateway {
	m := parseTXTRecords(txt)
	g := Gateway{
		Instance:     instance,
		Addr:         net.JoinHostPort(host, strconv.Itoa(port)),
		Path:         m[txtPath],
		ProviderID:   m[txtProviderID],
		FriendlyName: m[txtName],
		ChainName:    m[txtChain],
	}
	for _, p := range strings.Split(m[txtProtocols], ",") {
		name, _, _ := strings.Cut(p, "@")
		if name != "" {
			g.Protocols = append(g.Protocols, name)
		}
	}
	return g
}

func parseTXTRecords(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, t := range txt {
		if k, v, ok := strings.Cut(t, "="); ok {
			m[k] = v
		}
	}
	return m
}

func truncate(s string) string {
	if len(s) <= maxTXTValue {
		return s
	}
	return s[:maxTXTValue]
}

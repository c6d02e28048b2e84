package discovery

import (
	"strings"
	"testing"

	"walletbridge/internal/domain"
)

func TestAnnouncementTXTRoundTrip(t *testing.T) {
	a := domain.ProviderAnnouncement{
		ProviderID:   "walletbridge",
		FriendlyName: "Wallet Bridge",
		ChainName:    "mainnet",
		SupportedProtocols: []domain.Protocol{
			{Name: "hot_ostrich", Version: "1.0.0"},
		},
	}
	txt := AnnouncementTXT(a, "/ws")

	g := gatewayFromTXT("bridge", "192.168.1.10", 8546, txt)
	if g.ProviderID != "walletbridge" || g.FriendlyName != "Wallet Bridge" || g.ChainName != "mainnet" {
		t.Errorf("gateway = %+v", g)
	}
	if len(g.Protocols) != 1 || g.Protocols[0] != "hot_ostrich" {
		t.Errorf("Protocols = %v", g.Protocols)
	}
	if g.URL() != "ws://192.168.1.10:8546/ws" {
		t.Errorf("URL = %q", g.URL())
	}
}

func TestGatewayIPv6URL(t *testing.T) {
	g := gatewayFromTXT("bridge", "fe80::1", 8546, nil)
	if g.URL() != "ws://[fe80::1]:8546/ws" {
		t.Errorf("URL = %q", g.URL())
	}
	if g.Protocols != nil {
		t.Errorf("Protocols = %v, want none", g.Protocols)
	}
}

func TestParseTXTRecords(t *testing.T) {
	m := parseTXTRecords([]string{"key1=val1", "novalue", "key3=val=with=equals"})
	if m["key1"] != "val1" {
		t.Errorf("key1 = %q", m["key1"])
	}
	if m["key3"] != "val=with=equals" {
		t.Errorf("key3 = %q", m["key3"])
	}
	if _, ok := m["novalue"]; ok {
		t.Error("entry without '=' should be skipped")
	}
}

func TestAnnouncementTXTTruncates(t *testing.T) {
	a := domain.ProviderAnnouncement{ProviderID: "p", FriendlyName: strings.Repeat("n", 500)}
	for _, rec := range AnnouncementTXT(a, "") {
		if len(rec) > 255 {
			t.Errorf("record of %d bytes exceeds a DNS character-string", len(rec))
		}
		if strings.HasPrefix(rec, "path=") {
			t.Error("empty path should not be advertised")
		}
	}
}

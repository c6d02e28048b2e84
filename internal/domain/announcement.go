package domain

// Protocol names a protocol version a provider speaks.
type Protocol struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ProviderAnnouncement is the payload of a provider_announcement notification.
type ProviderAnnouncement struct {
	ProviderID         string     `json:"provider_id"`
	SupportedProtocols []Protocol `json:"supported_protocols"`
	FriendlyName       string     `json:"friendly_name"`
	FriendlyIcon       string     `json:"friendly_icon"` // base64 encoded png
	ChainName          string     `json:"chain_name"`
}

// Supports reports whether the provider lists a protocol with the given name.
func (a ProviderAnnouncement) Supports(name string) bool {
	for _, p := range a.SupportedProtocols {
		if p.Name == name {
			return true
		}
	}
	return false
}

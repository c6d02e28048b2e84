// Package protocol defines the handshake and hot ostrich wire formats: the
// envelope placed on a shared transport, the four message shapes and the
// per-kind request payload schemas.
package protocol

import (
	"slices"

	"walletbridge/internal/domain"
)

// ProtocolKind discriminates the protocols sharing one transport.
type ProtocolKind string

const (
	KindHandshake  ProtocolKind = "handshake"
	KindHotOstrich ProtocolKind = "hot_ostrich"
)

// Channel names denote the sender. A party sends on its own name and
// listens on the other side's, so it never processes its own traffic.
const (
	HandshakeClientChannel   = "EthereumHandshake-client"
	HandshakeProviderChannel = "EthereumHandshake-provider"

	HotOstrichClientPrefix   = "HotOstrich-client-"
	HotOstrichProviderPrefix = "HotOstrich-provider-"

	HotOstrichVersion = "1.0.0"
)

// ClientChannel is the hot ostrich channel clients send on for providerID.
func ClientChannel(providerID string) string { return HotOstrichClientPrefix + providerID }

// ProviderChannel is the hot ostrich channel providers send on for providerID.
func ProviderChannel(providerID string) string { return HotOstrichProviderPrefix + providerID }

// SupportedProtocols is what a provider built on this package announces.
func SupportedProtocols() []domain.Protocol {
	return []domain.Protocol{{Name: string(KindHotOstrich), Version: HotOstrichVersion}}
}

// Kind selects the operation or notification a message carries.
type Kind string

// Handshake kinds.
const (
	KindClientAnnouncement   Kind = "client_announcement"
	KindProviderAnnouncement Kind = "provider_announcement"
)

// Hot ostrich request kinds.
const (
	KindGetCapabilities           Kind = "get_capabilities"
	KindGetWalletAddress          Kind = "get_wallet_address"
	KindGetBalance                Kind = "get_balance"
	KindLocalContractCall         Kind = "local_contract_call"
	KindSignMessage               Kind = "sign_message"
	KindSubmitContractCall        Kind = "submit_contract_call"
	KindSubmitContractDeployment  Kind = "submit_contract_deployment"
	KindSubmitNativeTokenTransfer Kind = "submit_native_token_transfer"
	KindLegacyJSONRPC             Kind = "legacy_jsonrpc"
)

// Hot ostrich notification kinds.
const (
	KindWalletAddressChanged Kind = "wallet_address_changed"
	KindCapabilitiesChanged  Kind = "capabilities_changed"
)

// RequestKinds lists every hot ostrich request kind. Each must have exactly
// one dispatcher entry on the provider side.
var RequestKinds = []Kind{
	KindGetCapabilities,
	KindGetWalletAddress,
	KindGetBalance,
	KindLocalContractCall,
	KindSignMessage,
	KindSubmitContractCall,
	KindSubmitContractDeployment,
	KindSubmitNativeTokenTransfer,
	KindLegacyJSONRPC,
}

// IsRequest reports whether k is a hot ostrich request kind.
func (k Kind) IsRequest() bool { return slices.Contains(RequestKinds, k) }

// RequiredCapability returns the capability a provider must advertise for
// requests of kind k, if any.
func (k Kind) RequiredCapability() (domain.Capability, bool) {
	switch k {
	case KindLocalContractCall:
		return domain.CapabilityCall, true
	case KindSignMessage:
		return domain.CapabilitySignMessage, true
	case KindSubmitContractCall, KindSubmitContractDeployment, KindSubmitNativeTokenTransfer:
		return domain.CapabilitySubmit, true
	default:
		return "", false
	}
}

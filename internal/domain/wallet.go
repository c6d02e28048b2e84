package domain

import (
	"context"
	"encoding/json"
	"math/big"
)

// Payloads carried by hot ostrich requests, responses and notifications.
// Chain integers are *big.Int and travel as JSON integers.

type GetBalanceRequest struct {
	Address *big.Int `json:"address"`
}

type GetBalanceResult struct {
	Balance *big.Int `json:"balance"`
}

// WalletAddressPayload is shared by get_wallet_address responses and
// wallet_address_changed notifications.
type WalletAddressPayload struct {
	Address *big.Int `json:"address"`
}

// CapabilitiesPayload is shared by get_capabilities responses and
// capabilities_changed notifications. It always carries the full set.
type CapabilitiesPayload struct {
	Capabilities CapabilitySet `json:"capabilities"`
}

type LocalContractCallRequest struct {
	ContractAddress  *big.Int          `json:"contract_address"`
	MethodSignature  string            `json:"method_signature"` // e.g. balanceOf(address)
	MethodParameters []json.RawMessage `json:"method_parameters"`
	Value            *big.Int          `json:"value"`
	Caller           *big.Int          `json:"caller,omitempty"`
	GasPrice         *big.Int          `json:"gas_price,omitempty"`
	GasLimit         *big.Int          `json:"gas_limit,omitempty"`
}

type LocalContractCallResult struct {
	Result Bytes `json:"result"`
}

type SignMessageRequest struct {
	Message string `json:"message"`
}

// Signature is an ECDSA signature with V in {27, 28}.
type Signature struct {
	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V uint8    `json:"v"`
}

type SignMessageResult struct {
	RequestedMessage string    `json:"requested_message"`
	SignedMessage    string    `json:"signed_message"`
	SignedBytes      *big.Int  `json:"signed_bytes"` // keccak256 of SignedMessage
	Signature        Signature `json:"signature"`
}

type SubmitContractCallRequest struct {
	ContractAddress  *big.Int                   `json:"contract_address"`
	MethodSignature  string                     `json:"method_signature"`
	MethodParameters []json.RawMessage          `json:"method_parameters"`
	Value            *big.Int                   `json:"value"`
	Nonce            *big.Int                   `json:"nonce,omitempty"`
	GasPrice         *big.Int                   `json:"gas_price,omitempty"`
	GasLimit         *big.Int                   `json:"gas_limit,omitempty"`
	ChainID          *big.Int                   `json:"chain_id,omitempty"`
	PresentationDSLs map[string]json.RawMessage `json:"presentation_dsls,omitempty"`
}

type SubmitContractDeploymentRequest struct {
	Bytecode              Bytes             `json:"bytecode"`
	ConstructorSignature  string            `json:"constructor_signature"`
	ConstructorParameters []json.RawMessage `json:"constructor_parameters"`
	Value                 *big.Int          `json:"value"`
	Nonce                 *big.Int          `json:"nonce,omitempty"`
	GasPrice              *big.Int          `json:"gas_price,omitempty"`
	GasLimit              *big.Int          `json:"gas_limit,omitempty"`
	ChainID               *big.Int          `json:"chain_id,omitempty"`
}

type SubmitNativeTokenTransferRequest struct {
	To       *big.Int `json:"to"`
	Value    *big.Int `json:"value"`
	Nonce    *big.Int `json:"nonce,omitempty"`
	GasPrice *big.Int `json:"gas_price,omitempty"`
	GasLimit *big.Int `json:"gas_limit,omitempty"`
	ChainID  *big.Int `json:"chain_id,omitempty"`
}

// SubmitResult is returned by every submit_* request.
type SubmitResult struct {
	Confidence        float64 `json:"confidence"`
	UpdateChannelName string  `json:"update_channel_name"`
}

type LegacyJSONRPCRequest struct {
	Method     string            `json:"method"`
	Parameters []json.RawMessage `json:"parameters"`
}

type LegacyJSONRPCResult struct {
	Result json.RawMessage `json:"result"`
}

// CallObject is the transaction shape of eth_call and eth_estimateGas.
type CallObject struct {
	From     *big.Int
	To       *big.Int
	Data     []byte
	Value    *big.Int
	GasPrice *big.Int
	Gas      *big.Int
	Nonce    *big.Int
}

// WalletHandler services hot ostrich requests on the provider side. Every
// method may block on network I/O and is called concurrently.
type WalletHandler interface {
	GetBalance(ctx context.Context, address *big.Int) (*big.Int, error)
	LocalContractCall(ctx context.Context, req LocalContractCallRequest) ([]byte, error)
	SignMessage(ctx context.Context, message string) (*SignMessageResult, error)
	SubmitContractCall(ctx context.Context, req SubmitContractCallRequest) (*SubmitResult, error)
	SubmitContractDeployment(ctx context.Context, req SubmitContractDeploymentRequest) (*SubmitResult, error)
	SubmitNativeTokenTransfer(ctx context.Context, req SubmitNativeTokenTransferRequest) (*SubmitResult, error)
	LegacyJSONRPC(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error)
}

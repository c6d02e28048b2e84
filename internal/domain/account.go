package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
)

// Wallet is an attached account. A view-only wallet implements only this;
// the optional interfaces below add abilities and drive the advertised
// capabilities.
type Wallet interface {
	Address() *big.Int
}

// MessageSigner backs the signMessage capability.
type MessageSigner interface {
	SignMessage(ctx context.Context, message string) (*SignMessageResult, error)
}

// TransactionSubmitter backs the signTransaction capability.
type TransactionSubmitter interface {
	SubmitContractCall(ctx context.Context, req SubmitContractCallRequest) (*SubmitResult, error)
	SubmitContractDeployment(ctx context.Context, req SubmitContractDeploymentRequest) (*SubmitResult, error)
	SubmitNativeTokenTransfer(ctx context.Context, req SubmitNativeTokenTransferRequest) (*SubmitResult, error)
}

// ContractCaller executes read-only calls from the wallet's address.
type ContractCaller interface {
	LocalContractCall(ctx context.Context, req LocalContractCallRequest) ([]byte, error)
}

// LegacyWallet answers the wallet-scoped legacy methods (eth_call,
// eth_estimateGas, eth_sendTransaction, eth_signTransaction). It backs the
// legacy capability.
type LegacyWallet interface {
	LegacyJSONRPC(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error)
}

type callObjectJSON struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Data     string `json:"data,omitempty"`
	Value    string `json:"value,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Gas      string `json:"gas,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
}

// MarshalJSON renders the Ethereum JSON-RPC transaction object.
func (c CallObject) MarshalJSON() ([]byte, error) {
	out := callObjectJSON{From: FormatAddress(c.From), To: FormatAddress(c.To)}
	if len(c.Data) > 0 {
		out.Data = FormatBytes(c.Data)
	}
	if c.Value != nil {
		out.Value = FormatQuantity(c.Value)
	}
	if c.GasPrice != nil {
		out.GasPrice = FormatQuantity(c.GasPrice)
	}
	if c.Gas != nil {
		out.Gas = FormatQuantity(c.Gas)
	}
	if c.Nonce != nil {
		out.Nonce = FormatQuantity(c.Nonce)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the Ethereum JSON-RPC transaction object. "input"
// is read as an alias of "data".
func (c *CallObject) UnmarshalJSON(data []byte) error {
	var in struct {
		callObjectJSON
		Input string `json:"input"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: call object: %v", ErrInvalidInput, err)
	}
	if in.Data == "" {
		in.Data = in.Input
	}
	var out CallObject
	var err error
	quantities := []struct {
		src string
		dst **big.Int
	}{
		{in.From, &out.From}, {in.To, &out.To}, {in.Value, &out.Value},
		{in.GasPrice, &out.GasPrice}, {in.Gas, &out.Gas}, {in.Nonce, &out.Nonce},
	}
	for _, q := range quantities {
		if q.src == "" {
			continue
		}
		if *q.dst, err = ParseQuantity(q.src); err != nil {
			return err
		}
	}
	if in.Data != "" {
		if out.Data, err = ParseBytes(in.Data); err != nil {
			return err
		}
	}
	*c = out
	return nil
}

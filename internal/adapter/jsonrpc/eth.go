package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"walletbridge/internal/domain"
)

// latest is the default block tag.
var latest = json.RawMessage(`"latest"`)

func quote(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

func decodeQuantity(method string, raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %s: result is not a quantity: %s", domain.ErrRPCUnavailable, method, raw)
	}
	v, err := domain.ParseQuantity(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return v, nil
}

// GetBalance runs eth_getBalance at the latest block.
func GetBalance(ctx context.Context, c Caller, address *big.Int) (*big.Int, error) {
	raw, err := c.Call(ctx, "eth_getBalance", []json.RawMessage{quote(domain.FormatAddress(address)), latest})
	if err != nil {
		return nil, err
	}
	return decodeQuantity("eth_getBalance", raw)
}

// GasPrice runs eth_gasPrice.
func GasPrice(ctx context.Context, c Caller) (*big.Int, error) {
	raw, err := c.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return nil, err
	}
	return decodeQuantity("eth_gasPrice", raw)
}

// EthCall runs eth_call at the latest block and returns the output bytes.
func EthCall(ctx context.Context, c Caller, call domain.CallObject) ([]byte, error) {
	obj, err := json.Marshal(call)
	if err != nil {
		return nil, err
	}
	raw, err := c.Call(ctx, "eth_call", []json.RawMessage{obj, latest})
	if err != nil {
		return nil, err
	}
	var out domain.Bytes
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: eth_call: %v", domain.ErrRPCUnavailable, err)
	}
	return out, nil
}

// EstimateGas runs eth_estimateGas.
func EstimateGas(ctx context.Context, c Caller, call domain.CallObject) (*big.Int, error) {
	obj, err := json.Marshal(call)
	if err != nil {
		return nil, err
	}
	raw, err := c.Call(ctx, "eth_estimateGas", []json.RawMessage{obj})
	if err != nil {
		return nil, err
	}
	return decodeQuantity("eth_estimateGas", raw)
}

// SendTransaction runs eth_sendTransaction, which requires the node to
// hold the key for call.From, and returns the transaction hash.
func SendTransaction(ctx context.Context, c Caller, call domain.CallObject) (string, error) {
	obj, err := json.Marshal(call)
	if err != nil {
		return "", err
	}
	raw, err := c.Call(ctx, "eth_sendTransaction", []json.RawMessage{obj})
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return "", fmt.Errorf("%w: eth_sendTransaction: result is not a hash: %s", domain.ErrRPCUnavailable, raw)
	}
	return hash, nil
}

// GetBalance is GetBalance on c.
func (c *Client) GetBalance(ctx context.Context, address *big.Int) (*big.Int, error) {
	return GetBalance(ctx, c, address)
}

// GasPrice is GasPrice on c.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return GasPrice(ctx, c)
}

// Package wallet holds the wallet implementations a provider can attach
// and the handler that serves hot ostrich requests for the attached one.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"walletbridge/internal/adapter/jsonrpc"
	"walletbridge/internal/domain"
)

const (
	methodNotFound = -32601
	invalidParams  = -32602
)

// ViewingWallet watches an address. It can read the chain as that address
// but cannot sign or submit anything.
type ViewingWallet struct {
	address *big.Int
	rpc     jsonrpc.Caller
	abi     SelectorEncoder
}

// NewViewingWallet creates a view-only wallet for address.
func NewViewingWallet(address *big.Int, rpc jsonrpc.Caller) (*ViewingWallet, error) {
	if address == nil || address.Sign() < 0 || address.BitLen() > 160 {
		return nil, domain.NewDomainError("wallet.NewViewing", domain.ErrInvalidInput, "address must be a 160 bit unsigned integer")
	}
	if rpc == nil {
		return nil, domain.NewDomainError("wallet.NewViewing", domain.ErrInvalidInput, "rpc is required")
	}
	return &ViewingWallet{address: new(big.Int).Set(address), rpc: rpc}, nil
}

func (w *ViewingWallet) Address() *big.Int { return new(big.Int).Set(w.address) }

// LocalContractCall runs eth_call from the wallet address, or from
// req.Caller when given.
func (w *ViewingWallet) LocalContractCall(ctx context.Context, req domain.LocalContractCallRequest) ([]byte, error) {
	data, err := w.abi.EncodeCall(req.MethodSignature, req.MethodParameters)
	if err != nil {
		return nil, domain.WrapOp("wallet.LocalContractCall", err)
	}
	from := w.address
	if req.Caller != nil {
		from = req.Caller
	}
	return jsonrpc.EthCall(ctx, w.rpc, domain.CallObject{
		From:     from,
		To:       req.ContractAddress,
		Data:     data,
		Value:    req.Value,
		GasPrice: req.GasPrice,
		Gas:      req.GasLimit,
	})
}

// LegacyJSONRPC fills in the sender of eth_call and eth_estimateGas.
// Transaction methods are refused.
func (w *ViewingWallet) LegacyJSONRPC(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "eth_call", "eth_estimateGas":
		params, err := withSender(method, params, w.address)
		if err != nil {
			return nil, err
		}
		return w.rpc.Call(ctx, method, params)
	case "eth_sendTransaction", "eth_signTransaction":
		return nil, domain.NewJSONRPCError(methodNotFound, "Cannot call %s with this type of wallet.", method)
	default:
		return w.rpc.Call(ctx, method, params)
	}
}

// withSender returns params with "from" set on the leading transaction
// object. An explicit sender other than address is rejected.
func withSender(method string, params []json.RawMessage, address *big.Int) ([]json.RawMessage, error) {
	if len(params) == 0 {
		return nil, domain.NewJSONRPCError(invalidParams, "%s expects a transaction object", method)
	}
	var tx map[string]json.RawMessage
	if err := json.Unmarshal(params[0], &tx); err != nil || tx == nil {
		return nil, domain.NewJSONRPCError(invalidParams, "%s expects a transaction object", method)
	}
	if raw, ok := tx["from"]; ok {
		var from string
		if err := json.Unmarshal(raw, &from); err != nil {
			return nil, domain.NewJSONRPCError(invalidParams, "%s: from must be an address", method)
		}
		v, err := domain.ParseQuantity(from)
		if err != nil {
			return nil, domain.NewJSONRPCError(invalidParams, "%s: from must be an address", method)
		}
		if v.Cmp(address) != 0 {
			return nil, domain.NewJSONRPCError(invalidParams, "%s: from %s is not the connected wallet", method, from)
		}
		return params, nil
	}
	from, err := json.Marshal(domain.FormatAddress(address))
	if err != nil {
		return nil, fmt.Errorf("encode sender: %w", err)
	}
	tx["from"] = from
	first, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encode transaction object: %w", err)
	}
	out := make([]json.RawMessage, len(params))
	copy(out, params)
	out[0] = first
	return out, nil
}

// Package legacy answers legacy_jsonrpc requests, letting dapps written
// against a single request/response provider object reuse the hot ostrich
// channel.
package legacy

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"slices"

	"walletbridge/internal/domain"
)

// methodNotFound is the JSON-RPC "method not found" code.
const methodNotFound = -32601

// RemoteRPC forwards raw JSON-RPC calls to a node.
type RemoteRPC interface {
	Call(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error)
}

// GasPriceSource supplies the eth_gasPrice answer.
type GasPriceSource func(ctx context.Context) (*big.Int, error)

// FixedGasPrice always answers price.
func FixedGasPrice(price *big.Int) GasPriceSource {
	p := new(big.Int).Set(price)
	return func(context.Context) (*big.Int, error) { return new(big.Int).Set(p), nil }
}

// ReadOnlyMethods are forwarded to the node unchanged.
var ReadOnlyMethods = []string{
	"eth_blockNumber",
	"eth_chainId",
	"eth_feeHistory",
	"eth_getBalance",
	"eth_getBlockByHash",
	"eth_getBlockByNumber",
	"eth_getBlockTransactionCountByHash",
	"eth_getBlockTransactionCountByNumber",
	"eth_getCode",
	"eth_getLogs",
	"eth_getStorageAt",
	"eth_getTransactionByHash",
	"eth_getTransactionCount",
	"eth_getTransactionReceipt",
	"eth_maxPriorityFeePerGas",
	"eth_protocolVersion",
	"eth_sendRawTransaction",
	"eth_syncing",
	"net_listening",
	"net_version",
	"web3_clientVersion",
}

// Bridge dispatches legacy methods by name.
type Bridge struct {
	rpc      RemoteRPC
	gasPrice GasPriceSource
	logger   *slog.Logger
}

// NewBridge creates a bridge. A nil gasPrice asks the node.
func NewBridge(rpc RemoteRPC, gasPrice GasPriceSource, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{rpc: rpc, gasPrice: gasPrice, logger: logger.With("component", "legacy")}
	if b.gasPrice == nil {
		b.gasPrice = b.remoteGasPrice
	}
	return b
}

// Handle answers method for the currently attached wallet, which may be nil.
//
//   - eth_gasPrice, eth_coinbase and eth_accounts are answered locally.
//   - eth_call and eth_estimateGas go through a wallet implementing
//     domain.LegacyWallet so it can act as sender, else to the node.
//   - eth_sendTransaction and eth_signTransaction need a domain.LegacyWallet.
//   - everything else is forwarded to the node.
func (b *Bridge) Handle(ctx context.Context, wallet domain.Wallet, method string, params []json.RawMessage) (json.RawMessage, error) {
	if params == nil {
		params = []json.RawMessage{}
	}
	switch method {
	case "eth_gasPrice":
		price, err := b.gasPrice(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(domain.FormatQuantity(price))
	case "eth_coinbase":
		if wallet == nil {
			return json.RawMessage("null"), nil
		}
		return json.Marshal(domain.FormatAddress(wallet.Address()))
	case "eth_accounts":
		if wallet == nil {
			return json.RawMessage("[]"), nil
		}
		return json.Marshal([]string{domain.FormatAddress(wallet.Address())})
	case "eth_call", "eth_estimateGas":
		if lw, ok := wallet.(domain.LegacyWallet); ok {
			return lw.LegacyJSONRPC(ctx, method, params)
		}
		return b.forward(ctx, method, params)
	case "eth_sendTransaction", "eth_signTransaction":
		if wallet == nil {
			return nil, domain.NewJSONRPCError(methodNotFound, "Cannot call %s without choosing a wallet.", method)
		}
		lw, ok := wallet.(domain.LegacyWallet)
		if !ok {
			return nil, domain.NewJSONRPCError(methodNotFound, "Cannot call %s with this type of wallet.", method)
		}
		return lw.LegacyJSONRPC(ctx, method, params)
	default:
		if !slices.Contains(ReadOnlyMethods, method) {
			b.logger.Debug("forwarding unlisted legacy method", "method", method)
		}
		return b.forward(ctx, method, params)
	}
}

func (b *Bridge) forward(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	if b.rpc == nil {
		return nil, domain.WrapOp("legacy."+method, domain.ErrRPCUnavailable)
	}
	return b.rpc.Call(ctx, method, params)
}

func (b *Bridge) remoteGasPrice(ctx context.Context) (*big.Int, error) {
	raw, err := b.forward(ctx, "eth_gasPrice", nil)
	if err != nil {
		return nil, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, domain.NewDomainError("legacy.eth_gasPrice", domain.ErrRPCUnavailable, "result is not a quantity")
	}
	return domain.ParseQuantity(s)
}

package wallet

import (
	"context"
	"encoding/json"
	"math/big"

	"walletbridge/internal/adapter/jsonrpc"
	"walletbridge/internal/domain"
)

// Confidence reported for each submission type. Native transfers cannot
// fail once accepted, contract interactions can still revert.
const (
	contractConfidence = 0.5
	transferConfidence = 1
)

// NodeWallet is an account whose key is held by the node. Transactions
// are submitted with eth_sendTransaction.
type NodeWallet struct {
	*ViewingWallet
}

// NewNodeWallet creates a wallet for a node-managed address.
func NewNodeWallet(address *big.Int, rpc jsonrpc.Caller) (*NodeWallet, error) {
	v, err := NewViewingWallet(address, rpc)
	if err != nil {
		return nil, err
	}
	return &NodeWallet{ViewingWallet: v}, nil
}

func (w *NodeWallet) SubmitContractCall(ctx context.Context, req domain.SubmitContractCallRequest) (*domain.SubmitResult, error) {
	data, err := w.abi.EncodeCall(req.MethodSignature, req.MethodParameters)
	if err != nil {
		return nil, domain.WrapOp("wallet.SubmitContractCall", err)
	}
	hash, err := w.send(ctx, req.ChainID, domain.CallObject{
		To:       req.ContractAddress,
		Data:     data,
		Value:    req.Value,
		Nonce:    req.Nonce,
		GasPrice: req.GasPrice,
		Gas:      req.GasLimit,
	})
	if err != nil {
		return nil, domain.WrapOp("wallet.SubmitContractCall", err)
	}
	return &domain.SubmitResult{Confidence: contractConfidence, UpdateChannelName: "contract call status - " + hash}, nil
}

func (w *NodeWallet) SubmitContractDeployment(ctx context.Context, req domain.SubmitContractDeploymentRequest) (*domain.SubmitResult, error) {
	data, err := w.abi.EncodeDeployment(req.Bytecode, req.ConstructorSignature, req.ConstructorParameters)
	if err != nil {
		return nil, domain.WrapOp("wallet.SubmitContractDeployment", err)
	}
	hash, err := w.send(ctx, req.ChainID, domain.CallObject{
		Data:     data,
		Value:    req.Value,
		Nonce:    req.Nonce,
		GasPrice: req.GasPrice,
		Gas:      req.GasLimit,
	})
	if err != nil {
		return nil, domain.WrapOp("wallet.SubmitContractDeployment", err)
	}
	return &domain.SubmitResult{Confidence: contractConfidence, UpdateChannelName: "contract deployment status - " + hash}, nil
}

func (w *NodeWallet) SubmitNativeTokenTransfer(ctx context.Context, req domain.SubmitNativeTokenTransferRequest) (*domain.SubmitResult, error) {
	if req.To == nil {
		return nil, domain.NewDomainError("wallet.SubmitNativeTokenTransfer", domain.ErrInvalidInput, "recipient is required")
	}
	hash, err := w.send(ctx, req.ChainID, domain.CallObject{
		To:       req.To,
		Value:    req.Value,
		Nonce:    req.Nonce,
		GasPrice: req.GasPrice,
		Gas:      req.GasLimit,
	})
	if err != nil {
		return nil, domain.WrapOp("wallet.SubmitNativeTokenTransfer", err)
	}
	return &domain.SubmitResult{Confidence: transferConfidence, UpdateChannelName: "native token transfer status - " + hash}, nil
}

// LegacyJSONRPC fills in the sender of call and transaction methods.
func (w *NodeWallet) LegacyJSONRPC(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "eth_call", "eth_estimateGas", "eth_sendTransaction", "eth_signTransaction":
		params, err := withSender(method, params, w.address)
		if err != nil {
			return nil, err
		}
		return w.rpc.Call(ctx, method, params)
	default:
		return w.ViewingWallet.LegacyJSONRPC(ctx, method, params)
	}
}

// send submits tx from the wallet address. A non-nil chainID must match
// the node's chain.
func (w *NodeWallet) send(ctx context.Context, chainID *big.Int, tx domain.CallObject) (string, error) {
	if chainID != nil {
		raw, err := w.rpc.Call(ctx, "eth_chainId", nil)
		if err != nil {
			return "", err
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", domain.NewDomainError("eth_chainId", domain.ErrRPCUnavailable, "result is not a quantity")
		}
		nodeChain, err := domain.ParseQuantity(s)
		if err != nil {
			return "", err
		}
		if nodeChain.Cmp(chainID) != 0 {
			return "", domain.NewDomainError("wallet.send", domain.ErrInvalidInput,
				"chain id "+chainID.String()+" does not match node chain "+nodeChain.String())
		}
	}
	tx.From = w.address
	return jsonrpc.SendTransaction(ctx, w.rpc, tx)
}

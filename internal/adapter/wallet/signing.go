package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"walletbridge/internal/adapter/jsonrpc"
	"walletbridge/internal/domain"
)

// Signer produces a personal-message signature: an ECDSA signature over
// keccak256 of the EIP-191 prefixed message.
type Signer interface {
	SignPersonal(ctx context.Context, address *big.Int, message []byte) (domain.Signature, error)
}

// PersonalMessage returns message with the EIP-191 "personal" prefix.
func PersonalMessage(message string) string {
	return "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(message)) + message
}

// SigningWallet is a NodeWallet that can also sign messages.
type SigningWallet struct {
	*NodeWallet
	signer Signer
}

// NewSigningWallet creates a wallet that signs with signer and submits
// through the node.
func NewSigningWallet(address *big.Int, rpc jsonrpc.Caller, signer Signer) (*SigningWallet, error) {
	if signer == nil {
		return nil, domain.NewDomainError("wallet.NewSigning", domain.ErrInvalidInput, "signer is required")
	}
	n, err := NewNodeWallet(address, rpc)
	if err != nil {
		return nil, err
	}
	return &SigningWallet{NodeWallet: n, signer: signer}, nil
}

func (w *SigningWallet) SignMessage(ctx context.Context, message string) (*domain.SignMessageResult, error) {
	sig, err := w.signer.SignPersonal(ctx, w.address, []byte(message))
	if err != nil {
		return nil, domain.WrapOp("wallet.SignMessage", err)
	}
	if sig.V < 27 {
		sig.V += 27
	}
	signed := PersonalMessage(message)
	return &domain.SignMessageResult{
		RequestedMessage: message,
		SignedMessage:    signed,
		SignedBytes:      new(big.Int).SetBytes(Keccak256([]byte(signed))),
		Signature:        sig,
	}, nil
}

// NodeSigner signs with eth_sign, so the node must hold the key.
type NodeSigner struct {
	RPC jsonrpc.Caller
}

func (s NodeSigner) SignPersonal(ctx context.Context, address *big.Int, message []byte) (domain.Signature, error) {
	addr, _ := json.Marshal(domain.FormatAddress(address))
	data, _ := json.Marshal(domain.FormatBytes(message))
	raw, err := s.RPC.Call(ctx, "eth_sign", []json.RawMessage{addr, data})
	if err != nil {
		return domain.Signature{}, err
	}
	var sig domain.Bytes
	if err := json.Unmarshal(raw, &sig); err != nil {
		return domain.Signature{}, fmt.Errorf("%w: eth_sign: %v", domain.ErrRPCUnavailable, err)
	}
	return ParseSignature(sig)
}

// ParseSignature splits a 65 byte r||s||v signature.
func ParseSignature(sig []byte) (domain.Signature, error) {
	if len(sig) != 65 {
		return domain.Signature{}, fmt.Errorf("%w: signature is %d bytes, want 65", domain.ErrInvalidInput, len(sig))
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	return domain.Signature{
		R: new(big.Int).SetBytes(sig[:32]),
		S: new(big.Int).SetBytes(sig[32:64]),
		V: v,
	}, nil
}

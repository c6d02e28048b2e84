package wallet

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"sync"

	"walletbridge/internal/adapter/jsonrpc"
	"walletbridge/internal/domain"
	"walletbridge/internal/usecase/legacy"
)

// CapabilityChannel is the provider channel a Handler drives.
type CapabilityChannel interface {
	UpdateCapabilities(ctx context.Context, update domain.CapabilityUpdate) error
	SetWalletAddress(ctx context.Context, address *big.Int) error
}

// actionError carries a user facing message and a sentinel for errors.Is.
type actionError struct {
	msg string
	err error
}

func (e *actionError) Error() string { return e.msg }
func (e *actionError) Unwrap() error { return e.err }

func noWallet(action string) error {
	return &actionError{msg: "Cannot " + action + " without connecting a wallet.", err: domain.ErrWalletRequired}
}

func wrongWallet(action string) error {
	return &actionError{
		msg: "Cannot " + action + " with this type of wallet.  Are you using a view-only wallet?",
		err: domain.ErrSigningUnsupported,
	}
}

// Handler serves hot ostrich requests for whichever wallet is attached.
// It advertises call and submit from the start and derives the rest of
// the capabilities from the attached wallet.
type Handler struct {
	rpc          jsonrpc.Caller
	bridge       *legacy.Bridge
	announcement domain.ProviderAnnouncement
	logger       *slog.Logger
	onError      func(error)

	mu      sync.RWMutex
	wallet  domain.Wallet
	channel CapabilityChannel
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAnnouncement sets the answer to handshake discovery.
func WithAnnouncement(a domain.ProviderAnnouncement) HandlerOption {
	return func(h *Handler) { h.announcement = a }
}

// WithErrorCallback receives every channel error after it is logged.
func WithErrorCallback(fn func(error)) HandlerOption {
	return func(h *Handler) { h.onError = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a handler reading the chain through rpc.
func NewHandler(rpc jsonrpc.Caller, bridge *legacy.Bridge, opts ...HandlerOption) *Handler {
	h := &Handler{rpc: rpc, bridge: bridge, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "wallet")
	if h.bridge == nil {
		h.bridge = legacy.NewBridge(rpc, nil, h.logger)
	}
	return h
}

// Attach binds the handler to ch and enables call and submit.
func (h *Handler) Attach(ctx context.Context, ch CapabilityChannel) error {
	h.mu.Lock()
	h.channel = ch
	h.mu.Unlock()
	return ch.UpdateCapabilities(ctx, domain.CapabilityUpdate{
		domain.CapabilityCall:   true,
		domain.CapabilitySubmit: true,
	})
}

// UpdateWallet attaches w, or detaches with nil, and updates the wallet
// address and capabilities of the attached channel.
func (h *Handler) UpdateWallet(ctx context.Context, w domain.Wallet) error {
	h.mu.Lock()
	h.wallet = w
	ch := h.channel
	h.mu.Unlock()
	if ch == nil {
		return nil
	}

	var address *big.Int
	if w != nil {
		address = w.Address()
	}
	if err := ch.SetWalletAddress(ctx, address); err != nil {
		return domain.WrapOp("wallet.UpdateWallet", err)
	}
	_, signs := w.(domain.MessageSigner)
	_, submits := w.(domain.TransactionSubmitter)
	_, legacyRPC := w.(domain.LegacyWallet)
	h.logger.Info("wallet updated", "address", address, "sign_message", signs, "submit", submits, "legacy", legacyRPC)
	return domain.WrapOp("wallet.UpdateWallet", ch.UpdateCapabilities(ctx, domain.CapabilityUpdate{
		domain.CapabilitySignMessage:     signs,
		domain.CapabilitySignTransaction: submits,
		domain.CapabilityLegacy:          legacyRPC,
	}))
}

// Wallet returns the attached wallet, or nil.
func (h *Handler) Wallet() domain.Wallet {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.wallet
}

func (h *Handler) GetProviderAnnouncement(context.Context) (domain.ProviderAnnouncement, error) {
	return h.announcement, nil
}

func (h *Handler) OnError(err error) {
	h.logger.Warn("channel error", "error", err)
	if h.onError != nil {
		h.onError(err)
	}
}

func (h *Handler) GetBalance(ctx context.Context, address *big.Int) (*big.Int, error) {
	if h.rpc == nil {
		return nil, domain.WrapOp("wallet.GetBalance", domain.ErrRPCUnavailable)
	}
	return jsonrpc.GetBalance(ctx, h.rpc, address)
}

// LocalContractCall uses the attached wallet as sender when it can, and
// otherwise calls anonymously or from req.Caller.
func (h *Handler) LocalContractCall(ctx context.Context, req domain.LocalContractCallRequest) ([]byte, error) {
	if cc, ok := h.Wallet().(domain.ContractCaller); ok {
		return cc.LocalContractCall(ctx, req)
	}
	if h.rpc == nil {
		return nil, domain.WrapOp("wallet.LocalContractCall", domain.ErrRPCUnavailable)
	}
	data, err := SelectorEncoder{}.EncodeCall(req.MethodSignature, req.MethodParameters)
	if err != nil {
		return nil, domain.WrapOp("wallet.LocalContractCall", err)
	}
	return jsonrpc.EthCall(ctx, h.rpc, domain.CallObject{
		From:     req.Caller,
		To:       req.ContractAddress,
		Data:     data,
		Value:    req.Value,
		GasPrice: req.GasPrice,
		Gas:      req.GasLimit,
	})
}

func (h *Handler) SignMessage(ctx context.Context, message string) (*domain.SignMessageResult, error) {
	w := h.Wallet()
	if w == nil {
		return nil, noWallet("sign a message")
	}
	signer, ok := w.(domain.MessageSigner)
	if !ok {
		return nil, wrongWallet("sign a message")
	}
	return signer.SignMessage(ctx, message)
}

func (h *Handler) submitter(action string) (domain.TransactionSubmitter, error) {
	w := h.Wallet()
	if w == nil {
		return nil, noWallet(action)
	}
	s, ok := w.(domain.TransactionSubmitter)
	if !ok {
		return nil, wrongWallet(action)
	}
	return s, nil
}

func (h *Handler) SubmitContractCall(ctx context.Context, req domain.SubmitContractCallRequest) (*domain.SubmitResult, error) {
	s, err := h.submitter("submit transactions")
	if err != nil {
		return nil, err
	}
	return s.SubmitContractCall(ctx, req)
}

func (h *Handler) SubmitContractDeployment(ctx context.Context, req domain.SubmitContractDeploymentRequest) (*domain.SubmitResult, error) {
	s, err := h.submitter("submit transactions")
	if err != nil {
		return nil, err
	}
	return s.SubmitContractDeployment(ctx, req)
}

func (h *Handler) SubmitNativeTokenTransfer(ctx context.Context, req domain.SubmitNativeTokenTransferRequest) (*domain.SubmitResult, error) {
	s, err := h.submitter("transfer ETH")
	if err != nil {
		return nil, err
	}
	return s.SubmitNativeTokenTransfer(ctx, req)
}

func (h *Handler) LegacyJSONRPC(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	return h.bridge.Handle(ctx, h.Wallet(), method, params)
}

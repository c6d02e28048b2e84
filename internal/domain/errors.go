package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrAuthInvalid  = fmt.Errorf("authentication failed")
	ErrRateLimit    = fmt.Errorf("rate limit exceeded")
)

// Protocol errors. These reach a channel's error callback, never a caller.
var (
	ErrMalformedMessage      = fmt.Errorf("malformed message")
	ErrUnexpectedMessageType = fmt.Errorf("unexpected message type")
	ErrUnknownKind           = fmt.Errorf("unknown message kind")
	ErrNoPendingRequest      = fmt.Errorf("received a response without finding a matching request")
)

// Channel and wallet errors returned to callers.
var (
	ErrChannelClosed         = fmt.Errorf("channel closed")
	ErrRequestExpired        = fmt.Errorf("pending request expired")
	ErrCapabilityUnavailable = fmt.Errorf("capability not available")
	ErrAddressWithoutWallet  = fmt.Errorf("cannot enable the address capability without a wallet address")
	ErrWalletAddressUnset    = fmt.Errorf("wallet address is not set")
	ErrWalletRequired        = fmt.Errorf("no wallet connected")
	ErrSigningUnsupported    = fmt.Errorf("wallet cannot sign")
	ErrRPCUnavailable        = fmt.Errorf("remote rpc unavailable")
	ErrProviderNotFound      = fmt.Errorf("provider not found")

	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Provider.UpdateCapabilities")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ProviderError is the error a client receives when a provider answers a
// request with a failure response.
type ProviderError struct {
	Message string
	Data    json.RawMessage
	Code    *int
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("failure response from provider: ")
	b.WriteString(e.Message)
	if len(e.Data) > 0 && string(e.Data) != "null" {
		b.WriteString(" ")
		b.Write(e.Data)
	}
	return b.String()
}

// JSONRPCError lets a wallet handler choose the code carried by a failure
// response.
type JSONRPCError struct {
	Code    int
	Message string
	Data    any
}

func (e *JSONRPCError) Error() string { return e.Message }

// NewJSONRPCError creates a JSONRPCError with a formatted message.
func NewJSONRPCError(code int, format string, args ...any) *JSONRPCError {
	return &JSONRPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError converts a recovered value into an error. Errors pass through,
// strings become the message, anything else is JSON encoded.
func AsError(v any) error {
	switch e := v.(type) {
	case nil:
		return nil
	case error:
		return e
	case string:
		return errors.New(e)
	default:
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("%v", e)
		}
		return errors.New(string(raw))
	}
}

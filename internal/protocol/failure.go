package protocol

import (
	"encoding/json"
	"errors"

	"walletbridge/internal/domain"
)

// DefaultFailureMessage is used when a handler error carries no message.
const DefaultFailureMessage = "Unknown error occurred while processing request."

// FailurePayload is the payload of an unsuccessful response.
type FailurePayload struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Code    *int            `json:"code,omitempty"`
}

// NewFailure converts a handler error into a failure payload. A
// *domain.JSONRPCError anywhere in the chain contributes its code and data.
func NewFailure(err error) FailurePayload {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = DefaultFailureMessage
	}
	f := FailurePayload{Message: msg, Data: json.RawMessage("null")}

	var rpcErr *domain.JSONRPCError
	if errors.As(err, &rpcErr) {
		code := rpcErr.Code
		f.Code = &code
		if rpcErr.Data != nil {
			if raw, mErr := json.Marshal(rpcErr.Data); mErr == nil {
				f.Data = raw
			}
		}
	}
	return f
}

// Err converts the payload into the error a client caller receives.
func (f FailurePayload) Err() *domain.ProviderError {
	msg := f.Message
	if msg == "" {
		msg = DefaultFailureMessage
	}
	return &domain.ProviderError{Message: msg, Data: f.Data, Code: f.Code}
}

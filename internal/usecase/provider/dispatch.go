package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"walletbridge/internal/domain"
	"walletbridge/internal/infra/tracer"
	"walletbridge/internal/protocol"
	"walletbridge/internal/usecase/channel"
)

// methodNotFound is the JSON-RPC code for unknown request kinds.
const methodNotFound = -32601

// route serves one request kind from its raw payload.
type route func(ctx context.Context, payload json.RawMessage) (any, error)

// handle decodes the payload into T before calling fn.
func handle[T any](fn func(ctx context.Context, req T) (any, error)) route {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req T
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		return fn(ctx, req)
	}
}

type empty struct{}

func (c *HotOstrichChannel) routeTable() map[protocol.Kind]route {
	h := c.handler
	return map[protocol.Kind]route{
		protocol.KindGetCapabilities: handle(func(context.Context, empty) (any, error) {
			return domain.CapabilitiesPayload{Capabilities: c.Capabilities()}, nil
		}),
		protocol.KindGetWalletAddress: handle(func(context.Context, empty) (any, error) {
			address, err := c.WalletAddress()
			if err != nil {
				return nil, err
			}
			return domain.WalletAddressPayload{Address: address}, nil
		}),
		protocol.KindGetBalance: handle(func(ctx context.Context, req domain.GetBalanceRequest) (any, error) {
			balance, err := h.GetBalance(ctx, req.Address)
			if err != nil {
				return nil, err
			}
			return domain.GetBalanceResult{Balance: balance}, nil
		}),
		protocol.KindLocalContractCall: handle(func(ctx context.Context, req domain.LocalContractCallRequest) (any, error) {
			result, err := h.LocalContractCall(ctx, req)
			if err != nil {
				return nil, err
			}
			return domain.LocalContractCallResult{Result: result}, nil
		}),
		protocol.KindSignMessage: handle(func(ctx context.Context, req domain.SignMessageRequest) (any, error) {
			return h.SignMessage(ctx, req.Message)
		}),
		protocol.KindSubmitContractCall: handle(func(ctx context.Context, req domain.SubmitContractCallRequest) (any, error) {
			return h.SubmitContractCall(ctx, req)
		}),
		protocol.KindSubmitContractDeployment: handle(func(ctx context.Context, req domain.SubmitContractDeploymentRequest) (any, error) {
			return h.SubmitContractDeployment(ctx, req)
		}),
		protocol.KindSubmitNativeTokenTransfer: handle(func(ctx context.Context, req domain.SubmitNativeTokenTransferRequest) (any, error) {
			return h.SubmitNativeTokenTransfer(ctx, req)
		}),
		protocol.KindLegacyJSONRPC: handle(func(ctx context.Context, req domain.LegacyJSONRPCRequest) (any, error) {
			result, err := h.LegacyJSONRPC(ctx, req.Method, req.Parameters)
			if err != nil {
				return nil, err
			}
			return domain.LegacyJSONRPCResult{Result: result}, nil
		}),
	}
}

func (c *HotOstrichChannel) dispatch(req protocol.Request) {
	ctx, span := tracer.StartRequest(c.ctx, tracer.Dispatch, c.providerID, string(req.Kind), req.CorrelationID)
	start := time.Now()

	resp, err := c.respond(ctx, req)
	if err != nil {
		c.base.Logger().Debug("request failed", "kind", req.Kind, "correlation_id", req.CorrelationID, "error", err)
	}
	if sendErr := c.base.Send(ctx, resp); sendErr != nil && !channel.IsClosed(sendErr) {
		c.base.Fail(sendErr)
	}

	elapsed := time.Since(start)
	c.base.Metrics().ObserveRequest(string(channel.RoleProvider), string(req.Kind), resp.Success, elapsed)
	c.base.Publish(ctx, domain.EventRequestServed, c.providerID, domain.RequestServedPayload{
		Kind:          string(req.Kind),
		CorrelationID: req.CorrelationID,
		Success:       resp.Success,
		Duration:      elapsed,
	})
	span.End(err)
}

// respond always yields a response for req. err is the handler failure, if
// any, already folded into a failure response.
func (c *HotOstrichChannel) respond(ctx context.Context, req protocol.Request) (resp protocol.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.AsError(r)
			resp = protocol.NewFailureResponse(req, err)
		}
	}()

	r, ok := c.routes[req.Kind]
	if !ok {
		c.base.Fail(fmt.Errorf("%w: request %s", domain.ErrUnknownKind, req.Kind))
		err = domain.NewJSONRPCError(methodNotFound, "Unsupported request kind: %s", req.Kind)
		return protocol.NewFailureResponse(req, err), err
	}
	if err := protocol.ValidateRequest(req.Kind, req.Payload); err != nil {
		return protocol.NewFailureResponse(req, err), err
	}
	result, err := r(ctx, req.Payload)
	if err != nil {
		return protocol.NewFailureResponse(req, err), err
	}
	resp, err = protocol.NewSuccess(req, result)
	if err != nil {
		return protocol.NewFailureResponse(req, err), err
	}
	return resp, nil
}

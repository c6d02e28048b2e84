package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"walletbridge/internal/domain"
)

// MessageType discriminates the four message shapes.
type MessageType string

const (
	TypeBroadcast    MessageType = "broadcast"
	TypeNotification MessageType = "notification"
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
)

// Message is one of Broadcast, Notification, Request or Response.
type Message interface {
	MessageType() MessageType
	MessageKind() Kind
	sealed()
}

// Broadcast is untargeted and uncorrelated. Only clients send it.
type Broadcast struct {
	Kind    Kind
	Payload json.RawMessage
}

// Notification is an unsolicited provider message.
type Notification struct {
	Kind    Kind
	Payload json.RawMessage
}

// Request is a correlated client call.
type Request struct {
	Kind          Kind
	CorrelationID string
	Payload       json.RawMessage
}

// Response answers the Request with the same Kind and CorrelationID. When
// Success is false Payload holds a FailurePayload.
type Response struct {
	Kind          Kind
	CorrelationID string
	Success       bool
	Payload       json.RawMessage
}

func (Broadcast) MessageType() MessageType    { return TypeBroadcast }
func (Notification) MessageType() MessageType { return TypeNotification }
func (Request) MessageType() MessageType      { return TypeRequest }
func (Response) MessageType() MessageType     { return TypeResponse }

func (m Broadcast) MessageKind() Kind    { return m.Kind }
func (m Notification) MessageKind() Kind { return m.Kind }
func (m Request) MessageKind() Kind      { return m.Kind }
func (m Response) MessageKind() Kind     { return m.Kind }

func (Broadcast) sealed()    {}
func (Notification) sealed() {}
func (Request) sealed()      {}
func (Response) sealed()     {}

type wireMessage struct {
	Type          MessageType     `json:"type"`
	Kind          Kind            `json:"kind"`
	CorrelationID *string         `json:"correlation_id,omitempty"`
	Success       *bool           `json:"success,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

var emptyPayload = json.RawMessage("{}")

func payloadOrEmpty(p json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(p)) == 0 {
		return emptyPayload
	}
	return p
}

// MarshalMessage encodes m in its wire shape.
func MarshalMessage(m Message) ([]byte, error) {
	var w wireMessage
	switch v := m.(type) {
	case Broadcast:
		w = wireMessage{Type: TypeBroadcast, Kind: v.Kind, Payload: payloadOrEmpty(v.Payload)}
	case Notification:
		w = wireMessage{Type: TypeNotification, Kind: v.Kind, Payload: payloadOrEmpty(v.Payload)}
	case Request:
		id := v.CorrelationID
		w = wireMessage{Type: TypeRequest, Kind: v.Kind, CorrelationID: &id, Payload: payloadOrEmpty(v.Payload)}
	case Response:
		id, ok := v.CorrelationID, v.Success
		w = wireMessage{Type: TypeResponse, Kind: v.Kind, CorrelationID: &id, Success: &ok, Payload: payloadOrEmpty(v.Payload)}
	default:
		panic(Unreachable(m))
	}
	return json.Marshal(w)
}

// UnmarshalMessage decodes a wire message body.
func UnmarshalMessage(raw []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if w.Kind == "" {
		return nil, fmt.Errorf("%w: missing kind", domain.ErrMalformedMessage)
	}
	payload := payloadOrEmpty(w.Payload)

	switch w.Type {
	case TypeBroadcast:
		return Broadcast{Kind: w.Kind, Payload: payload}, nil
	case TypeNotification:
		return Notification{Kind: w.Kind, Payload: payload}, nil
	case TypeRequest:
		if w.CorrelationID == nil || *w.CorrelationID == "" {
			return nil, fmt.Errorf("%w: request %s without correlation_id", domain.ErrMalformedMessage, w.Kind)
		}
		return Request{Kind: w.Kind, CorrelationID: *w.CorrelationID, Payload: payload}, nil
	case TypeResponse:
		if w.CorrelationID == nil || *w.CorrelationID == "" {
			return nil, fmt.Errorf("%w: response %s without correlation_id", domain.ErrMalformedMessage, w.Kind)
		}
		if w.Success == nil {
			return nil, fmt.Errorf("%w: response %s without success flag", domain.ErrMalformedMessage, w.Kind)
		}
		return Response{Kind: w.Kind, CorrelationID: *w.CorrelationID, Success: *w.Success, Payload: payload}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnexpectedMessageType, w.Type)
	}
}

// NewNotification encodes payload into a notification of the given kind.
func NewNotification(kind Kind, payload any) (Notification, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Notification{}, fmt.Errorf("encode %s: %w", kind, err)
	}
	return Notification{Kind: kind, Payload: raw}, nil
}

// NewRequest encodes payload into a request.
func NewRequest(kind Kind, correlationID string, payload any) (Request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("encode %s: %w", kind, err)
	}
	return Request{Kind: kind, CorrelationID: correlationID, Payload: raw}, nil
}

// NewSuccess answers req with result.
func NewSuccess(req Request, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("encode %s result: %w", req.Kind, err)
	}
	return Response{Kind: req.Kind, CorrelationID: req.CorrelationID, Success: true, Payload: raw}, nil
}

// NewFailureResponse answers req with a failure built from err.
func NewFailureResponse(req Request, err error) Response {
	raw, mErr := json.Marshal(NewFailure(err))
	if mErr != nil {
		raw, _ = json.Marshal(FailurePayload{Message: DefaultFailureMessage, Data: json.RawMessage("null")})
	}
	return Response{Kind: req.Kind, CorrelationID: req.CorrelationID, Success: false, Payload: raw}
}

// Unreachable reports a value no switch arm accepted. Callers panic with it;
// channels recover and route it to their error callback.
func Unreachable(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: unreachable code reached with this object: %v", domain.ErrUnknownKind, v)
	}
	return fmt.Errorf("%w: unreachable code reached with this object: %s", domain.ErrUnknownKind, raw)
}

package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventProviderAnnounced    EventType = "provider.announced"
	EventCapabilitiesChanged  EventType = "capabilities.changed"
	EventWalletAddressChanged EventType = "wallet_address.changed"
	EventChannelError         EventType = "channel.error"
	EventRequestServed        EventType = "request.served"
	EventGatewayConnected     EventType = "gateway.connected"
	EventGatewayDisconnected  EventType = "gateway.disconnected"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type       EventType       `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	ProviderID string          `json:"provider_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event stamped with the current time. payload is JSON
// encoded; a nil payload leaves Payload empty.
func NewEvent(t EventType, providerID string, payload any) (Event, error) {
	ev := Event{Type: t, Timestamp: time.Now(), ProviderID: providerID}
	if payload == nil {
		return ev, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	ev.Payload = raw
	return ev, nil
}

// ChannelErrorPayload is the payload of EventChannelError.
type ChannelErrorPayload struct {
	Error string `json:"error"`
}

// RequestServedPayload is the payload of EventRequestServed.
type RequestServedPayload struct {
	Kind          string        `json:"kind"`
	CorrelationID string        `json:"correlation_id"`
	Success       bool          `json:"success"`
	Duration      time.Duration `json:"duration"`
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event)

// EventBus is an in-process publish/subscribe hub.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) func()
	SubscribeAll(handler EventHandler) func()
	Close()
}

// GatewayConnectionPayload is the payload of EventGatewayConnected and
// EventGatewayDisconnected.
type GatewayConnectionPayload struct {
	ConnID uint64 `json:"conn_id"`
	Client string `json:"client"`
	Remote string `json:"remote"`
}

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NamespaceKey is the wrapper key shared by every participant.
const NamespaceKey = "ethereum"

// Envelope is the unit placed on a transport.
type Envelope struct {
	Channel string          `json:"channel"`
	Kind    ProtocolKind    `json:"kind"`
	Message json.RawMessage `json:"message"`
}

type wrapper struct {
	Ethereum Envelope `json:"ethereum"`
}

type event struct {
	Data wrapper `json:"data"`
}

// Encode wraps msg as {"data":{"ethereum":{channel,kind,message}}}.
func Encode(channel string, kind ProtocolKind, msg Message) ([]byte, error) {
	body, err := MarshalMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return json.Marshal(event{Data: wrapper{Ethereum: Envelope{Channel: channel, Kind: kind, Message: body}}})
}

// Peek extracts the envelope from a transport payload. ok is false for
// anything that is not an envelope: no object with a data field, no
// ethereum object inside it, or missing channel/kind/message fields.
func Peek(payload []byte) (env Envelope, ok bool) {
	var outer map[string]json.RawMessage
	if !isObject(payload) || json.Unmarshal(payload, &outer) != nil {
		return Envelope{}, false
	}
	data, found := outer["data"]
	if !found || !isObject(data) {
		return Envelope{}, false
	}
	var inner map[string]json.RawMessage
	if json.Unmarshal(data, &inner) != nil {
		return Envelope{}, false
	}
	eth, found := inner[NamespaceKey]
	if !found || !isObject(eth) {
		return Envelope{}, false
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal(eth, &fields) != nil {
		return Envelope{}, false
	}
	rawChannel, hasChannel := fields["channel"]
	rawKind, hasKind := fields["kind"]
	rawMessage, hasMessage := fields["message"]
	if !hasChannel || !hasKind || !hasMessage {
		return Envelope{}, false
	}
	if json.Unmarshal(rawChannel, &env.Channel) != nil || json.Unmarshal(rawKind, &env.Kind) != nil {
		return Envelope{}, false
	}
	env.Message = rawMessage
	return env, true
}

// Decode applies the envelope gates in order: envelope shape, protocol kind,
// then channel name. A payload failing any gate yields ok=false and no
// error; the transport is shared with unrelated traffic. Errors are only
// returned for a matching envelope whose message body is bad.
func Decode(payload []byte, kind ProtocolKind, channel string) (msg Message, ok bool, err error) {
	env, ok := Peek(payload)
	if !ok || env.Kind != kind || env.Channel != channel {
		return nil, false, nil
	}
	msg, err = UnmarshalMessage(env.Message)
	if err != nil {
		return nil, true, fmt.Errorf("%s on %s: %w", kind, channel, err)
	}
	return msg, true, nil
}

func isObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

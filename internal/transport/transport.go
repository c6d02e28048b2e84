// Package transport adapts cross-context message surfaces to one interface.
// Every adapter behaves like browser window messaging: a post is delivered
// asynchronously to every registered listener, including the poster's own,
// in FIFO order per listener.
package transport

import (
	"context"
)

// Handler receives one raw payload.
type Handler func(payload []byte)

// Transport is a shared broadcast-style message surface.
type Transport interface {
	// AddListener registers h and returns a function that removes it.
	AddListener(h Handler) (remove func())
	// Post sends payload to every listener on the surface.
	Post(ctx context.Context, payload []byte) error
}

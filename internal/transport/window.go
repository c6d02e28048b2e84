package transport

import (
	"context"
	"log/slog"

	"walletbridge/internal/domain"
)

// Window is an in-process message surface shared by every channel attached
// to it, the analogue of a browser window's postMessage.
type Window struct {
	listeners *registry
	name      string
}

// NewWindow creates an empty surface. name only appears in logs.
func NewWindow(name string, logger *slog.Logger) *Window {
	if logger == nil {
		logger = slog.Default()
	}
	return &Window{
		listeners: newRegistry(logger.With("window", name)),
		name:      name,
	}
}

// AddListener implements Transport.
func (w *Window) AddListener(h Handler) func() { return w.listeners.add(h) }

// Post implements Transport. It never blocks on slow listeners.
func (w *Window) Post(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.listeners.closed.Load() {
		return domain.ErrChannelClosed
	}
	w.listeners.fanout(payload)
	return nil
}

// Listeners returns the number of registered listeners.
func (w *Window) Listeners() int { return w.listeners.count() }

// Close removes every listener and waits for running handlers to return.
func (w *Window) Close() { w.listeners.close() }

var _ Transport = (*Window)(nil)

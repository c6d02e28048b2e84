package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"nhooyr.io/websocket"

	"walletbridge/internal/domain"
)

// maxFrameBytes bounds a single inbound websocket message.
const maxFrameBytes = 1 << 20

// Port is a transport over one websocket connection, the analogue of an
// extension message port. Unlike Window, a post only reaches the remote end;
// local listeners see inbound traffic only.
type Port struct {
	conn      *websocket.Conn
	listeners *registry
	logger    *slog.Logger
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// DialOption configures DialPort.
type DialOption func(*websocket.DialOptions)

// WithOrigin sends origin as the handshake's Origin header, for gateways
// that only admit known page origins.
func WithOrigin(origin string) DialOption {
	return func(o *websocket.DialOptions) {
		if o.HTTPHeader == nil {
			o.HTTPHeader = http.Header{}
		}
		o.HTTPHeader.Set("Origin", origin)
	}
}

// DialPort connects to a gateway websocket endpoint.
func DialPort(ctx context.Context, endpoint, token string, logger *slog.Logger, opts ...DialOption) (*Port, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse port url: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	var dialOpts websocket.DialOptions
	for _, opt := range opts {
		opt(&dialOpts)
	}
	conn, _, err := websocket.Dial(ctx, u.String(), &dialOpts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return NewPort(conn, logger), nil
}

// NewPort wraps an established connection and starts reading from it.
func NewPort(conn *websocket.Conn, logger *slog.Logger) *Port {
	if logger == nil {
		logger = slog.Default()
	}
	conn.SetReadLimit(maxFrameBytes)
	p := &Port{
		conn:      conn,
		listeners: newRegistry(logger),
		logger:    logger,
		done:      make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *Port) readLoop() {
	for {
		typ, data, err := p.conn.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				p.logger.Debug("port read ended", "error", err)
			}
			p.shutdown(err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		p.listeners.fanout(data)
	}
}

// AddListener implements Transport.
func (p *Port) AddListener(h Handler) func() { return p.listeners.add(h) }

// Post implements Transport.
func (p *Port) Post(ctx context.Context, payload []byte) error {
	select {
	case <-p.done:
		return domain.ErrChannelClosed
	default:
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("port write: %w", err)
	}
	return nil
}

// Done is closed once the connection has ended.
func (p *Port) Done() <-chan struct{} { return p.done }

// Err returns the read error that ended the connection, if any.
func (p *Port) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Close ends the connection and stops listeners.
func (p *Port) Close() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	err := p.conn.Close(websocket.StatusNormalClosure, "")
	p.shutdown(nil)
	return err
}

func (p *Port) shutdown(err error) {
	p.closeOnce.Do(func() {
		p.err = err
		close(p.done)
		go p.listeners.close()
	})
}

var _ Transport = (*Port)(nil)

// Package websockets carries shellwire frames over WebSocket text messages.
//
// The dialer side is used by the shell to reach its backend process, the Accept side by
// the stub backend server.
package websockets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tsarna/shellwire/pkg/shellwire/transport"
)

// DefaultReadLimit bounds the size of a single inbound frame.
const DefaultReadLimit = 1 << 20

// AuthorizationProvider returns the value of the Authorization header for the handshake.
type AuthorizationProvider func(ctx context.Context) (string, error)

// Transport wraps one WebSocket connection.
type Transport struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

// Wrap adapts an established WebSocket connection.
func Wrap(conn *websocket.Conn) *Transport {
	conn.SetReadLimit(DefaultReadLimit)
	return &Transport{
		conn:   conn,
		closed: make(chan struct{}),
	}
}

// Accept upgrades an HTTP request and wraps the resulting connection.
func Accept(w http.ResponseWriter, r *http.Request) (*Transport, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, err
	}
	return Wrap(conn), nil
}

func (t *Transport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		select {
		case <-t.closed:
			return nil, transport.ErrClosed
		default:
		}
		return nil, err
	}
	return data, nil
}

func (t *Transport) Write(ctx context.Context, frame []byte) error {
	select {
	case <-t.closed:
		return transport.ErrClosed
	default:
	}
	return t.conn.Write(ctx, websocket.MessageText, frame)
}

// Close sends a normal closure. It never fails: when the handshake cannot complete,
// because the peer is gone or a cancelled read already tore the connection down, the
// underlying connection is closed without it.
func (t *Transport) Close(reason string) error {
	t.closeOnce.Do(func() {
		close(t.closed)
		if err := t.conn.Close(websocket.StatusNormalClosure, reason); err != nil {
			t.conn.CloseNow()
		}
	})
	return nil
}

// Dialer opens WebSocket transports to a fixed URL.
type Dialer struct {
	url          string
	dialTimeout  time.Duration
	authProvider AuthorizationProvider
	headers      http.Header
}

// NewDialer creates a dialer for the given ws:// or wss:// URL.
func NewDialer(rawURL string) *Dialer {
	return &Dialer{
		url:         rawURL,
		dialTimeout: 30 * time.Second,
	}
}

// WithDialTimeout bounds the handshake. Non-positive values are ignored.
func (d *Dialer) WithDialTimeout(timeout time.Duration) *Dialer {
	if timeout > 0 {
		d.dialTimeout = timeout
	}
	return d
}

// WithAuthorization sets a static Authorization header value.
func (d *Dialer) WithAuthorization(value string) *Dialer {
	d.authProvider = func(ctx context.Context) (string, error) {
		return value, nil
	}
	return d
}

// WithAuthorizationProvider sets a function called on every dial to obtain the
// Authorization header.
func (d *Dialer) WithAuthorizationProvider(provider AuthorizationProvider) *Dialer {
	d.authProvider = provider
	return d
}

// WithHeader sets a single handshake header.
func (d *Dialer) WithHeader(key, value string) *Dialer {
	if d.headers == nil {
		d.headers = make(http.Header)
	}
	d.headers.Set(key, value)
	return d
}

// URL returns the endpoint this dialer connects to.
func (d *Dialer) URL() string { return d.url }

func (d *Dialer) Dial(ctx context.Context) (transport.Transport, error) {
	if _, err := url.Parse(d.url); err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if d.headers != nil {
		opts.HTTPHeader = d.headers.Clone()
	}

	// The authorization provider wins over a custom Authorization header.
	if d.authProvider != nil {
		value, err := d.authProvider(dialCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to get authorization: %w", err)
		}
		if value != "" {
			if opts.HTTPHeader == nil {
				opts.HTTPHeader = make(http.Header)
			}
			opts.HTTPHeader.Set("Authorization", value)
		}
	}

	conn, _, err := websocket.Dial(dialCtx, d.url, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	return Wrap(conn), nil
}

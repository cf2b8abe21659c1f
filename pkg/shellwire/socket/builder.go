package socket

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/catalog"
	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
	"github.com/tsarna/shellwire/pkg/shellwire/transport"
	"github.com/tsarna/shellwire/pkg/shellwire/transport/websockets"
)

// SocketBuilder provides a fluent interface for building a Socket.
type SocketBuilder struct {
	url           string
	dialer        transport.Dialer
	logger        *zap.Logger
	dialTimeout   time.Duration
	queryTimeout  time.Duration
	authorization websockets.AuthorizationProvider
	headers       map[string]string
	catalog       *kinds.Catalog
	monitor       rpc.Monitor
	o11y          o11y.Config
}

// NewSocket creates a new Socket builder.
func NewSocket() *SocketBuilder {
	return &SocketBuilder{
		logger:       zap.NewNop(),
		dialTimeout:  30 * time.Second,
		queryTimeout: rpc.DefaultTimeout,
		catalog:      catalog.Shell,
	}
}

// WithURL sets the backend WebSocket URL.
func (b *SocketBuilder) WithURL(url string) *SocketBuilder {
	b.url = url
	return b
}

// WithDialer replaces the WebSocket dialer, for instance with an in-memory transport in
// tests. URL, dial timeout, authorization and headers are then ignored.
func (b *SocketBuilder) WithDialer(dialer transport.Dialer) *SocketBuilder {
	b.dialer = dialer
	return b
}

func (b *SocketBuilder) WithLogger(logger *zap.Logger) *SocketBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

func (b *SocketBuilder) WithDialTimeout(timeout time.Duration) *SocketBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithQueryTimeout sets how long a query waits for its result. Default is 30s.
func (b *SocketBuilder) WithQueryTimeout(timeout time.Duration) *SocketBuilder {
	if timeout > 0 {
		b.queryTimeout = timeout
	}
	return b
}

// WithAuthorization sets a static Authorization header for the handshake.
func (b *SocketBuilder) WithAuthorization(value string) *SocketBuilder {
	b.authorization = func(ctx context.Context) (string, error) {
		return value, nil
	}
	return b
}

// WithAuthorizationProvider sets a function consulted on every dial.
func (b *SocketBuilder) WithAuthorizationProvider(provider websockets.AuthorizationProvider) *SocketBuilder {
	b.authorization = provider
	return b
}

func (b *SocketBuilder) WithHeader(key, value string) *SocketBuilder {
	if b.headers == nil {
		b.headers = make(map[string]string)
	}
	b.headers[key] = value
	return b
}

// WithCatalog overrides the catalog inbound packets are resolved against.
func (b *SocketBuilder) WithCatalog(c *kinds.Catalog) *SocketBuilder {
	if c != nil {
		b.catalog = c
	}
	return b
}

func (b *SocketBuilder) WithMonitor(monitor rpc.Monitor) *SocketBuilder {
	b.monitor = monitor
	return b
}

func (b *SocketBuilder) WithObservability(config o11y.Config) *SocketBuilder {
	b.o11y = config
	return b
}

// Build creates the Socket. It does not connect.
func (b *SocketBuilder) Build() (*Socket, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	dialer := b.dialer
	if dialer == nil {
		wd := websockets.NewDialer(b.url).WithDialTimeout(b.dialTimeout)
		if b.authorization != nil {
			wd.WithAuthorizationProvider(b.authorization)
		}
		for k, v := range b.headers {
			wd.WithHeader(k, v)
		}
		dialer = wd
	}

	return &Socket{
		dialer:       dialer,
		logger:       b.logger,
		queryTimeout: b.queryTimeout,
		catalog:      b.catalog,
		monitor:      b.monitor,
		o11y:         b.o11y,
	}, nil
}

// IsValid checks that all required configuration is present.
func (b *SocketBuilder) IsValid() error {
	if b.url == "" && b.dialer == nil {
		return fmt.Errorf("URL or dialer is required")
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return nil
}

package daemon

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
	"github.com/tsarna/shellwire/pkg/shellwire/transport"
	"github.com/tsarna/shellwire/pkg/shellwire/transport/stream"
)

const (
	DefaultCallTimeout    = 10 * time.Second
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
)

// ClientBuilder provides a fluent interface for building daemon clients.
type ClientBuilder struct {
	dialer         transport.Dialer
	logger         *zap.Logger
	callTimeout    time.Duration
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	o11y           o11y.Config
}

// NewClient creates a new daemon client builder.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		logger:         zap.NewNop(),
		callTimeout:    DefaultCallTimeout,
		maxRetries:     DefaultMaxRetries,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
	}
}

// WithDialer sets how the daemon is reached. Required unless WithSocketPath is used.
func (b *ClientBuilder) WithDialer(dialer transport.Dialer) *ClientBuilder {
	b.dialer = dialer
	return b
}

// WithSocketPath reaches the daemon over a unix domain socket.
func (b *ClientBuilder) WithSocketPath(path string) *ClientBuilder {
	b.dialer = stream.UnixDialer(path)
	return b
}

func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithCallTimeout bounds each attempt of a call. Default is 10s.
func (b *ClientBuilder) WithCallTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.callTimeout = timeout
	}
	return b
}

// WithMaxRetries sets how many times an idempotent call is retried. Zero disables
// retries.
func (b *ClientBuilder) WithMaxRetries(retries int) *ClientBuilder {
	if retries >= 0 {
		b.maxRetries = retries
	}
	return b
}

// WithBackoff sets the first and the largest delay between retries.
func (b *ClientBuilder) WithBackoff(initial, maxDelay time.Duration) *ClientBuilder {
	if initial > 0 {
		b.initialBackoff = initial
	}
	if maxDelay > 0 {
		b.maxBackoff = maxDelay
	}
	return b
}

func (b *ClientBuilder) WithObservability(config o11y.Config) *ClientBuilder {
	b.o11y = config
	return b
}

// Build creates the client. It does not dial.
func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	return &Client{
		dialer:         b.dialer,
		logger:         b.logger,
		callTimeout:    b.callTimeout,
		maxRetries:     b.maxRetries,
		initialBackoff: b.initialBackoff,
		maxBackoff:     b.maxBackoff,
		o11y:           b.o11y,
	}, nil
}

// IsValid checks that all required configuration is present.
func (b *ClientBuilder) IsValid() error {
	if b.dialer == nil {
		return fmt.Errorf("dialer or socket path is required")
	}
	if b.maxBackoff < b.initialBackoff {
		b.maxBackoff = b.initialBackoff
	}
	return nil
}

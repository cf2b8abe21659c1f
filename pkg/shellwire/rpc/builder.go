package rpc

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
	"github.com/tsarna/shellwire/pkg/shellwire/transport"
)

// ConnBuilder provides a fluent interface for building connections.
type ConnBuilder struct {
	name             string
	transport        transport.Transport
	logger           *zap.Logger
	catalog          *kinds.Catalog
	timeout          time.Duration
	monitor          Monitor
	o11y             o11y.Config
	writeChannelSize int
}

// NewConn creates a new connection builder.
func NewConn() *ConnBuilder {
	return &ConnBuilder{
		name:             "conn",
		logger:           zap.NewNop(),
		timeout:          DefaultTimeout,
		writeChannelSize: 100,
	}
}

// WithName sets the name used in log entries and metric labels.
func (b *ConnBuilder) WithName(name string) *ConnBuilder {
	if name != "" {
		b.name = name
	}
	return b
}

// WithTransport sets the transport carrying the frames. Required.
func (b *ConnBuilder) WithTransport(t transport.Transport) *ConnBuilder {
	b.transport = t
	return b
}

func (b *ConnBuilder) WithLogger(logger *zap.Logger) *ConnBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithCatalog restricts inbound dispatch to the kinds declared in catalog. Without a
// catalog every name is accepted.
func (b *ConnBuilder) WithCatalog(catalog *kinds.Catalog) *ConnBuilder {
	b.catalog = catalog
	return b
}

// WithTimeout sets the request timeout. Non-positive values are ignored.
func (b *ConnBuilder) WithTimeout(timeout time.Duration) *ConnBuilder {
	if timeout > 0 {
		b.timeout = timeout
	}
	return b
}

func (b *ConnBuilder) WithMonitor(monitor Monitor) *ConnBuilder {
	b.monitor = monitor
	return b
}

// WithObservability sets the metrics and tracing providers.
func (b *ConnBuilder) WithObservability(config o11y.Config) *ConnBuilder {
	b.o11y = config
	return b
}

// WithWriteChannelSize sets the number of outbound frames that may be queued. Default
// is 100.
func (b *ConnBuilder) WithWriteChannelSize(size int) *ConnBuilder {
	if size > 0 {
		b.writeChannelSize = size
	}
	return b
}

// Build creates the connection in the Connecting state. Call Start to open it.
func (b *ConnBuilder) Build() (*Conn, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	ctx, stop := context.WithCancel(context.Background())

	return &Conn{
		name:             b.name,
		transport:        b.transport,
		logger:           b.logger,
		catalog:          b.catalog,
		timeout:          b.timeout,
		monitor:          b.monitor,
		tracing:          b.o11y.TracingProvider,
		metrics:          o11y.NewInstruments(b.o11y.MetricsProvider),
		writeChannelSize: b.writeChannelSize,
		ctx:              ctx,
		stop:             stop,
		pending:          make(map[int64]chan result),
		subs:             make(map[string][]*subscription),
		handlers:         make(map[string]QueryHandler),
		writeChannel:     make(chan []byte, b.writeChannelSize),
		done:             make(chan struct{}),
	}, nil
}

// IsValid checks that all required configuration is present.
func (b *ConnBuilder) IsValid() error {
	if b.transport == nil {
		return fmt.Errorf("transport is required")
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.timeout <= 0 {
		b.timeout = DefaultTimeout
	}
	if b.writeChannelSize <= 0 {
		b.writeChannelSize = 100
	}
	return nil
}

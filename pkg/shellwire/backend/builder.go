package backend

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/daemon"
	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
)

// ServerBuilder provides a fluent interface for building a stub backend.
type ServerBuilder struct {
	logger       *zap.Logger
	daemon       *daemon.Client
	o11y         o11y.Config
	queryTimeout time.Duration
	location     *time.Location
	onClose      func()
	auth         AuthFunc
}

// NewServer creates a new backend builder.
func NewServer() *ServerBuilder {
	return &ServerBuilder{
		logger:   zap.NewNop(),
		location: time.Local,
		auth:     AllowAll,
	}
}

func (b *ServerBuilder) WithLogger(logger *zap.Logger) *ServerBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDaemon makes uninstallGame perform the uninstall through the daemon. Without it
// uninstalls are only recorded.
func (b *ServerBuilder) WithDaemon(client *daemon.Client) *ServerBuilder {
	b.daemon = client
	return b
}

func (b *ServerBuilder) WithObservability(config o11y.Config) *ServerBuilder {
	b.o11y = config
	return b
}

// WithQueryTimeout bounds queries the backend itself sends. Default is 30s.
func (b *ServerBuilder) WithQueryTimeout(timeout time.Duration) *ServerBuilder {
	if timeout > 0 {
		b.queryTimeout = timeout
	}
	return b
}

// WithLocation sets the time zone scheduled pushes are evaluated in.
func (b *ServerBuilder) WithLocation(location *time.Location) *ServerBuilder {
	if location != nil {
		b.location = location
	}
	return b
}

// OnClose sets a function called when a shell asks for the window to close.
func (b *ServerBuilder) OnClose(fn func()) *ServerBuilder {
	b.onClose = fn
	return b
}

// WithAuth sets the function deciding which handshakes are accepted.
func (b *ServerBuilder) WithAuth(fn AuthFunc) *ServerBuilder {
	if fn != nil {
		b.auth = fn
	}
	return b
}

func (b *ServerBuilder) Build() (*Server, error) {
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)

	return &Server{
		logger:       b.logger,
		daemon:       b.daemon,
		o11y:         b.o11y,
		queryTimeout: b.queryTimeout,
		onClose:      b.onClose,
		auth:         b.auth,
		cron:         cron.New(cron.WithLogger(NewZapCronLogger(b.logger)), cron.WithParser(parser), cron.WithLocation(b.location)),
		conns:        make(map[*rpc.Conn]struct{}),
		shutdown:     make(chan struct{}),
		lang:         "en",
	}, nil
}

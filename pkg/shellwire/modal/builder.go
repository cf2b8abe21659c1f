package modal

import (
	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
)

// DefaultBackgroundLimit caps how many background tasks run at once.
const DefaultBackgroundLimit = 8

// OrchestratorBuilder provides a fluent interface for building an Orchestrator.
type OrchestratorBuilder struct {
	logger          *zap.Logger
	listener        Listener
	backgroundLimit int
	o11y            o11y.Config
}

func NewOrchestrator() *OrchestratorBuilder {
	return &OrchestratorBuilder{
		logger:          zap.NewNop(),
		backgroundLimit: DefaultBackgroundLimit,
	}
}

func (b *OrchestratorBuilder) WithLogger(logger *zap.Logger) *OrchestratorBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithRouter sets the listener that mounts widgets, usually a *Router.
func (b *OrchestratorBuilder) WithRouter(listener Listener) *OrchestratorBuilder {
	b.listener = listener
	return b
}

func (b *OrchestratorBuilder) WithBackgroundLimit(limit int) *OrchestratorBuilder {
	if limit > 0 {
		b.backgroundLimit = limit
	}
	return b
}

func (b *OrchestratorBuilder) WithObservability(config o11y.Config) *OrchestratorBuilder {
	b.o11y = config
	return b
}

func (b *OrchestratorBuilder) Build() (*Orchestrator, error) {
	return &Orchestrator{
		logger:     b.logger,
		listener:   b.listener,
		background: NewBackground(b.logger, b.backgroundLimit, o11y.NewInstruments(b.o11y.MetricsProvider)),
		byID:       make(map[string]*Request),
	}, nil
}

// Package subutils holds wrappers around packet handlers.
package subutils

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
)

// LoggingHandler logs every packet before handing it to the wrapped handler. With no
// wrapped handler it only logs.
type LoggingHandler struct {
	wrapped  rpc.PacketHandler
	logger   *zap.Logger
	logLevel zapcore.Level
	name     string
}

func NewLoggingHandler(wrapped rpc.PacketHandler, logger *zap.Logger, logLevel zapcore.Level) *LoggingHandler {
	return NewNamedLoggingHandler(wrapped, logger, logLevel, "LoggingHandler")
}

// NewNamedLoggingHandler is like NewLoggingHandler with a name to tell handlers apart
// in the logs.
func NewNamedLoggingHandler(wrapped rpc.PacketHandler, logger *zap.Logger, logLevel zapcore.Level, name string) *LoggingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingHandler{
		wrapped:  wrapped,
		logger:   logger,
		logLevel: logLevel,
		name:     name,
	}
}

func (l *LoggingHandler) Handle(ctx context.Context, payload json.RawMessage) error {
	l.logger.Log(l.logLevel, "Packet received",
		zap.String("handler", l.name),
		zap.ByteString("payload", payload),
		zap.Bool("hasWrapped", l.wrapped != nil),
	)

	if l.wrapped == nil {
		return nil
	}

	err := l.wrapped(ctx, payload)
	if err != nil {
		l.logger.Log(l.logLevel, "Packet handler failed", zap.String("handler", l.name), zap.Error(err))
	}
	return err
}

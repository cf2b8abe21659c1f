package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/config"
	"github.com/tsarna/shellwire/pkg/shellwire/daemon"
	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
	"github.com/tsarna/shellwire/pkg/shellwire/o11y/otel"
	"github.com/tsarna/shellwire/pkg/shellwire/socket"
	"github.com/tsarna/shellwire/pkg/shellwire/transport/stream"
)

// setup loads the configuration and builds the logger every command starts with.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := setupLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// observability traces through whatever OpenTelemetry SDK is installed globally and
// records metrics into metrics, if given.
func observability(service string, metrics o11y.MetricsProvider) o11y.Config {
	return o11y.Config{
		MetricsProvider: metrics,
		TracingProvider: otel.NewProvider(service, Version),
		ServiceName:     service,
		ServiceVersion:  Version,
	}
}

func connectBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger, url string, obs o11y.Config) (*socket.Socket, error) {
	if url == "" {
		url = cfg.Backend.URL
	}

	b := socket.NewSocket().
		WithURL(url).
		WithLogger(logger).
		WithDialTimeout(cfg.Backend.DialTimeout).
		WithQueryTimeout(cfg.Backend.QueryTimeout).
		WithObservability(obs)
	if cfg.Backend.Authorization != "" {
		b.WithAuthorization(cfg.Backend.Authorization)
	}

	s, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	logger.Debug("Connected to backend", zap.String("url", url))
	return s, nil
}

func newDaemonClient(cfg *config.Config, logger *zap.Logger, address string, obs o11y.Config) (*daemon.Client, error) {
	if address == "" {
		address = cfg.Daemon.Address
	}
	if address == "" {
		return nil, fmt.Errorf("daemon address is required (--socket or daemon.address)")
	}

	dialer := &stream.Dialer{
		Network: cfg.Daemon.Network,
		Address: address,
		Timeout: cfg.Backend.DialTimeout,
	}

	return daemon.NewClient().
		WithDialer(dialer).
		WithLogger(logger).
		WithCallTimeout(cfg.Daemon.CallTimeout).
		WithMaxRetries(cfg.Daemon.MaxRetries).
		WithObservability(obs).
		Build()
}

// parseInput returns the optional JSON argument at index i.
func parseInput(args []string, i int) (any, error) {
	if len(args) <= i {
		return nil, nil
	}
	if !json.Valid([]byte(args[i])) {
		return nil, fmt.Errorf("input is not valid JSON: %s", args[i])
	}
	return json.RawMessage(args[i]), nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	_, err := fmt.Fprintln(w, string(raw))
	return err
}

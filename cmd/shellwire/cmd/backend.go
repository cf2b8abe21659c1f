package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tsarna/shellwire/pkg/shellwire/backend"
	"github.com/tsarna/shellwire/pkg/shellwire/o11y/prom"
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run the stub backend",
	Long: `Run a stub backend that shells can connect to.

The backend answers the shell's window and install queries, forwards uninstalls to
the daemon when one is configured, and pushes the packets listed in push blocks on
their schedules. Shells connect on /shell; Prometheus metrics are served on /metrics.

Examples:
  shellwire backend
  shellwire backend --listen :9650 --daemon-socket /run/butlerd.sock
  shellwire backend -c backend.hcl`,
	Args: cobra.NoArgs,
	RunE: runBackend,
}

var (
	backendListen       string
	backendDaemonSocket string
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(backendCmd)

	backendCmd.Flags().StringVar(&backendListen, "listen", "", "listen address (default from config)")
	backendCmd.Flags().StringVar(&backendDaemonSocket, "daemon-socket", "", "daemon socket for uninstalls (default from config)")
}

func runBackend(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	listen := cfg.Backend.Listen
	if backendListen != "" {
		listen = backendListen
	}

	metrics := prom.NewProvider("shellwire")
	obs := observability("shellwire-backend", metrics)

	b := backend.NewServer().
		WithLogger(logger).
		WithObservability(obs).
		WithQueryTimeout(cfg.Backend.QueryTimeout).
		WithAuth(backend.RequireAuthorization(cfg.Backend.Authorization)).
		OnClose(func() { logger.Info("Shell asked to close the window") })

	if backendDaemonSocket != "" || cfg.Daemon.Address != "" {
		client, err := newDaemonClient(cfg, logger, backendDaemonSocket, obs)
		if err != nil {
			return err
		}
		defer client.Close()
		b.WithDaemon(client)
	}

	server, err := b.Build()
	if err != nil {
		return err
	}

	for _, push := range cfg.Pushes {
		if _, err := server.Schedule(push.Schedule, push.Kind, push.Payload); err != nil {
			logger.Error("Invalid push schedule",
				zap.String("kind", push.Kind.Name()),
				zap.String("schedule", push.Schedule),
				zap.String("at", push.Range.String()),
				zap.Error(err),
			)
			return err
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/shell", server.ServeWebsocket)
	mux.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Backend listening", zap.String("address", listen), zap.Int("pushes", len(cfg.Pushes)))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Shells did not disconnect in time", zap.Error(err))
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	server.Start()
	err = g.Wait()
	logger.Info("Backend stopped")
	return err
}

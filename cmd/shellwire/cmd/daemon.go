package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/butlerd"
	"github.com/tsarna/shellwire/pkg/shellwire/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the stub daemon",
	Long: `Run a stub daemon on a local socket. It serves Fetch.Game, Fetch.Caves,
Version.Get and Uninstall.Perform from an in-memory library, optionally seeded
from a JSON file:

  [
    {"game": {"id": 42, "title": "Cyclops Run"}, "caves": [{"id": "cave-a"}]}
  ]

Examples:
  shellwire daemon --socket /tmp/butlerd.sock
  shellwire daemon --socket /tmp/butlerd.sock --library games.json`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var (
	daemonSocket  string
	daemonLibrary string
)

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonSocket, "socket", "", "socket address to listen on (default from config)")
	daemonCmd.Flags().StringVar(&daemonLibrary, "library", "", "JSON file with games and caves to serve")
}

type libraryEntry struct {
	Game  butlerd.Game   `json:"game"`
	Caves []butlerd.Cave `json:"caves"`
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	address := cfg.Daemon.Address
	if daemonSocket != "" {
		address = daemonSocket
	}
	if address == "" {
		return fmt.Errorf("daemon address is required (--socket or daemon.address)")
	}

	stub := daemon.NewStub()
	stub.Version = Version
	if daemonLibrary != "" {
		if err := loadLibrary(stub, daemonLibrary); err != nil {
			return err
		}
	}

	if cfg.Daemon.Network == "unix" {
		// A previous run may have left its socket behind.
		if err := os.Remove(address); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}
	listener, err := net.Listen(cfg.Daemon.Network, address)
	if err != nil {
		return err
	}

	server := daemon.NewServer(logger)
	stub.Register(server)

	ctx, cancel := signalContext()
	defer cancel()

	logger.Info("Daemon listening", zap.String("network", cfg.Daemon.Network), zap.String("address", address))
	err = server.Serve(ctx, listener)
	logger.Info("Daemon stopped")
	return err
}

func loadLibrary(stub *daemon.Stub, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var entries []libraryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse library %s: %w", path, err)
	}
	for _, entry := range entries {
		stub.AddGame(entry.Game, entry.Caves...)
	}
	return nil
}

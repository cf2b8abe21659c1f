package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/catalog"
	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
	"github.com/tsarna/shellwire/pkg/shellwire/subutils"
	"github.com/tsarna/shellwire/pkg/shellwire/transform"
)

var listenCmd = &cobra.Command{
	Use:   "listen [packet-kinds...]",
	Short: "Print packets pushed by the backend",
	Long: `Connect to a running backend and print every packet it pushes, one per line as
"<kind>\t<json>". Without arguments every packet kind is followed.

A jq expression given with --jq reshapes each payload; $kind holds the packet kind.
Packets for which the expression yields nothing are skipped. With --diff only the
fields that changed since the previous packet of the same kind are printed.

Examples:
  shellwire listen
  shellwire listen maximizedChanged
  shellwire listen --jq 'select(.maximized)' maximizedChanged
  shellwire listen --diff profileChanged`,
	RunE: runListen,
}

var (
	listenURL   string
	listenJQ    string
	listenQueue int
	listenStats bool
	listenDiff  bool
)

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().StringVar(&listenURL, "url", "", "backend URL (default from config)")
	listenCmd.Flags().StringVar(&listenJQ, "jq", "", "jq expression applied to each payload")
	listenCmd.Flags().IntVar(&listenQueue, "queue", subutils.DefaultQueueSize, "packets buffered per kind before dropping")
	listenCmd.Flags().BoolVar(&listenDiff, "diff", false, "print only what changed since the previous packet of each kind")
	listenCmd.Flags().BoolVar(&listenStats, "stats", false, "print connection metrics to stderr on exit")
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	packetKinds, err := resolvePackets(args)
	if err != nil {
		return err
	}

	var filter *transform.Filter
	if listenJQ != "" {
		if filter, err = transform.Compile(listenJQ); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	metrics := o11y.NewMemoryProvider("shellwire-listen")
	s, err := connectBackend(ctx, cfg, logger, listenURL, observability("shellwire-listen", metrics))
	if err != nil {
		return err
	}
	defer s.Disconnect()

	var differ *transform.Differ
	if listenDiff {
		differ = transform.NewDiffer()
	}

	out := &linePrinter{w: cmd.OutOrStdout()}
	for _, kind := range packetKinds {
		name := kind.Name()

		handler := packetPrinter(name, out, filter, differ)

		async := subutils.NewAsyncQueueingHandler(handler, listenQueue).
			WithErrorHandler(func(err error) {
				logger.Warn("Failed to print packet", zap.String("kind", name), zap.Error(err))
			}).
			Start()
		defer async.Close()

		logging := subutils.NewNamedLoggingHandler(async.Handle, logger, zap.DebugLevel, name)
		unsubscribe := s.Subscribe(kind, logging.Handle)
		defer unsubscribe()
	}

	logger.Info("Listening for packets... (Press Ctrl+C to exit)", zap.Int("kinds", len(packetKinds)))

	select {
	case <-ctx.Done():
		logger.Debug("Signal received, exiting")
	case <-s.Done():
		logger.Warn("Backend closed the connection")
	}

	if listenStats {
		enc := json.NewEncoder(os.Stderr)
		enc.SetIndent("", "  ")
		return enc.Encode(metrics.Snapshot())
	}
	return nil
}

// packetPrinter builds the chain for one kind: jq filter, then diff, then print.
func packetPrinter(kind string, out *linePrinter, filter *transform.Filter, differ *transform.Differ) rpc.PacketHandler {
	emit := func(ctx context.Context, value any) error {
		if differ != nil {
			delta, ok, err := differ.Apply(kind, value)
			if err != nil || !ok {
				return err
			}
			value = delta
		}
		return out.printValue(kind, value)
	}

	switch {
	case filter != nil:
		return filter.Handler(kind, emit)
	case differ != nil:
		return func(ctx context.Context, payload json.RawMessage) error {
			var value any
			if err := rpc.Decode(payload, &value); err != nil {
				return err
			}
			return emit(ctx, value)
		}
	default:
		return func(ctx context.Context, payload json.RawMessage) error {
			return out.printRaw(kind, payload)
		}
	}
}

func resolvePackets(names []string) ([]kinds.MessageKind, error) {
	if len(names) == 0 {
		var all []kinds.MessageKind
		for _, k := range catalog.Shell.Kinds() {
			if k.Direction() == kinds.DirectionPacket {
				all = append(all, k)
			}
		}
		return all, nil
	}

	out := make([]kinds.MessageKind, 0, len(names))
	for _, name := range names {
		k, err := catalog.Shell.Resolve(name, kinds.DirectionPacket)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// linePrinter serializes output from the per-kind handler goroutines.
type linePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *linePrinter) printRaw(kind string, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "%s\t%s\n", kind, payload)
	return err
}

func (p *linePrinter) printValue(kind string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return p.printRaw(kind, data)
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tsarna/shellwire/pkg/shellwire/butlerd"
	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
)

var callCmd = &cobra.Command{
	Use:   "call <method> [json-params]",
	Short: "Call the local daemon and print the result",
	Long: `Call a daemon method and print its JSON result. Idempotent methods are retried
when the daemon is unreachable.

Examples:
  shellwire call Version.Get --socket /run/butlerd.sock
  shellwire call Fetch.Game '{"gameId":42}'
  shellwire call Fetch.Caves '{"filters":{"gameId":42}}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

var callSocket string

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVar(&callSocket, "socket", "", "daemon socket address (default from config)")
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	kind, err := butlerd.Catalog.Resolve(args[0], kinds.DirectionDaemonCall)
	if err != nil {
		return err
	}
	input, err := parseInput(args, 1)
	if err != nil {
		return err
	}

	client, err := newDaemonClient(cfg, logger, callSocket, observability("shellwire-call", nil))
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := signalContext()
	defer cancel()

	result, err := client.Request(ctx, kind, input)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

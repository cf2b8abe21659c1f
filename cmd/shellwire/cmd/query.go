package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/catalog"
	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
)

var queryCmd = &cobra.Command{
	Use:   "query <kind> [json-input]",
	Short: "Send one query to the backend and print the result",
	Long: `Send a query to a running backend and print its JSON result.

Examples:
  shellwire query isMaximized
  shellwire query switchLanguage '{"lang":"fr"}'
  shellwire query --url ws://127.0.0.1:9650/shell toggleMaximized`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runQuery,
}

var queryURL string

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringVar(&queryURL, "url", "", "backend URL (default from config)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	kind, err := catalog.Shell.Resolve(args[0], kinds.DirectionQuery)
	if err != nil {
		return err
	}
	input, err := parseInput(args, 1)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := connectBackend(ctx, cfg, logger, queryURL, observability("shellwire-query", nil))
	if err != nil {
		return err
	}
	defer s.Disconnect()

	result, err := s.Request(ctx, kind, input)
	if err != nil {
		logger.Debug("Query failed", zap.String("kind", kind.Name()), zap.Error(err))
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

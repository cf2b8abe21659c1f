package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tsarna/shellwire/pkg/shellwire/config"
)

// Version is set at build time.
var Version = "dev"

var (
	verbose     bool
	debug       bool
	logLevel    string
	logFile     string
	configPaths []string
	envFiles    []string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shellwire",
	Short: "Shell, backend and daemon messaging toolkit",
	Long: `shellwire talks the shell's typed message protocol.

It can query a running backend, listen to the packets it pushes, call the local
daemon, and run stub versions of both the backend and the daemon for development.

Settings come from HCL files given with --config; flags override them.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&debug, "debug", "d", false, "debug output")
	flags.StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error); overrides the config file")
	flags.StringVar(&logFile, "log-file", "", "also write logs to this file, rotated")
	flags.StringSliceVarP(&configPaths, "config", "c", nil, "configuration files or directories")
	flags.StringSliceVar(&envFiles, "env-file", nil, ".env files to load before reading the configuration (default ./.env if present)")
}

func loadConfig() (*config.Config, error) {
	cfg, diags := config.NewConfig().
		WithDotEnv(envFiles...).
		WithSources(stringSliceToAnySlice(configPaths)...).
		Build()
	if diags.HasErrors() {
		return nil, diags
	}
	return cfg, nil
}

// Helper to convert []string to []any
func stringSliceToAnySlice(strs []string) []any {
	anys := make([]any, len(strs))
	for i, s := range strs {
		anys[i] = s
	}
	return anys
}

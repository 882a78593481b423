package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hedeqiang/dropwatch"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dropwatch",
	Short: "Base wallet transfer notifier",
	Long: `dropwatch follows ERC-20 Transfer events on Base through a pool of public
RPC endpoints and posts one message per watched wallet and transaction.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
}

func loadConfig() (dropwatch.Config, error) {
	return dropwatch.LoadConfig(configPath)
}

func newLogger(cfg dropwatch.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

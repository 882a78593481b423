package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hedeqiang/dropwatch"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the chain and deliver notifications",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Log)

		engine, err := dropwatch.New(cfg, dropwatch.WithLogger(logger))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = engine.Run(ctx)
		var fatal *dropwatch.FatalShutdown
		if errors.As(err, &fatal) {
			logger.Error().Err(err).Msg("exiting for restart")
			os.Exit(1)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

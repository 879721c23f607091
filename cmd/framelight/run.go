package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/framelight/framelight/internal/engine"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the frame engine: mail polling, processing, and the slideshow",
	Long: `Start all frame activities and block until interrupted.

The mail ingestor polls on its configured interval, the processor converts
new arrivals in the background, and the slideshow advances on its timer.
SIGINT or SIGTERM shuts everything down cleanly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng, err := engine.New(ctx, cfg)
		if err != nil {
			return err
		}
		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// background returns a context for one-shot commands that should not outlive
// an interrupt.
func background(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

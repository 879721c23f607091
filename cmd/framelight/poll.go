package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/framelight/framelight/internal/display"
	"github.com/framelight/framelight/internal/engine"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run a single mailbox poll cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := background(cmd)
		defer stop()

		eng, err := engine.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer eng.Store.Close()

		if eng.Ingestor == nil {
			return fmt.Errorf("no mailbox configured")
		}

		result := eng.Ingestor.PollOnce(ctx)
		if result.Error != "" {
			return fmt.Errorf("poll failed: %s", result.Error)
		}
		if !quietFlag {
			display.SuccessMsg("%d messages checked, %d images stored, %d duplicates, %d replies sent",
				result.Messages, result.Stored, result.Duplicate, result.Replied)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

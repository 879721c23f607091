package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/framelight/framelight/internal/display"
	"github.com/framelight/framelight/internal/engine"
	"github.com/framelight/framelight/internal/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Add image files to the frame directly, bypassing the mailbox",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := background(cmd)
		defer stop()

		eng, err := engine.Open(cfg)
		if err != nil {
			return err
		}
		defer eng.Store.Close()

		failed := 0
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				display.ErrorMsg("%s: %v", path, err)
				failed++
				continue
			}
			rec, isNew, err := eng.Store.Put(data, types.SourceUpload)
			if err != nil {
				display.ErrorMsg("%s: %v", path, err)
				failed++
				continue
			}
			if !isNew {
				// Already in the frame: a no-op, not a failure.
				if !quietFlag {
					fmt.Printf("  %s already in the frame (%s)\n", path, display.Truncate(rec.ID, 12))
				}
				continue
			}
			if _, err := eng.Processor.Process(ctx, rec.ID); err != nil {
				display.ErrorMsg("%s: %v", path, err)
				failed++
				continue
			}
			if !quietFlag {
				display.SuccessMsg("%s added as %s", path, display.Truncate(rec.ID, 12))
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

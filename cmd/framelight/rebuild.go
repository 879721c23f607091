package main

import (
	"github.com/spf13/cobra"

	"github.com/framelight/framelight/internal/display"
	"github.com/framelight/framelight/internal/store"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Reconcile the index with the files on disk",
	Long: `Scan the originals and proxies directories and repair the index.

Proxies without an index row are re-registered as processed, stray
originals are queued as pending, and rows whose files are gone are
dropped. Run this after restoring the image directories from a backup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Paths.Index, cfg.Paths.Originals, cfg.Paths.Proxies)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := st.Rebuild()
		if err != nil {
			return err
		}
		if !quietFlag {
			display.SuccessMsg("index rebuilt: %d records recovered, %d orphaned rows dropped",
				res.Recovered, res.Orphaned)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

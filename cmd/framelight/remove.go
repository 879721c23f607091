package main

import (
	"github.com/spf13/cobra"

	"github.com/framelight/framelight/internal/display"
	"github.com/framelight/framelight/internal/store"
)

var removeCmd = &cobra.Command{
	Use:     "remove <id>...",
	Aliases: []string{"rm"},
	Short:   "Remove images from the frame",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Paths.Index, cfg.Paths.Originals, cfg.Paths.Proxies)
		if err != nil {
			return err
		}
		defer st.Close()

		for _, id := range args {
			if err := st.Delete(id); err != nil {
				display.ErrorMsg("%s: %v", id, err)
				continue
			}
			if !quietFlag {
				display.SuccessMsg("removed %s", id)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/framelight/framelight/internal/display"
	"github.com/framelight/framelight/internal/engine"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Convert pending and previously failed images into display proxies",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := background(cmd)
		defer stop()

		eng, err := engine.Open(cfg)
		if err != nil {
			return err
		}
		defer eng.Store.Close()

		n, err := eng.Processor.ProcessAll(ctx)
		if err != nil {
			return err
		}
		if !quietFlag {
			display.SuccessMsg("%d images processed", n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/framelight/framelight/internal/display"
	"github.com/framelight/framelight/internal/mail"
	"github.com/framelight/framelight/internal/store"
	"github.com/framelight/framelight/internal/types"
)

type statusOutput struct {
	Pending   int                  `json:"pending"`
	Processed int                  `json:"processed"`
	Failed    int                  `json:"failed"`
	Degraded  bool                 `json:"degraded"`
	Mail      *mail.PollStatus     `json:"mail,omitempty"`
	Recent    []*types.ImageRecord `json:"recent,omitempty"`
}

// lastPollStatus reads the poll outcome the daemon persisted, if any.
func lastPollStatus(st *store.Store) *mail.PollStatus {
	raw, err := st.GetState(mail.StateKey)
	if err != nil || raw == "" {
		return nil
	}
	var ps mail.PollStatus
	if err := json.Unmarshal([]byte(raw), &ps); err != nil {
		return nil
	}
	return &ps
}

var statusLimit int

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Show the image store: counts and recently ingested pictures",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Paths.Index, cfg.Paths.Originals, cfg.Paths.Proxies)
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.Counts()
		if err != nil {
			return err
		}
		records, err := st.List()
		if err != nil {
			return err
		}
		if len(records) > statusLimit {
			records = records[:statusLimit]
		}

		ps := lastPollStatus(st)

		if jsonOutput {
			out := statusOutput{
				Pending:   counts.Pending,
				Processed: counts.Processed,
				Failed:    counts.Failed,
				Degraded:  st.Degraded(),
				Mail:      ps,
				Recent:    records,
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		display.Header("Frame status")
		fmt.Printf("  %d images  (%d ready, %d pending, %d failed)\n",
			counts.Total(), counts.Processed, counts.Pending, counts.Failed)
		if ps != nil {
			fmt.Println()
			display.SubHeader("Mailbox")
			if ps.Result.Error != "" {
				fmt.Printf("  last poll %s: failed (%s), %d consecutive failures, next at %s\n",
					display.TimeAgo(ps.At), ps.Result.Error,
					ps.Backoff.ConsecutiveFailures,
					ps.Backoff.NextPollAt.Local().Format("15:04:05"))
			} else {
				fmt.Printf("  last poll %s: %d messages, %d stored, %d duplicates, %d replies\n",
					display.TimeAgo(ps.At), ps.Result.Messages,
					ps.Result.Stored, ps.Result.Duplicate, ps.Result.Replied)
			}
		}
		if len(records) > 0 {
			fmt.Println()
			display.SubHeader("Recent")
			for _, rec := range records {
				fmt.Println("  " + display.ImageLine(rec))
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Maximum recent images to list")
	rootCmd.AddCommand(statusCmd)
}

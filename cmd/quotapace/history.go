package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotapace/quotapace/internal/aggregate"
	"github.com/quotapace/quotapace/internal/config"
)

var historyHours int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show aggregate utilization over a lookback window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		hours := config.ClampLookback(historyHours)
		since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
		snaps, err := store.ReadSnapshotsSince(ctx, since)
		if err != nil {
			return fmt.Errorf("reading snapshots: %w", err)
		}
		printed := 0
		for _, snap := range snaps {
			a, ok := aggregate.Reduce(snap)
			if !ok {
				continue
			}
			if printed == 0 {
				fmt.Printf("%-17s %8s %8s %6s\n", "Sampled", "5h %", "7d %", "Keys")
			}
			fmt.Printf("%-17s %8.1f %8.1f %6d\n",
				a.Timestamp.Format("2006-01-02 15:04"),
				a.FiveHourPct, a.SevenDayPct, len(snap.Keys))
			printed++
		}
		if printed == 0 {
			fmt.Printf("No samples in the last %dh.\n", hours)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyHours, "hours", config.DefaultLookbackHours, "lookback window in hours (1-168)")
	rootCmd.AddCommand(historyCmd)
}

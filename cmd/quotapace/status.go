package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotapace/quotapace/internal/aggregate"
	"github.com/quotapace/quotapace/internal/db"
	"github.com/quotapace/quotapace/internal/model"
	"github.com/quotapace/quotapace/internal/trend"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current utilization, trend, projection, and cooldown factor",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		now := time.Now().UTC()
		snaps, err := store.ReadRecentSnapshots(ctx, trend.MaxFitPoints)
		if err != nil {
			return fmt.Errorf("reading snapshots: %w", err)
		}
		aggs := aggregate.ReduceSeries(snaps)
		rep := trend.Analyze(aggs, now)

		fmt.Println("Utilization")
		if len(aggs) == 0 {
			fmt.Println("  no data yet; run the collector or 'quotapace ingest' first")
		} else {
			latest := aggs[len(aggs)-1]
			fmt.Printf("  5h window:  %5.1f%%   reset: %s\n", latest.FiveHourPct, fmtReset(latest.FiveHourReset))
			fmt.Printf("  7d window:  %5.1f%%   reset: %s\n", latest.SevenDayPct, fmtReset(latest.SevenDayReset))
			fmt.Printf("  sampled:    %s (%d points)\n", latest.Timestamp.Format("2006-01-02 15:04"), len(aggs))
		}

		fmt.Println("\nTrend")
		fmt.Printf("  5h: %s/hour\n", fmtRate(rep.TrendPerHour))
		fmt.Printf("  7d: %s/day\n", fmtRate(rep.TrendPerDay))

		fmt.Println("\nProjection at reset")
		fmt.Printf("  5h: %s\n", fmtProjection(rep.FiveHour))
		fmt.Printf("  7d: %s\n", fmtProjection(rep.SevenDay))

		_, cdStore, err := cooldownSetup()
		if err != nil {
			return err
		}
		rec, fresh := cdStore.Read()
		fmt.Println("\nCooldown adjustment")
		fmt.Printf("  factor: %.2f   target: %.0f%%", rec.Adjustment.Factor, rec.Adjustment.TargetPct)
		if !fresh {
			fmt.Print("   (defaults, no control cycle recorded yet)")
		}
		fmt.Println()
		if rec.Adjustment.ProjectedAtReset != nil {
			fmt.Printf("  projected at reset: %.1f%%\n", *rec.Adjustment.ProjectedAtReset)
		} else {
			fmt.Println("  projected at reset: n/a")
		}
		if rec.Adjustment.ConstrainingMetric != nil {
			fmt.Printf("  constraining metric: %s\n", *rec.Adjustment.ConstrainingMetric)
		}

		active, err := store.ActiveKeyID(ctx)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}
		if active != "" {
			fmt.Printf("\nActive key: %s\n", active)
		}
		return nil
	},
}

func fmtReset(t *time.Time) string {
	if t == nil {
		return "n/a"
	}
	return t.Format("2006-01-02 15:04")
}

func fmtRate(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f%%", *v)
}

func fmtProjection(p *model.Projection) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%% at %s", p.Value, p.ResetTime.Format("2006-01-02 15:04"))
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

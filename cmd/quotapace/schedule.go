package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotapace/quotapace/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show next-run times for every registered task",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		tasks, err := schedule.LoadTasks(cfg.TasksPath)
		if err != nil {
			return err
		}
		registry := schedule.NewRegistry(tasks)

		lastRuns, err := store.TaskRunStates(ctx)
		if err != nil {
			return fmt.Errorf("reading task runs: %w", err)
		}
		_, cdStore, err := cooldownSetup()
		if err != nil {
			return err
		}
		rec, _ := cdStore.Read()

		now := time.Now().UTC()
		entries := registry.Entries(now, lastRuns, rec)

		fmt.Printf("Cooldown factor: %.2f\n\n", rec.Adjustment.Factor)
		fmt.Printf("%-16s %-12s %9s %9s %-17s %-10s\n", "Task", "Trigger", "Default", "Effective", "Next run", "Due in")
		for _, e := range entries {
			if e.SecondsUntilNext == nil {
				fmt.Printf("%-16s %-12s %9s %9s %-17s %-10s\n",
					e.TaskName, e.Trigger, "-", "-", "event-driven", "-")
				continue
			}
			next := "now"
			due := "now"
			if e.NextRun != nil {
				next = e.NextRun.Format("2006-01-02 15:04")
				if *e.SecondsUntilNext > 0 {
					due = (time.Duration(*e.SecondsUntilNext) * time.Second).String()
				}
			}
			fmt.Printf("%-16s %-12s %8dm %8dm %-17s %-10s\n",
				e.TaskName, e.Trigger, e.DefaultMinutes, e.EffectiveMinutes, next, due)
		}
		return nil
	},
}

var markRunCmd = &cobra.Command{
	Use:   "mark-run <task>",
	Short: "Record a task execution (called by the task runner)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		now := time.Now().UTC()
		if err := store.MarkTaskRun(ctx, args[0], now); err != nil {
			return err
		}
		fmt.Printf("Recorded run of %s at %s\n", args[0], now.Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(markRunCmd)
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotapace/quotapace/internal/model"
	"github.com/quotapace/quotapace/internal/rotation"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Show credential key statuses and the rotation log",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		manager := rotation.NewManager(store)
		state, err := manager.State(ctx, 20)
		if err != nil {
			return err
		}
		if len(state.Keys) == 0 {
			fmt.Println("No keys observed yet.")
			return nil
		}
		fmt.Printf("%-24s %-10s %-12s %8s %8s\n", "Key", "Status", "Plan", "5h %", "7d %")
		for _, k := range state.Keys {
			marker := " "
			if k.Active {
				marker = "*"
			}
			five, seven := "n/a", "n/a"
			if k.LastUsage != nil {
				five = fmt.Sprintf("%.1f", k.LastUsage.FiveHourPct)
				seven = fmt.Sprintf("%.1f", k.LastUsage.SevenDayPct)
			}
			fmt.Printf("%s%-23s %-10s %-12s %8s %8s\n", marker, k.ID, k.Status, k.SubscriptionType, five, seven)
		}

		since := time.Now().UTC().Add(-24 * time.Hour)
		n, err := manager.CountRotations(ctx, since)
		if err != nil {
			return err
		}
		fmt.Printf("\nRotations in last 24h: %d\n", n)
		if len(state.RotationLog) > 0 {
			fmt.Println("\nRecent rotations:")
			for _, ev := range state.RotationLog {
				from := ev.FromKeyID
				if from == "" {
					from = "(none)"
				}
				fmt.Printf("  %s  %s -> %s\n", ev.Timestamp.Format("2006-01-02 15:04"), from, ev.ToKeyID)
			}
		}
		return nil
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate <key-id>",
	Short: "Switch the active credential key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		if err := rotation.NewManager(store).RecordRotation(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Active key is now %s\n", args[0])
		return nil
	},
}

var markKeyCmd = &cobra.Command{
	Use:   "mark-key <key-id> <active|exhausted|invalid|expired>",
	Short: "Set a key's lifecycle status, promoting a replacement if needed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := model.KeyStatus(args[1])
		switch status {
		case model.KeyActive, model.KeyExhausted, model.KeyInvalid, model.KeyExpired:
		default:
			return fmt.Errorf("unknown status %q", args[1])
		}
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		if err := rotation.NewManager(store).MarkStatus(ctx, args[0], status); err != nil {
			return err
		}
		fmt.Printf("Key %s marked %s\n", args[0], status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(markKeyCmd)
}

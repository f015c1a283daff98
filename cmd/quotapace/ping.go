package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quotapace/quotapace/internal/client"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check whether the daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(cfg.SocketPath)
		resp, err := c.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("daemon not reachable at %s: %w", cfg.SocketPath, err)
		}
		fmt.Printf("Daemon %s (%s) at %s\n", resp.Status, resp.Version, cfg.SocketPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quotapace/quotapace/internal/config"
	"github.com/quotapace/quotapace/internal/cooldown"
	"github.com/quotapace/quotapace/internal/db"
	"github.com/quotapace/quotapace/internal/schedule"
)

var (
	cfgFile  string
	logLevel string
	cfg      config.Config
)

var rootCmd = &cobra.Command{
	Use:   "quotapace",
	Short: "Usage-quota telemetry, forecasting, and adaptive task pacing",
	Long: `quotapace watches rolling API usage windows across credential keys,
projects utilization at the next quota reset, and stretches or compresses
the cadence of background automation so usage lands near the target.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if lvl, err := logrus.ParseLevel(logLevel); err == nil {
			logrus.SetLevel(lvl)
		}
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.quotapace.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func openStore(ctx context.Context) (*db.Store, error) {
	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		store.Close() //nolint:errcheck
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return store, nil
}

func cooldownSetup() (cooldown.Config, *cooldown.Store, error) {
	tasks, err := schedule.LoadTasks(cfg.TasksPath)
	if err != nil {
		return cooldown.Config{}, nil, err
	}
	cdCfg := cooldown.Config{
		TargetPct:    cfg.TargetPct,
		MinFactor:    cfg.MinFactor,
		MaxFactor:    cfg.MaxFactor,
		FloorMinutes: cfg.FloorMinutes,
		Defaults:     schedule.DefaultCooldowns(tasks),
		Overrides:    map[string]int{},
	}
	return cdCfg, cooldown.NewStore(cfg.CooldownPath, cdCfg), nil
}

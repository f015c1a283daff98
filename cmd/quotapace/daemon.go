package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quotapace/quotapace/internal/cooldown"
	"github.com/quotapace/quotapace/internal/daemon"
	"github.com/quotapace/quotapace/internal/schedule"
)

// daemonCmd runs the daemon in the foreground with the CLI's config binding.
// Packaging installs quotapaced for service managers; this is the interactive
// way to run the same loops.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

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

		cdCfg, cdStore, err := cooldownSetup()
		if err != nil {
			return err
		}
		controller := cooldown.NewController(cdCfg, cdStore)

		srv := daemon.NewServer(cfg, store, registry, controller, cdStore)
		logrus.Infof("quotapaced starting: socket=%s db=%s cycle=%s", cfg.SocketPath, cfg.DBPath, cfg.CycleInterval)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(gctx) })
		g.Go(func() error { return daemon.RunControlLoop(gctx, cfg, store, controller) })
		g.Go(func() error { return daemon.RunRetentionLoop(gctx, cfg, store) })

		err = g.Wait()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

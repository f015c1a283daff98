package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quotapace/quotapace/internal/config"
	"github.com/quotapace/quotapace/internal/cooldown"
	"github.com/quotapace/quotapace/internal/daemon"
	"github.com/quotapace/quotapace/internal/db"
	"github.com/quotapace/quotapace/internal/schedule"
)

func main() {
	cfg := config.DefaultConfig()
	logLevel := "info"
	flag.StringVar(&cfg.SocketPath, "socket", cfg.SocketPath, "UDS path for quotapaced")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite path")
	flag.StringVar(&cfg.CooldownPath, "cooldown-file", cfg.CooldownPath, "cooldown record path")
	flag.StringVar(&cfg.TasksPath, "tasks-file", cfg.TasksPath, "task definition YAML path")
	flag.DurationVar(&cfg.CycleInterval, "cycle-interval", cfg.CycleInterval, "control cycle cadence")
	flag.DurationVar(&cfg.Retention, "retention", cfg.Retention, "snapshot retention window")
	flag.Float64Var(&cfg.TargetPct, "target-pct", cfg.TargetPct, "target utilization at reset")
	flag.StringVar(&logLevel, "log-level", logLevel, "log level (debug, info, warn, error)")
	flag.Parse()

	if lvl, err := logrus.ParseLevel(logLevel); err == nil {
		logrus.SetLevel(lvl)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		return err
	}

	tasks, err := schedule.LoadTasks(cfg.TasksPath)
	if err != nil {
		return err
	}
	registry := schedule.NewRegistry(tasks)

	cdCfg := cooldown.Config{
		TargetPct:    cfg.TargetPct,
		MinFactor:    cfg.MinFactor,
		MaxFactor:    cfg.MaxFactor,
		FloorMinutes: cfg.FloorMinutes,
		Defaults:     schedule.DefaultCooldowns(tasks),
		Overrides:    map[string]int{},
	}
	cdStore := cooldown.NewStore(cfg.CooldownPath, cdCfg)
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
	return err
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "quotapaced: %v\n", err)
	os.Exit(1)
}

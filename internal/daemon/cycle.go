package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quotapace/quotapace/internal/aggregate"
	"github.com/quotapace/quotapace/internal/api"
	"github.com/quotapace/quotapace/internal/config"
	"github.com/quotapace/quotapace/internal/cooldown"
	"github.com/quotapace/quotapace/internal/db"
	"github.com/quotapace/quotapace/internal/model"
	"github.com/quotapace/quotapace/internal/rotation"
	"github.com/quotapace/quotapace/internal/trend"
)

// DecodeIngest converts the collector's wire record into a model snapshot.
// Both window percentages are required per key; an entry missing either one is
// malformed and skipped entirely, never zero-filled, so a partial reading
// cannot drag the pool mean toward zero. The count of usable key readings is
// returned for visibility.
func DecodeIngest(rec api.IngestSnapshot) (model.Snapshot, int) {
	snap := model.Snapshot{
		Timestamp: time.Unix(rec.TS, 0).UTC(),
		Keys:      map[string]model.KeyReading{},
	}
	for id, r := range rec.Keys {
		if id == "" || r.FiveHourPct == nil || r.SevenDayPct == nil {
			continue
		}
		snap.Keys[id] = model.KeyReading{
			FiveHourPct:   model.ClampPct(*r.FiveHourPct),
			FiveHourReset: r.FiveHourReset,
			SevenDayPct:   model.ClampPct(*r.SevenDayPct),
			SevenDayReset: r.SevenDayReset,
		}
	}
	return snap, len(snap.Keys)
}

// IngestSnapshot appends one collector snapshot and refreshes last-usage on
// every key it mentions, creating key records on first observation.
func IngestSnapshot(ctx context.Context, store *db.Store, snap model.Snapshot) (bool, error) {
	appended, err := store.AppendSnapshot(ctx, snap)
	if err != nil {
		return false, err
	}
	if !appended {
		logrus.Debugf("dropped out-of-order snapshot at %s", snap.Timestamp.Format(time.RFC3339))
		return false, nil
	}
	for id, reading := range snap.Keys {
		if err := store.TouchKeyUsage(ctx, id, reading, snap.Timestamp); err != nil {
			return true, err
		}
	}
	return true, nil
}

// RunControlLoop executes the telemetry -> forecast -> adjustment cycle at
// the configured cadence until the context ends.
func RunControlLoop(ctx context.Context, cfg config.Config, store *db.Store, controller *cooldown.Controller) error {
	ticker := time.NewTicker(cfg.CycleInterval)
	defer ticker.Stop()
	rotations := rotation.NewManager(store)
	for {
		if err := RunCycle(ctx, store, rotations, controller); err != nil {
			logrus.Warnf("control cycle: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle performs one control cycle: ensure an active key exists, reduce
// the recent snapshot window, fit and project the trend, and apply the
// cooldown adjustment. A cycle without a usable forecast leaves the previous
// adjustment untouched.
func RunCycle(ctx context.Context, store *db.Store, rotations *rotation.Manager, controller *cooldown.Controller) error {
	now := time.Now().UTC()
	if err := rotations.EnsureActiveKey(ctx); err != nil && !errors.Is(err, rotation.ErrNoEligibleKey) {
		return err
	}
	snaps, err := store.ReadRecentSnapshots(ctx, trend.MaxFitPoints)
	if err != nil {
		return err
	}
	aggs := aggregate.ReduceSeries(snaps)
	rep := trend.Analyze(aggs, now)
	adj, wrote, err := controller.Apply(rep, now)
	if err != nil {
		return err
	}
	if !wrote {
		logrus.Debugf("no usable forecast from %d aggregates, keeping previous adjustment", len(aggs))
		return nil
	}
	logrus.Infof("cycle complete: factor=%.3f constraining=%s", adj.Factor, metricLabel(adj.ConstrainingMetric))
	return nil
}

// RunRetentionLoop prunes snapshots and rotation events past the retention
// window at the configured cadence.
func RunRetentionLoop(ctx context.Context, cfg config.Config, store *db.Store) error {
	ticker := time.NewTicker(cfg.PruneInterval)
	defer ticker.Stop()
	for {
		cutoff := time.Now().UTC().Add(-cfg.Retention)
		if n, err := store.PruneSnapshots(ctx, cutoff); err != nil {
			logrus.Warnf("prune snapshots: %v", err)
		} else if n > 0 {
			logrus.Debugf("pruned %d snapshots", n)
		}
		if n, err := store.PruneRotationEvents(ctx, cutoff); err != nil {
			logrus.Warnf("prune rotation events: %v", err)
		} else if n > 0 {
			logrus.Debugf("pruned %d rotation events", n)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func metricLabel(m *model.Metric) string {
	if m == nil {
		return "none"
	}
	return string(*m)
}

package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quotapace/quotapace/internal/aggregate"
	"github.com/quotapace/quotapace/internal/api"
	"github.com/quotapace/quotapace/internal/cooldown"
	"github.com/quotapace/quotapace/internal/db"
	"github.com/quotapace/quotapace/internal/model"
	"github.com/quotapace/quotapace/internal/rotation"
	"github.com/quotapace/quotapace/internal/schedule"
)

func TestDecodeIngestSkipsPartialReadings(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	pct := 42.0
	over := 130.0
	rec := api.IngestSnapshot{
		TS: now.Unix(),
		Keys: map[string]api.IngestKeyReading{
			"good":  {FiveHourPct: &pct, SevenDayPct: &pct},
			"empty": {},
			"":      {FiveHourPct: &pct, SevenDayPct: &pct},
			"wild":  {FiveHourPct: &over, SevenDayPct: &pct},
			"five":  {FiveHourPct: &pct},
			"seven": {SevenDayPct: &pct},
		},
	}

	snap, n := DecodeIngest(rec)
	if n != 2 {
		t.Fatalf("expected 2 usable readings, got %d", n)
	}
	if !snap.Timestamp.Equal(now) {
		t.Fatalf("timestamp: %s", snap.Timestamp)
	}
	for _, id := range []string{"empty", "five", "seven", ""} {
		if _, ok := snap.Keys[id]; ok {
			t.Fatalf("entry %q missing a percentage must be skipped", id)
		}
	}
	if snap.Keys["wild"].FiveHourPct != 100 {
		t.Fatalf("out-of-range reading must clamp, got %v", snap.Keys["wild"].FiveHourPct)
	}
}

func TestDecodeIngestPartialReadingDoesNotSkewMean(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	eighty, ninety := 80.0, 90.0
	rec := api.IngestSnapshot{
		TS: now.Unix(),
		Keys: map[string]api.IngestKeyReading{
			"a": {FiveHourPct: &eighty},
			"b": {FiveHourPct: &eighty, SevenDayPct: &ninety},
		},
	}

	snap, n := DecodeIngest(rec)
	if n != 1 {
		t.Fatalf("expected only the complete reading, got %d", n)
	}
	agg, ok := aggregate.Reduce(snap)
	if !ok {
		t.Fatalf("expected aggregate")
	}
	// A zero-filled "a" would pull this to 45.
	if agg.SevenDayPct != 90 {
		t.Fatalf("seven-day mean: got %v want 90", agg.SevenDayPct)
	}
	if agg.FiveHourPct != 80 {
		t.Fatalf("five-hour mean: got %v want 80", agg.FiveHourPct)
	}
}

func openCycleFixture(t *testing.T) (*db.Store, *cooldown.Controller, *cooldown.Store) {
	t.Helper()
	ctx := context.Background()
	tmp := t.TempDir()
	store, err := db.Open(ctx, filepath.Join(tmp, "usage.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() }) //nolint:errcheck
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	cfg := cooldown.DefaultConfig()
	cfg.Defaults = schedule.DefaultCooldowns(schedule.DefaultTasks())
	cdStore := cooldown.NewStore(filepath.Join(tmp, "cooldown.json"), cfg)
	return store, cooldown.NewController(cfg, cdStore), cdStore
}

func TestIngestSnapshotTouchesKeys(t *testing.T) {
	ctx := context.Background()
	store, _, _ := openCycleFixture(t)
	now := time.Now().UTC().Truncate(time.Second)

	snap := model.Snapshot{
		Timestamp: now,
		Keys: map[string]model.KeyReading{
			"k1": {FiveHourPct: 25},
			"k2": {FiveHourPct: 75},
		},
	}
	appended, err := IngestSnapshot(ctx, store, snap)
	if err != nil || !appended {
		t.Fatalf("ingest: appended=%v err=%v", appended, err)
	}

	keys, err := store.ListKeyRecords(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 key records, got %d", len(keys))
	}
	for _, k := range keys {
		if k.LastUsage == nil {
			t.Fatalf("key %s missing last usage", k.ID)
		}
	}

	// Out-of-order snapshot: dropped, no key updates.
	stale := model.Snapshot{
		Timestamp: now.Add(-time.Hour),
		Keys:      map[string]model.KeyReading{"k3": {FiveHourPct: 10}},
	}
	appended, err = IngestSnapshot(ctx, store, stale)
	if err != nil {
		t.Fatalf("stale ingest: %v", err)
	}
	if appended {
		t.Fatalf("stale snapshot must be dropped")
	}
	if _, err := store.GetKeyRecord(ctx, "k3"); err == nil {
		t.Fatalf("dropped snapshot must not create key records")
	}
}

func TestRunCycleWritesAdjustment(t *testing.T) {
	ctx := context.Background()
	store, controller, cdStore := openCycleFixture(t)
	now := time.Now().UTC().Truncate(time.Second)
	reset := now.Add(3 * time.Hour)

	for i := 0; i < 4; i++ {
		snap := model.Snapshot{
			Timestamp: now.Add(time.Duration(i-4) * time.Hour),
			Keys: map[string]model.KeyReading{
				"k1": {FiveHourPct: 30 + float64(i)*15, FiveHourReset: &reset},
			},
		}
		if _, err := IngestSnapshot(ctx, store, snap); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	if err := RunCycle(ctx, store, rotation.NewManager(store), controller); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	rec, ok := cdStore.Read()
	if !ok {
		t.Fatalf("cycle should have written the cooldown record")
	}
	if rec.Adjustment.Factor <= 0 {
		t.Fatalf("factor: %v", rec.Adjustment.Factor)
	}
	if rec.Adjustment.ProjectedAtReset == nil || rec.Adjustment.ConstrainingMetric == nil {
		t.Fatalf("adjustment incomplete: %+v", rec.Adjustment)
	}
}

func TestRunCycleEmptyStoreKeepsDefaults(t *testing.T) {
	ctx := context.Background()
	store, controller, cdStore := openCycleFixture(t)

	if err := RunCycle(ctx, store, rotation.NewManager(store), controller); err != nil {
		t.Fatalf("cycle on empty store: %v", err)
	}
	if _, ok := cdStore.Read(); ok {
		t.Fatalf("no forecast means no write")
	}
}

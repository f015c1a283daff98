package cooldown

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotapace/quotapace/internal/model"
)

func TestReadAbsentFileReturnsDefaults(t *testing.T) {
	cfg := testConfig()
	store := NewStore(filepath.Join(t.TempDir(), "cooldown.json"), cfg)

	rec, ok := store.Read()
	assert.False(t, ok)
	assert.Equal(t, 1.0, rec.Adjustment.Factor)
	assert.Equal(t, cfg.TargetPct, rec.Adjustment.TargetPct)
	assert.Nil(t, rec.Adjustment.ProjectedAtReset)
	assert.Nil(t, rec.Adjustment.LastUpdated)
	assert.Equal(t, 30, rec.Effective["doc_sync"], "effective equals defaults before the first cycle")
}

func TestReadMalformedFileReturnsDefaults(t *testing.T) {
	cfg := testConfig()
	path := filepath.Join(t.TempDir(), "cooldown.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewStore(path, cfg)
	rec, ok := store.Read()
	assert.False(t, ok)
	assert.Equal(t, 1.0, rec.Adjustment.Factor)
}

func TestReadRejectsUnknownVersion(t *testing.T) {
	cfg := testConfig()
	path := filepath.Join(t.TempDir(), "cooldown.json")
	raw := `{"version": 99, "defaults": {}, "effective": {}, "adjustment": {"factor": 2.5, "target_pct": 90}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	store := NewStore(path, cfg)
	rec, ok := store.Read()
	assert.False(t, ok)
	assert.Equal(t, 1.0, rec.Adjustment.Factor, "unknown version falls back to defaults")
}

func TestWriteReadRoundTrip(t *testing.T) {
	cfg := testConfig()
	path := filepath.Join(t.TempDir(), "cooldown.json")
	store := NewStore(path, cfg)

	now := time.Now().UTC()
	projected := 72.5
	metric := model.MetricFiveHour
	adj := model.CooldownAdjustment{
		Factor:             0.81,
		TargetPct:          90,
		ProjectedAtReset:   &projected,
		ConstrainingMetric: &metric,
		LastUpdated:        &now,
	}
	require.NoError(t, store.Write(BuildRecord(cfg, adj)))

	rec, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, RecordVersion, rec.Version)
	assert.InDelta(t, 0.81, rec.Adjustment.Factor, 1e-9)
	require.NotNil(t, rec.Adjustment.ProjectedAtReset)
	assert.Equal(t, 72.5, *rec.Adjustment.ProjectedAtReset)

	got := rec.ToAdjustment()
	require.NotNil(t, got.ConstrainingMetric)
	assert.Equal(t, model.MetricFiveHour, *got.ConstrainingMetric)
	require.NotNil(t, got.LastUpdated)
	assert.True(t, got.LastUpdated.Equal(now))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "cooldown.json"), cfg)

	require.NoError(t, store.Write(DefaultRecord(cfg)))
	require.NoError(t, store.Write(DefaultRecord(cfg)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cooldown.json", entries[0].Name())
}

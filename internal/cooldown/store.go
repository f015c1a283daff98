package cooldown

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quotapace/quotapace/internal/model"
)

// RecordVersion is the wire version of the cooldown file.
const RecordVersion = 1

// Record is the persisted control signal, consumed by dashboards and the
// task runner. The whole record is written in one atomic rename so factor and
// target can never pair up across cycles.
type Record struct {
	Version    int              `json:"version"`
	Defaults   map[string]int   `json:"defaults"`
	Effective  map[string]int   `json:"effective"`
	Adjustment AdjustmentRecord `json:"adjustment"`
}

type AdjustmentRecord struct {
	Factor             float64    `json:"factor"`
	TargetPct          float64    `json:"target_pct"`
	ProjectedAtReset   *float64   `json:"projected_at_reset"`
	ConstrainingMetric *string    `json:"constraining_metric"`
	LastUpdated        *time.Time `json:"last_updated"`
}

// ToAdjustment converts the wire record back to the model type.
func (r Record) ToAdjustment() model.CooldownAdjustment {
	adj := model.CooldownAdjustment{
		Factor:           r.Adjustment.Factor,
		TargetPct:        r.Adjustment.TargetPct,
		ProjectedAtReset: r.Adjustment.ProjectedAtReset,
		LastUpdated:      r.Adjustment.LastUpdated,
	}
	if r.Adjustment.ConstrainingMetric != nil {
		m := model.Metric(*r.Adjustment.ConstrainingMetric)
		adj.ConstrainingMetric = &m
	}
	return adj
}

// BuildRecord assembles the full record for one cycle: defaults, scaled
// effective cooldowns, and the adjustment itself.
func BuildRecord(cfg Config, adj model.CooldownAdjustment) Record {
	defaults := make(map[string]int, len(cfg.Defaults))
	effective := make(map[string]int, len(cfg.Defaults))
	for key, minutes := range cfg.Defaults {
		defaults[key] = minutes
		effective[key] = EffectiveMinutes(cfg, key, minutes, adj.Factor)
	}
	rec := Record{
		Version:   RecordVersion,
		Defaults:  defaults,
		Effective: effective,
		Adjustment: AdjustmentRecord{
			Factor:           adj.Factor,
			TargetPct:        adj.TargetPct,
			ProjectedAtReset: adj.ProjectedAtReset,
			LastUpdated:      adj.LastUpdated,
		},
	}
	if adj.ConstrainingMetric != nil {
		m := string(*adj.ConstrainingMetric)
		rec.Adjustment.ConstrainingMetric = &m
	}
	return rec
}

// DefaultRecord is what readers see before the first control cycle: factor 1,
// effective equal to defaults.
func DefaultRecord(cfg Config) Record {
	defaults := make(map[string]int, len(cfg.Defaults))
	effective := make(map[string]int, len(cfg.Defaults))
	for key, minutes := range cfg.Defaults {
		defaults[key] = minutes
		effective[key] = EffectiveMinutes(cfg, key, minutes, 1.0)
	}
	return Record{
		Version:   RecordVersion,
		Defaults:  defaults,
		Effective: effective,
		Adjustment: AdjustmentRecord{
			Factor:    1.0,
			TargetPct: cfg.TargetPct,
		},
	}
}

// Store persists the cooldown record as a JSON file. Single writer (the
// controller), many readers; readers fall back to the default record when the
// file is absent or malformed.
type Store struct {
	path string
	cfg  Config
}

func NewStore(path string, cfg Config) *Store {
	return &Store{path: path, cfg: cfg}
}

// Read loads the current record. ok is false when the file was absent or
// unusable and the default record was returned instead; neither case is an
// error for callers.
func (s *Store) Read() (Record, bool) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return DefaultRecord(s.cfg), false
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return DefaultRecord(s.cfg), false
	}
	if rec.Version != RecordVersion || rec.Adjustment.Factor <= 0 {
		return DefaultRecord(s.cfg), false
	}
	return rec, true
}

// Write persists the record atomically: temp file in the same directory, then
// rename. A reader never observes a partial record.
func (s *Store) Write(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create cooldown dir: %w", err)
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cooldown record: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".cooldown-*.json")
	if err != nil {
		return fmt.Errorf("create cooldown temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("write cooldown temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("close cooldown temp: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("chmod cooldown temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("rename cooldown record: %w", err)
	}
	return nil
}

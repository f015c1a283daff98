// Package cooldown closes the feedback loop: it turns a utilization forecast
// into a pool-wide scaling factor over the default task cooldowns.
package cooldown

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quotapace/quotapace/internal/model"
	"github.com/quotapace/quotapace/internal/trend"
)

// Config holds the controller tunables. The factor curve (proportional,
// bounded) is a tunable, not a contract; only its monotonicity around the
// target is.
type Config struct {
	TargetPct    float64
	MinFactor    float64
	MaxFactor    float64
	FloorMinutes int

	// Defaults maps cooldown key to default minutes for every
	// interval-scheduled task type.
	Defaults map[string]int
	// Overrides pins specific cooldown keys to fixed minutes, taking
	// precedence over the computed effective value.
	Overrides map[string]int
}

func DefaultConfig() Config {
	return Config{
		TargetPct:    90,
		MinFactor:    0.25,
		MaxFactor:    4.0,
		FloorMinutes: 1,
		Defaults:     map[string]int{},
		Overrides:    map[string]int{},
	}
}

type Controller struct {
	cfg   Config
	store *Store
}

func NewController(cfg Config, store *Store) *Controller {
	if cfg.TargetPct <= 0 {
		cfg.TargetPct = 90
	}
	if cfg.MinFactor <= 0 {
		cfg.MinFactor = 0.25
	}
	if cfg.MaxFactor < cfg.MinFactor {
		cfg.MaxFactor = 4.0
	}
	if cfg.FloorMinutes < 1 {
		cfg.FloorMinutes = 1
	}
	return &Controller{cfg: cfg, store: store}
}

// Evaluate derives the adjustment for one control cycle. ok is false when
// neither metric carries a projection; the caller must then leave the
// previous adjustment untouched; an absent forecast is not evidence that
// usage is zero.
func (c *Controller) Evaluate(rep trend.Report, now time.Time) (model.CooldownAdjustment, bool) {
	constraining := constrainingProjection(rep)
	if constraining == nil {
		return model.CooldownAdjustment{}, false
	}
	factor := clampFactor(constraining.Value/c.cfg.TargetPct, c.cfg.MinFactor, c.cfg.MaxFactor)
	projected := constraining.Value
	metric := constraining.Metric
	ts := now
	return model.CooldownAdjustment{
		Factor:             factor,
		TargetPct:          c.cfg.TargetPct,
		ProjectedAtReset:   &projected,
		ConstrainingMetric: &metric,
		LastUpdated:        &ts,
	}, true
}

// Apply runs one control cycle: evaluate the report and, when a forecast
// exists, persist the whole record atomically. Without a forecast no write
// happens and the stale record persists.
func (c *Controller) Apply(rep trend.Report, now time.Time) (model.CooldownAdjustment, bool, error) {
	adj, ok := c.Evaluate(rep, now)
	if !ok {
		prev, _ := c.store.Read()
		return prev.ToAdjustment(), false, nil
	}
	rec := BuildRecord(c.cfg, adj)
	if err := c.store.Write(rec); err != nil {
		return model.CooldownAdjustment{}, false, err
	}
	logrus.Debugf("cooldown factor %.3f (projected %.1f%% vs target %.1f%%, %s)",
		adj.Factor, *adj.ProjectedAtReset, adj.TargetPct, *adj.ConstrainingMetric)
	return adj, true, nil
}

// EffectiveMinutes scales one default cooldown by the factor, honoring
// per-key overrides and the hard floor that guarantees forward progress.
func EffectiveMinutes(cfg Config, cooldownKey string, defaultMinutes int, factor float64) int {
	if pinned, ok := cfg.Overrides[cooldownKey]; ok {
		if pinned < cfg.FloorMinutes {
			return cfg.FloorMinutes
		}
		return pinned
	}
	scaled := int(math.Round(float64(defaultMinutes) * factor))
	if scaled < cfg.FloorMinutes {
		return cfg.FloorMinutes
	}
	return scaled
}

// constrainingProjection picks whichever present projection is at greater
// risk of overshoot.
func constrainingProjection(rep trend.Report) *model.Projection {
	switch {
	case rep.FiveHour == nil:
		return rep.SevenDay
	case rep.SevenDay == nil:
		return rep.FiveHour
	case rep.SevenDay.Value > rep.FiveHour.Value:
		return rep.SevenDay
	default:
		return rep.FiveHour
	}
}

func clampFactor(f, lo, hi float64) float64 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

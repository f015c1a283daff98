// Package aggregate reduces per-key utilization readings into pool-wide
// percentages. Pure functions, no side effects.
package aggregate

import (
	"time"

	"github.com/quotapace/quotapace/internal/model"
)

// Reduce turns one raw snapshot into a pool-wide aggregate. A snapshot with
// zero keys yields no aggregate rather than a zero one, so an empty sample
// never biases the trend toward zero usage.
func Reduce(snap model.Snapshot) (model.AggregateSnapshot, bool) {
	if len(snap.Keys) == 0 {
		return model.AggregateSnapshot{}, false
	}
	agg := model.AggregateSnapshot{Timestamp: snap.Timestamp}
	var sumFive, sumSeven float64
	for _, r := range snap.Keys {
		sumFive += model.ClampPct(r.FiveHourPct)
		sumSeven += model.ClampPct(r.SevenDayPct)
		if r.FiveHourReset != nil {
			t := *r.FiveHourReset
			agg.FiveHourReset = &t
		}
		if r.SevenDayReset != nil {
			t := *r.SevenDayReset
			agg.SevenDayReset = &t
		}
	}
	n := float64(len(snap.Keys))
	agg.FiveHourPct = model.ClampPct(sumFive / n)
	agg.SevenDayPct = model.ClampPct(sumSeven / n)
	return agg, true
}

// ReduceSeries aggregates a time-ordered snapshot sequence, skipping
// zero-key samples.
func ReduceSeries(snaps []model.Snapshot) []model.AggregateSnapshot {
	out := make([]model.AggregateSnapshot, 0, len(snaps))
	for _, s := range snaps {
		if agg, ok := Reduce(s); ok {
			out = append(out, agg)
		}
	}
	return out
}

// LatestReset returns the most recent non-nil reset time for the metric,
// scanning newest-first. ok is false when no sample carried one.
func LatestReset(aggs []model.AggregateSnapshot, metric model.Metric) (time.Time, bool) {
	for i := len(aggs) - 1; i >= 0; i-- {
		switch metric {
		case model.MetricFiveHour:
			if aggs[i].FiveHourReset != nil {
				return *aggs[i].FiveHourReset, true
			}
		case model.MetricSevenDay:
			if aggs[i].SevenDayReset != nil {
				return *aggs[i].SevenDayReset, true
			}
		}
	}
	return time.Time{}, false
}

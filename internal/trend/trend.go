// Package trend fits a linear trend over recent aggregate utilization and
// projects it forward to each metric's reset time. Pure computation; calling
// it twice on the same input yields identical output.
package trend

import (
	"time"

	"github.com/quotapace/quotapace/internal/aggregate"
	"github.com/quotapace/quotapace/internal/model"
)

const (
	// MaxFitPoints caps the regression window to the most recent aggregates.
	MaxFitPoints = 30
	// MinFitPoints is the minimum sample count for a usable fit.
	MinFitPoints = 3
)

// Report carries the per-metric projections and the normalized trend rates.
// Nil fields mean "no data", never zero.
type Report struct {
	FiveHour     *model.Projection
	SevenDay     *model.Projection
	TrendPerHour *float64 // 5-hour metric, pct/hour
	TrendPerDay  *float64 // 7-day metric, pct/day
}

// HasProjection reports whether at least one metric produced a forecast.
func (r Report) HasProjection() bool {
	return r.FiveHour != nil || r.SevenDay != nil
}

// Fit runs an ordinary least-squares regression of the metric's percentage
// against hours since the first sample in the capped window. ok is false when
// fewer than MinFitPoints samples exist or the variance term degenerates
// (all timestamps coincide).
func Fit(aggs []model.AggregateSnapshot, metric model.Metric) (model.TrendEstimate, bool) {
	window := capWindow(aggs)
	if len(window) < MinFitPoints {
		return model.TrendEstimate{}, false
	}
	first := window[0].Timestamp
	n := float64(len(window))
	var sumX, sumY, sumXY, sumXX float64
	for _, a := range window {
		x := a.Timestamp.Sub(first).Hours()
		y := metricValue(a, metric)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return model.TrendEstimate{}, false
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n
	return model.TrendEstimate{Slope: slope, Intercept: intercept}, true
}

// Analyze produces the full report for both metrics relative to now.
func Analyze(aggs []model.AggregateSnapshot, now time.Time) Report {
	var rep Report
	window := capWindow(aggs)
	if est, ok := Fit(window, model.MetricFiveHour); ok {
		v := est.Slope
		rep.TrendPerHour = &v
		rep.FiveHour = project(window, model.MetricFiveHour, est, now)
	}
	if est, ok := Fit(window, model.MetricSevenDay); ok {
		v := est.Slope * 24
		rep.TrendPerDay = &v
		rep.SevenDay = project(window, model.MetricSevenDay, est, now)
	}
	return rep
}

// project evaluates the fitted line at the metric's reset time. Absent when
// no reset time is known or the reset is not strictly in the future; a
// missing forecast is distinct from a zero one.
func project(window []model.AggregateSnapshot, metric model.Metric, est model.TrendEstimate, now time.Time) *model.Projection {
	reset, ok := aggregate.LatestReset(window, metric)
	if !ok || !reset.After(now) {
		return nil
	}
	first := window[0].Timestamp
	x := reset.Sub(first).Hours()
	value := model.ClampPct(est.Intercept + est.Slope*x)
	return &model.Projection{Metric: metric, Value: value, ResetTime: reset}
}

func capWindow(aggs []model.AggregateSnapshot) []model.AggregateSnapshot {
	if len(aggs) > MaxFitPoints {
		return aggs[len(aggs)-MaxFitPoints:]
	}
	return aggs
}

func metricValue(a model.AggregateSnapshot, metric model.Metric) float64 {
	if metric == model.MetricSevenDay {
		return a.SevenDayPct
	}
	return a.FiveHourPct
}

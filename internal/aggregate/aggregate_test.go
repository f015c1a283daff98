package aggregate

import (
	"testing"
	"time"

	"github.com/quotapace/quotapace/internal/model"
)

func ptrTime(t time.Time) *time.Time {
	return &t
}

func TestReduceAveragesAcrossKeys(t *testing.T) {
	now := time.Now().UTC()
	snap := model.Snapshot{
		Timestamp: now,
		Keys: map[string]model.KeyReading{
			"k1": {FiveHourPct: 40, SevenDayPct: 10},
			"k2": {FiveHourPct: 60, SevenDayPct: 30},
		},
	}
	agg, ok := Reduce(snap)
	if !ok {
		t.Fatalf("expected aggregate for two-key snapshot")
	}
	if agg.FiveHourPct != 50 {
		t.Fatalf("five-hour mean: got %v", agg.FiveHourPct)
	}
	if agg.SevenDayPct != 20 {
		t.Fatalf("seven-day mean: got %v", agg.SevenDayPct)
	}
	if !agg.Timestamp.Equal(now) {
		t.Fatalf("timestamp mismatch: %s", agg.Timestamp)
	}
}

func TestReduceZeroKeysYieldsNoAggregate(t *testing.T) {
	snap := model.Snapshot{Timestamp: time.Now().UTC(), Keys: map[string]model.KeyReading{}}
	if _, ok := Reduce(snap); ok {
		t.Fatalf("zero-key snapshot must not produce an aggregate")
	}
}

func TestReduceClampsOutOfRangeReadings(t *testing.T) {
	snap := model.Snapshot{
		Timestamp: time.Now().UTC(),
		Keys: map[string]model.KeyReading{
			"k1": {FiveHourPct: 150, SevenDayPct: -20},
		},
	}
	agg, ok := Reduce(snap)
	if !ok {
		t.Fatalf("expected aggregate")
	}
	if agg.FiveHourPct != 100 {
		t.Fatalf("expected clamp to 100, got %v", agg.FiveHourPct)
	}
	if agg.SevenDayPct != 0 {
		t.Fatalf("expected clamp to 0, got %v", agg.SevenDayPct)
	}
}

func TestReduceCarriesResetTimes(t *testing.T) {
	now := time.Now().UTC()
	reset := now.Add(3 * time.Hour)
	snap := model.Snapshot{
		Timestamp: now,
		Keys: map[string]model.KeyReading{
			"k1": {FiveHourPct: 10, FiveHourReset: &reset},
			"k2": {FiveHourPct: 20},
		},
	}
	agg, ok := Reduce(snap)
	if !ok {
		t.Fatalf("expected aggregate")
	}
	if agg.FiveHourReset == nil || !agg.FiveHourReset.Equal(reset) {
		t.Fatalf("reset time lost: %+v", agg.FiveHourReset)
	}
	if agg.SevenDayReset != nil {
		t.Fatalf("absent reset must stay nil")
	}
}

func TestReduceSeriesSkipsEmptySnapshots(t *testing.T) {
	now := time.Now().UTC()
	snaps := []model.Snapshot{
		{Timestamp: now, Keys: map[string]model.KeyReading{"k1": {FiveHourPct: 10}}},
		{Timestamp: now.Add(time.Minute), Keys: map[string]model.KeyReading{}},
		{Timestamp: now.Add(2 * time.Minute), Keys: map[string]model.KeyReading{"k1": {FiveHourPct: 20}}},
	}
	aggs := ReduceSeries(snaps)
	if len(aggs) != 2 {
		t.Fatalf("expected 2 aggregates, got %d", len(aggs))
	}
}

func TestLatestResetScansNewestFirst(t *testing.T) {
	now := time.Now().UTC()
	older := now.Add(time.Hour)
	newer := now.Add(2 * time.Hour)
	aggs := []model.AggregateSnapshot{
		{Timestamp: now, FiveHourReset: ptrTime(older)},
		{Timestamp: now.Add(time.Minute), FiveHourReset: ptrTime(newer)},
		{Timestamp: now.Add(2 * time.Minute)},
	}
	reset, ok := LatestReset(aggs, model.MetricFiveHour)
	if !ok {
		t.Fatalf("expected a reset time")
	}
	if !reset.Equal(newer) {
		t.Fatalf("expected newest non-nil reset, got %s", reset)
	}
	if _, ok := LatestReset(aggs, model.MetricSevenDay); ok {
		t.Fatalf("no seven-day reset was reported anywhere")
	}
}

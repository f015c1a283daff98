// Package schedule turns task definitions, last-run timestamps, and effective
// cooldowns into next-run times. Pure read-side computation: the registry
// never mutates last-run state; that belongs to the task runner.
package schedule

import (
	"sort"
	"time"

	"github.com/quotapace/quotapace/internal/cooldown"
	"github.com/quotapace/quotapace/internal/model"
)

type Registry struct {
	tasks []model.TaskDefinition
}

func NewRegistry(tasks []model.TaskDefinition) *Registry {
	sorted := make([]model.TaskDefinition, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	return &Registry{tasks: sorted}
}

// Tasks returns the registered definitions in name order.
func (r *Registry) Tasks() []model.TaskDefinition {
	out := make([]model.TaskDefinition, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// Entries computes the schedule for every registered task. Event-triggered
// tasks get nil NextRun and SecondsUntilNext; interval tasks without a
// last run are immediately eligible.
func (r *Registry) Entries(now time.Time, lastRuns map[string]*time.Time, rec cooldown.Record) []model.ScheduleEntry {
	entries := make([]model.ScheduleEntry, 0, len(r.tasks))
	for _, task := range r.tasks {
		entry := model.ScheduleEntry{
			TaskName:       task.Name,
			Trigger:        task.Trigger,
			DefaultMinutes: task.DefaultMinutes,
			LastRun:        lastRuns[task.Name],
		}
		if !task.Interval() {
			entries = append(entries, entry)
			continue
		}
		entry.EffectiveMinutes = effectiveFor(task, rec)
		if entry.LastRun == nil {
			zero := int64(0)
			entry.SecondsUntilNext = &zero
			entries = append(entries, entry)
			continue
		}
		next := entry.LastRun.Add(time.Duration(entry.EffectiveMinutes) * time.Minute)
		entry.NextRun = &next
		secs := int64(next.Sub(now).Seconds())
		if secs < 0 {
			secs = 0
		}
		entry.SecondsUntilNext = &secs
		entries = append(entries, entry)
	}
	return entries
}

// effectiveFor resolves the interval via the fallback chain: effective
// cooldown for the key, then the recorded default, then the task's own
// default minutes.
func effectiveFor(task model.TaskDefinition, rec cooldown.Record) int {
	if minutes, ok := rec.Effective[task.CooldownKey]; ok {
		return minutes
	}
	if minutes, ok := rec.Defaults[task.CooldownKey]; ok {
		return minutes
	}
	return task.DefaultMinutes
}

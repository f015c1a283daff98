package schedule

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quotapace/quotapace/internal/model"
)

// DefaultTasks is the built-in automation task table. Interval tasks carry a
// cooldown key; event-triggered tasks are dispatched by their external
// trigger and never interval-scheduled.
func DefaultTasks() []model.TaskDefinition {
	return []model.TaskDefinition{
		{Name: "backlog-groom", Trigger: model.TriggerContinuous, CooldownKey: "backlog_groom", DefaultMinutes: 240},
		{Name: "dep-audit", Trigger: model.TriggerContinuous, CooldownKey: "dep_audit", DefaultMinutes: 360},
		{Name: "doc-sync", Trigger: model.TriggerContinuous, CooldownKey: "doc_sync", DefaultMinutes: 120},
		{Name: "test-sweep", Trigger: model.TriggerContinuous, CooldownKey: "test_sweep", DefaultMinutes: 90},
		{Name: "changelog", Trigger: model.TriggerCommit},
		{Name: "context-refresh", Trigger: model.TriggerPrompt},
		{Name: "lint-watch", Trigger: model.TriggerFileChange},
	}
}

// DefaultCooldowns extracts the cooldown-key → default-minutes table from a
// task list.
func DefaultCooldowns(tasks []model.TaskDefinition) map[string]int {
	out := map[string]int{}
	for _, t := range tasks {
		if t.Interval() {
			out[t.CooldownKey] = t.DefaultMinutes
		}
	}
	return out
}

type taskFile struct {
	Tasks []taskEntry `yaml:"tasks"`
}

type taskEntry struct {
	Name           string `yaml:"name"`
	Trigger        string `yaml:"trigger"`
	CooldownKey    string `yaml:"cooldown_key"`
	DefaultMinutes int    `yaml:"default_minutes"`
}

var validTriggers = map[model.TriggerKind]bool{
	model.TriggerContinuous: true,
	model.TriggerCommit:     true,
	model.TriggerPrompt:     true,
	model.TriggerFileChange: true,
}

// LoadTasks reads task definitions from a YAML file. An absent file yields
// the built-in table; a present but unusable file is an error since task
// configuration is operator intent, not best-effort telemetry.
func LoadTasks(path string) ([]model.TaskDefinition, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultTasks(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	var f taskFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse task file: %w", err)
	}
	if len(f.Tasks) == 0 {
		return DefaultTasks(), nil
	}
	tasks := make([]model.TaskDefinition, 0, len(f.Tasks))
	for _, e := range f.Tasks {
		trigger := model.TriggerKind(e.Trigger)
		if e.Name == "" || !validTriggers[trigger] {
			return nil, fmt.Errorf("task file: invalid entry %q trigger %q", e.Name, e.Trigger)
		}
		if e.CooldownKey != "" && e.DefaultMinutes < 1 {
			return nil, fmt.Errorf("task file: interval task %q needs default_minutes >= 1", e.Name)
		}
		tasks = append(tasks, model.TaskDefinition{
			Name:           e.Name,
			Trigger:        trigger,
			CooldownKey:    e.CooldownKey,
			DefaultMinutes: e.DefaultMinutes,
		})
	}
	return tasks, nil
}

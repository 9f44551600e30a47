package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"siegebot/internal/core"
)

// TaskDefinition is one [[task]] entry in the tasks file. The params table
// stays undecoded here; each task factory decodes it into its own typed
// struct.
type TaskDefinition struct {
	ID   string `toml:"id"`
	Kind string `toml:"kind"`

	Enabled *bool `toml:"enabled"`

	IntervalHours   int    `toml:"interval_hours"`
	IntervalMinutes int    `toml:"interval_minutes"`
	Cron            string `toml:"cron"`
	StartTime       string `toml:"start_time"`
	EndTime         string `toml:"end_time"`

	Priority            int `toml:"priority"`
	MaxRetries          int `toml:"max_retries"`
	RetryDelayMinutes   int `toml:"retry_delay_minutes"`
	MaxExecutionSeconds int `toml:"max_execution_seconds"`

	Params toml.Primitive `toml:"params"`
}

type tasksFile struct {
	Task []TaskDefinition `toml:"task"`
}

// LoadTasks parses the tasks file. The returned metadata is needed to decode
// each definition's params table later.
func LoadTasks(path string) ([]TaskDefinition, *toml.MetaData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read tasks file: %w", err)
	}
	var f tasksFile
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, nil, fmt.Errorf("parse tasks file: %w", err)
	}
	seen := make(map[string]bool, len(f.Task))
	for i := range f.Task {
		def := &f.Task[i]
		if def.Kind == "" {
			return nil, nil, fmt.Errorf("task %d: kind is required", i)
		}
		if def.ID == "" {
			def.ID = def.Kind
		}
		if seen[def.ID] {
			return nil, nil, fmt.Errorf("duplicate task id %q", def.ID)
		}
		seen[def.ID] = true
		applyDefaults(def)
	}
	return f.Task, &md, nil
}

func applyDefaults(def *TaskDefinition) {
	if def.Priority == 0 {
		def.Priority = 5
	}
	if def.MaxRetries == 0 {
		def.MaxRetries = 3
	}
	if def.RetryDelayMinutes == 0 {
		def.RetryDelayMinutes = 10
	}
	if def.MaxExecutionSeconds == 0 {
		def.MaxExecutionSeconds = 120
	}
}

// CoreConfig maps the definition onto the engine's task configuration.
func (d TaskDefinition) CoreConfig() core.TaskConfig {
	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}
	return core.TaskConfig{
		Enabled:             enabled,
		IntervalHours:       d.IntervalHours,
		IntervalMinutes:     d.IntervalMinutes,
		Cron:                d.Cron,
		StartTime:           d.StartTime,
		EndTime:             d.EndTime,
		Priority:            d.Priority,
		MaxRetries:          d.MaxRetries,
		RetryDelayMinutes:   d.RetryDelayMinutes,
		MaxExecutionSeconds: d.MaxExecutionSeconds,
	}
}

// ParamsDecoder returns the decode function a task factory uses to read its
// typed parameters from this definition.
func (d TaskDefinition) ParamsDecoder(md *toml.MetaData) func(v any) error {
	return func(v any) error {
		return md.PrimitiveDecode(d.Params, v)
	}
}

package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the trigger file layout. JSON files are read through the same
// YAML decoder.
type Config struct {
	IOTriggers        []ioTriggerConfig        `json:"io_triggers" yaml:"io_triggers"`
	ScheduledTriggers []scheduledTriggerConfig `json:"scheduled_triggers" yaml:"scheduled_triggers"`
}

type ioTriggerConfig struct {
	Name            string      `json:"name" yaml:"name"`
	Type            TriggerType `json:"type" yaml:"type"`
	Endpoint        string      `json:"endpoint" yaml:"endpoint"`
	Program         string      `json:"program" yaml:"program"`
	Priority        Priority    `json:"priority,omitempty" yaml:"priority,omitempty"`
	Enabled         *bool       `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	DebounceMs      int64       `json:"debounce_ms,omitempty" yaml:"debounce_ms,omitempty"`
	Threshold       any         `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	ThresholdRising *bool       `json:"threshold_rising,omitempty" yaml:"threshold_rising,omitempty"`
}

type scheduleConfig struct {
	Hour   *int  `json:"hour,omitempty" yaml:"hour,omitempty"`
	Minute *int  `json:"minute,omitempty" yaml:"minute,omitempty"`
	Days   []int `json:"days,omitempty" yaml:"days,omitempty"`
	Months []int `json:"months,omitempty" yaml:"months,omitempty"`
}

type scheduledTriggerConfig struct {
	Name     string         `json:"name" yaml:"name"`
	Program  string         `json:"program" yaml:"program"`
	Priority Priority       `json:"priority,omitempty" yaml:"priority,omitempty"`
	Enabled  *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Schedule scheduleConfig `json:"schedule" yaml:"schedule"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func intPtr(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

func boolPtr(v bool) *bool {
	return &v
}

// LoadConfig adds every trigger in data. Triggers with the same name are
// replaced. The first invalid trigger aborts the load.
func (m *Manager) LoadConfig(data []byte) error {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("invalid event config: %v: %w", err, types.ErrInvalidConfig)
	}

	for _, t := range cfg.IOTriggers {
		err := m.AddIOTrigger(IOTrigger{
			Name:            t.Name,
			Type:            t.Type,
			Endpoint:        t.Endpoint,
			Program:         t.Program,
			Priority:        t.Priority,
			Enabled:         boolOr(t.Enabled, true),
			DebounceMs:      t.DebounceMs,
			Threshold:       t.Threshold,
			ThresholdRising: boolOr(t.ThresholdRising, true),
		})
		if err != nil {
			return err
		}
	}

	for _, t := range cfg.ScheduledTriggers {
		err := m.AddScheduledTrigger(ScheduledTrigger{
			Name:     t.Name,
			Program:  t.Program,
			Priority: t.Priority,
			Enabled:  boolOr(t.Enabled, true),
			Hour:     intOr(t.Schedule.Hour, -1),
			Minute:   intOr(t.Schedule.Minute, -1),
			Days:     t.Schedule.Days,
			Months:   t.Schedule.Months,
		})
		if err != nil {
			return err
		}
	}

	m.logger.Info("Event config loaded",
		zap.Int("io_triggers", len(cfg.IOTriggers)),
		zap.Int("scheduled_triggers", len(cfg.ScheduledTriggers)))
	return nil
}

func (m *Manager) LoadConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read event config: %w", err)
	}
	return m.LoadConfig(data)
}

// Config returns the current triggers in file layout.
func (m *Manager) Config() Config {
	var cfg Config
	for _, t := range m.IOTriggers() {
		entry := ioTriggerConfig{
			Name:       t.Name,
			Type:       t.Type,
			Endpoint:   t.Endpoint,
			Program:    t.Program,
			Priority:   t.Priority,
			Enabled:    boolPtr(t.Enabled),
			DebounceMs: t.DebounceMs,
		}
		if t.Type == ValueThreshold {
			entry.Threshold = t.Threshold
			entry.ThresholdRising = boolPtr(t.ThresholdRising)
		}
		cfg.IOTriggers = append(cfg.IOTriggers, entry)
	}
	for _, t := range m.ScheduledTriggers() {
		cfg.ScheduledTriggers = append(cfg.ScheduledTriggers, scheduledTriggerConfig{
			Name:     t.Name,
			Program:  t.Program,
			Priority: t.Priority,
			Enabled:  boolPtr(t.Enabled),
			Schedule: scheduleConfig{
				Hour:   intPtr(t.Hour),
				Minute: intPtr(t.Minute),
				Days:   t.Days,
				Months: t.Months,
			},
		})
	}
	return cfg
}

// SaveConfigFile writes the triggers as JSON when path ends in .json and as
// YAML otherwise.
func (m *Manager) SaveConfigFile(path string) error {
	cfg := m.Config()

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to encode event config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write event config: %w", err)
	}

	m.logger.Info("Event config saved", zap.String("path", path))
	return nil
}

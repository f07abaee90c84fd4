package events

import (
	"fmt"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
)

type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityCritical Priority = "critical"
)

// TriggerType selects the endpoint condition an I/O trigger reacts to.
type TriggerType string

const (
	InputChanged   TriggerType = "input_changed"
	InputOffline   TriggerType = "input_offline"
	InputOnline    TriggerType = "input_online"
	OutputError    TriggerType = "output_error"
	ValueThreshold TriggerType = "value_threshold"
)

// Record kinds that do not come from an I/O trigger.
const (
	KindScheduled        = "scheduled_time"
	KindWatchdogExceeded = "watchdog_exceeded"
	KindProgramError     = "program_error"
)

func (t TriggerType) valid() bool {
	switch t {
	case InputChanged, InputOffline, InputOnline, OutputError, ValueThreshold:
		return true
	}
	return false
}

// IOTrigger starts a program when an endpoint changes.
type IOTrigger struct {
	Name            string      `json:"name" yaml:"name"`
	Type            TriggerType `json:"type" yaml:"type"`
	Endpoint        string      `json:"endpoint" yaml:"endpoint"`
	Program         string      `json:"program" yaml:"program"`
	Priority        Priority    `json:"priority" yaml:"priority"`
	Enabled         bool        `json:"enabled" yaml:"enabled"`
	DebounceMs      int64       `json:"debounce_ms" yaml:"debounce_ms"`
	Threshold       any         `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	ThresholdRising bool        `json:"threshold_rising" yaml:"threshold_rising"`
}

// ScheduledTrigger starts a program at matching wall clock minutes. Hour and
// Minute of -1 match any value; empty Days (1=Mon..7=Sun) and Months match all.
type ScheduledTrigger struct {
	Name     string   `json:"name" yaml:"name"`
	Program  string   `json:"program" yaml:"program"`
	Priority Priority `json:"priority" yaml:"priority"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Hour     int      `json:"hour" yaml:"hour"`
	Minute   int      `json:"minute" yaml:"minute"`
	Days     []int    `json:"days,omitempty" yaml:"days,omitempty"`
	Months   []int    `json:"months,omitempty" yaml:"months,omitempty"`
}

// Record is one entry of the event history.
type Record struct {
	ID          string   `json:"id"`
	Trigger     string   `json:"trigger"`
	Program     string   `json:"program"`
	Priority    Priority `json:"priority"`
	TimestampMs int64    `json:"timestamp_ms"`
	Kind        string   `json:"type"`
	Details     string   `json:"details"`
	Published   bool     `json:"published"`
}

type Stats struct {
	Total       uint64 `json:"total"`
	Critical    uint64 `json:"critical"`
	Normal      uint64 `json:"normal"`
	Unread      int    `json:"unread"`
	LastEventMs int64  `json:"last_event_ms"`
}

func normalizePriority(p Priority) Priority {
	if p == PriorityCritical {
		return p
	}
	return PriorityNormal
}

// ioState is the per-trigger change tracking kept next to the config.
type ioState struct {
	IOTrigger
	threshold   value.Value
	hasLast     bool
	last        value.Value
	matched     bool
	lastFiredMs int64
	fired       bool
}

func newIOState(t IOTrigger) (*ioState, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("io trigger name is empty: %w", types.ErrInvalidConfig)
	}
	if !t.Type.valid() {
		return nil, fmt.Errorf("io trigger %s: unknown type %q: %w", t.Name, t.Type, types.ErrInvalidConfig)
	}
	if t.Endpoint == "" {
		return nil, fmt.Errorf("io trigger %s: endpoint is empty: %w", t.Name, types.ErrInvalidConfig)
	}
	t.Priority = normalizePriority(t.Priority)

	s := &ioState{IOTrigger: t}
	if t.Type == ValueThreshold {
		if t.Threshold == nil {
			return nil, fmt.Errorf("io trigger %s: threshold is required: %w", t.Name, types.ErrInvalidConfig)
		}
		v, err := value.FromJSON(t.Threshold)
		if err != nil {
			return nil, fmt.Errorf("io trigger %s: %w", t.Name, err)
		}
		s.threshold = v
	}
	return s, nil
}

type scheduledState struct {
	ScheduledTrigger
	lastMinute int64
}

func newScheduledState(t ScheduledTrigger) (*scheduledState, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("scheduled trigger name is empty: %w", types.ErrInvalidConfig)
	}
	if t.Hour < -1 || t.Hour > 23 || t.Minute < -1 || t.Minute > 59 {
		return nil, fmt.Errorf("scheduled trigger %s: time %d:%d out of range: %w",
			t.Name, t.Hour, t.Minute, types.ErrInvalidConfig)
	}
	for _, d := range t.Days {
		if d < 1 || d > 7 {
			return nil, fmt.Errorf("scheduled trigger %s: day %d out of range: %w", t.Name, d, types.ErrInvalidConfig)
		}
	}
	for _, m := range t.Months {
		if m < 1 || m > 12 {
			return nil, fmt.Errorf("scheduled trigger %s: month %d out of range: %w", t.Name, m, types.ErrInvalidConfig)
		}
	}
	t.Priority = normalizePriority(t.Priority)
	return &scheduledState{ScheduledTrigger: t, lastMinute: -1}, nil
}

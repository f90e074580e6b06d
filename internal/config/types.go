// Package config loads and watches the taskassistant configuration file.
//
// YAML and JSON are both accepted; YAML is coerced to JSON so one strict
// decoder (DisallowUnknownFields) validates both formats.
package config

import (
	"fmt"
	"strings"
	"time"

	"taskassistant/internal/recurrence"
)

type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Registry RegistryConfig  `json:"registry"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Metrics  *MetricsConfig  `json:"metrics,omitempty"`
	Tasks    []TaskConfig    `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// RegistryConfig controls the task registry's refresh sweep.
type RegistryConfig struct {
	// RefreshEvery is a Go duration string (e.g. "30s", "5m"). Defaults to 30s.
	RefreshEvery string `json:"refresh_every,omitempty"`
	// Timezone is the IANA zone for the sweep schedule (not for task
	// arithmetic — task timestamps are already localized).
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./taskassistant_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifierConfig controls overdue alerts.
type NotifierConfig struct {
	Enabled     bool   `json:"enabled"`
	Token       string `json:"token,omitempty"`   // telegram bot token
	ChatID      int64  `json:"chat_id,omitempty"` // telegram chat to alert
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"` // Go duration string
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
}

// TaskConfig is one task definition.
//
// Kind selects the recurrence behavior (after/every/scheduled). Older
// definitions used after_finished instead of kind; both are accepted, kind
// wins when present.
type TaskConfig struct {
	// ID defaults to a slug of Name. It keys persistence and service actions,
	// so give long-lived tasks an explicit stable id.
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`

	Kind      string `json:"kind,omitempty"`
	Frequency string `json:"frequency,omitempty"` // default "days"
	Period    int    `json:"period,omitempty"`    // default 1

	ScheduleOrdinal int    `json:"schedule_ordinal,omitempty"`
	ScheduleWeekday string `json:"schedule_weekday,omitempty"` // mon..sun

	OffsetDays    int   `json:"offset_days,omitempty"`
	AfterFinished *bool `json:"after_finished,omitempty"` // default true

	// StartDate anchors the schedule: RFC 3339 or plain "2006-01-02".
	StartDate string `json:"start_date"`
}

const (
	defaultFrequency = "days"
	defaultPeriod    = 1
	maxPeriod        = 1000
)

// EffectiveID returns the explicit id or a slug derived from the name.
func (t TaskConfig) EffectiveID() string {
	if id := strings.TrimSpace(t.ID); id != "" {
		return id
	}
	return Slug(t.Name)
}

// Slug normalizes a task name into a stable identifier: lowercase, runs of
// non-alphanumerics collapsed to single underscores.
func Slug(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return b.String()
}

// Rule converts the definition into an evaluator rule, applying the
// documented defaults (frequency days, period 1, after_finished true).
func (t TaskConfig) Rule() (recurrence.Rule, error) {
	kind, err := recurrence.ParseKind(t.Kind)
	if err != nil {
		return recurrence.Rule{}, err
	}

	freqRaw := t.Frequency
	if strings.TrimSpace(freqRaw) == "" {
		freqRaw = defaultFrequency
	}
	freq, err := recurrence.ParseFrequency(freqRaw)
	if err != nil {
		return recurrence.Rule{}, err
	}

	period := t.Period
	if period == 0 {
		period = defaultPeriod
	}
	if period < 1 || period > maxPeriod {
		return recurrence.Rule{}, fmt.Errorf("%w: period %d out of range [1..%d]",
			recurrence.ErrInvalidRule, period, maxPeriod)
	}

	afterFinished := true
	if t.AfterFinished != nil {
		afterFinished = *t.AfterFinished
	}

	rule := recurrence.Rule{
		Kind:          kind,
		Frequency:     freq,
		Period:        period,
		OffsetDays:    t.OffsetDays,
		AfterFinished: afterFinished,
	}
	if kind == recurrence.KindScheduledWeekday {
		wd, err := recurrence.ParseWeekday(t.ScheduleWeekday)
		if err != nil {
			return recurrence.Rule{}, err
		}
		rule.ScheduleWeekday = wd
		rule.ScheduleOrdinal = t.ScheduleOrdinal
	}
	if err := rule.Validate(); err != nil {
		return recurrence.Rule{}, err
	}
	return rule, nil
}

// Start parses the start_date field. Both RFC 3339 and date-only values are
// accepted; date-only anchors at midnight local to the daemon.
func (t TaskConfig) Start() (time.Time, error) {
	raw := strings.TrimSpace(t.StartDate)
	if raw == "" {
		return time.Time{}, fmt.Errorf("task %q: start_date is required", t.Name)
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("task %q: invalid start_date %q (want RFC 3339 or YYYY-MM-DD)", t.Name, raw)
	}
	return ts, nil
}

// Validate checks the whole config for load-time errors: malformed task
// definitions, duplicate ids, bad durations.
func (c *Config) Validate() error {
	if _, err := ParseDurationOrDefault("registry.refresh_every", c.Registry.RefreshEvery, 30*time.Second); err != nil {
		return err
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Notifier != nil {
		if _, err := ParseDurationField("notifier.dedup_window", c.Notifier.DedupWindow); err != nil {
			return err
		}
		if c.Notifier.Enabled && strings.TrimSpace(c.Notifier.Token) == "" {
			return fmt.Errorf("notifier.token is required when the notifier is enabled")
		}
	}

	seen := make(map[string]struct{}, len(c.Tasks))
	for i, tc := range c.Tasks {
		if strings.TrimSpace(tc.Name) == "" {
			return fmt.Errorf("tasks[%d]: name is required", i)
		}
		id := tc.EffectiveID()
		if id == "" {
			return fmt.Errorf("tasks[%d] (%q): empty id after normalization", i, tc.Name)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("tasks[%d] (%q): duplicate task id %q", i, tc.Name, id)
		}
		seen[id] = struct{}{}
		if _, err := tc.Rule(); err != nil {
			return fmt.Errorf("tasks[%d] (%q): %w", i, tc.Name, err)
		}
		if _, err := tc.Start(); err != nil {
			return fmt.Errorf("tasks[%d]: %w", i, err)
		}
	}
	return nil
}

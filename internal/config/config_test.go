package config

import (
	"strings"
	"testing"
	"time"

	"taskassistant/internal/recurrence"
)

func TestSlug(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Water Plants", "water_plants"},
		{"  Clean -- the  Fridge!  ", "clean_the_fridge"},
		{"already_slugged", "already_slugged"},
		{"A1 b2", "a1_b2"},
		{"---", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Slug(tc.in); got != tc.want {
			t.Errorf("Slug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTaskConfigEffectiveID(t *testing.T) {
	t.Parallel()

	tc := TaskConfig{Name: "Water Plants"}
	if got := tc.EffectiveID(); got != "water_plants" {
		t.Fatalf("EffectiveID() = %q, want %q", got, "water_plants")
	}
	tc.ID = " explicit-id "
	if got := tc.EffectiveID(); got != "explicit-id" {
		t.Fatalf("EffectiveID() = %q, want explicit id to win", got)
	}
}

func TestTaskConfigRuleDefaults(t *testing.T) {
	t.Parallel()

	rule, err := TaskConfig{Name: "x", StartDate: "2024-01-01"}.Rule()
	if err != nil {
		t.Fatalf("Rule() error: %v", err)
	}
	if rule.Frequency != recurrence.FreqDays {
		t.Errorf("default frequency = %q, want days", rule.Frequency)
	}
	if rule.Period != 1 {
		t.Errorf("default period = %d, want 1", rule.Period)
	}
	if !rule.AfterFinished {
		t.Error("default after_finished should be true")
	}
	if rule.EffectiveKind() != recurrence.KindAfterCompletion {
		t.Errorf("default kind = %q, want after", rule.EffectiveKind())
	}
}

func TestTaskConfigRuleLegacySelector(t *testing.T) {
	t.Parallel()

	f := false
	rule, err := TaskConfig{Name: "x", AfterFinished: &f}.Rule()
	if err != nil {
		t.Fatalf("Rule() error: %v", err)
	}
	if rule.EffectiveKind() != recurrence.KindFixedInterval {
		t.Errorf("after_finished=false kind = %q, want every", rule.EffectiveKind())
	}

	// kind wins over after_finished when both are present
	rule, err = TaskConfig{Name: "x", Kind: "after", AfterFinished: &f}.Rule()
	if err != nil {
		t.Fatalf("Rule() error: %v", err)
	}
	if rule.EffectiveKind() != recurrence.KindAfterCompletion {
		t.Errorf("explicit kind = %q, want after", rule.EffectiveKind())
	}
}

func TestTaskConfigRuleScheduled(t *testing.T) {
	t.Parallel()

	rule, err := TaskConfig{
		Name:            "bins",
		Kind:            "scheduled",
		Frequency:       "months",
		ScheduleOrdinal: -1,
		ScheduleWeekday: "fri",
	}.Rule()
	if err != nil {
		t.Fatalf("Rule() error: %v", err)
	}
	if rule.ScheduleWeekday != time.Friday {
		t.Errorf("weekday = %v, want Friday", rule.ScheduleWeekday)
	}
	if rule.ScheduleOrdinal != -1 {
		t.Errorf("ordinal = %d, want -1", rule.ScheduleOrdinal)
	}
}

func TestTaskConfigRuleErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		tc   TaskConfig
	}{
		{"bad kind", TaskConfig{Name: "x", Kind: "sometimes"}},
		{"bad frequency", TaskConfig{Name: "x", Frequency: "fortnights"}},
		{"negative period", TaskConfig{Name: "x", Period: -2}},
		{"period too large", TaskConfig{Name: "x", Period: maxPeriod + 1}},
		{"scheduled missing weekday", TaskConfig{Name: "x", Kind: "scheduled", ScheduleOrdinal: 1}},
		{"scheduled bad ordinal", TaskConfig{Name: "x", Kind: "scheduled", ScheduleOrdinal: 0, ScheduleWeekday: "mon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := tc.tc.Rule(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestTaskConfigStart(t *testing.T) {
	t.Parallel()

	ts, err := TaskConfig{Name: "x", StartDate: "2024-02-29T09:30:00+01:00"}.Start()
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if ts.Hour() != 9 || ts.Minute() != 30 {
		t.Errorf("RFC 3339 time of day lost: got %v", ts)
	}

	ts, err = TaskConfig{Name: "x", StartDate: "2024-02-29"}.Start()
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if ts.Year() != 2024 || ts.Month() != time.February || ts.Day() != 29 {
		t.Errorf("date-only parse: got %v", ts)
	}
	if ts.Location() != time.Local {
		t.Errorf("date-only should anchor in local zone, got %v", ts.Location())
	}

	if _, err := (TaskConfig{Name: "x"}).Start(); err == nil {
		t.Error("empty start_date should error")
	}
	if _, err := (TaskConfig{Name: "x", StartDate: "29/02/2024"}).Start(); err == nil {
		t.Error("unsupported date layout should error")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			Tasks: []TaskConfig{
				{Name: "Water Plants", StartDate: "2024-01-01"},
				{Name: "Take Out Bins", Kind: "scheduled", Frequency: "months",
					ScheduleOrdinal: 1, ScheduleWeekday: "mon", StartDate: "2024-01-01"},
			},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			"bad refresh_every",
			func(c *Config) { c.Registry.RefreshEvery = "soon" },
			"refresh_every",
		},
		{
			"bad busy_timeout",
			func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite", BusyTimeout: "-1s"} },
			"busy_timeout",
		},
		{
			"notifier enabled without token",
			func(c *Config) { c.Notifier = &NotifierConfig{Enabled: true} },
			"notifier.token",
		},
		{
			"missing task name",
			func(c *Config) { c.Tasks[0].Name = "  " },
			"name is required",
		},
		{
			"duplicate id",
			func(c *Config) { c.Tasks[1] = c.Tasks[0] },
			"duplicate task id",
		},
		{
			"id normalizes to same slug",
			func(c *Config) { c.Tasks[1].Name = "water  PLANTS"; c.Tasks[1].Kind = "" },
			"duplicate task id",
		},
		{
			"bad task rule",
			func(c *Config) { c.Tasks[0].Frequency = "eons" },
			"Water Plants",
		},
		{
			"bad start_date",
			func(c *Config) { c.Tasks[0].StartDate = "yesterday" },
			"start_date",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

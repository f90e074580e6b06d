package recurrence

import (
	"errors"
	"testing"
	"time"
)

func TestEffectiveKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rule Rule
		want Kind
	}{
		{name: "explicit kind wins", rule: Rule{Kind: KindScheduledWeekday, AfterFinished: true}, want: KindScheduledWeekday},
		{name: "legacy after_finished true", rule: Rule{AfterFinished: true}, want: KindAfterCompletion},
		{name: "legacy after_finished false", rule: Rule{}, want: KindFixedInterval},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.EffectiveKind(); got != tt.want {
				t.Fatalf("EffectiveKind = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseWeekday(t *testing.T) {
	t.Parallel()
	got, err := ParseWeekday(" Fri ")
	if err != nil {
		t.Fatalf("ParseWeekday error: %v", err)
	}
	if got != time.Friday {
		t.Fatalf("ParseWeekday = %v, want Friday", got)
	}
	if _, err := ParseWeekday("friday"); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule for long day name, got %v", err)
	}
}

func TestParseKindAndFrequency(t *testing.T) {
	t.Parallel()
	k, err := ParseKind("Scheduled")
	if err != nil || k != KindScheduledWeekday {
		t.Fatalf("ParseKind = %q, %v", k, err)
	}
	if k, err := ParseKind(""); err != nil || k != "" {
		t.Fatalf("ParseKind(\"\") = %q, %v; want empty kind for legacy definitions", k, err)
	}
	if _, err := ParseKind("sometimes"); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}

	f, err := ParseFrequency("WEEKS")
	if err != nil || f != FreqWeeks {
		t.Fatalf("ParseFrequency = %q, %v", f, err)
	}
	if _, err := ParseFrequency("minutes"); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}

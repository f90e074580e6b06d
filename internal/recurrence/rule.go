package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRule marks a rule that cannot be evaluated (unknown kind or
// frequency, zero ordinal, non-positive period). It is fatal for the task's
// refresh and is never silently defaulted away.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// Kind selects how the next due date is derived.
type Kind string

const (
	// KindAfterCompletion bases the next due date purely on the latest
	// completion ("after 7 days").
	KindAfterCompletion Kind = "after"
	// KindFixedInterval keeps a fixed anchor and stays locked to the original
	// cadence regardless of when completions actually happen ("every 7 days").
	KindFixedInterval Kind = "every"
	// KindScheduledWeekday resolves the nth weekday of a month
	// ("2nd Tuesday", "last Friday").
	KindScheduledWeekday Kind = "scheduled"
)

// Frequency is the unit the period multiplies.
type Frequency string

const (
	FreqHours  Frequency = "hours"
	FreqDays   Frequency = "days"
	FreqWeeks  Frequency = "weeks"
	FreqMonths Frequency = "months"
	FreqYears  Frequency = "years"
)

// Rule is the immutable per-task recurrence configuration.
//
// Kind is authoritative when set. AfterFinished exists because older task
// definitions selected the behavior with a boolean instead of a kind; when
// Kind is empty, AfterFinished=true means KindAfterCompletion and false means
// KindFixedInterval.
type Rule struct {
	Kind      Kind
	Frequency Frequency
	Period    int

	// ScheduleOrdinal and ScheduleWeekday apply only to KindScheduledWeekday.
	// Positive ordinals count from the start of the month, negative from the
	// end (-1 = last). Zero is invalid.
	ScheduleOrdinal int
	ScheduleWeekday time.Weekday

	// OffsetDays is a flat day shift applied after the base computation,
	// regardless of kind. May be zero or negative.
	OffsetDays int

	AfterFinished bool
}

// EffectiveKind resolves the legacy AfterFinished boolean into a Kind.
func (r Rule) EffectiveKind() Kind {
	if r.Kind != "" {
		return r.Kind
	}
	if r.AfterFinished {
		return KindAfterCompletion
	}
	return KindFixedInterval
}

// Validate reports whether the rule can be evaluated at all.
func (r Rule) Validate() error {
	if r.Period < 1 {
		return fmt.Errorf("%w: period %d, must be >= 1", ErrInvalidRule, r.Period)
	}
	switch r.Frequency {
	case FreqHours, FreqDays, FreqWeeks, FreqMonths, FreqYears:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, string(r.Frequency))
	}
	switch r.EffectiveKind() {
	case KindAfterCompletion, KindFixedInterval:
	case KindScheduledWeekday:
		if r.ScheduleOrdinal == 0 {
			return fmt.Errorf("%w: schedule ordinal must not be zero", ErrInvalidRule)
		}
		if r.ScheduleOrdinal > 5 || r.ScheduleOrdinal < -4 {
			return fmt.Errorf("%w: schedule ordinal %d out of range [-4..5]", ErrInvalidRule, r.ScheduleOrdinal)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, string(r.Kind))
	}
	return nil
}

// ParseKind maps a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindAfterCompletion:
		return KindAfterCompletion, nil
	case KindFixedInterval:
		return KindFixedInterval, nil
	case KindScheduledWeekday:
		return KindScheduledWeekday, nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, s)
	}
}

// ParseFrequency maps a config string to a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(strings.ToLower(strings.TrimSpace(s))) {
	case FreqHours:
		return FreqHours, nil
	case FreqDays:
		return FreqDays, nil
	case FreqWeeks:
		return FreqWeeks, nil
	case FreqMonths:
		return FreqMonths, nil
	case FreqYears:
		return FreqYears, nil
	default:
		return "", fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, s)
	}
}

// ParseWeekday maps the short day names used in task definitions (mon..sun)
// to a time.Weekday.
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mon":
		return time.Monday, nil
	case "tue":
		return time.Tuesday, nil
	case "wed":
		return time.Wednesday, nil
	case "thu":
		return time.Thursday, nil
	case "fri":
		return time.Friday, nil
	case "sat":
		return time.Saturday, nil
	case "sun":
		return time.Sunday, nil
	default:
		return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidRule, s)
	}
}

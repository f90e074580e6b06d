package recurrence

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnresolvableSchedule is returned when a scheduled-weekday search finds no
// occurrence within the bounded month window. Callers normally treat it as
// "no upcoming due date" rather than a hard failure.
var ErrUnresolvableSchedule = errors.New("no resolvable occurrence within search window")

// monthSearchLimit bounds the scheduled-weekday month walk so a misconfigured
// rule surfaces as ErrUnresolvableSchedule instead of looping forever.
const monthSearchLimit = 24

// NextDue computes the next occurrence for rule.
//
// It is a pure function: same inputs always yield the same result, and none of
// the inputs are mutated. startDate supplies the fixed-interval anchor and the
// time-of-day for scheduled rules; lastCompleted is the most recent real
// completion; now is the caller-injected reference clock.
func NextDue(rule Rule, startDate, lastCompleted, now time.Time) (time.Time, error) {
	if err := rule.Validate(); err != nil {
		return time.Time{}, err
	}

	var due time.Time
	switch rule.EffectiveKind() {
	case KindAfterCompletion:
		due = addPeriod(lastCompleted, rule.Frequency, rule.Period)

	case KindFixedInterval:
		// Catch the anchor up past the last real completion by whole periods,
		// then take one more. The anchor itself is never stored back, so
		// repeated calls with the same inputs converge on the same due date.
		anchor := startDate
		for lastCompleted.After(anchor) {
			anchor = addPeriod(anchor, rule.Frequency, rule.Period)
		}
		due = addPeriod(anchor, rule.Frequency, rule.Period)

	case KindScheduledWeekday:
		d, err := nextScheduledWeekday(rule, startDate, lastCompleted, now)
		if err != nil {
			return time.Time{}, err
		}
		due = d
	}

	return due.AddDate(0, 0, rule.OffsetDays), nil
}

// nextScheduledWeekday walks forward month by month from the month of
// lastCompleted until the rule's nth weekday both exists and lies strictly
// after now. The candidate carries startDate's time-of-day.
func nextScheduledWeekday(rule Rule, startDate, lastCompleted, now time.Time) (time.Time, error) {
	hour, minute, sec := startDate.Clock()
	loc := startDate.Location()

	year, month, _ := lastCompleted.Date()
	for i := 0; i < monthSearchLimit; i++ {
		day, ok := NthWeekdayOfMonth(year, month, rule.ScheduleWeekday, rule.ScheduleOrdinal)
		if ok {
			candidate := time.Date(year, month, day, hour, minute, sec, 0, loc)
			if candidate.After(now) {
				return candidate, nil
			}
		}
		// Next calendar month, rolling the year over past December.
		if month == time.December {
			month = time.January
			year++
		} else {
			month++
		}
	}
	return time.Time{}, fmt.Errorf("%w: ordinal %d weekday %s, searched %d months",
		ErrUnresolvableSchedule, rule.ScheduleOrdinal, rule.ScheduleWeekday, monthSearchLimit)
}

// NthWeekdayOfMonth returns the day of month of the nth occurrence of weekday
// within the given month. Positive n counts from the 1st, negative n counts
// backward from the last day (-1 = last occurrence). ok is false when that
// occurrence does not exist (e.g. a 5th Monday in a 4-Monday month).
func NthWeekdayOfMonth(year int, month time.Month, weekday time.Weekday, n int) (day int, ok bool) {
	if n == 0 {
		return 0, false
	}
	last := DaysInMonth(year, month)
	if n > 0 {
		first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		firstOccurrence := 1 + (int(weekday)-int(first.Weekday())+7)%7
		day = firstOccurrence + (n-1)*7
	} else {
		lastDate := time.Date(year, month, last, 0, 0, 0, 0, time.UTC)
		lastOccurrence := last - (int(lastDate.Weekday())-int(weekday)+7)%7
		day = lastOccurrence + (n+1)*7
	}
	if day < 1 || day > last {
		return 0, false
	}
	return day, true
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	// Day 0 of the following month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// addPeriod advances t by period units of freq. Hour/day/week units are plain
// calendar additions; month/year additions clamp to the end of the target
// month (Jan 31 + 1 month = Feb 28/29), so a month-based cadence never slides
// to the start of the following month.
func addPeriod(t time.Time, freq Frequency, period int) time.Time {
	switch freq {
	case FreqHours:
		return t.Add(time.Duration(period) * time.Hour)
	case FreqDays:
		return t.AddDate(0, 0, period)
	case FreqWeeks:
		return t.AddDate(0, 0, 7*period)
	case FreqMonths:
		return addMonthsClamped(t, period)
	case FreqYears:
		return addMonthsClamped(t, 12*period)
	}
	// Rule.Validate rejects unknown frequencies before we get here.
	return t
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	// Normalize the target month via day 1, which cannot overflow.
	target := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	ty, tm, _ := target.Date()
	if last := DaysInMonth(ty, tm); day > last {
		day = last
	}
	return time.Date(ty, tm, day, hour, minute, sec, t.Nanosecond(), t.Location())
}

// DaysBetween returns the whole days from ref to t, flooring toward negative
// infinity (a due date 2.5 days in the past counts as -3 days remaining).
func DaysBetween(t, ref time.Time) int {
	const day = 24 * time.Hour
	d := t.Sub(ref)
	n := d / day
	if d%day < 0 {
		n--
	}
	return int(n)
}

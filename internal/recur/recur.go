// Package recur computes the next execution instant of a schedule.
// It is pure: callers persist the result themselves.
package recur

import (
	"fmt"
	"time"

	"stashd/internal/store"
)

// Next maps a recurrence definition and the current instant onto the next
// execution instant. The result is strictly after now for every frequency.
//
//   - hourly: the next hour boundary (preferredHour/dayOfWeek ignored)
//   - daily: today at preferredHour if still ahead, else tomorrow
//   - weekly: next occurrence of dayOfWeek (0=Sunday) at preferredHour,
//     a full week ahead when today's slot already passed
//   - monthly: the 1st of the next calendar month at preferredHour
func Next(freq store.Frequency, preferredHour, dayOfWeek int, now time.Time) (time.Time, error) {
	if preferredHour < 0 || preferredHour > 23 {
		return time.Time{}, fmt.Errorf("preferred hour %d out of range", preferredHour)
	}
	loc := now.Location()
	y, m, d := now.Date()

	switch freq {
	case store.FreqHourly:
		return time.Date(y, m, d, now.Hour()+1, 0, 0, 0, loc), nil

	case store.FreqDaily:
		at := time.Date(y, m, d, preferredHour, 0, 0, 0, loc)
		if at.After(now) {
			return at, nil
		}
		return at.AddDate(0, 0, 1), nil

	case store.FreqWeekly:
		if dayOfWeek < 0 || dayOfWeek > 6 {
			return time.Time{}, fmt.Errorf("day of week %d out of range", dayOfWeek)
		}
		ahead := (dayOfWeek - int(now.Weekday()) + 7) % 7
		at := time.Date(y, m, d+ahead, preferredHour, 0, 0, 0, loc)
		if !at.After(now) {
			at = at.AddDate(0, 0, 7)
		}
		return at, nil

	case store.FreqMonthly:
		return time.Date(y, m+1, 1, preferredHour, 0, 0, 0, loc), nil

	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", freq)
	}
}

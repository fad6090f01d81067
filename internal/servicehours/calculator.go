// Package servicehours answers business-hours questions against a team calendar.
// All functions are pure; times are interpreted in the calendar's timezone.
package servicehours

import (
	"errors"
	"sort"
	"time"

	"github.com/spec-kit/chatdesk/internal/domain"
)

// ErrNoWindows is returned when a calendar has no opening windows at all.
var ErrNoWindows = errors.New("service hours calendar has no windows")

const minutesPerDay = 24 * 60

// IsInsideHours reports whether now falls inside one of the windows of its weekday.
// Bounds are compared at minute granularity and are inclusive.
func IsInsideHours(cal domain.ServiceHoursCalendar, now time.Time, fallback *time.Location) bool {
	local := now.In(cal.Location(fallback))
	minute := local.Hour()*60 + local.Minute()
	for _, w := range cal.Windows {
		if w.Weekday != local.Weekday() {
			continue
		}
		if minute >= w.From && minute <= w.To {
			return true
		}
	}
	return false
}

// NextWindowStart returns the start of the next opening window after now. A window
// later today wins, otherwise the following days are scanned, wrapping the week.
func NextWindowStart(cal domain.ServiceHoursCalendar, now time.Time, fallback *time.Location) (time.Time, error) {
	if len(cal.Windows) == 0 {
		return time.Time{}, ErrNoWindows
	}
	loc := cal.Location(fallback)
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	for offset := 0; offset <= 7; offset++ {
		day := local.AddDate(0, 0, offset)
		starts := startsOn(cal, day.Weekday())
		for _, from := range starts {
			if offset == 0 && from <= minute {
				continue
			}
			return time.Date(day.Year(), day.Month(), day.Day(), from/60, from%60, 0, 0, loc), nil
		}
	}
	return time.Time{}, ErrNoWindows
}

// Deadline computes the response deadline for a message received at now. Inside
// hours it is now plus the response time; outside hours the clock starts at the next
// window. A calendar without windows is treated as always open. The deadline is not
// clipped at the end of the window.
func Deadline(cal domain.ServiceHoursCalendar, now time.Time, fallback *time.Location) time.Time {
	budget := cal.ResponseTime.Duration()
	if len(cal.Windows) == 0 || IsInsideHours(cal, now, fallback) {
		return now.Add(budget)
	}
	start, err := NextWindowStart(cal, now, fallback)
	if err != nil {
		return now.Add(budget)
	}
	return start.Add(budget)
}

// DangerAt returns the warning point inside the SLA window ending at deadline. The
// window is measured from where the response clock started, and the result is never
// before now.
func DangerAt(deadline time.Time, budget time.Duration, fraction float64, now time.Time) time.Time {
	if fraction <= 0 || fraction >= 1 {
		return deadline
	}
	remaining := time.Duration(float64(budget) * (1 - fraction))
	at := deadline.Add(-remaining)
	if at.Before(now) {
		return now
	}
	return at
}

func startsOn(cal domain.ServiceHoursCalendar, day time.Weekday) []int {
	var starts []int
	for _, w := range cal.Windows {
		if w.Weekday == day && w.From >= 0 && w.From < minutesPerDay {
			starts = append(starts, w.From)
		}
	}
	sort.Ints(starts)
	return starts
}

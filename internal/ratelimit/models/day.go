package models

import (
	"time"

	dErrors "quotaguard/pkg/domain-errors"
)

const dayLayout = "2006-01-02"

// Day is a calendar date in the accounting location, formatted YYYY-MM-DD.
// Quotas reset when the Day changes.
type Day string

// DayOf returns the calendar day of t in loc. A nil loc means UTC.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return Day(t.In(loc).Format(dayLayout))
}

// ParseDay validates a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	if _, err := time.Parse(dayLayout, s); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "day must be formatted YYYY-MM-DD")
	}
	return Day(s), nil
}

func (d Day) String() string {
	return string(d)
}

// Start returns midnight at the beginning of the day in loc.
func (d Day) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dayLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Next returns the midnight at which the day's quota resets.
func (d Day) Next(loc *time.Location) time.Time {
	start := d.Start(loc)
	return time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, start.Location())
}

// AddDays shifts the date by n calendar days.
func (d Day) AddDays(n int) Day {
	t, err := time.Parse(dayLayout, string(d))
	if err != nil {
		return d
	}
	return Day(t.AddDate(0, 0, n).Format(dayLayout))
}

// Before reports whether d is strictly earlier than other. ISO dates sort lexically.
func (d Day) Before(other Day) bool {
	return d < other
}

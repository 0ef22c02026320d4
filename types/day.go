package types

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// Day is a calendar date with no time-of-day or zone. The zero value means
// "never".
type Day struct {
	year  int
	month time.Month
	day   int
}

// DayOf returns the calendar date of t in loc. A nil loc uses t's own zone.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return Day{year: y, month: m, day: d}
}

// ParseDay parses "YYYY-MM-DD". The empty string yields the zero Day.
func ParseDay(s string) (Day, error) {
	if s == "" {
		return Day{}, nil
	}
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("types: parse day %q: %w", s, err)
	}
	return DayOf(t, nil), nil
}

// IsZero reports whether d is unset.
func (d Day) IsZero() bool { return d == Day{} }

// AddDays returns d shifted by n calendar days.
func (d Day) AddDays(n int) Day {
	return DayOf(d.midnight().AddDate(0, 0, n), nil)
}

// Before reports whether d is strictly earlier than o.
func (d Day) Before(o Day) bool { return d.midnight().Before(o.midnight()) }

// String renders d as "YYYY-MM-DD", or "" when unset.
func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.midnight().Format(dayLayout)
}

// MarshalText implements encoding.TextMarshaler.
func (d Day) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Day) UnmarshalText(b []byte) error {
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Day) midnight() time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC)
}

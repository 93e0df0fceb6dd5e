// Package calendar provides civil-date utilities for the ledger.
//
// Every component of the ledger keys its data on the YYYY-MM-DD string form
// of a Date and never on time-zone-sensitive timestamps, so a record written
// on one device renders on the same calendar day everywhere.
package calendar

import (
	"errors"
	"fmt"
	"iter"
	"time"
)

// Layout is the wire and storage format for dates.
const Layout = "2006-01-02"

// ErrInvalidDate is returned when a date string cannot be parsed.
var ErrInvalidDate = errors.New("invalid date")

// Date is a civil calendar date with no time-of-day or zone component.
// The zero value is "no date" and reports IsZero.
type Date struct {
	t time.Time
}

// New builds a Date from year, month and day. Out-of-range components
// roll over the way time.Date rolls them (month 13 becomes January of
// the next year), which is what the invoice arithmetic relies on.
func New(year, month, day int) Date {
	return Date{t: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Parse parses a YYYY-MM-DD string.
func Parse(s string) (Date, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{t: t}, nil
}

// MustParse is Parse for trusted literals; it panics on malformed input.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Today returns the current date in local time, truncated to a civil date.
func Today() Date {
	now := time.Now()
	return New(now.Year(), int(now.Month()), now.Day())
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(Layout)
}

// IsZero reports whether d is the "no date" value.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Year returns the calendar year.
func (d Date) Year() int { return d.t.Year() }

// Month returns the calendar month (1-12).
func (d Date) Month() int { return int(d.t.Month()) }

// Day returns the day of the month (1-31).
func (d Date) Day() int { return d.t.Day() }

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// AddMonths returns the date n months after d, with calendar rollover.
func (d Date) AddMonths(n int) Date {
	return Date{t: d.t.AddDate(0, n, 0)}
}

// AddYears returns the date n years after d.
func (d Date) AddYears(n int) Date {
	return Date{t: d.t.AddDate(n, 0, 0)}
}

// Before reports whether d falls on an earlier day than o.
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }

// After reports whether d falls on a later day than o.
func (d Date) After(o Date) bool { return d.t.After(o.t) }

// Equal reports whether d and o are the same day.
func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }

// Compare orders two dates: -1 if d is earlier, 0 if equal, +1 if later.
func (d Date) Compare(o Date) int { return d.t.Compare(o.t) }

// DaysSince returns the number of whole days from o to d.
// Negative when d is earlier than o.
func (d Date) DaysSince(o Date) int {
	return int(d.t.Sub(o.t) / (24 * time.Hour))
}

// MonthsSince returns the number of calendar months from o to d,
// ignoring the day-of-month of either date.
func (d Date) MonthsSince(o Date) int {
	return (d.Year()-o.Year())*12 + d.Month() - o.Month()
}

// LastDayOfMonth returns the number of days in d's month.
func (d Date) LastDayOfMonth() int {
	return time.Date(d.Year(), time.Month(d.Month())+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// SameDayOfMonth reports whether d falls on o's day-of-month, clamping the
// target to the last day of d's month when o's day does not exist there
// (an anchor on the 31st matches the 30th of a 30-day month).
func (d Date) SameDayOfMonth(o Date) bool {
	target := o.Day()
	if last := d.LastDayOfMonth(); target > last {
		target = last
	}
	return d.Day() == target
}

// MarshalJSON encodes the date as a YYYY-MM-DD string, or null when zero.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts a YYYY-MM-DD string, null, or the empty string.
func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*d = Date{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("%w: %s", ErrInvalidDate, s)
	}
	parsed, err := Parse(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Days yields every date from 'from' through 'to' inclusive, in ascending
// order. The sequence is finite, lazy, and restartable; it is empty when
// 'to' is before 'from'.
func Days(from, to Date) iter.Seq[Date] {
	return func(yield func(Date) bool) {
		for d := from; !d.After(to); d = d.AddDays(1) {
			if !yield(d) {
				return
			}
		}
	}
}

// Min returns the earlier of two dates.
func Min(a, b Date) Date {
	if a.Before(b) {
		return a
	}
	return b
}

// Max returns the later of two dates.
func Max(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}

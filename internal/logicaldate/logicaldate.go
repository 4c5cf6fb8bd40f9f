// Package logicaldate implements the day boundary used to partition
// sessions and archives. A conversation that runs past midnight still
// belongs to the evening it started in, so the logical day rolls over at
// 04:00 rather than 00:00: anything before four in the morning counts as
// the previous calendar day.
//
// All keys derived from a logical date (session snapshots, archive
// records, scheduler runs) are evaluated in one fixed time zone so a
// redeployment to a differently-configured host cannot split a day in two.
package logicaldate

import (
	"fmt"
	"time"
)

// RolloverHour is the local hour at which a new logical day begins.
const RolloverHour = 4

// Date is a logical calendar date, formatted as 2006-01-02.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// At returns the logical date for the instant t, evaluated in t's location.
func At(t time.Time) Date {
	if t.Hour() < RolloverHour {
		t = t.AddDate(0, 0, -1)
	}
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Now returns the current logical date in loc.
func Now(loc *time.Location) Date {
	return At(time.Now().In(loc))
}

// Parse parses an ISO date string (2006-01-02) into a Date.
func Parse(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("parse logical date %q: %w", s, err)
	}
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}, nil
}

// String formats the date as 2006-01-02.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// AddDays returns the date shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	t := time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).AddDate(0, 0, n)
	y, m, day := t.Date()
	return Date{Year: y, Month: m, Day: day}
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// NextRun returns the next instant at or after now whose local clock in
// now's location reads hour:minute. Used by the archive scheduler to fire
// once per day at a fixed wall-clock time.
func NextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

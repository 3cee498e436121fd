package cron

import (
	"fmt"
	"time"
)

// Schedule computes the next run time of a job.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

type interval struct {
	every time.Duration
}

// Every runs a job at a fixed interval measured from the previous run.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		d = defaultInterval
	}
	return interval{every: d}
}

func (i interval) Next(after time.Time) time.Time { return after.Add(i.every) }

func (i interval) String() string { return "every " + i.every.String() }

type daily struct {
	hour int
	loc  *time.Location
}

// DailyAt runs a job once per calendar day at hour:00 in loc.
func DailyAt(hour int, loc *time.Location) Schedule {
	if loc == nil {
		loc = time.Local
	}
	if hour < 0 || hour > 23 {
		hour = 0
	}
	return daily{hour: hour, loc: loc}
}

func (d daily) Next(after time.Time) time.Time {
	local := after.In(d.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, 0, 0, 0, d.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.hour, 0, 0, 0, d.loc)
	}
	return next
}

func (d daily) String() string { return fmt.Sprintf("daily at %02d:00 %s", d.hour, d.loc) }

// DayBounds returns the start of the calendar day containing t in loc and the
// start of the next one.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return start, end
}

package domain

import (
	"fmt"
	"time"
)

// DateRange is an inclusive span of UTC calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDay parses a YYYY-MM-DD string as a UTC calendar day.
func ParseDay(s string) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

// ParseDateRange parses start and end and rejects end before start.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := ParseDay(start)
	if err != nil {
		return DateRange{}, err
	}
	e, err := ParseDay(end)
	if err != nil {
		return DateRange{}, err
	}
	if e.Before(s) {
		return DateRange{}, fmt.Errorf("end %s is before start %s", end, start)
	}
	return DateRange{Start: s, End: e}, nil
}

// Len is the number of days in the range.
func (r DateRange) Len() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Days lists every day of the range in order.
func (r DateRange) Days() []time.Time {
	days := make([]time.Time, 0, r.Len())
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

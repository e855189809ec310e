package models

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// DateRange is a half-open interval of calendar days [Start, End).
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange parses two YYYY-MM-DD strings into a normalised range.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date %q: expected YYYY-MM-DD", start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid end date %q: expected YYYY-MM-DD", end)
	}
	return DateRange{Start: s, End: e}, nil
}

// NewDateRange truncates both ends to UTC midnight.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: TruncateDay(start), End: TruncateDay(end)}
}

func (r DateRange) Valid() bool {
	return TruncateDay(r.Start).Before(TruncateDay(r.End))
}

// Days lists every night in the range, excluding End.
func (r DateRange) Days() []time.Time {
	start := TruncateDay(r.Start)
	end := TruncateDay(r.End)
	var days []time.Time
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Overlaps reports whether two half-open ranges share at least one night.
func (r DateRange) Overlaps(o DateRange) bool {
	return TruncateDay(r.Start).Before(TruncateDay(o.End)) && TruncateDay(o.Start).Before(TruncateDay(r.End))
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func NightsBetween(checkIn, checkOut time.Time) int {
	return int(TruncateDay(checkOut).Sub(TruncateDay(checkIn)).Hours() / 24)
}

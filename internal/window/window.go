// Package window evaluates trading windows in New York time.
//
// A schedule is a comma-separated list of HH:MM-HH:MM intervals, e.g.
// "03:00-12:00,08:00-17:00". Intervals may wrap past midnight
// ("22:00-02:00"). New orders are only opened while the New York wall
// clock is inside at least one interval.
package window

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Interval is one trading window, in minutes since midnight NY time.
// Start > End means the window wraps past midnight.
type Interval struct {
	Start int
	End   int
}

// Schedule is a parsed set of trading windows bound to the NY clock.
type Schedule struct {
	intervals []Interval
	loc       *time.Location
}

// New parses a schedule spec. An empty spec yields a schedule that is never
// open, mirroring how an explicitly cleared TRADING_WINDOWS disables new
// entries.
func New(spec string) (*Schedule, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("load NY timezone: %w", err)
	}

	intervals, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	return &Schedule{intervals: intervals, loc: loc}, nil
}

// Parse parses the comma-separated interval list without binding a location.
func Parse(spec string) ([]Interval, error) {
	var out []Interval
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bounds := strings.SplitN(part, "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("window %q: want HH:MM-HH:MM", part)
		}
		start, err := parseClock(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", part, err)
		}
		end, err := parseClock(bounds[1])
		if err != nil {
			return nil, fmt.Errorf("window %q: %w", part, err)
		}
		out = append(out, Interval{Start: start, End: end})
	}
	return out, nil
}

func parseClock(s string) (int, error) {
	fields := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(fields) != 2 {
		return 0, fmt.Errorf("clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(fields[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock %q: bad hour", s)
	}
	m, err := strconv.Atoi(fields[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q: bad minute", s)
	}
	return h*60 + m, nil
}

// Open reports whether now falls inside any interval, evaluated on the NY
// wall clock.
func (s *Schedule) Open(now time.Time) bool {
	ny := now.In(s.loc)
	minutes := ny.Hour()*60 + ny.Minute()
	for _, iv := range s.intervals {
		if iv.contains(minutes) {
			return true
		}
	}
	return false
}

// OpenNow is Open at the current time.
func (s *Schedule) OpenNow() bool {
	return s.Open(time.Now())
}

func (iv Interval) contains(minutes int) bool {
	if iv.Start <= iv.End {
		return iv.Start <= minutes && minutes <= iv.End
	}
	// overnight wrap
	return minutes >= iv.Start || minutes <= iv.End
}

package window

import (
	"testing"
	"time"
)

func mustSchedule(t *testing.T, spec string) *Schedule {
	t.Helper()
	s, err := New(spec)
	if err != nil {
		t.Fatalf("New(%q): %v", spec, err)
	}
	return s
}

// nyTime builds a time whose NY wall clock reads the given hour/minute.
func nyTime(t *testing.T, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return time.Date(2026, time.March, 4, hour, minute, 0, 0, loc)
}

func TestParse(t *testing.T) {
	t.Parallel()

	ivs, err := Parse("03:00-12:00,08:00-17:00")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(ivs) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(ivs))
	}
	if ivs[0].Start != 180 || ivs[0].End != 720 {
		t.Errorf("interval[0] = %+v, want {180 720}", ivs[0])
	}
	if ivs[1].Start != 480 || ivs[1].End != 1020 {
		t.Errorf("interval[1] = %+v, want {480 1020}", ivs[1])
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{"0300-1200", "25:00-12:00", "03:61-12:00", "03:00"} {
		if _, err := Parse(spec); err == nil {
			t.Errorf("Parse(%q) should fail", spec)
		}
	}
}

func TestOpenInsideWindow(t *testing.T) {
	t.Parallel()
	s := mustSchedule(t, "03:00-12:00,08:00-17:00")

	if !s.Open(nyTime(t, 9, 30)) {
		t.Error("09:30 NY should be open")
	}
	if !s.Open(nyTime(t, 16, 59)) {
		t.Error("16:59 NY should be open (second window)")
	}
	if s.Open(nyTime(t, 18, 0)) {
		t.Error("18:00 NY should be closed")
	}
	if s.Open(nyTime(t, 2, 59)) {
		t.Error("02:59 NY should be closed")
	}
}

func TestOpenBoundsInclusive(t *testing.T) {
	t.Parallel()
	s := mustSchedule(t, "03:00-12:00")

	if !s.Open(nyTime(t, 3, 0)) {
		t.Error("window start should be inclusive")
	}
	if !s.Open(nyTime(t, 12, 0)) {
		t.Error("window end should be inclusive")
	}
}

func TestOvernightWrap(t *testing.T) {
	t.Parallel()
	s := mustSchedule(t, "22:00-02:00")

	if !s.Open(nyTime(t, 23, 15)) {
		t.Error("23:15 NY should be open in a wrapped window")
	}
	if !s.Open(nyTime(t, 1, 30)) {
		t.Error("01:30 NY should be open in a wrapped window")
	}
	if s.Open(nyTime(t, 12, 0)) {
		t.Error("12:00 NY should be closed in a wrapped window")
	}
}

func TestEmptyScheduleNeverOpen(t *testing.T) {
	t.Parallel()
	s := mustSchedule(t, "")

	if s.Open(nyTime(t, 10, 0)) {
		t.Error("empty schedule should never be open")
	}
}

func TestOpenUsesNYClock(t *testing.T) {
	t.Parallel()
	s := mustSchedule(t, "03:00-12:00")

	// 14:00 UTC in March is 09:00 or 10:00 NY depending on DST; either way
	// it is inside 03:00-12:00.
	utc := time.Date(2026, time.March, 4, 14, 0, 0, 0, time.UTC)
	if !s.Open(utc) {
		t.Error("14:00 UTC should map inside the NY morning window")
	}
}

package utils

import (
	"testing"
	"time"
)

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2025, 3, 14, 0, 30, 0, 0, loc)

	start, end := DayBounds(at, loc)
	wantStart := time.Date(2025, 3, 14, 0, 0, 0, 0, loc).UnixMilli()
	if start != wantStart {
		t.Fatalf("start = %d, want %d", start, wantStart)
	}
	if end-start != 24*60*60*1000 {
		t.Fatalf("day length = %d ms", end-start)
	}
}

func TestDayBoundsAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2025-03-30 is a 23h day in Rome.
	start, end := DayBounds(time.Date(2025, 3, 30, 12, 0, 0, 0, loc), loc)
	if got := end - start; got != 23*60*60*1000 {
		t.Fatalf("day length = %d ms, want 23h", got)
	}
}

func TestDayLabelUsesLocation(t *testing.T) {
	utc := time.UTC
	plus3 := time.FixedZone("UTC+3", 3*60*60)
	ms := time.Date(2025, 1, 1, 22, 0, 0, 0, utc).UnixMilli()

	if got := DayLabel(ms, utc); got != "2025-01-01" {
		t.Fatalf("utc label = %s", got)
	}
	if got := DayLabel(ms, plus3); got != "2025-01-02" {
		t.Fatalf("utc+3 label = %s", got)
	}
}

func TestParseDayLabel(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	got, err := ParseDayLabel("2025-07-04", loc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Equal(time.Date(2025, 7, 4, 0, 0, 0, 0, loc)) {
		t.Fatalf("got %v", got)
	}

	for _, bad := range []string{"", "2025-13-01", "yesterday", "2025/07/04"} {
		if _, err := ParseDayLabel(bad, loc); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestNextMidnight(t *testing.T) {
	loc := time.UTC
	now := time.Date(2025, 5, 5, 23, 59, 0, 0, loc)
	if got := NextMidnight(now, loc); got != time.Minute {
		t.Fatalf("got %v", got)
	}
}

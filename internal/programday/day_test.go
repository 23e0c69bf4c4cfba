package programday

import (
	"testing"
	"time"
)

var kst = FixedOffset(9)

func at(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestProgramDayCutoff(t *testing.T) {
	rules := Default()
	cases := []struct {
		instant string
		want    string
	}{
		{"2025-11-10T01:30:00+09:00", "2025-11-09"}, // pre-cutoff, previous day
		{"2025-11-10T00:00:00+09:00", "2025-11-09"}, // midnight still yesterday
		{"2025-11-10T01:59:59+09:00", "2025-11-09"},
		{"2025-11-10T02:00:00+09:00", "2025-11-10"}, // boundary is half-open
		{"2025-11-10T02:00:01+09:00", "2025-11-10"},
		{"2025-11-10T23:59:59+09:00", "2025-11-10"},
		{"2025-11-01T01:00:00+09:00", "2025-10-31"}, // month boundary
		{"2026-01-01T00:30:00+09:00", "2025-12-31"}, // year boundary
	}
	for _, tc := range cases {
		if got := rules.ProgramDay(at(tc.instant)); got != tc.want {
			t.Errorf("ProgramDay(%s) = %s, want %s", tc.instant, got, tc.want)
		}
	}
}

func TestProgramDayUTCInput(t *testing.T) {
	rules := Default()
	// 2025-11-09T16:30Z is 2025-11-10T01:30 KST, so previous local day.
	if got := rules.ProgramDay(at("2025-11-09T16:30:00Z")); got != "2025-11-09" {
		t.Fatalf("ProgramDay from UTC = %s, want 2025-11-09", got)
	}
	// 2025-11-09T17:00Z is exactly 02:00 KST.
	if got := rules.ProgramDay(at("2025-11-09T17:00:00Z")); got != "2025-11-10" {
		t.Fatalf("ProgramDay at cutoff from UTC = %s, want 2025-11-10", got)
	}
}

func TestMatchingTargetDay(t *testing.T) {
	rules := Default()
	cases := []struct {
		instant string
		want    string
	}{
		{"2025-11-10T01:30:00+09:00", "2025-11-08"}, // yesterday not closed yet
		{"2025-11-10T00:00:00+09:00", "2025-11-08"},
		{"2025-11-10T02:00:00+09:00", "2025-11-09"}, // yesterday closed at cutoff
		{"2025-11-10T12:00:00+09:00", "2025-11-09"},
		{"2025-11-10T23:59:59+09:00", "2025-11-09"},
	}
	for _, tc := range cases {
		if got := rules.MatchingTargetDay(at(tc.instant)); got != tc.want {
			t.Errorf("MatchingTargetDay(%s) = %s, want %s", tc.instant, got, tc.want)
		}
	}
}

func TestTargetDayNeverEqualsProgramDay(t *testing.T) {
	rules := Default()
	start := at("2025-11-08T00:00:00+09:00")
	for i := 0; i < 72; i++ {
		instant := start.Add(time.Duration(i) * 30 * time.Minute)
		pd := rules.ProgramDay(instant)
		td := rules.MatchingTargetDay(instant)
		if pd == td {
			t.Fatalf("program day equals target day at %s: %s", instant, pd)
		}
	}
}

func TestProgramDayMonotonic(t *testing.T) {
	rules := Default()
	start := at("2025-11-09T22:00:00+09:00")
	prev := ""
	for i := 0; i < 600; i++ {
		instant := start.Add(time.Duration(i) * time.Minute)
		day := rules.ProgramDay(instant)
		if prev != "" && day < prev {
			t.Fatalf("program day went backward at %s: %s -> %s", instant, prev, day)
		}
		prev = day
	}
}

func TestAlternateRules(t *testing.T) {
	rules := Rules{Location: FixedOffset(0), CutoffHour: 5}
	if got := rules.ProgramDay(at("2025-03-01T04:59:00Z")); got != "2025-02-28" {
		t.Fatalf("custom cutoff ProgramDay = %s, want 2025-02-28", got)
	}
	if got := rules.ProgramDay(at("2025-03-01T05:00:00Z")); got != "2025-03-01" {
		t.Fatalf("custom cutoff ProgramDay = %s, want 2025-03-01", got)
	}
}

func TestZeroRulesFallBackToDefaults(t *testing.T) {
	var rules Rules
	if got := rules.ProgramDay(at("2025-11-10T01:30:00+09:00")); got != "2025-11-09" {
		t.Fatalf("zero-value rules ProgramDay = %s, want 2025-11-09", got)
	}
}

func TestZeroInstantPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for zero instant")
		}
	}()
	Default().ProgramDay(time.Time{})
}

func TestParseAndPrevDay(t *testing.T) {
	if _, err := ParseDay("2025-13-40"); err == nil {
		t.Fatalf("expected error for invalid day")
	}
	day, err := ParseDay("2025-11-10")
	if err != nil || day != "2025-11-10" {
		t.Fatalf("ParseDay = %s, %v", day, err)
	}
	prev, err := PrevDay("2025-03-01")
	if err != nil || prev != "2025-02-28" {
		t.Fatalf("PrevDay = %s, %v", prev, err)
	}
}

func TestFixedClock(t *testing.T) {
	instant := at("2025-11-10T01:30:00+09:00")
	var clk Clock = FixedClock{T: instant}
	if !clk.Now().Equal(instant) {
		t.Fatalf("fixed clock drifted")
	}
	rules := Rules{Location: kst, CutoffHour: 2}
	if got := rules.ProgramDay(clk.Now()); got != "2025-11-09" {
		t.Fatalf("ProgramDay via clock = %s", got)
	}
}

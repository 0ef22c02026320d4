package types_test

import (
	"testing"
	"time"

	"github.com/xraph/coffer/types"
)

func TestDayOf(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 20:00 UTC on the 1st is already the 2nd in Kolkata (+05:30).
	ts := time.Date(2024, time.March, 1, 20, 0, 0, 0, time.UTC)

	if got := types.DayOf(ts, time.UTC).String(); got != "2024-03-01" {
		t.Errorf("utc day = %q, want 2024-03-01", got)
	}
	if got := types.DayOf(ts, kolkata).String(); got != "2024-03-02" {
		t.Errorf("kolkata day = %q, want 2024-03-02", got)
	}
}

func TestDayArithmetic(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"2024-02-28", 1, "2024-02-29"},
		{"2024-02-29", 1, "2024-03-01"},
		{"2024-01-01", -1, "2023-12-31"},
		{"2024-06-15", 0, "2024-06-15"},
	}
	for _, tt := range tests {
		d, err := types.ParseDay(tt.in)
		if err != nil {
			t.Fatalf("ParseDay(%q): %v", tt.in, err)
		}
		if got := d.AddDays(tt.n).String(); got != tt.want {
			t.Errorf("%s%+d = %s, want %s", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestDayZeroAndCompare(t *testing.T) {
	var zero types.Day
	if !zero.IsZero() || zero.String() != "" {
		t.Fatalf("zero day should be unset, got %q", zero.String())
	}

	parsed, err := types.ParseDay("")
	if err != nil || !parsed.IsZero() {
		t.Fatalf("ParseDay(\"\") = %v, %v; want zero day", parsed, err)
	}

	a, _ := types.ParseDay("2024-01-01")
	b, _ := types.ParseDay("2024-01-02")
	if !a.Before(b) || b.Before(a) || a.Before(a) {
		t.Error("Before ordering is wrong")
	}
	if a.AddDays(1) != b {
		t.Error("expected equal days to compare equal")
	}

	if _, err := types.ParseDay("01/02/2024"); err == nil {
		t.Error("expected error for malformed day")
	}
}

func TestDayText(t *testing.T) {
	d, _ := types.ParseDay("2025-12-31")
	b, err := d.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var back types.Day
	if err := back.UnmarshalText(b); err != nil {
		t.Fatal(err)
	}
	if back != d {
		t.Errorf("round trip: got %s, want %s", back, d)
	}
}

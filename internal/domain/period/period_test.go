package period

import (
	"errors"
	"testing"
	"time"

	xerrors "royalty-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
)

var now = time.Date(2026, time.March, 15, 14, 30, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    Period
		wantErr bool
	}{
		{"", Month, false},
		{"day", Day, false},
		{" WEEK ", Week, false},
		{"all", All, false},
		{"decade", "", true},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.wantErr {
			if !errors.Is(err, xerrors.ErrInvalidInput) {
				t.Fatalf("Parse(%q) err = %v, want invalid input", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("Parse(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestWindowDayStartsAtLocalMidnight(t *testing.T) {
	loc := time.FixedZone("WAT", 3600)
	local := time.Date(2026, time.March, 15, 0, 20, 0, 0, loc)

	w := Day.Window(local)
	want := time.Date(2026, time.March, 15, 0, 0, 0, 0, loc)
	if !w.Current.Start.Equal(want) {
		t.Fatalf("day start = %v, want %v", w.Current.Start, want)
	}
	if !w.Current.End.Equal(local) {
		t.Fatalf("day end = %v, want now", w.Current.End)
	}
}

func TestWindowPreviousHasEqualLength(t *testing.T) {
	for _, p := range []Period{Day, Week, Month, Year} {
		w := p.Window(now)
		if !w.HasPrevious {
			t.Fatalf("%s: expected a previous range", p)
		}
		if w.Previous.Length() != w.Current.Length() {
			t.Fatalf("%s: previous length %v != current %v", p, w.Previous.Length(), w.Current.Length())
		}
		if !w.Previous.End.Equal(w.Current.Start) {
			t.Fatalf("%s: previous must end where current starts", p)
		}
	}

	if got := Month.Window(now).Current.Length(); got != 30*24*time.Hour {
		t.Fatalf("month length = %v, want 30 days", got)
	}
}

func TestWindowAll(t *testing.T) {
	w := All.Window(now)
	if w.HasPrevious {
		t.Fatalf("all has no previous range")
	}
	if !w.Current.Start.IsZero() || !w.Current.Contains(time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("all must be unbounded in the past")
	}
	if w.Current.Contains(now) {
		t.Fatalf("end bound is exclusive")
	}
}

func TestRangeContainsHalfOpen(t *testing.T) {
	r := Between(now.Add(-time.Hour), now)
	if !r.Contains(now.Add(-time.Hour)) {
		t.Fatalf("start is inclusive")
	}
	if r.Contains(now) {
		t.Fatalf("end is exclusive")
	}
}

func TestGrowth(t *testing.T) {
	if got := Growth(5, 0); got != 100 {
		t.Fatalf("Growth(5, 0) = %v, want 100", got)
	}
	if got := Growth(15, 10); got != 50 {
		t.Fatalf("Growth(15, 10) = %v, want 50", got)
	}
	if got := Growth(5, 10); got != -50 {
		t.Fatalf("Growth(5, 10) = %v, want -50", got)
	}
	if got := Growth(1, 3); got != -66.67 {
		t.Fatalf("Growth(1, 3) = %v, want -66.67", got)
	}
	if got := GrowthDecimal(decimal.RequireFromString("0.06"), decimal.RequireFromString("0.04")); got != 50 {
		t.Fatalf("GrowthDecimal = %v, want 50", got)
	}
	if got := GrowthDecimal(decimal.RequireFromString("3"), decimal.Zero); got != 100 {
		t.Fatalf("GrowthDecimal from zero = %v, want 100", got)
	}
}

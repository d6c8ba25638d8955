package view

import (
	"testing"

	"github.com/shopspring/decimal"
)

var rate = decimal.RequireFromString("0.02")

func TestClassify(t *testing.T) {
	cases := []struct {
		name          string
		watch, total  int
		wantPct       float64
		wantQualified bool
	}{
		{"half of a ten minute video", 305, 600, 50.83, true},
		{"short watch of a long video", 100, 1200, 8.33, false},
		{"exactly half", 60, 120, 50, true},
		{"just under half", 59, 120, 49.17, false},
		{"five minutes of a long video", 300, 7200, 4.17, true},
		{"overrun clamps to 100", 700, 600, 100, true},
		{"unknown total", 120, 0, 0, false},
		{"unknown total but long watch", 400, 0, 0, true},
		{"nothing watched", 0, 600, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Classify(tc.watch, tc.total, rate)
			if c.WatchPercentage != tc.wantPct {
				t.Errorf("pct = %v, want %v", c.WatchPercentage, tc.wantPct)
			}
			if c.Qualified != tc.wantQualified {
				t.Errorf("qualified = %v, want %v", c.Qualified, tc.wantQualified)
			}
			wantRevenue := decimal.Zero
			if tc.wantQualified {
				wantRevenue = rate
			}
			if !c.RevenueEarned.Equal(wantRevenue) {
				t.Errorf("revenue = %s, want %s", c.RevenueEarned, wantRevenue)
			}
		})
	}
}

func TestApplyRecomputesInsteadOfAccumulating(t *testing.T) {
	r := &Record{}
	r.Apply(305, 600, rate)
	r.Apply(305, 600, rate)
	if r.WatchDurationSeconds != 305 || !r.Qualified || !r.RevenueEarned.Equal(rate) {
		t.Fatalf("repeated apply changed the record: %+v", r)
	}

	// a lower reading reclassifies rather than keeping the earlier ratchet
	r.Apply(100, 600, rate)
	if r.Qualified || !r.RevenueEarned.IsZero() {
		t.Fatalf("expected unqualified after lower reading, got %+v", r)
	}
	if !r.RatePerView.Equal(rate) {
		t.Fatalf("rate not stored on record")
	}
}

func TestQualificationMatchesThresholdRule(t *testing.T) {
	for total := 1; total <= 900; total += 37 {
		for watch := 0; watch <= 1000; watch += 13 {
			c := Classify(watch, total, rate)
			want := watch*2 >= total || watch >= MinQualifyingSeconds
			if c.Qualified != want {
				t.Fatalf("watch=%d total=%d qualified=%v want %v", watch, total, c.Qualified, want)
			}
		}
	}
}

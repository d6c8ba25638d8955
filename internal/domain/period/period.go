// Package period resolves the reporting windows used by view stats and analytics.
//
// Every window is half-open, [Start, End). A zero Start means unbounded in the past.
package period

import (
	"math"
	"strings"
	"time"

	xerrors "royalty-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
)

type Period string

const (
	Day   Period = "day"
	Week  Period = "week"
	Month Period = "month"
	Year  Period = "year"
	All   Period = "all"
)

// Default is used when a caller does not name a period.
const Default = Month

// Parse accepts the closed set of period names, case-insensitively.
func Parse(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return Default, nil
	}
	if !p.Valid() {
		return "", xerrors.Invalid("unsupported period %q", s)
	}
	return p, nil
}

func (p Period) Valid() bool {
	switch p {
	case Day, Week, Month, Year, All:
		return true
	}
	return false
}

type Range struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Between builds an explicit range. Either bound may be zero.
func Between(start, end time.Time) Range {
	return Range{Start: start, End: end}
}

func (r Range) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// Bounded reports whether both ends are set.
func (r Range) Bounded() bool {
	return !r.Start.IsZero() && !r.End.IsZero()
}

func (r Range) Length() time.Duration {
	if !r.Bounded() {
		return 0
	}
	return r.End.Sub(r.Start)
}

// Window pairs the requested range with the preceding range of equal length.
type Window struct {
	Period      Period `json:"period"`
	Current     Range  `json:"current"`
	Previous    Range  `json:"previous"`
	HasPrevious bool   `json:"has_previous"`
}

// Window resolves p against now. Day starts at local midnight of now's location;
// week, month and year are rolling 7, 30 and 365 day windows ending at now.
func (p Period) Window(now time.Time) Window {
	var start time.Time
	switch p {
	case Day:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case Week:
		start = now.AddDate(0, 0, -7)
	case Month:
		start = now.AddDate(0, 0, -30)
	case Year:
		start = now.AddDate(0, 0, -365)
	default:
		return Window{Period: All, Current: Range{End: now}}
	}

	length := now.Sub(start)
	return Window{
		Period:      p,
		Current:     Range{Start: start, End: now},
		Previous:    Range{Start: start.Add(-length), End: start},
		HasPrevious: true,
	}
}

// Growth is the percent change from previous to current. A previous value of
// zero reports 100.
func Growth(current, previous float64) float64 {
	if previous <= 0 {
		return 100
	}
	return round2((current - previous) / previous * 100)
}

// GrowthDecimal is Growth for money values.
func GrowthDecimal(current, previous decimal.Decimal) float64 {
	if !previous.IsPositive() {
		return 100
	}
	return current.Sub(previous).Div(previous).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// internal/domain/subscription/plans.go
package subscription

import (
	"strings"

	xerrors "royalty-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
)

type PlanType string

const (
	PlanBasic   PlanType = "basic"
	PlanPremium PlanType = "premium"
	PlanFamily  PlanType = "family"
)

func ParsePlanType(s string) (PlanType, error) {
	p := PlanType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := plans[p]; !ok {
		return "", xerrors.Invalid("unsupported plan %q", s)
	}
	return p, nil
}

// PlanCurrency is the currency the plan catalogue is priced in.
const PlanCurrency = "USD"

type Quality string

const (
	Quality720p Quality = "720p"
	Quality1080 Quality = "1080p"
	Quality4K   Quality = "4k"
)

type Plan struct {
	Type          PlanType        `json:"type"`
	Name          string          `json:"name"`
	MonthlyPrice  decimal.Decimal `json:"monthly_price"`
	YearlyPrice   decimal.Decimal `json:"yearly_price"`
	MaxQuality    Quality         `json:"max_quality"`
	Downloads     bool            `json:"downloads"`
	MaxStreams    int             `json:"max_streams"`
	AdFree        bool            `json:"ad_free"`
	DownloadLimit int             `json:"download_limit"`
}

var plans = map[PlanType]Plan{
	PlanBasic: {
		Type: PlanBasic, Name: "Basic",
		MonthlyPrice: decimal.RequireFromString("4.99"), YearlyPrice: decimal.RequireFromString("49.99"),
		MaxQuality: Quality720p, Downloads: false, MaxStreams: 1, AdFree: false, DownloadLimit: 0,
	},
	PlanPremium: {
		Type: PlanPremium, Name: "Premium",
		MonthlyPrice: decimal.RequireFromString("9.99"), YearlyPrice: decimal.RequireFromString("99.99"),
		MaxQuality: Quality1080, Downloads: true, MaxStreams: 3, AdFree: true, DownloadLimit: 10,
	},
	PlanFamily: {
		Type: PlanFamily, Name: "Family",
		MonthlyPrice: decimal.RequireFromString("14.99"), YearlyPrice: decimal.RequireFromString("149.99"),
		MaxQuality: Quality4K, Downloads: true, MaxStreams: 5, AdFree: true, DownloadLimit: 30,
	},
}

// planOrder is the display order of the catalogue.
var planOrder = []PlanType{PlanBasic, PlanPremium, PlanFamily}

func LookupPlan(t PlanType) (Plan, bool) {
	p, ok := plans[t]
	return p, ok
}

func Plans() []Plan {
	out := make([]Plan, 0, len(planOrder))
	for _, t := range planOrder {
		out = append(out, plans[t])
	}
	return out
}

func (p Plan) Price(c BillingCycle) decimal.Decimal {
	if c == BillingCycleYearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

// YearlySavings is twelve months at the monthly price minus the yearly price.
func (p Plan) YearlySavings() decimal.Decimal {
	return p.MonthlyPrice.Mul(decimal.NewFromInt(12)).Sub(p.YearlyPrice)
}

type Feature string

const (
	FeatureDownload          Feature = "download"
	FeatureHDQuality         Feature = "hd_quality"
	FeatureUHDQuality        Feature = "uhd_quality"
	FeatureAdFree            Feature = "ad_free"
	FeaturePremiumContent    Feature = "premium_content"
	FeatureConcurrentStreams Feature = "concurrent_streams"
)

func ParseFeature(s string) (Feature, error) {
	f := Feature(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FeatureDownload, FeatureHDQuality, FeatureUHDQuality, FeatureAdFree,
		FeaturePremiumContent, FeatureConcurrentStreams:
		return f, nil
	}
	return "", xerrors.Invalid("unknown feature %q", s)
}

// Allows checks f against the static feature table. streams is only read for
// FeatureConcurrentStreams.
func (p Plan) Allows(f Feature, streams int) bool {
	switch f {
	case FeatureDownload:
		return p.Downloads
	case FeatureHDQuality:
		return p.MaxQuality == Quality1080 || p.MaxQuality == Quality4K
	case FeatureUHDQuality:
		return p.MaxQuality == Quality4K
	case FeatureAdFree:
		return p.AdFree
	case FeaturePremiumContent:
		return p.Type == PlanPremium || p.Type == PlanFamily
	case FeatureConcurrentStreams:
		if streams < 1 {
			streams = 1
		}
		return streams <= p.MaxStreams
	}
	return false
}

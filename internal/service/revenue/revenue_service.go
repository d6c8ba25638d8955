// internal/service/revenue/revenue_service.go
package revenue

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"royalty-service/internal/domain/catalog"
	"royalty-service/internal/domain/period"
	"royalty-service/internal/domain/revenue"
	"royalty-service/internal/metrics"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Data quality sections
const (
	SectionPlatform      = "platform_overview"
	SectionEngagement    = "engagement"
	SectionRevenue       = "revenue"
	SectionRevenueGrowth = "revenue_growth"
	SectionTopCreators   = "top_creators"
	SectionCreator       = "creator"
)

type CreatorCatalog interface {
	FindCreator(ctx context.Context, id int64) (*catalog.Creator, error)
}

type AnalyticsRepository interface {
	CreatorOverview(ctx context.Context, creatorID int64, rg period.Range) (*revenue.Overview, error)
	CreatorTopVideos(ctx context.Context, creatorID int64, rg period.Range, limit int) ([]revenue.VideoStat, error)
	CreatorStoredRevenue(ctx context.Context, creatorID int64, rg period.Range) (decimal.Decimal, error)
	PlatformOverview(ctx context.Context, rg period.Range, now time.Time) (*revenue.PlatformOverview, error)
	Engagement(ctx context.Context, rg period.Range) (*revenue.Engagement, error)
	TopCreators(ctx context.Context, rg period.Range, limit int) ([]revenue.CreatorStat, error)
	PaymentsRevenue(ctx context.Context, rg period.Range) (decimal.Decimal, error)
	RoyaltyLiability(ctx context.Context, rg period.Range) (decimal.Decimal, error)
	RevenueRows(ctx context.Context, f revenue.ReportFilter) ([]revenue.ReportRow, error)
}

// Cache holds rendered admin rollups for a short time.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

type RevenueService struct {
	catalog CreatorCatalog
	repo    AnalyticsRepository
	cache   Cache
	rate    decimal.Decimal
	logger  *zap.Logger
	now     func() time.Time
}

func NewRevenueService(catalog CreatorCatalog, repo AnalyticsRepository, rate decimal.Decimal, logger *zap.Logger) *RevenueService {
	return &RevenueService{
		catalog: catalog,
		repo:    repo,
		rate:    rate,
		logger:  logger,
		now:     time.Now,
	}
}

// SetCache enables the admin analytics cache.
func (s *RevenueService) SetCache(c Cache) {
	s.cache = c
}

// GetCreatorAnalytics builds overview, revenue, top videos and growth for one
// creator. Any read failure fails the call.
func (s *RevenueService) GetCreatorAnalytics(ctx context.Context, creatorID int64, p period.Period) (*revenue.CreatorAnalytics, error) {
	creator, err := s.catalog.FindCreator(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("find creator %d: %w", creatorID, err)
	}

	w := p.Window(s.now())

	overview, err := s.repo.CreatorOverview(ctx, creatorID, w.Current)
	if err != nil {
		return nil, fmt.Errorf("creator overview: %w", err)
	}
	overview.AverageViewsPerVideo = revenue.AveragePer(overview.TotalViews, overview.TotalVideos)
	overview.EngagementRate = revenue.EngagementRate(overview.TotalLikes, overview.TotalViews)

	top, err := s.repo.CreatorTopVideos(ctx, creatorID, w.Current, revenue.TopLimit)
	if err != nil {
		return nil, fmt.Errorf("creator top videos: %w", err)
	}

	royalty, clamped := revenue.ClampRoyalty(creator.RoyaltyPercentage)
	if clamped {
		s.logger.Warn("creator royalty outside [0, 1], clamped",
			zap.Int64("creator_id", creatorID),
			zap.String("royalty_percentage", creator.RoyaltyPercentage.String()),
		)
	}
	gross := decimal.NewFromInt(overview.QualifiedViews).Mul(s.rate)

	out := &revenue.CreatorAnalytics{
		CreatorID: creatorID,
		Window:    w,
		Overview:  *overview,
		Revenue: revenue.CreatorRevenue{
			QualifiedViews:    overview.QualifiedViews,
			RatePerView:       s.rate,
			RoyaltyPercentage: royalty,
			GrossRevenue:      gross,
			EstimatedRevenue:  gross.Mul(royalty),
		},
		TopVideos: revenue.RankVideos(top, revenue.TopLimit),
	}

	if w.HasPrevious {
		prev, err := s.repo.CreatorOverview(ctx, creatorID, w.Previous)
		if err != nil {
			return nil, fmt.Errorf("creator overview (previous window): %w", err)
		}
		out.Growth = revenue.CreatorGrowth{
			ViewsGrowth:          period.Growth(float64(overview.TotalViews), float64(prev.TotalViews)),
			QualifiedViewsGrowth: period.Growth(float64(overview.QualifiedViews), float64(prev.QualifiedViews)),
			LikesGrowth:          period.Growth(float64(overview.TotalLikes), float64(prev.TotalLikes)),
			PreviousViews:        prev.TotalViews,
		}
	}
	return out, nil
}

// GetAdminAnalytics rolls up the whole platform. A failing section or creator
// is reported in DataQuality and counted as zero; the call itself only fails
// on context cancellation.
func (s *RevenueService) GetAdminAnalytics(ctx context.Context, p period.Period) (*revenue.AdminAnalytics, error) {
	cacheKey := "admin:" + string(p)
	if s.cache != nil {
		var cached revenue.AdminAnalytics
		hit, err := s.cache.Get(ctx, cacheKey, &cached)
		switch {
		case err != nil:
			metrics.AnalyticsCacheResults.WithLabelValues("error").Inc()
			s.logger.Warn("analytics cache read failed", zap.Error(err))
		case hit:
			metrics.AnalyticsCacheResults.WithLabelValues("hit").Inc()
			return &cached, nil
		default:
			metrics.AnalyticsCacheResults.WithLabelValues("miss").Inc()
		}
	}

	now := s.now()
	w := p.Window(now)
	out := &revenue.AdminAnalytics{
		Window:      w,
		TopCreators: []revenue.CreatorStat{},
		GeneratedAt: now,
		Revenue: revenue.PlatformRevenue{
			TotalRevenue:     decimal.Zero,
			RoyaltyLiability: decimal.Zero,
		},
	}

	if platform, err := s.repo.PlatformOverview(ctx, w.Current, now); err != nil {
		s.degrade(out, SectionPlatform, 0, err)
	} else {
		out.Platform = *platform
	}

	if engagement, err := s.repo.Engagement(ctx, w.Current); err != nil {
		s.degrade(out, SectionEngagement, 0, err)
	} else {
		engagement.AvgWatchTime = round2(engagement.AvgWatchTime)
		out.Engagement = *engagement
	}

	s.platformRevenue(ctx, out, w)
	s.topCreators(ctx, out, w.Current)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(out.DataQuality) > 0 {
		s.logger.Warn("admin analytics degraded",
			zap.String("period", string(w.Period)),
			zap.Int("issues", len(out.DataQuality)),
		)
	} else if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, out); err != nil {
			s.logger.Warn("analytics cache write failed", zap.Error(err))
		}
	}
	return out, nil
}

func (s *RevenueService) platformRevenue(ctx context.Context, out *revenue.AdminAnalytics, w period.Window) {
	current, err := s.repo.PaymentsRevenue(ctx, w.Current)
	if err != nil {
		s.degrade(out, SectionRevenue, 0, err)
		return
	}
	out.Revenue.TotalRevenue = current

	if liability, err := s.repo.RoyaltyLiability(ctx, w.Current); err != nil {
		s.degrade(out, SectionRevenue, 0, err)
	} else {
		out.Revenue.RoyaltyLiability = liability
	}

	if !w.HasPrevious {
		return
	}
	previous, err := s.repo.PaymentsRevenue(ctx, w.Previous)
	if err != nil {
		s.degrade(out, SectionRevenueGrowth, 0, err)
		return
	}
	out.Revenue.RevenueGrowth = period.GrowthDecimal(current, previous)
}

// topCreators ranks by views, then fills each creator's stored revenue. A
// creator whose lookup fails keeps its views and reports zero revenue.
func (s *RevenueService) topCreators(ctx context.Context, out *revenue.AdminAnalytics, rg period.Range) {
	stats, err := s.repo.TopCreators(ctx, rg, revenue.TopLimit)
	if err != nil {
		s.degrade(out, SectionTopCreators, 0, err)
		return
	}

	stats = revenue.RankCreators(stats, revenue.TopLimit)
	for i := range stats {
		st := &stats[i]
		st.GrossRevenue = decimal.Zero
		st.CreatorShare = decimal.Zero

		creator, err := s.catalog.FindCreator(ctx, st.CreatorID)
		if err != nil {
			s.degrade(out, SectionCreator, st.CreatorID, err)
			continue
		}
		gross, err := s.repo.CreatorStoredRevenue(ctx, st.CreatorID, rg)
		if err != nil {
			s.degrade(out, SectionCreator, st.CreatorID, err)
			continue
		}

		summary := revenue.NewSummary(st.CreatorID, rg, st.QualifiedViews, gross, creator.RoyaltyPercentage)
		st.GrossRevenue = summary.GrossRevenue
		st.CreatorShare = summary.CreatorShare
		if st.DisplayName == "" {
			st.DisplayName = creator.DisplayName
		}
	}
	out.TopCreators = stats
}

func (s *RevenueService) degrade(out *revenue.AdminAnalytics, section string, creatorID int64, err error) {
	metrics.AnalyticsDataQualityIssues.WithLabelValues(section).Inc()
	s.logger.Warn("analytics section degraded to zero",
		zap.String("section", section),
		zap.Int64("creator_id", creatorID),
		zap.Error(err),
	)
	out.DataQuality = append(out.DataQuality, revenue.DataQualityIssue{
		Section:   section,
		CreatorID: creatorID,
		Reason:    err.Error(),
	})
}

// GetRevenueReports breaks stored view revenue down per creator and video.
// Nil bounds are open, so an empty filter reports all time.
func (s *RevenueService) GetRevenueReports(ctx context.Context, f revenue.ReportFilter) (*revenue.Report, error) {
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return nil, xerrors.Invalid("end date is before start date")
	}
	if f.CreatorID != nil {
		if _, err := s.catalog.FindCreator(ctx, *f.CreatorID); err != nil {
			return nil, fmt.Errorf("find creator %d: %w", *f.CreatorID, err)
		}
	}

	rows, err := s.repo.RevenueRows(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("revenue rows: %w", err)
	}

	type acc struct {
		name      string
		royalty   decimal.Decimal
		qualified int64
		gross     decimal.Decimal
		videos    []revenue.ReportVideo
	}
	byCreator := map[int64]*acc{}
	for _, row := range rows {
		a, ok := byCreator[row.CreatorID]
		if !ok {
			a = &acc{name: row.CreatorName, royalty: row.RoyaltyPercentage, gross: decimal.Zero}
			byCreator[row.CreatorID] = a
		}
		a.qualified += row.QualifiedViews
		a.gross = a.gross.Add(row.Revenue)
		a.videos = append(a.videos, revenue.ReportVideo{
			VideoID:        row.VideoID,
			Title:          row.VideoTitle,
			QualifiedViews: row.QualifiedViews,
			Revenue:        row.Revenue,
		})
	}

	report := &revenue.Report{
		Start:    f.Start,
		End:      f.End,
		Creators: make([]revenue.ReportCreator, 0, len(byCreator)),
		Summary: revenue.ReportSummary{
			TotalGrossRevenue: decimal.Zero,
			TotalCreatorShare: decimal.Zero,
			AveragePerView:    decimal.Zero,
		},
	}

	rg := f.Range()
	for id, a := range byCreator {
		sortVideos(a.videos)
		summary := revenue.NewSummary(id, rg, a.qualified, a.gross, a.royalty)
		report.Creators = append(report.Creators, revenue.ReportCreator{
			Summary:     summary,
			DisplayName: a.name,
			Videos:      a.videos,
		})

		report.Summary.TotalQualifiedViews += summary.QualifiedViewCount
		report.Summary.TotalGrossRevenue = report.Summary.TotalGrossRevenue.Add(summary.GrossRevenue)
		report.Summary.TotalCreatorShare = report.Summary.TotalCreatorShare.Add(summary.CreatorShare)
	}

	sort.Slice(report.Creators, func(i, j int) bool {
		a, b := report.Creators[i], report.Creators[j]
		if !a.GrossRevenue.Equal(b.GrossRevenue) {
			return a.GrossRevenue.GreaterThan(b.GrossRevenue)
		}
		return a.CreatorID < b.CreatorID
	})

	if report.Summary.TotalQualifiedViews > 0 {
		report.Summary.AveragePerView = report.Summary.TotalGrossRevenue.
			Div(decimal.NewFromInt(report.Summary.TotalQualifiedViews)).
			Round(4)
	}
	return report, nil
}

func sortVideos(videos []revenue.ReportVideo) {
	sort.Slice(videos, func(i, j int) bool {
		if !videos[i].Revenue.Equal(videos[j].Revenue) {
			return videos[i].Revenue.GreaterThan(videos[j].Revenue)
		}
		return videos[i].VideoID < videos[j].VideoID
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

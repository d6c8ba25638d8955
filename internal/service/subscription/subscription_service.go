// internal/service/subscription/subscription_service.go
package subscription

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"royalty-service/internal/domain/subscription"
	"royalty-service/internal/domain/user"
	"royalty-service/internal/metrics"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultSweepBatchSize = 500

// Notification reasons
const (
	ReasonCreated     = "created"
	ReasonGranted     = "granted"
	ReasonActivated   = "activated"
	ReasonCancelled   = "cancelled"
	ReasonExpired     = "expired"
	ReasonPastDue     = "past_due"
	ReasonPlanChanged = "plan_changed"
	ReasonRefunded    = "refunded"
)

type TxBeginner interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
}

type Repository interface {
	CreateWithTx(ctx context.Context, tx pgx.Tx, sub *subscription.Subscription) error
	FindByID(ctx context.Context, id int64) (*subscription.Subscription, error)
	FindForUpdateWithTx(ctx context.Context, tx pgx.Tx, id int64) (*subscription.Subscription, error)
	FindLiveByUser(ctx context.Context, userID int64) (*subscription.Subscription, error)
	TransitionWithTx(ctx context.Context, tx pgx.Tx, id int64, from, to subscription.SubscriptionStatus, endDate *time.Time, at time.Time) (*subscription.Subscription, error)
	ChangePlanWithTx(ctx context.Context, tx pgx.Tx, id int64, plan subscription.PlanType, cycle subscription.BillingCycle, amount decimal.Decimal, start, end time.Time) (*subscription.Subscription, error)
	ExpireDueWithTx(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]subscription.Expiry, error)
	ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*subscription.Subscription, int64, error)
}

// EntitlementRepository owns the one user field subscriptions write.
type EntitlementRepository interface {
	GetTier(ctx context.Context, userID int64) (user.Tier, error)
	SetTierWithTx(ctx context.Context, tx pgx.Tx, userIDs []int64, tier user.Tier) (int64, error)
}

// Notifier is told about committed entitlement changes.
type Notifier interface {
	NotifyEntitlementChanged(userID int64, tier user.Tier, sub *subscription.Subscription, reason string)
	NotifySweepCompleted(result *subscription.SweepResult)
}

// SubscriptionService is the subscription state machine. Every status write
// and the owner's tier change commit in one transaction.
type SubscriptionService struct {
	db        TxBeginner
	repo      Repository
	users     EntitlementRepository
	notifier  Notifier
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

func NewSubscriptionService(
	db TxBeginner,
	repo Repository,
	users EntitlementRepository,
	batchSize int,
	logger *zap.Logger,
) *SubscriptionService {
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	return &SubscriptionService{
		db:        db,
		repo:      repo,
		users:     users,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *SubscriptionService) SetNotifier(n Notifier) {
	s.notifier = n
}

// CreateSubscription starts a new active subscription for userID. It fails
// with ErrConflict while the user holds a live one.
func (s *SubscriptionService) CreateSubscription(ctx context.Context, userID int64, req *subscription.CreateSubscriptionRequest) (*subscription.Subscription, error) {
	plan, cycle, err := parsePlan(req.PlanType, req.BillingCycle)
	if err != nil {
		return nil, err
	}
	return s.createAndNotify(ctx, userID, plan, cycle, ReasonCreated)
}

// GrantSubscription is the admin path into active; no payment is involved.
func (s *SubscriptionService) GrantSubscription(ctx context.Context, adminID int64, req *subscription.GrantSubscriptionRequest) (*subscription.Subscription, error) {
	plan, cycle, err := parsePlan(req.PlanType, req.BillingCycle)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.GetTier(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("find user %d: %w", req.UserID, err)
	}

	sub, err := s.createAndNotify(ctx, req.UserID, plan, cycle, ReasonGranted)
	if err != nil {
		return nil, err
	}
	s.logger.Info("subscription granted",
		zap.Int64("admin_id", adminID),
		zap.Int64("user_id", req.UserID),
		zap.Int64("subscription_id", sub.ID),
	)
	return sub, nil
}

func (s *SubscriptionService) createAndNotify(ctx context.Context, userID int64, plan subscription.PlanType, cycle subscription.BillingCycle, reason string) (*subscription.Subscription, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sub, err := s.CreateWithTx(ctx, tx, userID, plan, cycle)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit subscription: %w", err)
	}

	s.Announce(ctx, sub, reason)
	return sub, nil
}

// CreateWithTx writes a new active subscription and grants premium inside tx.
// Callers commit and then call Announce.
func (s *SubscriptionService) CreateWithTx(ctx context.Context, tx pgx.Tx, userID int64, planType subscription.PlanType, cycle subscription.BillingCycle) (*subscription.Subscription, error) {
	plan, ok := subscription.LookupPlan(planType)
	if !ok {
		return nil, xerrors.Invalid("unsupported plan %q", planType)
	}

	if live, err := s.repo.FindLiveByUser(ctx, userID); err == nil {
		return nil, fmt.Errorf("user %d already holds subscription %d (%s): %w", userID, live.ID, live.Status, xerrors.ErrConflict)
	} else if !errors.Is(err, xerrors.ErrNotFound) {
		return nil, fmt.Errorf("check live subscription: %w", err)
	}

	now := s.now()
	sub := &subscription.Subscription{
		Reference:    "SUB-" + ulid.Make().String(),
		UserID:       userID,
		PlanType:     plan.Type,
		BillingCycle: cycle,
		Amount:       plan.Price(cycle),
		Currency:     subscription.PlanCurrency,
		StartDate:    now,
		EndDate:      cycle.EndDate(now),
		Status:       subscription.SubscriptionStatusActive,
	}
	if err := s.repo.CreateWithTx(ctx, tx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	if _, err := s.users.SetTierWithTx(ctx, tx, []int64{userID}, user.TierPremium); err != nil {
		return nil, fmt.Errorf("grant premium to user %d: %w", userID, err)
	}

	metrics.SubscriptionTransitions.WithLabelValues("none", string(subscription.SubscriptionStatusActive)).Inc()
	s.logger.Info("subscription created",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("user_id", userID),
		zap.String("plan", string(sub.PlanType)),
		zap.String("billing_cycle", string(cycle)),
		zap.String("amount", sub.Amount.String()),
		zap.Time("end_date", sub.EndDate),
	)
	return sub, nil
}

// CancelSubscription cancels the user's live subscription, forcing its end
// date to now.
func (s *SubscriptionService) CancelSubscription(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	live, err := s.repo.FindLiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find live subscription: %w", err)
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sub, err := s.CancelWithTx(ctx, tx, live.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancellation: %w", err)
	}

	s.Announce(ctx, sub, ReasonCancelled)
	return sub, nil
}

// CancelWithTx moves a live subscription to cancelled and reverts the owner to
// client inside tx.
func (s *SubscriptionService) CancelWithTx(ctx context.Context, tx pgx.Tx, subscriptionID int64) (*subscription.Subscription, error) {
	current, err := s.repo.FindForUpdateWithTx(ctx, tx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("lock subscription %d: %w", subscriptionID, err)
	}
	if !subscription.CanTransition(current.Status, subscription.SubscriptionStatusCancelled) {
		return nil, fmt.Errorf("cancel subscription %d from %s: %w", subscriptionID, current.Status, xerrors.ErrInvalidTransition)
	}

	now := s.now()
	sub, err := s.repo.TransitionWithTx(ctx, tx, subscriptionID, current.Status, subscription.SubscriptionStatusCancelled, &now, now)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription %d: %w", subscriptionID, err)
	}
	if _, err := s.users.SetTierWithTx(ctx, tx, []int64{sub.UserID}, user.TierClient); err != nil {
		return nil, fmt.Errorf("revert user %d to client: %w", sub.UserID, err)
	}

	metrics.SubscriptionTransitions.WithLabelValues(string(current.Status), string(sub.Status)).Inc()
	s.logger.Info("subscription cancelled",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("user_id", sub.UserID),
		zap.String("from", string(current.Status)),
	)
	return sub, nil
}

// ActivateWithTx brings a subscription into active after a successful
// payment. Active is left alone, past_due recovers, terminal statuses fail
// with ErrInvalidTransition. The owner ends up premium either way.
func (s *SubscriptionService) ActivateWithTx(ctx context.Context, tx pgx.Tx, subscriptionID int64) (*subscription.Subscription, error) {
	current, err := s.repo.FindForUpdateWithTx(ctx, tx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("lock subscription %d: %w", subscriptionID, err)
	}

	sub := current
	switch {
	case current.Status == subscription.SubscriptionStatusActive:
	case subscription.CanTransition(current.Status, subscription.SubscriptionStatusActive):
		sub, err = s.repo.TransitionWithTx(ctx, tx, subscriptionID, current.Status, subscription.SubscriptionStatusActive, nil, s.now())
		if err != nil {
			return nil, fmt.Errorf("activate subscription %d: %w", subscriptionID, err)
		}
		metrics.SubscriptionTransitions.WithLabelValues(string(current.Status), string(sub.Status)).Inc()
		s.logger.Info("subscription reactivated",
			zap.Int64("subscription_id", sub.ID),
			zap.String("from", string(current.Status)),
		)
	default:
		return nil, fmt.Errorf("activate subscription %d from %s: %w", subscriptionID, current.Status, xerrors.ErrInvalidTransition)
	}

	if _, err := s.users.SetTierWithTx(ctx, tx, []int64{sub.UserID}, user.TierPremium); err != nil {
		return nil, fmt.Errorf("grant premium to user %d: %w", sub.UserID, err)
	}
	return sub, nil
}

// MarkPastDue records a failed renewal. The tier is left as is; feature
// checks already require status active.
func (s *SubscriptionService) MarkPastDue(ctx context.Context, subscriptionID int64) (*subscription.Subscription, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.FindForUpdateWithTx(ctx, tx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("lock subscription %d: %w", subscriptionID, err)
	}
	if !subscription.CanTransition(current.Status, subscription.SubscriptionStatusPastDue) {
		return nil, fmt.Errorf("mark subscription %d past due from %s: %w", subscriptionID, current.Status, xerrors.ErrInvalidTransition)
	}

	sub, err := s.repo.TransitionWithTx(ctx, tx, subscriptionID, current.Status, subscription.SubscriptionStatusPastDue, nil, s.now())
	if err != nil {
		return nil, fmt.Errorf("mark subscription %d past due: %w", subscriptionID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit past due: %w", err)
	}

	metrics.SubscriptionTransitions.WithLabelValues(string(current.Status), string(sub.Status)).Inc()
	s.logger.Info("subscription past due", zap.Int64("subscription_id", sub.ID), zap.Int64("user_id", sub.UserID))
	s.Announce(ctx, sub, ReasonPastDue)
	return sub, nil
}

// ChangePlan moves the active subscription to another plan or cycle. Amount
// and end date are recomputed from now.
func (s *SubscriptionService) ChangePlan(ctx context.Context, userID int64, req *subscription.ChangePlanRequest) (*subscription.Subscription, error) {
	planType, cycle, err := parsePlan(req.PlanType, req.BillingCycle)
	if err != nil {
		return nil, err
	}
	plan, _ := subscription.LookupPlan(planType)

	live, err := s.repo.FindLiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find live subscription: %w", err)
	}
	if live.Status != subscription.SubscriptionStatusActive {
		return nil, fmt.Errorf("change plan of %s subscription %d: %w", live.Status, live.ID, xerrors.ErrInvalidTransition)
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now()
	sub, err := s.repo.ChangePlanWithTx(ctx, tx, live.ID, plan.Type, cycle, plan.Price(cycle), now, cycle.EndDate(now))
	if err != nil {
		return nil, fmt.Errorf("change plan of subscription %d: %w", live.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit plan change: %w", err)
	}

	s.logger.Info("subscription plan changed",
		zap.Int64("subscription_id", sub.ID),
		zap.String("from_plan", string(live.PlanType)),
		zap.String("to_plan", string(sub.PlanType)),
		zap.String("billing_cycle", string(sub.BillingCycle)),
	)
	s.Announce(ctx, sub, ReasonPlanChanged)
	return sub, nil
}

// SweepExpired expires every live subscription past its end date, one batch
// per transaction. Rows already moved by an overlapping sweep are not matched
// again, so repeated runs report zero.
func (s *SubscriptionService) SweepExpired(ctx context.Context) (*subscription.SweepResult, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	result := &subscription.SweepResult{UserIDs: []int64{}}
	var expired []*subscription.Subscription

	for {
		batch, err := s.sweepBatch(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range batch {
			metrics.SubscriptionTransitions.WithLabelValues(string(e.PreviousStatus), string(e.Subscription.Status)).Inc()
			expired = append(expired, e.Subscription)
			result.UserIDs = append(result.UserIDs, e.Subscription.UserID)
		}
		result.ExpiredCount += len(batch)
		if len(batch) < s.batchSize {
			break
		}
	}

	s.logger.Info("subscription sweep completed", zap.Int("expired_count", result.ExpiredCount))
	for _, sub := range expired {
		s.Announce(ctx, sub, ReasonExpired)
	}
	if s.notifier != nil && result.ExpiredCount > 0 {
		s.notifier.NotifySweepCompleted(result)
	}
	return result, nil
}

func (s *SubscriptionService) sweepBatch(ctx context.Context) ([]subscription.Expiry, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch, err := s.repo.ExpireDueWithTx(ctx, tx, s.now(), s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("expire due subscriptions: %w", err)
	}
	if len(batch) == 0 {
		return nil, nil
	}

	userIDs := make([]int64, 0, len(batch))
	for _, e := range batch {
		userIDs = append(userIDs, e.Subscription.UserID)
	}
	if _, err := s.users.SetTierWithTx(ctx, tx, userIDs, user.TierClient); err != nil {
		return nil, fmt.Errorf("revert expired users to client: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit sweep batch: %w", err)
	}
	return batch, nil
}

// CheckFeatureAccess reads the plan table of the user's active subscription.
// Without one every gated feature is denied.
func (s *SubscriptionService) CheckFeatureAccess(ctx context.Context, userID int64, feature string, streams int) (*subscription.FeatureAccessResponse, error) {
	f, err := subscription.ParseFeature(feature)
	if err != nil {
		return nil, err
	}

	resp := &subscription.FeatureAccessResponse{UserID: userID, Feature: f}
	live, err := s.repo.FindLiveByUser(ctx, userID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find live subscription: %w", err)
	}
	if !live.IsActiveAt(s.now()) {
		return resp, nil
	}

	plan, ok := subscription.LookupPlan(live.PlanType)
	if !ok {
		s.logger.Error("subscription references unknown plan",
			zap.Int64("subscription_id", live.ID),
			zap.String("plan", string(live.PlanType)),
		)
		return resp, nil
	}
	resp.Allowed = plan.Allows(f, streams)
	return resp, nil
}

func (s *SubscriptionService) GetEntitlements(ctx context.Context, userID int64) (*subscription.Entitlements, error) {
	tier, err := s.users.GetTier(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user %d: %w", userID, err)
	}

	out := &subscription.Entitlements{UserID: userID, Tier: tier}
	live, err := s.repo.FindLiveByUser(ctx, userID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find live subscription: %w", err)
	}

	out.Subscription = live
	out.Active = live.IsActiveAt(s.now())
	if plan, ok := subscription.LookupPlan(live.PlanType); ok {
		out.Plan = &plan
	}
	return out, nil
}

func (s *SubscriptionService) GetActiveSubscription(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	sub, err := s.repo.FindLiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find live subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionService) GetSubscription(ctx context.Context, id int64) (*subscription.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find subscription %d: %w", id, err)
	}
	return sub, nil
}

func (s *SubscriptionService) ListSubscriptions(ctx context.Context, userID int64, page, pageSize int) (*subscription.SubscriptionListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	subs, total, err := s.repo.ListByUser(ctx, userID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	return &subscription.SubscriptionListResponse{
		Subscriptions: subs,
		Total:         total,
		Page:          page,
		PageSize:      pageSize,
		TotalPages:    int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

func (s *SubscriptionService) GetPlans() []subscription.PlanResponse {
	plans := subscription.Plans()
	out := make([]subscription.PlanResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, subscription.PlanResponse{Plan: p, YearlySavings: p.YearlySavings()})
	}
	return out
}

// Announce tells the notifier about a committed change. The tier is re-read
// so admins are reported as admins.
func (s *SubscriptionService) Announce(ctx context.Context, sub *subscription.Subscription, reason string) {
	if s.notifier == nil || sub == nil {
		return
	}
	tier, err := s.users.GetTier(ctx, sub.UserID)
	if err != nil {
		s.logger.Warn("entitlement notification skipped", zap.Int64("user_id", sub.UserID), zap.Error(err))
		return
	}
	s.notifier.NotifyEntitlementChanged(sub.UserID, tier, sub, reason)
}

func parsePlan(planType, billingCycle string) (subscription.PlanType, subscription.BillingCycle, error) {
	plan, err := subscription.ParsePlanType(planType)
	if err != nil {
		return "", "", err
	}
	cycle, err := subscription.ParseBillingCycle(billingCycle)
	if err != nil {
		return "", "", err
	}
	return plan, cycle, nil
}

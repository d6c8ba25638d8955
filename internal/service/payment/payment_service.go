// internal/service/payment/payment_service.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"royalty-service/internal/domain/payment"
	"royalty-service/internal/domain/period"
	"royalty-service/internal/domain/subscription"
	"royalty-service/internal/metrics"
	xerrors "royalty-service/internal/pkg/errors"
	subsvc "royalty-service/internal/service/subscription"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultVerifyTimeout = 10 * time.Second
	reverifyBatchSize    = 100
)

type TxBeginner interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
}

type Repository interface {
	CreateWithTx(ctx context.Context, tx pgx.Tx, p *payment.Payment) error
	FindByID(ctx context.Context, id int64) (*payment.Payment, error)
	FindByProviderRef(ctx context.Context, ref string) (*payment.Payment, error)
	FindForUpdateWithTx(ctx context.Context, tx pgx.Tx, id int64) (*payment.Payment, error)
	TransitionWithTx(ctx context.Context, tx pgx.Tx, p *payment.Payment, from payment.PaymentStatus) error
	MarkReconciledWithTx(ctx context.Context, tx pgx.Tx, id int64, subscriptionID *int64, at time.Time) error
	ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*payment.Payment, int64, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*payment.Payment, error)
	Statistics(ctx context.Context, rg period.Range) (*payment.Statistics, error)
}

// Gateway asks providers about references. Errors from Verify and Refund wrap
// ErrExternalService when the provider could not be reached.
type Gateway interface {
	Verify(ctx context.Context, provider payment.Provider, ref string) (*payment.Verification, error)
	Refund(ctx context.Context, pay *payment.Payment, reason string) (*payment.RefundResult, error)
	ParseWebhook(provider payment.Provider, signature string, body []byte) (*payment.WebhookEvent, error)
}

// Subscriptions is the part of the subscription state machine a successful
// or refunded payment drives.
type Subscriptions interface {
	CreateWithTx(ctx context.Context, tx pgx.Tx, userID int64, planType subscription.PlanType, cycle subscription.BillingCycle) (*subscription.Subscription, error)
	ActivateWithTx(ctx context.Context, tx pgx.Tx, subscriptionID int64) (*subscription.Subscription, error)
	CancelWithTx(ctx context.Context, tx pgx.Tx, subscriptionID int64) (*subscription.Subscription, error)
	GetSubscription(ctx context.Context, id int64) (*subscription.Subscription, error)
	Announce(ctx context.Context, sub *subscription.Subscription, reason string)
}

type Notifier interface {
	NotifyPaymentUpdated(p *payment.Payment)
}

// PaymentService records provider payments and applies their subscription
// follow-on. A successful payment is committed first and reconciled in a
// second transaction, so a follow-on failure leaves a successful,
// unreconciled row that ReconcilePayment or a webhook replay can finish.
type PaymentService struct {
	db            TxBeginner
	repo          Repository
	gateway       Gateway
	subs          Subscriptions
	notifier      Notifier
	verifyTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewPaymentService(
	db TxBeginner,
	repo Repository,
	gateway Gateway,
	subs Subscriptions,
	verifyTimeout time.Duration,
	logger *zap.Logger,
) *PaymentService {
	if verifyTimeout <= 0 {
		verifyTimeout = DefaultVerifyTimeout
	}
	return &PaymentService{
		db:            db,
		repo:          repo,
		gateway:       gateway,
		subs:          subs,
		verifyTimeout: verifyTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *PaymentService) SetNotifier(n Notifier) {
	s.notifier = n
}

// CreatePayment verifies providerRef with the provider and records the
// outcome. A rejected payment is stored as failed and returns
// ErrPaymentRejected; an unreachable provider leaves it pending and returns
// ErrExternalService.
func (s *PaymentService) CreatePayment(ctx context.Context, userID int64, req *payment.CreatePaymentRequest) (*payment.Payment, error) {
	provider, err := payment.ParseProvider(req.Provider)
	if err != nil {
		return nil, err
	}
	ref := strings.TrimSpace(req.ProviderRef)
	if ref == "" {
		return nil, xerrors.Invalid("provider_ref is required")
	}
	if req.Amount.IsNegative() {
		return nil, xerrors.Invalid("amount must not be negative")
	}

	pay := &payment.Payment{
		UserID:      userID,
		Amount:      req.Amount,
		Currency:    currencyOrDefault(req.Currency),
		Provider:    provider,
		ProviderRef: ref,
		Status:      payment.PaymentStatusPending,
	}
	if err := s.resolveIntent(ctx, userID, req, pay); err != nil {
		return nil, err
	}

	if existing, err := s.repo.FindByProviderRef(ctx, ref); err == nil {
		return nil, fmt.Errorf("provider reference %q already recorded as payment %d: %w", ref, existing.ID, xerrors.ErrConflict)
	} else if !errors.Is(err, xerrors.ErrNotFound) {
		return nil, fmt.Errorf("check provider reference: %w", err)
	}

	verification, verr := s.verify(ctx, provider, ref)
	switch {
	case verr != nil:
		if err := s.insert(ctx, pay); err != nil {
			return nil, err
		}
		s.logger.Warn("payment left pending, provider unavailable",
			zap.Int64("payment_id", pay.ID),
			zap.String("provider", string(provider)),
			zap.String("provider_ref", ref),
			zap.Error(verr),
		)
		return pay, fmt.Errorf("verify payment %d: %w", pay.ID, verr)

	case verification.Status == payment.PaymentStatusPending:
		if err := s.insert(ctx, pay); err != nil {
			return nil, err
		}
		return pay, nil

	case !verification.Success:
		pay.Status = payment.PaymentStatusFailed
		reason := verification.Message
		if reason == "" {
			reason = "declined by provider"
		}
		pay.FailureReason = &reason
		if err := s.insert(ctx, pay); err != nil {
			return nil, err
		}
		return pay, fmt.Errorf("payment %q: %s: %w", ref, reason, xerrors.ErrPaymentRejected)
	}

	applyVerification(pay, verification, s.now())
	pay.Status = payment.PaymentStatusSuccessful
	if err := s.insert(ctx, pay); err != nil {
		return nil, err
	}
	s.notify(pay)

	settled, err := s.settle(ctx, pay.ID)
	if err != nil {
		return pay, err
	}
	return settled, nil
}

// resolveIntent fills the subscription follow-on of a new payment.
func (s *PaymentService) resolveIntent(ctx context.Context, userID int64, req *payment.CreatePaymentRequest, pay *payment.Payment) error {
	if req.SubscriptionID != nil && req.PlanType != "" {
		return xerrors.Invalid("subscription_id and plan_type are mutually exclusive")
	}

	if req.SubscriptionID != nil {
		sub, err := s.subs.GetSubscription(ctx, *req.SubscriptionID)
		if err != nil {
			return err
		}
		if sub.UserID != userID {
			return fmt.Errorf("subscription %d belongs to another user: %w", sub.ID, xerrors.ErrForbidden)
		}
		id := sub.ID
		pay.SubscriptionID = &id
		return nil
	}

	if req.PlanType == "" {
		if req.BillingCycle != "" {
			return xerrors.Invalid("billing_cycle requires plan_type")
		}
		return nil
	}

	plan, err := subscription.ParsePlanType(req.PlanType)
	if err != nil {
		return err
	}
	cycleName := req.BillingCycle
	if cycleName == "" {
		cycleName = string(subscription.BillingCycleMonthly)
	}
	cycle, err := subscription.ParseBillingCycle(cycleName)
	if err != nil {
		return err
	}
	planName, cycleValue := string(plan), string(cycle)
	pay.PlanType = &planName
	pay.BillingCycle = &cycleValue
	return nil
}

func (s *PaymentService) verify(ctx context.Context, provider payment.Provider, ref string) (*payment.Verification, error) {
	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()

	v, err := s.gateway.Verify(vctx, provider, ref)
	if err != nil {
		if errors.Is(err, xerrors.ErrExternalService) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", xerrors.ErrExternalService, err)
	}
	if v.Success && !confirmsAmount(v.Amount, v.Currency) {
		return nil, fmt.Errorf("%w: %s confirmed %q without an amount and currency", xerrors.ErrExternalService, provider, ref)
	}
	return v, nil
}

// confirmsAmount reports whether the provider named what was actually paid.
func confirmsAmount(amount decimal.Decimal, currency string) bool {
	return amount.IsPositive() && strings.TrimSpace(currency) != ""
}

func (s *PaymentService) insert(ctx context.Context, pay *payment.Payment) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.CreateWithTx(ctx, tx, pay); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit payment: %w", err)
	}

	metrics.PaymentsRecorded.WithLabelValues(string(pay.Provider), string(pay.Status)).Inc()
	s.logger.Info("payment recorded",
		zap.Int64("payment_id", pay.ID),
		zap.Int64("user_id", pay.UserID),
		zap.String("provider", string(pay.Provider)),
		zap.String("provider_ref", pay.ProviderRef),
		zap.String("status", string(pay.Status)),
		zap.String("amount", pay.Amount.String()),
		zap.String("currency", pay.Currency),
	)
	return nil
}

// settle applies the subscription follow-on of a successful payment and marks
// it reconciled in one transaction. Failures come back as ErrInconsistentState.
func (s *PaymentService) settle(ctx context.Context, paymentID int64) (*payment.Payment, error) {
	pay, sub, err := s.settleTx(ctx, paymentID)
	if err != nil {
		metrics.PaymentsInconsistent.Inc()
		s.logger.Error("successful payment not reconciled",
			zap.Int64("payment_id", paymentID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: payment %d succeeded but its subscription was not activated: %v",
			xerrors.ErrInconsistentState, paymentID, err)
	}
	if sub != nil {
		s.subs.Announce(ctx, sub, subsvc.ReasonActivated)
	}
	return pay, nil
}

func (s *PaymentService) settleTx(ctx context.Context, paymentID int64) (*payment.Payment, *subscription.Subscription, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	pay, err := s.repo.FindForUpdateWithTx(ctx, tx, paymentID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock payment: %w", err)
	}
	if !pay.NeedsReconcile() {
		return pay, nil, nil
	}

	var sub *subscription.Subscription
	switch {
	case pay.SubscriptionID != nil:
		sub, err = s.subs.ActivateWithTx(ctx, tx, *pay.SubscriptionID)
		if err != nil {
			return nil, nil, err
		}

	case pay.PlanType != nil:
		plan, ok := subscription.LookupPlan(subscription.PlanType(*pay.PlanType))
		if !ok {
			return nil, nil, fmt.Errorf("unknown plan %q", *pay.PlanType)
		}
		cycle := subscription.BillingCycleMonthly
		if pay.BillingCycle != nil {
			cycle = subscription.BillingCycle(*pay.BillingCycle)
		}
		if price := plan.Price(cycle); pay.Currency == subscription.PlanCurrency && pay.Amount.LessThan(price) {
			return nil, nil, fmt.Errorf("paid %s %s, plan %s %s costs %s", pay.Amount, pay.Currency, plan.Type, cycle, price)
		}
		sub, err = s.subs.CreateWithTx(ctx, tx, pay.UserID, plan.Type, cycle)
		if err != nil {
			return nil, nil, err
		}
	}

	var subID *int64
	if sub != nil {
		subID = &sub.ID
	}
	at := s.now()
	if err := s.repo.MarkReconciledWithTx(ctx, tx, pay.ID, subID, at); err != nil {
		return nil, nil, fmt.Errorf("mark reconciled: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit reconciliation: %w", err)
	}

	pay.ReconciledAt = &at
	if subID != nil {
		pay.SubscriptionID = subID
	}
	s.logger.Info("payment reconciled",
		zap.Int64("payment_id", pay.ID),
		zap.Any("subscription_id", subID),
	)
	return pay, sub, nil
}

// HandleWebhook verifies and applies a provider notification. Replays of an
// already applied event are reported as duplicate and change nothing.
func (s *PaymentService) HandleWebhook(ctx context.Context, req *payment.WebhookRequest) (*payment.WebhookResult, error) {
	event, err := s.gateway.ParseWebhook(req.Provider, req.Signature, req.Body)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(string(req.Provider), "rejected").Inc()
		return nil, err
	}

	result, err := s.applyEvent(ctx, event)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(string(req.Provider), "error").Inc()
		return nil, err
	}

	metrics.WebhookEvents.WithLabelValues(string(req.Provider), result.Outcome).Inc()
	s.logger.Info("webhook processed",
		zap.String("provider", string(req.Provider)),
		zap.String("event", event.Event),
		zap.String("provider_ref", event.ProviderRef),
		zap.String("outcome", result.Outcome),
	)
	return result, nil
}

func (s *PaymentService) applyEvent(ctx context.Context, event *payment.WebhookEvent) (*payment.WebhookResult, error) {
	result := &payment.WebhookResult{Outcome: payment.WebhookIgnored, ProviderRef: event.ProviderRef}

	pay, err := s.repo.FindByProviderRef(ctx, event.ProviderRef)
	if errors.Is(err, xerrors.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	result.PaymentID = pay.ID
	result.Status = pay.Status

	switch event.Status {
	case payment.PaymentStatusSuccessful:
		switch {
		case pay.Status == payment.PaymentStatusPending && !confirmsAmount(event.Amount, event.Currency):
			// the event does not say what was paid; ask the provider
			current, err := s.reverify(ctx, pay)
			if err != nil {
				return nil, err
			}
			result.Status = current.Status
			if current.Status != payment.PaymentStatusPending {
				result.Outcome = payment.WebhookApplied
			}
		case pay.Status == payment.PaymentStatusPending:
			applyEventValues(pay, event, s.now())
			pay.Status = payment.PaymentStatusSuccessful
			applied, err := s.transition(ctx, pay, payment.PaymentStatusPending)
			if err != nil {
				return nil, err
			}
			if !applied {
				result.Outcome = payment.WebhookDuplicate
				return s.finishReplay(ctx, result)
			}
			result.Outcome = payment.WebhookApplied
			result.Status = payment.PaymentStatusSuccessful
			if _, err := s.settle(ctx, pay.ID); err != nil {
				return nil, err
			}
		case pay.NeedsReconcile():
			if _, err := s.settle(ctx, pay.ID); err != nil {
				return nil, err
			}
			result.Outcome = payment.WebhookApplied
		case pay.Status == payment.PaymentStatusSuccessful:
			result.Outcome = payment.WebhookDuplicate
		}

	case payment.PaymentStatusFailed:
		switch pay.Status {
		case payment.PaymentStatusPending:
			reason := "reported failed by provider"
			pay.Status = payment.PaymentStatusFailed
			pay.FailureReason = &reason
			applied, err := s.transition(ctx, pay, payment.PaymentStatusPending)
			if err != nil {
				return nil, err
			}
			if !applied {
				result.Outcome = payment.WebhookDuplicate
				return s.finishReplay(ctx, result)
			}
			result.Outcome = payment.WebhookApplied
			result.Status = payment.PaymentStatusFailed
		case payment.PaymentStatusFailed:
			result.Outcome = payment.WebhookDuplicate
		}
	}
	return result, nil
}

// finishReplay re-reads a payment another delivery moved first, settling it
// if that delivery stopped short of reconciliation.
func (s *PaymentService) finishReplay(ctx context.Context, result *payment.WebhookResult) (*payment.WebhookResult, error) {
	current, err := s.repo.FindByID(ctx, result.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("reload payment: %w", err)
	}
	result.Status = current.Status
	if current.NeedsReconcile() {
		if _, err := s.settle(ctx, current.ID); err != nil {
			return nil, err
		}
		result.Outcome = payment.WebhookApplied
	}
	return result, nil
}

// transition writes pay if it is still in from. It reports false when another
// writer moved it first.
func (s *PaymentService) transition(ctx context.Context, pay *payment.Payment, from payment.PaymentStatus) (bool, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.TransitionWithTx(ctx, tx, pay, from); err != nil {
		if errors.Is(err, xerrors.ErrStaleTransition) {
			return false, nil
		}
		return false, fmt.Errorf("update payment %d: %w", pay.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit payment %d: %w", pay.ID, err)
	}

	metrics.PaymentsRecorded.WithLabelValues(string(pay.Provider), string(pay.Status)).Inc()
	s.logger.Info("payment status changed",
		zap.Int64("payment_id", pay.ID),
		zap.String("from", string(from)),
		zap.String("to", string(pay.Status)),
	)
	s.notify(pay)
	return true, nil
}

// UpdatePaymentStatus is the admin override. Refunds go through the provider.
func (s *PaymentService) UpdatePaymentStatus(ctx context.Context, paymentID int64, status string) (*payment.Payment, error) {
	target := payment.PaymentStatus(strings.ToLower(strings.TrimSpace(status)))
	if target == payment.PaymentStatusRefunded {
		return s.ProcessRefund(ctx, paymentID, "refunded by admin")
	}
	if target != payment.PaymentStatusSuccessful && target != payment.PaymentStatusFailed {
		return nil, xerrors.Invalid("unsupported status %q", status)
	}

	pay, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if pay.Status == target {
		if pay.NeedsReconcile() {
			return s.settle(ctx, pay.ID)
		}
		return pay, nil
	}
	if !payment.CanTransition(pay.Status, target) {
		return nil, fmt.Errorf("payment %d from %s to %s: %w", pay.ID, pay.Status, target, xerrors.ErrInvalidTransition)
	}

	from := pay.Status
	pay.Status = target
	if target == payment.PaymentStatusSuccessful {
		now := s.now()
		pay.PaidAt = &now
	} else {
		reason := "marked failed by admin"
		pay.FailureReason = &reason
	}
	applied, err := s.transition(ctx, pay, from)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("payment %d: %w", pay.ID, xerrors.ErrStaleTransition)
	}

	if target == payment.PaymentStatusSuccessful {
		return s.settle(ctx, pay.ID)
	}
	return pay, nil
}

// ProcessRefund refunds a successful payment with its provider, then marks it
// refunded and cancels the linked subscription in one transaction.
func (s *PaymentService) ProcessRefund(ctx context.Context, paymentID int64, reason string) (*payment.Payment, error) {
	pay, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.CanTransition(pay.Status, payment.PaymentStatusRefunded) {
		return nil, fmt.Errorf("refund payment %d from %s: %w", pay.ID, pay.Status, xerrors.ErrInvalidTransition)
	}

	rctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	refund, err := s.gateway.Refund(rctx, pay, reason)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("refund payment %d: %w", pay.ID, err)
	}

	refunded, sub, err := s.refundTx(ctx, pay.ID, refund)
	if err != nil {
		metrics.PaymentsInconsistent.Inc()
		s.logger.Error("provider refunded but ledger not updated",
			zap.Int64("payment_id", pay.ID),
			zap.String("refund_ref", refund.RefundRef),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: payment %d refunded by provider (%s) but not recorded: %v",
			xerrors.ErrInconsistentState, pay.ID, refund.RefundRef, err)
	}

	s.notify(refunded)
	if sub != nil {
		s.subs.Announce(ctx, sub, subsvc.ReasonRefunded)
	}
	return refunded, nil
}

func (s *PaymentService) refundTx(ctx context.Context, paymentID int64, refund *payment.RefundResult) (*payment.Payment, *subscription.Subscription, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	pay, err := s.repo.FindForUpdateWithTx(ctx, tx, paymentID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock payment: %w", err)
	}

	now := s.now()
	ref := refund.RefundRef
	pay.Status = payment.PaymentStatusRefunded
	pay.RefundRef = &ref
	pay.RefundedAt = &now
	if err := s.repo.TransitionWithTx(ctx, tx, pay, payment.PaymentStatusSuccessful); err != nil {
		return nil, nil, fmt.Errorf("mark refunded: %w", err)
	}

	var sub *subscription.Subscription
	if pay.SubscriptionID != nil {
		sub, err = s.subs.CancelWithTx(ctx, tx, *pay.SubscriptionID)
		switch {
		case errors.Is(err, xerrors.ErrInvalidTransition):
			// already terminal
			sub = nil
		case err != nil:
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit refund: %w", err)
	}

	metrics.PaymentsRecorded.WithLabelValues(string(pay.Provider), string(pay.Status)).Inc()
	s.logger.Info("payment refunded",
		zap.Int64("payment_id", pay.ID),
		zap.String("refund_ref", ref),
		zap.Bool("subscription_cancelled", sub != nil),
	)
	return pay, sub, nil
}

// ReconcilePayment re-asks the provider about a pending payment, or finishes
// the follow-on of a successful one that never reconciled.
func (s *PaymentService) ReconcilePayment(ctx context.Context, paymentID int64) (*payment.Payment, error) {
	pay, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	switch {
	case pay.Status == payment.PaymentStatusPending:
		return s.reverify(ctx, pay)
	case pay.NeedsReconcile():
		return s.settle(ctx, pay.ID)
	}
	return pay, nil
}

func (s *PaymentService) reverify(ctx context.Context, pay *payment.Payment) (*payment.Payment, error) {
	v, err := s.verify(ctx, pay.Provider, pay.ProviderRef)
	if err != nil {
		return pay, err
	}

	switch {
	case v.Status == payment.PaymentStatusPending:
		return pay, nil
	case !v.Success:
		reason := v.Message
		if reason == "" {
			reason = "declined by provider"
		}
		pay.Status = payment.PaymentStatusFailed
		pay.FailureReason = &reason
		if _, err := s.transition(ctx, pay, payment.PaymentStatusPending); err != nil {
			return nil, err
		}
		return s.GetPayment(ctx, pay.ID)
	}

	applyVerification(pay, v, s.now())
	pay.Status = payment.PaymentStatusSuccessful
	if _, err := s.transition(ctx, pay, payment.PaymentStatusPending); err != nil {
		return nil, err
	}
	current, err := s.GetPayment(ctx, pay.ID)
	if err != nil {
		return nil, err
	}
	if current.NeedsReconcile() {
		return s.settle(ctx, current.ID)
	}
	return current, nil
}

// ReverifyPending re-verifies pending payments created before now-olderThan.
// One failing payment does not stop the batch.
func (s *PaymentService) ReverifyPending(ctx context.Context, olderThan time.Duration) (*payment.ReverifyResult, error) {
	if olderThan < 0 {
		return nil, xerrors.Invalid("older_than must not be negative")
	}

	stale, err := s.repo.ListStalePending(ctx, s.now().Add(-olderThan), reverifyBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}

	result := &payment.ReverifyResult{}
	for _, pay := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++

		updated, err := s.reverify(ctx, pay)
		if err != nil {
			s.logger.Warn("re-verification failed",
				zap.Int64("payment_id", pay.ID),
				zap.Error(err),
			)
			result.StillPending++
			continue
		}
		switch updated.Status {
		case payment.PaymentStatusSuccessful:
			result.Successful++
		case payment.PaymentStatusFailed:
			result.Failed++
		default:
			result.StillPending++
		}
	}

	s.logger.Info("pending payments re-verified",
		zap.Int("checked", result.Checked),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
		zap.Int("still_pending", result.StillPending),
	)
	return result, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id int64) (*payment.Payment, error) {
	pay, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find payment %d: %w", id, err)
	}
	return pay, nil
}

func (s *PaymentService) ListUserPayments(ctx context.Context, userID int64, page, pageSize int) (*payment.PaymentListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	payments, total, err := s.repo.ListByUser(ctx, userID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	return &payment.PaymentListResponse{
		Payments:   payments,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

func (s *PaymentService) GetStatistics(ctx context.Context, p period.Period) (*payment.Statistics, error) {
	rg := p.Window(s.now()).Current
	stats, err := s.repo.Statistics(ctx, rg)
	if err != nil {
		return nil, fmt.Errorf("payment statistics: %w", err)
	}
	return stats, nil
}

func (s *PaymentService) notify(pay *payment.Payment) {
	if s.notifier != nil {
		s.notifier.NotifyPaymentUpdated(pay)
	}
}

// applyVerification makes the provider's figures authoritative. Callers
// check confirmsAmount first.
func applyVerification(pay *payment.Payment, v *payment.Verification, now time.Time) {
	pay.Amount = v.Amount
	pay.Currency = strings.ToUpper(strings.TrimSpace(v.Currency))
	paidAt := now
	if v.PaidAt != nil {
		paidAt = *v.PaidAt
	}
	pay.PaidAt = &paidAt
}

func applyEventValues(pay *payment.Payment, e *payment.WebhookEvent, now time.Time) {
	applyVerification(pay, &payment.Verification{Amount: e.Amount, Currency: e.Currency, PaidAt: e.PaidAt}, now)
}

func currencyOrDefault(c string) string {
	if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
		return c
	}
	return payment.DefaultCurrency
}


//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"royalty-service/internal/db"
	"royalty-service/internal/domain/payment"
	"royalty-service/internal/domain/subscription"
	"royalty-service/internal/domain/view"
	xerrors "royalty-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

const postgresImage = "postgres:16-alpine"

func dockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "info").Run() == nil
}

// startPostgres runs a throwaway postgres, applies the migrations and returns
// a pool that is closed on cleanup.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if !dockerAvailable() {
		t.Skip("Skipping test: Docker not available")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "royalty",
			"POSTGRES_PASSWORD": "royalty",
			"POSTGRES_DB":       "royalty",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	url := fmt.Sprintf("postgres://royalty:royalty@%s:%s/royalty?sslmode=disable", host, port.Port())
	pool, err := db.ConnectDB(ctx, db.PostgresConfig{URL: url, MaxConns: 5})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := Migrate(ctx, pool, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// a second run must be a no-op
	if err := Migrate(ctx, pool, zap.NewNop()); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	return pool
}

func seedUser(t *testing.T, pool *pgxpool.Pool, email string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO users (email) VALUES ($1) RETURNING id`, email).Scan(&id)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func TestSubscriptionLifecycle(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	subs := NewSubscriptionRepository(pool)
	dbw := NewDB(pool)
	userID := seedUser(t, pool, "sub@example.com")

	start := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
	newSub := func(ref string) *subscription.Subscription {
		return &subscription.Subscription{
			Reference:    ref,
			UserID:       userID,
			PlanType:     subscription.PlanPremium,
			BillingCycle: subscription.BillingCycleMonthly,
			Amount:       decimal.RequireFromString("9.99"),
			Currency:     "USD",
			StartDate:    start,
			EndDate:      subscription.BillingCycleMonthly.EndDate(start),
			Status:       subscription.SubscriptionStatusActive,
		}
	}

	tx, err := dbw.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	first := newSub("SUB-1")
	if err := subs.CreateWithTx(ctx, tx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx, _ = dbw.BeginTx(ctx)
	err = subs.CreateWithTx(ctx, tx, newSub("SUB-2"))
	_ = tx.Rollback(ctx)
	if !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("second live subscription: got %v, want ErrConflict", err)
	}

	live, err := subs.FindLiveByUser(ctx, userID)
	if err != nil || live.ID != first.ID {
		t.Fatalf("live = %+v, %v", live, err)
	}

	at := start.Add(time.Hour)
	tx, _ = dbw.BeginTx(ctx)
	cancelled, err := subs.TransitionWithTx(ctx, tx, first.ID,
		subscription.SubscriptionStatusActive, subscription.SubscriptionStatusCancelled, nil, at)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_ = tx.Commit(ctx)
	if cancelled.CancelledAt == nil || cancelled.Status != subscription.SubscriptionStatusCancelled {
		t.Fatalf("cancelled = %+v", cancelled)
	}

	tx, _ = dbw.BeginTx(ctx)
	_, err = subs.TransitionWithTx(ctx, tx, first.ID,
		subscription.SubscriptionStatusActive, subscription.SubscriptionStatusExpired, nil, at)
	_ = tx.Rollback(ctx)
	if !errors.Is(err, xerrors.ErrStaleTransition) {
		t.Fatalf("stale transition: got %v", err)
	}

	// a cancelled row no longer blocks a new live one
	tx, _ = dbw.BeginTx(ctx)
	if err := subs.CreateWithTx(ctx, tx, newSub("SUB-3")); err != nil {
		t.Fatalf("create after cancel: %v", err)
	}
	_ = tx.Commit(ctx)

	tx, _ = dbw.BeginTx(ctx)
	expired, err := subs.ExpireDueWithTx(ctx, tx, start.AddDate(0, 2, 0), 10)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	_ = tx.Commit(ctx)
	if len(expired) != 1 || expired[0].PreviousStatus != subscription.SubscriptionStatusActive {
		t.Fatalf("expired = %+v", expired)
	}
}

func TestPaymentProviderRefIsUnique(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	payments := NewPaymentRepository(pool)
	dbw := NewDB(pool)
	userID := seedUser(t, pool, "pay@example.com")

	newPayment := func() *payment.Payment {
		return &payment.Payment{
			UserID:      userID,
			Amount:      decimal.RequireFromString("9.99"),
			Currency:    "USD",
			Provider:    payment.ProviderPaystack,
			ProviderRef: "ps-dup",
			Status:      payment.PaymentStatusPending,
		}
	}

	tx, _ := dbw.BeginTx(ctx)
	p := newPayment()
	if err := payments.CreateWithTx(ctx, tx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = tx.Commit(ctx)

	tx, _ = dbw.BeginTx(ctx)
	err := payments.CreateWithTx(ctx, tx, newPayment())
	_ = tx.Rollback(ctx)
	if !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("duplicate ref: got %v, want ErrConflict", err)
	}

	got, err := payments.FindByProviderRef(ctx, "ps-dup")
	if err != nil || got.ID != p.ID {
		t.Fatalf("find by ref = %+v, %v", got, err)
	}

	stale, err := payments.ListStalePending(ctx, time.Now().Add(time.Minute), 10)
	if err != nil || len(stale) != 1 {
		t.Fatalf("stale pending = %d, %v", len(stale), err)
	}
}

func TestViewSettlementFreezesRecords(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	views := NewViewRepository(pool)
	catalog := NewCatalogRepository(pool)

	ownerUser := seedUser(t, pool, "creator@example.com")
	var creatorID, videoID int64
	if err := pool.QueryRow(ctx,
		`INSERT INTO content_creators (user_id, display_name) VALUES ($1, 'c') RETURNING id`,
		ownerUser).Scan(&creatorID); err != nil {
		t.Fatalf("seed creator: %v", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO videos (creator_id, title, duration_seconds) VALUES ($1, 'v', 600) RETURNING id`,
		creatorID).Scan(&videoID); err != nil {
		t.Fatalf("seed video: %v", err)
	}

	video, err := catalog.FindVideo(ctx, videoID)
	if err != nil || video.CreatorID != creatorID {
		t.Fatalf("video = %+v, %v", video, err)
	}

	rate := decimal.RequireFromString("0.02")
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &view.Record{VideoID: videoID, OwnerID: creatorID, StartedAt: started}
	rec.Apply(320, 600, rate)
	if err := views.Create(ctx, rec); err != nil {
		t.Fatalf("create view: %v", err)
	}

	s, err := views.SettleBefore(ctx, started.Add(time.Hour), time.Now().Add(time.Minute), started.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if s.SettledViews != 1 || s.QualifiedViews != 1 || !s.Revenue.Equal(rate) {
		t.Fatalf("settlement = %+v", s)
	}

	again, err := views.SettleBefore(ctx, started.Add(time.Hour), time.Now().Add(time.Minute), started.Add(3*time.Hour))
	if err != nil || again.SettledViews != 0 {
		t.Fatalf("second settle = %+v, %v", again, err)
	}

	stored, err := views.FindByID(ctx, rec.ID)
	if err != nil || !stored.Settled() {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}

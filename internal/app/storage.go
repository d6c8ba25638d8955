// internal/app/storage.go
package app

import (
	"context"
	"fmt"

	"royalty-service/internal/config"
	"royalty-service/internal/db"
	"royalty-service/internal/repository/memory"
	"royalty-service/internal/repository/postgres"
	paymentsvc "royalty-service/internal/service/payment"
	revenuesvc "royalty-service/internal/service/revenue"
	subsvc "royalty-service/internal/service/subscription"
	viewsvc "royalty-service/internal/service/view"

	"go.uber.org/zap"
)

type catalogRepository interface {
	viewsvc.VideoCatalog
	revenuesvc.CreatorCatalog
}

// storage is the repository set of one driver.
type storage struct {
	tx            subsvc.TxBeginner
	catalog       catalogRepository
	views         viewsvc.Repository
	analytics     revenuesvc.AnalyticsRepository
	subscriptions subsvc.Repository
	users         subsvc.EntitlementRepository
	payments      paymentsvc.Repository

	ping  func(ctx context.Context) error
	close func()
}

func openStorage(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*storage, error) {
	switch cfg.StorageDriver {
	case "memory":
		store := memory.NewStore()
		store.Seed()
		logger.Warn("using in-memory storage; data is lost on restart")
		return &storage{
			tx:            store,
			catalog:       store.Catalog(),
			views:         store.Views(),
			analytics:     store.Analytics(),
			subscriptions: store.Subscriptions(),
			users:         store.Users(),
			payments:      store.Payments(),
			ping:          func(context.Context) error { return nil },
			close:         func() {},
		}, nil

	case "postgres", "":
		pool, err := db.ConnectDB(ctx, db.PostgresConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, pool, logger); err != nil {
				pool.Close()
				return nil, fmt.Errorf("failed to apply migrations: %w", err)
			}
		}
		logger.Info("connected to PostgreSQL", zap.Int32("max_conns", cfg.DBMaxConns))

		dbWrapper := postgres.NewDB(pool)
		return &storage{
			tx:            dbWrapper,
			catalog:       postgres.NewCatalogRepository(pool),
			views:         postgres.NewViewRepository(pool),
			analytics:     postgres.NewAnalyticsRepository(pool),
			subscriptions: postgres.NewSubscriptionRepository(pool),
			users:         postgres.NewUserRepository(pool),
			payments:      postgres.NewPaymentRepository(pool),
			ping:          dbWrapper.Ping,
			close:         pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
}

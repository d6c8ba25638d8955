// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"royalty-service/internal/config"
	"royalty-service/internal/db"
	"royalty-service/internal/gateway"
	analyticsHandler "royalty-service/internal/handlers/analytics"
	opsHandler "royalty-service/internal/handlers/ops"
	paymentHandler "royalty-service/internal/handlers/payment"
	subscriptionHandler "royalty-service/internal/handlers/subscription"
	viewHandler "royalty-service/internal/handlers/view"
	wsHandler "royalty-service/internal/handlers/websocket"
	"royalty-service/internal/middleware"
	"royalty-service/internal/pkg/jwt"
	"royalty-service/internal/pkg/ratelimit"
	"royalty-service/internal/pkg/validation"
	"royalty-service/internal/repository/cache"
	paymentUsecase "royalty-service/internal/service/payment"
	revenueUsecase "royalty-service/internal/service/revenue"
	subscriptionUsecase "royalty-service/internal/service/subscription"
	viewUsecase "royalty-service/internal/service/view"
	"royalty-service/internal/websocket"
	wsHandlers "royalty-service/internal/websocket/handler"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	cfg        config.AppConfig
	engine     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger

	mu      sync.Mutex
	closers []func()
}

func NewServer() *Server {
	cfg := config.Load()

	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	return &Server{
		cfg:    cfg,
		engine: engine,
		logger: newLogger(cfg),
		httpServer: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func newLogger(cfg config.AppConfig) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Start wires storage, services and routes, then serves until Shutdown.
func (s *Server) Start() error {
	ctx := context.Background()
	logger := s.logger

	// ----- Storage -----
	store, err := openStorage(ctx, s.cfg, logger)
	if err != nil {
		return err
	}
	s.onShutdown(store.close)

	// ----- Redis (optional) -----
	var redisClient *redis.Client
	if s.cfg.RedisAddr != "" {
		redisClient, err = db.NewRedisClient(db.RedisConfig{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPass,
			PoolSize: 10,
		})
		if err != nil {
			// rate limiting and the analytics cache are optional
			logger.Warn("redis unavailable, continuing without cache and rate limits", zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("connected to redis", zap.String("addr", s.cfg.RedisAddr))
			s.onShutdown(func() { _ = redisClient.Close() })
		}
	}

	// ----- JWT -----
	jwtManager, err := jwt.LoadAndBuild(s.cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT manager: %w", err)
	}

	// ----- Payment providers -----
	gwOpts := gateway.Options{
		Timeout:           s.cfg.Gateway.Timeout,
		RequestsPerSecond: s.cfg.Gateway.RequestsPerSecond,
		Logger:            logger,
	}
	registry := gateway.NewRegistry(
		gateway.NewPaystack(s.cfg.Gateway.PaystackSecretKey, s.cfg.Gateway.PaystackBaseURL, gwOpts),
		gateway.NewFlutterwave(
			s.cfg.Gateway.FlutterwaveSecretKey,
			s.cfg.Gateway.FlutterwaveWebhookHash,
			s.cfg.Gateway.FlutterwaveBaseURL,
			gwOpts,
		),
	)

	if err := validation.RegisterWithGin(); err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}

	handlers, hub := newHandlers(s.cfg, store, registry, jwtManager.Verifier, redisClient, logger)

	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	s.onShutdown(stopHub)

	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(s.cfg.CORSAllowedOrigins),
	)

	// ----- Router -----
	SetupRouter(s.engine, logger, handlers)

	// ----- Start HTTP -----
	logger.Info("server running",
		zap.String("addr", s.cfg.HTTPAddr),
		zap.String("storage", s.cfg.StorageDriver),
		zap.String("env", s.cfg.Env),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains HTTP requests, then stops the hub and closes pools in
// reverse order of creation.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	_ = s.logger.Sync()
	return err
}

func (s *Server) onShutdown(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, fn)
}

// newHandlers builds the services on top of store and wraps them in
// handlers. The returned hub is not running yet.
func newHandlers(
	cfg config.AppConfig,
	store *storage,
	registry *gateway.Registry,
	verifier *jwt.Verifier,
	redisClient *redis.Client,
	logger *zap.Logger,
) (*Handlers, *websocket.Hub) {
	// ----- WebSocket Hub -----
	hub := websocket.NewHub(verifier, logger)

	// ----- Services (Usecases) -----
	viewService := viewUsecase.NewViewService(store.catalog, store.views, cfg.RatePerView, logger)
	viewService.SetNotifier(hub)
	viewService.SetSettleGrace(cfg.SettleGrace)

	revenueService := revenueUsecase.NewRevenueService(store.catalog, store.analytics, cfg.RatePerView, logger)
	if redisClient != nil && cfg.AnalyticsCacheTTL > 0 {
		revenueService.SetCache(cache.NewJSONCache(redisClient, "royalty:analytics:", cfg.AnalyticsCacheTTL))
	}

	subscriptionService := subscriptionUsecase.NewSubscriptionService(
		store.tx,
		store.subscriptions,
		store.users,
		cfg.SweepBatchSize,
		logger,
	)
	subscriptionService.SetNotifier(hub)

	paymentService := paymentUsecase.NewPaymentService(
		store.tx,
		store.payments,
		registry,
		subscriptionService,
		cfg.Gateway.Timeout,
		logger,
	)
	paymentService.SetNotifier(hub)

	hub.RegisterHandler(wsHandlers.NewEntitlementHandler(subscriptionService))

	var limiter middleware.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient)
	}

	return &Handlers{
		ViewHandler:         viewHandler.NewViewHandler(viewService),
		AnalyticsHandler:    analyticsHandler.NewAnalyticsHandler(revenueService),
		SubscriptionHandler: subscriptionHandler.NewSubscriptionHandler(subscriptionService),
		PaymentHandler:      paymentHandler.NewPaymentHandler(paymentService, registry, logger),
		OpsHandler:          opsHandler.NewOpsHandler(subscriptionService, paymentService, viewService, logger),
		WSHandler:           wsHandler.NewWebSocketHandler(hub, cfg.CORSAllowedOrigins, logger),
		AuthMiddleware:      middleware.NewAuthMiddleware(verifier, cfg.SchedulerKeyHash, logger),
		Limiter:             limiter,
		TrackViewLimit:      cfg.TrackViewRateLimit,
		Ping:                store.ping,
	}, hub
}

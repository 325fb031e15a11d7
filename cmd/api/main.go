package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-bakery/internal/analytics"
	"github.com/noah-isme/backend-bakery/internal/audit"
	"github.com/noah-isme/backend-bakery/internal/auth"
	"github.com/noah-isme/backend-bakery/internal/cart"
	"github.com/noah-isme/backend-bakery/internal/catalog"
	"github.com/noah-isme/backend-bakery/internal/common"
	"github.com/noah-isme/backend-bakery/internal/config"
	"github.com/noah-isme/backend-bakery/internal/db"
	"github.com/noah-isme/backend-bakery/internal/events"
	"github.com/noah-isme/backend-bakery/internal/health"
	"github.com/noah-isme/backend-bakery/internal/lock"
	"github.com/noah-isme/backend-bakery/internal/notify"
	"github.com/noah-isme/backend-bakery/internal/obs"
	"github.com/noah-isme/backend-bakery/internal/order"
	"github.com/noah-isme/backend-bakery/internal/ratelimit"
	"github.com/noah-isme/backend-bakery/internal/resilience"
	"github.com/noah-isme/backend-bakery/internal/security"
	"github.com/noah-isme/backend-bakery/internal/voucher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.ObsLogFormat, cfg.ObsLogLevel).With().Str("env", cfg.AppEnv).Str("component", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsNamespace := cfg.ObsMetricsNamespace
	if metricsNamespace == "" {
		metricsNamespace = "bakery"
	}
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	if err := resilience.RegisterMetrics(nil); err != nil {
		logger.Error().Err(err).Msg("register breaker metrics")
	}

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		Enabled:       cfg.ObsEnableTracing,
		ServiceName:   cfg.ObsServiceName,
		Endpoint:      cfg.ObsOTLPEndpoint,
		SamplingRatio: 1.0,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		shutdownTracer = func(context.Context) error { return nil }
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	if cfg.MigrateOnStart {
		if err := (db.Migrator{URL: cfg.DatabaseURL, Logger: &logger}).Up(); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := db.Connect(startCtx, db.PoolConfig{URL: cfg.DatabaseURL, ApplicationName: "bakery-api", Tracer: obs.PGXTracer{}})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(startCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	codes, err := voucher.ParseRegistry(cfg.DiscountCodes, cfg.ShopLocation)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse discount codes")
	}
	logger.Info().Strs("codes", codes.Codes()).Msg("discount codes loaded")

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Repository: catalog.NewPGRepository(pool),
		Cache:      catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: catalogService})

	cartLogger := logger.With().Str("module", "cart").Logger()
	sessions := cart.NewSessions(cart.Options{
		Store:  cart.NewRedisStore(redisClient, cfg.CartTTL),
		Codes:  codes,
		Logger: &cartLogger,
	}, cfg.CartSessionIdle)
	go sessions.Run(ctx, time.Minute)
	cartHandler := &cart.Handler{Sessions: sessions, Products: catalogService}

	redisConnOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse task queue redis url")
	}
	taskClient := asynq.NewClient(redisConnOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	bus := &events.Bus{Store: events.NewPGStore(pool)}
	if cfg.OrderWebhookURL != "" {
		bus.Notifiers = append(bus.Notifiers, &notify.TaskNotifier{
			Client:   taskClient,
			Queue:    cfg.TaskQueue,
			MaxRetry: cfg.WebhookMaxRetry,
			Timeout:  cfg.WebhookTimeout * 2,
		})
	}

	orderLogger := logger.With().Str("module", "order").Logger()
	orderService := &order.Service{
		Sessions:      sessions,
		Sales:         order.NewPGSalesStore(pool, nil),
		Locker:        lock.Locker{R: redisClient, TTL: cfg.LockTTL},
		Events:        bus,
		ShopName:      cfg.ShopName,
		ShopPhone:     cfg.ShopWhatsAppPhone,
		TransferAlias: cfg.ShopTransferAlias,
		LockTTL:       cfg.LockTTL,
		Logger:        &orderLogger,
	}
	orderHandler := &order.Handler{Svc: orderService}

	authService, err := auth.NewService(auth.Config{
		AdminEmail:     cfg.AdminEmail,
		PasswordHash:   cfg.AdminPasswordHash,
		Secret:         cfg.JWTSecret,
		AccessTokenTTL: cfg.AccessTokenTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	if cfg.AdminPasswordHash == "" {
		logger.Warn().Msg("ADMIN_PASSWORD_HASH not set, admin login disabled")
	}
	authHandler := &auth.Handler{Service: authService, Logger: &logger}
	authMiddleware := auth.Middleware{Service: authService}

	limiterStore, err := ratelimit.NewStore(redisClient, "bakery:ratelimit")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter store")
	}
	onLimiterError := func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable, allowing request") }
	discountLimit, err := ratelimit.New(limiterStore, "discount", cfg.RateLimitDiscount, ratelimit.CartAndIP)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse RATE_LIMIT_DISCOUNT")
	}
	discountLimit.OnError = onLimiterError
	loginLimit, err := ratelimit.New(limiterStore, "login", cfg.RateLimitLogin, ratelimit.ClientIP)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse RATE_LIMIT_LOGIN")
	}
	loginLimit.OnError = onLimiterError

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	auditStore := audit.NewPGStore(pool)
	auditRecorder := audit.HTTPRecorder{
		Service: &audit.Service{Store: auditStore, Enabled: cfg.AuditEnabled},
		OnError: func(err error) { logger.Warn().Err(err).Msg("record audit entry") },
	}
	auditHandler := audit.Handler{Store: auditStore}

	analyticsLogger := logger.With().Str("module", "analytics").Logger()
	analyticsHandler := &analytics.Handler{Svc: &analytics.Service{
		Q:            analytics.NewPGQuerier(pool),
		R:            redisClient,
		TTL:          cfg.AnalyticsCacheTTL,
		DefaultRange: cfg.AnalyticsDays,
		Location:     cfg.ShopLocation,
		Logger:       &analyticsLogger,
	}}
	codesHandler := &voucher.Handler{Registry: codes}

	var httpMetrics *obs.HTTPMetrics
	if cfg.ObsEnablePrometheus {
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, obs.ParseBucketsCSV(cfg.ObsHTTPBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.ObsEnableTracing {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{EnableHSTS: cfg.IsProduction(), NoStorePrefixes: []string{"/api/v1/admin", "/api/v1/carts"}}.Middleware)
	r.Use(security.BodyLimit{Max: security.DefaultMaxBody}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	if cfg.ObsEnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}
	if !cfg.IsProduction() {
		r.Mount("/debug", middleware.Profiler())
	}

	healthHandler := health.Handler{Checker: health.Deps{DB: pool, Redis: redisClient}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/products", catalogHandler.Products)
		v.Get("/products/{id}", catalogHandler.Product)

		v.Route("/carts", func(c chi.Router) {
			c.Post("/", cartHandler.Create)
			c.Route("/{id}", func(one chi.Router) {
				one.Get("/", cartHandler.Get)
				one.Delete("/", cartHandler.Clear)
				one.Post("/items", cartHandler.AddItem)
				one.Patch("/items/{productId}", cartHandler.UpdateItem)
				one.Delete("/items/{productId}", cartHandler.RemoveItem)
				one.With(discountLimit.Middleware).Post("/discount", cartHandler.ApplyDiscount)
				one.Delete("/discount", cartHandler.RemoveDiscount)
				one.With(idem.Middleware).Post("/checkout", orderHandler.Checkout)
			})
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.With(loginLimit.Middleware).Post("/login", authHandler.Login)

			admin.Group(func(protected chi.Router) {
				protected.Use(authMiddleware.RequireAuth)
				protected.Get("/me", authHandler.Me)

				protected.Get("/products/stats", catalogHandler.Stats)
				protected.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "product.create", ResourceType: "product"})).
					Post("/products", catalogHandler.Create)
				protected.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "product.update", ResourceType: "product", ResourceIDParam: "id"})).
					Put("/products/{id}", catalogHandler.Update)
				protected.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "product.delete", ResourceType: "product", ResourceIDParam: "id"})).
					Delete("/products/{id}", catalogHandler.Delete)

				protected.Get("/sales", orderHandler.ListSales)
				protected.Get("/sales/stats", orderHandler.Stats)
				protected.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "sale.status", ResourceType: "sale", ResourceIDParam: "id"})).
					Patch("/sales/{id}/status", orderHandler.PatchStatus)

				protected.Get("/analytics/sales", analyticsHandler.Sales)
				protected.Get("/analytics/top-products", analyticsHandler.TopProducts)
				protected.Get("/discount-codes", codesHandler.List)
				protected.Get("/discount-codes/{code}", codesHandler.Get)
				protected.Get("/audit", auditHandler.List)
			})
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("shop", cfg.ShopName).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

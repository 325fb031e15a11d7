package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-bakery/internal/config"
	"github.com/noah-isme/backend-bakery/internal/notify"
	"github.com/noah-isme/backend-bakery/internal/obs"
	"github.com/noah-isme/backend-bakery/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.ObsLogFormat, cfg.ObsLogLevel).With().Str("env", cfg.AppEnv).Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	namespace := cfg.ObsMetricsNamespace
	if namespace == "" {
		namespace = "bakery"
	}
	obs.MustRegisterDomainMetrics(namespace, nil)
	if err := resilience.RegisterMetrics(nil); err != nil {
		logger.Error().Err(err).Msg("register breaker metrics")
	}

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
		Enabled:       cfg.ObsEnableTracing,
		ServiceName:   cfg.ObsServiceName + "-worker",
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

	redisConnOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	webhookLogger := logger.With().Str("module", "notify").Logger()
	webhook := &notify.WebhookHandler{
		URL:    cfg.OrderWebhookURL,
		Secret: cfg.OrderWebhookSecret,
		HTTP: &resilience.HTTPClient{
			Client:  notify.HTTPClient(cfg.WebhookTimeout, cfg.WebhookAllowInsecure),
			Breaker: resilience.NewBreaker(cfg.CircuitWebhookMinReq, cfg.CircuitWebhookRatio, cfg.CircuitWebhookOpenFor).WithTarget("order-webhook").WithLogger(webhookLogger),
			Timeout: cfg.WebhookTimeout,
			Target:  "order-webhook",
			Logger:  &webhookLogger,
		},
		Logger: &webhookLogger,
	}
	if cfg.OrderWebhookURL == "" {
		logger.Warn().Msg("ORDER_WEBHOOK_URL not set, order notifications will be acknowledged without delivery")
	}

	mux := asynq.NewServeMux()
	mux.Handle(notify.TaskOrderNotify, webhook)

	srv := asynq.NewServer(redisConnOpt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          map[string]int{cfg.TaskQueue: 1},
		RetryDelayFunc:  notify.RetryDelay(cfg.WebhookRetryBase, 10*time.Minute, 0.2),
		IsFailure:       notify.IsRetryableFailure,
		ErrorHandler:    notify.ErrorLogger(webhookLogger),
		Logger:          notify.AsynqLogger{Logger: logger},
		LogLevel:        asynqLogLevel(cfg.ObsLogLevel),
		ShutdownTimeout: 15 * time.Second,
	})

	metricsSrv := startMetricsServer(cfg, logger)

	logger.Info().Str("queue", cfg.TaskQueue).Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}

	<-ctx.Done()
	logger.Info().Msg("worker draining")
	srv.Shutdown()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown metrics server")
		}
	}
	logger.Info().Msg("worker shutdown complete")
}

func startMetricsServer(cfg *config.Config, logger zerolog.Logger) *http.Server {
	if !cfg.ObsEnablePrometheus || cfg.WorkerMetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server exited")
		}
	}()
	return srv
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch level {
	case "debug", "trace":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

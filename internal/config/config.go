package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const defaultDiscountCodes = "EXPO2025:0.10:2025-10-24T23:59:59"

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	CORSAllowedOrigins []string
	MigrateOnStart     bool

	CartTTL         time.Duration
	CartSessionIdle time.Duration
	CatalogCacheTTL time.Duration
	DiscountCodes   string
	ShopTimezone    string
	ShopLocation    *time.Location

	ShopName          string
	ShopWhatsAppPhone string
	ShopTransferAlias string

	AdminEmail        string
	AdminPasswordHash string
	AccessTokenTTL    time.Duration

	RateLimitDiscount string
	RateLimitLogin    string
	IdempotencyTTL    time.Duration
	LockTTL           time.Duration

	AnalyticsCacheTTL time.Duration
	AnalyticsDays     int
	AuditEnabled      bool

	OrderWebhookURL       string
	OrderWebhookSecret    string
	WebhookTimeout        time.Duration
	WebhookAllowInsecure  bool
	WebhookMaxRetry       int
	CircuitWebhookMinReq  int
	CircuitWebhookRatio   float64
	CircuitWebhookOpenFor time.Duration
	WebhookRetryBase      time.Duration
	TaskQueue             string
	WorkerConcurrency     int
	WorkerMetricsAddr     string

	ObsLogFormat        string
	ObsLogLevel         string
	ObsEnablePrometheus bool
	ObsEnableTracing    bool
	ObsOTLPEndpoint     string
	ObsServiceName      string
	ObsMetricsNamespace string
	ObsHTTPBuckets      string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START")),

		CartTTL:         parseDuration(k.String("CART_TTL"), "720h"),
		CartSessionIdle: parseDuration(k.String("CART_SESSION_IDLE"), "30m"),
		CatalogCacheTTL: parseDuration(k.String("CATALOG_CACHE_TTL"), "60s"),
		DiscountCodes:   valueOrDefault(k.String("DISCOUNT_CODES"), defaultDiscountCodes),
		ShopTimezone:    valueOrDefault(k.String("SHOP_TIMEZONE"), "America/Argentina/Cordoba"),

		ShopName:          valueOrDefault(k.String("SHOP_NAME"), "Gossip Cake"),
		ShopWhatsAppPhone: strings.TrimSpace(k.String("SHOP_WHATSAPP_PHONE")),
		ShopTransferAlias: strings.TrimSpace(k.String("SHOP_TRANSFER_ALIAS")),

		AdminEmail:        strings.TrimSpace(k.String("ADMIN_EMAIL")),
		AdminPasswordHash: strings.TrimSpace(k.String("ADMIN_PASSWORD_HASH")),
		AccessTokenTTL:    parseDuration(k.String("ACCESS_TOKEN_TTL"), "12h"),

		RateLimitDiscount: valueOrDefault(k.String("RATE_LIMIT_DISCOUNT"), "20-M"),
		RateLimitLogin:    valueOrDefault(k.String("RATE_LIMIT_LOGIN"), "5-M"),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:           parseDuration(k.String("LOCK_TTL"), "10s"),

		AnalyticsCacheTTL: parseDuration(k.String("ANALYTICS_CACHE_TTL"), "5m"),
		AnalyticsDays:     parseInt(k.String("ANALYTICS_DEFAULT_DAYS"), 30),
		AuditEnabled:      parseBoolDefault(k.String("AUDIT_ENABLED"), true),

		OrderWebhookURL:       strings.TrimSpace(k.String("ORDER_WEBHOOK_URL")),
		OrderWebhookSecret:    k.String("ORDER_WEBHOOK_SECRET"),
		WebhookTimeout:        parseDuration(k.String("WEBHOOK_TIMEOUT"), "5s"),
		WebhookAllowInsecure:  parseBool(k.String("WEBHOOK_ALLOW_INSECURE_TLS")),
		WebhookMaxRetry:       parseInt(k.String("WEBHOOK_MAX_RETRY"), 8),
		CircuitWebhookMinReq:  parseInt(k.String("CIRCUIT_WEBHOOK_MIN_REQ"), 5),
		CircuitWebhookRatio:   parseFloat(k.String("CIRCUIT_WEBHOOK_FAILURE_RATIO"), 0.5),
		CircuitWebhookOpenFor: parseDuration(k.String("CIRCUIT_WEBHOOK_OPEN_FOR"), "30s"),
		WebhookRetryBase:      parseDuration(k.String("WEBHOOK_RETRY_BASE"), "10s"),
		TaskQueue:             valueOrDefault(k.String("TASK_QUEUE"), "notifications"),
		WorkerConcurrency:     parseInt(k.String("WORKER_CONCURRENCY"), 4),
		WorkerMetricsAddr:     valueOrDefault(k.String("WORKER_METRICS_ADDR"), ":9091"),

		ObsLogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		ObsLogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		ObsEnablePrometheus: parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		ObsEnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING")),
		ObsOTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		ObsServiceName:      valueOrDefault(k.String("OBS_SERVICE_NAME"), "backend-bakery"),
		ObsMetricsNamespace: strings.TrimSpace(k.String("OBS_METRICS_NAMESPACE")),
		ObsHTTPBuckets:      strings.TrimSpace(k.String("OBS_HTTP_BUCKETS")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	loc, err := time.LoadLocation(cfg.ShopTimezone)
	if err != nil {
		return nil, fmt.Errorf("SHOP_TIMEZONE: %w", err)
	}
	cfg.ShopLocation = loc

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// RedisConfig provides the shared Redis connection.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides settings for the asynq client, worker and cron.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetLifecycleSweepCron() string
	GetGoalRecomputeCron() string
}

// RateLimitConfig provides per-route-class budgets.
type RateLimitConfig interface {
	GetRateLimitBackend() string
	GetRateLimitBudgets() map[string]RateBudget
}

// RateBudget is the number of requests admitted per window.
type RateBudget struct {
	Limit  int
	Window time.Duration
}

// EnrichmentConfig provides provider credentials and orchestration policy.
type EnrichmentConfig interface {
	GetGooglePlacesAPIKey() string
	GetYouTubeAPIKey() string
	GetGeminiAPIKey() string
	GetGeminiModel() string
	GetEnrichmentTimeout() time.Duration
	GetEnrichmentMaxRetries() int
	GetEnrichmentRetryBase() time.Duration
	GetEnrichmentFreshness() time.Duration
	GetProviderRatePerSecond() float64
	GetEnrichmentCostCents() int64
}

// LifecycleConfig provides thresholds for the engagement sweep.
type LifecycleConfig interface {
	GetStaleThresholdDays() int
	GetArchiveThresholdDays() int
	GetMinContactAttempts() int
	GetSweepConcurrency() int
}

// ScoringConfig points at an optional YAML scoring profile.
type ScoringConfig interface {
	GetScoringProfilePath() string
}

// StorageConfig provides settings for MinIO S3-compatible storage.
type StorageConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketEnrichmentPayloads() string
	IsMinIOEnabled() bool
}

// TelemetryConfig provides the OTLP endpoint for tracing.
type TelemetryConfig interface {
	GetOTelEndpoint() string
	GetServiceName() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env              string
	HTTPAddr         string
	DatabaseURL      string
	JWTAccessSecret  string
	CORSAllowAll     bool
	CORSOrigins      []string
	CORSAllowCreds   bool
	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int
	SweepCron        string
	GoalCron         string

	RateLimitBackend string
	RateBudgets      map[string]RateBudget

	GooglePlacesAPIKey    string
	YouTubeAPIKey         string
	GeminiAPIKey          string
	GeminiModel           string
	EnrichmentTimeout     time.Duration
	EnrichmentMaxRetries  int
	EnrichmentRetryBase   time.Duration
	EnrichmentFreshness   time.Duration
	ProviderRatePerSecond float64
	EnrichmentCostCents   int64

	StaleThresholdDays   int
	ArchiveThresholdDays int
	MinContactAttempts   int
	SweepConcurrency     int

	ScoringProfilePath string

	MinIOEndpoint                 string
	MinIOAccessKey                string
	MinIOSecretKey                string
	MinIOUseSSL                   bool
	MinioBucketEnrichmentPayloads string

	OTelEndpoint string
	ServiceName  string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string           { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool     { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string     { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int      { return c.AsynqConcurrency }
func (c *Config) GetLifecycleSweepCron() string { return c.SweepCron }
func (c *Config) GetGoalRecomputeCron() string  { return c.GoalCron }

// RateLimitConfig implementation
func (c *Config) GetRateLimitBackend() string                { return c.RateLimitBackend }
func (c *Config) GetRateLimitBudgets() map[string]RateBudget { return c.RateBudgets }

// EnrichmentConfig implementation
func (c *Config) GetGooglePlacesAPIKey() string           { return c.GooglePlacesAPIKey }
func (c *Config) GetYouTubeAPIKey() string                { return c.YouTubeAPIKey }
func (c *Config) GetGeminiAPIKey() string                 { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string                  { return c.GeminiModel }
func (c *Config) GetEnrichmentTimeout() time.Duration     { return c.EnrichmentTimeout }
func (c *Config) GetEnrichmentMaxRetries() int            { return c.EnrichmentMaxRetries }
func (c *Config) GetEnrichmentRetryBase() time.Duration   { return c.EnrichmentRetryBase }
func (c *Config) GetEnrichmentFreshness() time.Duration   { return c.EnrichmentFreshness }
func (c *Config) GetProviderRatePerSecond() float64       { return c.ProviderRatePerSecond }
func (c *Config) GetEnrichmentCostCents() int64           { return c.EnrichmentCostCents }

// LifecycleConfig implementation
func (c *Config) GetStaleThresholdDays() int   { return c.StaleThresholdDays }
func (c *Config) GetArchiveThresholdDays() int { return c.ArchiveThresholdDays }
func (c *Config) GetMinContactAttempts() int   { return c.MinContactAttempts }
func (c *Config) GetSweepConcurrency() int     { return c.SweepConcurrency }

// ScoringConfig implementation
func (c *Config) GetScoringProfilePath() string { return c.ScoringProfilePath }

// StorageConfig implementation
func (c *Config) GetMinIOEndpoint() string  { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool      { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketEnrichmentPayloads() string {
	return c.MinioBucketEnrichmentPayloads
}
func (c *Config) IsMinIOEnabled() bool { return c.MinIOEndpoint != "" }

// TelemetryConfig implementation
func (c *Config) GetOTelEndpoint() string { return c.OTelEndpoint }
func (c *Config) GetServiceName() string  { return c.ServiceName }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	env := &envReader{}
	cfg := &Config{
		Env:              getEnv("APP_ENV", "development"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		JWTAccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:     corsAllowAll,
		CORSOrigins:      corsOrigins,
		CORSAllowCreds:   strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency: env.int("ASYNQ_CONCURRENCY", "10"),
		SweepCron:        getEnv("LIFECYCLE_SWEEP_CRON", "@daily"),
		GoalCron:         getEnv("GOAL_RECOMPUTE_CRON", "@daily"),

		RateLimitBackend: strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "memory")),
		RateBudgets: map[string]RateBudget{
			"api":        env.budget("RATE_LIMIT_API", RateBudget{Limit: 100, Window: time.Minute}),
			"enrichment": env.budget("RATE_LIMIT_ENRICHMENT", RateBudget{Limit: 10, Window: time.Minute}),
			"goals":      env.budget("RATE_LIMIT_GOALS", RateBudget{Limit: 30, Window: time.Minute}),
		},

		GooglePlacesAPIKey:    getEnv("GOOGLE_PLACES_API_KEY", ""),
		YouTubeAPIKey:         getEnv("YOUTUBE_API_KEY", ""),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		EnrichmentTimeout:     env.duration("ENRICHMENT_TIMEOUT", "20s"),
		EnrichmentMaxRetries:  env.int("ENRICHMENT_MAX_RETRIES", "2"),
		EnrichmentRetryBase:   env.duration("ENRICHMENT_RETRY_BASE", "500ms"),
		EnrichmentFreshness:   env.duration("ENRICHMENT_FRESHNESS", "24h"),
		ProviderRatePerSecond: env.float("ENRICHMENT_PROVIDER_RPS", "5"),
		EnrichmentCostCents:   int64(env.int("ENRICHMENT_COST_CENTS", "5")),

		StaleThresholdDays:   env.int("LIFECYCLE_STALE_DAYS", "7"),
		ArchiveThresholdDays: env.int("LIFECYCLE_ARCHIVE_DAYS", "21"),
		MinContactAttempts:   env.int("LIFECYCLE_MIN_CONTACT_ATTEMPTS", "3"),
		SweepConcurrency:     env.int("LIFECYCLE_SWEEP_CONCURRENCY", "8"),

		ScoringProfilePath: getEnv("SCORING_PROFILE_PATH", ""),

		MinIOEndpoint:                 getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:                getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:                getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:                   strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketEnrichmentPayloads: getEnv("MINIO_BUCKET_ENRICHMENT_PAYLOADS", "enrichment-payloads"),

		OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  getEnv("OTEL_SERVICE_NAME", "lead-pipeline"),
	}
	if err := env.err(); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.RateLimitBackend == "redis" && cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND is redis")
	}
	if cfg.ArchiveThresholdDays <= 0 || cfg.MinContactAttempts < 0 {
		return nil, fmt.Errorf("LIFECYCLE_ARCHIVE_DAYS must be positive and LIFECYCLE_MIN_CONTACT_ATTEMPTS non-negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

// envReader parses typed variables and remembers every value that was set
// but could not be parsed, so Load reports them instead of running on zeros.
type envReader struct {
	errs []error
}

func (r *envReader) fail(key, value string, err error) {
	r.errs = append(r.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}

func (r *envReader) int(key, fallback string) int {
	value := getEnv(key, fallback)
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		r.fail(key, value, err)
		return 0
	}
	return result
}

func (r *envReader) float(key, fallback string) float64 {
	value := getEnv(key, fallback)
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		r.fail(key, value, err)
		return 0
	}
	return result
}

func (r *envReader) duration(key, fallback string) time.Duration {
	value := getEnv(key, fallback)
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		r.fail(key, value, err)
		return 0
	}
	return d
}

func (r *envReader) budget(key string, fallback RateBudget) RateBudget {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := parseBudget(value)
	if err != nil {
		r.fail(key, value, err)
		return fallback
	}
	return b
}

// parseBudget reads "<limit>/<window>", e.g. "10/60s".
func parseBudget(value string) (RateBudget, error) {
	limitRaw, windowRaw, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok {
		return RateBudget{}, fmt.Errorf("expected <limit>/<window>")
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitRaw))
	if err != nil {
		return RateBudget{}, err
	}
	window, err := time.ParseDuration(strings.TrimSpace(windowRaw))
	if err != nil {
		return RateBudget{}, err
	}
	if limit <= 0 || window <= 0 {
		return RateBudget{}, fmt.Errorf("limit and window must be positive")
	}
	return RateBudget{Limit: limit, Window: window}, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}

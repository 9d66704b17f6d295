package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends selectable through STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Signature schemes a provider may use for webhooks.
const (
	SchemeHMAC        = "hmac"
	SchemeTimestamped = "timestamped"
)

const defaultSignatureHeader = "X-Signature"

// Config is the service configuration.
type Config struct {
	DatabaseURL           string                    `yaml:"database_url"`
	RedisURL              string                    `yaml:"redis_url"`
	AMQPURL               string                    `yaml:"amqp_url"`
	AMQPExchange          string                    `yaml:"amqp_exchange"`
	HTTPAddr              string                    `yaml:"http_addr"`
	TenantID              string                    `yaml:"tenant_id"`
	DefaultProvider       string                    `yaml:"default_provider"`
	JWTSecret             string                    `yaml:"jwt_secret"`
	StoreBackend          string                    `yaml:"store_backend"`
	IdempotencyTTL        time.Duration             `yaml:"idempotency_ttl"`
	IdempotencyLease      time.Duration             `yaml:"idempotency_lease"`
	WebhookDedupTTL       time.Duration             `yaml:"webhook_dedup_ttl"`
	ReleaseOnHandlerError bool                      `yaml:"release_on_handler_error"`
	DispatchInterval      time.Duration             `yaml:"dispatch_interval"`
	DispatchBatch         int                       `yaml:"dispatch_batch"`
	LogLevel              string                    `yaml:"log_level"`
	Providers             map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig carries one processor's connection, webhook and resilience settings.
type ProviderConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	WebhookSecret   string        `yaml:"webhook_secret"`
	SignatureHeader string        `yaml:"signature_header"`
	SignatureScheme string        `yaml:"signature_scheme"`
	MaxSkew         time.Duration `yaml:"max_skew"`
	Events          EventMapping  `yaml:"events"`
	Retry           RetryConfig   `yaml:"retry"`
	Breaker         BreakerConfig `yaml:"breaker"`
}

// EventMapping locates the canonical webhook fields in a provider body.
type EventMapping struct {
	IDPath         string            `yaml:"id_path"`
	TypePath       string            `yaml:"type_path"`
	OccurredAtPath string            `yaml:"occurred_at_path"`
	DataPath       string            `yaml:"data_path"`
	Types          map[string]string `yaml:"types"`
}

// RetryConfig overrides the backoff policy. Zero fields keep the defaults.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// BreakerConfig overrides the circuit breaker. Zero fields keep the defaults.
type BreakerConfig struct {
	FailureRatio float64       `yaml:"failure_ratio"`
	MinRequests  uint32        `yaml:"min_requests"`
	OpenTimeout  time.Duration `yaml:"open_timeout"`
}

// Load reads env defaults and overlays the YAML file named by PAYCORE_CONFIG.
// ${VAR} references in the file are expanded from the environment.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:           getenvDefault("DATABASE_URL", os.Getenv("PG_DSN")),
		RedisURL:              os.Getenv("REDIS_URL"),
		AMQPURL:               os.Getenv("AMQP_URL"),
		AMQPExchange:          getenvDefault("AMQP_EXCHANGE", "paycore.events"),
		HTTPAddr:              getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:              getenvDefault("TENANT_ID", "tenant-demo"),
		DefaultProvider:       strings.ToLower(os.Getenv("DEFAULT_PROVIDER")),
		JWTSecret:             getenvDefault("AUTH_JWT_SECRET", os.Getenv("JWT_SECRET")),
		StoreBackend:          getenvDefault("STORE_BACKEND", BackendMemory),
		IdempotencyTTL:        getenvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		IdempotencyLease:      getenvDuration("IDEMPOTENCY_LEASE", 5*time.Minute),
		WebhookDedupTTL:       getenvDuration("WEBHOOK_DEDUP_TTL", 72*time.Hour),
		ReleaseOnHandlerError: getenvBool("WEBHOOK_RELEASE_ON_ERROR", false),
		DispatchInterval:      getenvDuration("OUTBOX_DISPATCH_INTERVAL", time.Second),
		DispatchBatch:         getenvIntDefault("OUTBOX_DISPATCH_BATCH", 100),
		LogLevel:              getenvDefault("LOG_LEVEL", "info"),
	}

	if path := os.Getenv("PAYCORE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if cfg.DefaultProvider != "" && len(cfg.Providers) == 0 {
		if base := os.Getenv("GATEWAY_BASE_URL"); base != "" {
			cfg.Providers = map[string]ProviderConfig{
				cfg.DefaultProvider: {
					BaseURL:       base,
					APIKey:        os.Getenv("GATEWAY_API_KEY"),
					WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
				},
			}
		}
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) normalize() {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.DefaultProvider = strings.ToLower(strings.TrimSpace(c.DefaultProvider))
	if len(c.Providers) == 0 {
		return
	}
	providers := make(map[string]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		if p.SignatureHeader == "" {
			p.SignatureHeader = defaultSignatureHeader
		}
		p.SignatureScheme = strings.ToLower(p.SignatureScheme)
		if p.SignatureScheme == "" {
			p.SignatureScheme = SchemeHMAC
		}
		if p.Timeout == 0 {
			p.Timeout = 10 * time.Second
		}
		if p.MaxSkew == 0 {
			p.MaxSkew = 5 * time.Minute
		}
		if p.Events.IDPath == "" {
			p.Events.IDPath = "id"
		}
		if p.Events.TypePath == "" {
			p.Events.TypePath = "type"
		}
		if p.Events.OccurredAtPath == "" {
			p.Events.OccurredAtPath = "created"
		}
		if p.Events.DataPath == "" {
			p.Events.DataPath = "data"
		}
		providers[strings.ToLower(strings.TrimSpace(name))] = p
	}
	c.Providers = providers
}

// Validate returns the first configuration problem.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL required for redis backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL required for postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.StoreBackend)
	}
	if strings.TrimSpace(c.TenantID) == "" {
		return errors.New("config: tenant id required")
	}
	if c.IdempotencyTTL <= 0 || c.IdempotencyLease <= 0 || c.WebhookDedupTTL <= 0 {
		return errors.New("config: idempotency and dedup durations must be positive")
	}
	if c.DispatchInterval <= 0 || c.DispatchBatch <= 0 {
		return errors.New("config: outbox dispatch interval and batch must be positive")
	}
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			return fmt.Errorf("config: default provider %q is not configured", c.DefaultProvider)
		}
	}
	for _, name := range c.ProviderNames() {
		if err := c.Providers[name].validate(); err != nil {
			return fmt.Errorf("config: provider %s: %w", name, err)
		}
	}
	return nil
}

func (p ProviderConfig) validate() error {
	if p.BaseURL == "" {
		return errors.New("base_url required")
	}
	if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", p.BaseURL)
	}
	switch p.SignatureScheme {
	case SchemeHMAC, SchemeTimestamped:
	default:
		return fmt.Errorf("unknown signature scheme %q", p.SignatureScheme)
	}
	if p.Retry.MaxAttempts < 0 {
		return errors.New("retry.max_attempts must not be negative")
	}
	if p.Retry.Multiplier != 0 && p.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be at least 1")
	}
	if p.Breaker.FailureRatio < 0 || p.Breaker.FailureRatio > 1 {
		return errors.New("breaker.failure_ratio must be within [0, 1]")
	}
	return nil
}

// ProviderNames returns configured provider names in sorted order.
func (c Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

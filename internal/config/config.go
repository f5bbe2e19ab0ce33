// Package config loads the companion configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	pkgconfig "github.com/siraat/companion/pkg/config"
	"github.com/siraat/companion/pkg/httpclient"
	"github.com/siraat/companion/pkg/siraat"
	"github.com/siraat/companion/pkg/storage"
	"github.com/siraat/companion/pkg/tracing"
)

// ServiceName names the companion in logs, metrics and traces.
const ServiceName = "siraat-companion"

// Config holds all configuration for the CLI and the companion daemon.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development" validate:"required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn warning error"`

	// Backend API
	APIBaseURL   string        `env:"SIRAAT_API_BASE_URL" envDefault:"http://localhost:8000/api/v1" validate:"required,url"`
	HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	MaxRetries   int           `env:"HTTP_MAX_RETRIES" envDefault:"3" validate:"gte=0,lte=10"`
	RetryWaitMin time.Duration `env:"HTTP_RETRY_WAIT_MIN" envDefault:"1s"`
	RetryWaitMax time.Duration `env:"HTTP_RETRY_WAIT_MAX" envDefault:"5s"`

	// Session refresh
	RefreshTimeout time.Duration `env:"REFRESH_TIMEOUT" envDefault:"15s"`
	RefreshPath    string        `env:"REFRESH_PATH" envDefault:"/auth/refresh" validate:"required"`

	// Token store
	TokenStore     string        `env:"TOKEN_STORE" envDefault:"file" validate:"oneof=memory file redis"`
	TokenFile      string        `env:"TOKEN_FILE"`
	TokenKeyPrefix string        `env:"TOKEN_KEY_PREFIX" envDefault:""`
	TokenSlowOp    time.Duration `env:"TOKEN_STORE_SLOW_OP" envDefault:"250ms"`

	// Redis, when TOKEN_STORE=redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379" validate:"gte=1,lte=65535"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0" validate:"gte=0"`

	// Companion daemon
	HTTPPort            int      `env:"COMPANION_HTTP_PORT" envDefault:"8787" validate:"gte=1,lte=65535"`
	RateLimitRPS        int      `env:"RATE_LIMIT_RPS" envDefault:"50" validate:"gte=1"`
	RateLimitBurst      int      `env:"RATE_LIMIT_BURST" envDefault:"100" validate:"gte=1"`
	LoginPerMinute      int      `env:"LOGIN_RATE_LIMIT_PER_MINUTE" envDefault:"10" validate:"gte=0"` // 0 disables
	CORSAllowedOrigins  []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	PprofAllowedCIDRs   []string `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`
	MetricsAllowedCIDRs []string `env:"METRICS_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,::1/128" envSeparator:","`

	// Circuit breaker in front of the backend
	BreakerTimeout      time.Duration `env:"BREAKER_TIMEOUT" envDefault:"30s"`
	BreakerFailureRatio float64       `env:"BREAKER_FAILURE_RATIO" envDefault:"0.5" validate:"gt=0,lte=1"`
	BreakerMinRequests  uint32        `env:"BREAKER_MIN_REQUESTS" envDefault:"5" validate:"gte=1"`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0" validate:"gte=0,lte=1"`

	// Session events
	KafkaBrokers      []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaSessionTopic string   `env:"KAFKA_SESSION_TOPIC" envDefault:"siraat.session.events"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load companion config: %w", err)
	}
	if cfg.TokenStore == storage.BackendFile && cfg.TokenFile == "" {
		cfg.TokenFile = DefaultTokenFile()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultTokenFile is where the file token store lives unless TOKEN_FILE
// says otherwise.
func DefaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".siraat-session.json"
	}
	return filepath.Join(dir, "siraat", "session.json")
}

// Validate checks rules that span fields. Call it again after overriding
// fields loaded by Load.
func (c *Config) Validate() error {
	if _, err := url.Parse(c.APIBaseURL); err != nil {
		return fmt.Errorf("SIRAAT_API_BASE_URL: %w", err)
	}
	if c.RetryWaitMin > c.RetryWaitMax {
		return fmt.Errorf("HTTP_RETRY_WAIT_MIN (%s) must not exceed HTTP_RETRY_WAIT_MAX (%s)", c.RetryWaitMin, c.RetryWaitMax)
	}
	if c.RefreshTimeout <= 0 {
		return fmt.Errorf("REFRESH_TIMEOUT must be positive")
	}
	switch c.TokenStore {
	case storage.BackendMemory:
	case storage.BackendFile:
		if c.TokenFile == "" {
			return fmt.Errorf("TOKEN_FILE is required when TOKEN_STORE=file")
		}
	case storage.BackendRedis:
		if c.RedisHost == "" {
			return fmt.Errorf("REDIS_HOST is required when TOKEN_STORE=redis")
		}
	default:
		return fmt.Errorf("TOKEN_STORE %q is not one of memory, file, redis", c.TokenStore)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaSessionTopic == "" {
		return fmt.Errorf("KAFKA_SESSION_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.Environment == "production" && c.TokenStore == storage.BackendMemory {
		return fmt.Errorf("TOKEN_STORE=memory loses the session on restart and is not allowed in production")
	}
	return nil
}

// Storage returns the token store settings.
func (c *Config) Storage() storage.Config {
	return storage.Config{
		Backend:   c.TokenStore,
		FilePath:  c.TokenFile,
		KeyPrefix: c.TokenKeyPrefix,
		SlowOp:    c.TokenSlowOp,
		Redis: storage.RedisConfig{
			Host:     c.RedisHost,
			Port:     c.RedisPort,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		},
	}
}

// API returns the backend client settings.
func (c *Config) API() siraat.Config {
	cfg := siraat.DefaultConfig(c.APIBaseURL)
	cfg.HTTP.Timeout = c.HTTPTimeout
	cfg.HTTP.MaxRetries = c.MaxRetries
	cfg.HTTP.RetryWaitMin = c.RetryWaitMin
	cfg.HTTP.RetryWaitMax = c.RetryWaitMax
	cfg.Breaker = c.Breaker(siraat.ServiceName)
	cfg.RefreshPath = c.RefreshPath
	cfg.RefreshTimeout = c.RefreshTimeout
	return cfg
}

// Breaker returns circuit breaker settings under name.
func (c *Config) Breaker(name string) httpclient.CircuitBreakerConfig {
	cb := httpclient.DefaultCircuitBreakerConfig(name)
	cb.Timeout = c.BreakerTimeout
	cb.FailureRatio = c.BreakerFailureRatio
	cb.MinRequests = c.BreakerMinRequests
	return cb
}

// Tracing returns the OpenTelemetry settings.
func (c *Config) Tracing(version string) tracing.Config {
	return tracing.Config{
		ServiceName:    ServiceName,
		ServiceVersion: version,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTELEndpoint,
		SampleRate:     c.OTELSampleRate,
		Enabled:        c.OTELEnabled,
	}
}

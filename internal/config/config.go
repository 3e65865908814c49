// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`
	// Credentials for the model provider. LLM_API_KEYS is the ordered pool;
	// LLM_API_KEY and LLM_API_KEYS_FILE are merged into it by Credentials.
	LLMAPIKeys     []string      `env:"LLM_API_KEYS" envSeparator:","`
	LLMAPIKey      string        `env:"LLM_API_KEY"`
	LLMAPIKeysFile string        `env:"LLM_API_KEYS_FILE"`
	LLMBaseURL     string        `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMReferer     string        `env:"LLM_REFERER"`
	LLMTitle       string        `env:"LLM_TITLE" envDefault:"AI Purchase Advisor"`
	LLMTimeout     time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`
	// Key health tracking: consecutive failures before a key is quarantined,
	// and the bounds of its exponential quarantine schedule.
	KeyFailureThreshold int           `env:"LLM_KEY_FAILURE_THRESHOLD" envDefault:"3"`
	KeyQuarantineBase   time.Duration `env:"LLM_KEY_QUARANTINE_BASE" envDefault:"30s"`
	KeyQuarantineMax    time.Duration `env:"LLM_KEY_QUARANTINE_MAX" envDefault:"10m"`
	// KeyRatePerMin caps outbound calls per key when Redis is configured. 0 disables.
	KeyRatePerMin int    `env:"LLM_KEY_RATE_PER_MIN" envDefault:"0"`
	RedisURL      string `env:"REDIS_URL"`
	// OpportunityAnnualReturn is the yearly growth rate used for projections.
	OpportunityAnnualReturn float64       `env:"OPPORTUNITY_ANNUAL_RETURN" envDefault:"0.07"`
	OTLPEndpoint            string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName         string        `env:"OTEL_SERVICE_NAME" envDefault:"ai-purchase-advisor"`
	CORSAllowOrigins        string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin         int           `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
	ServerShutdownTimeout   time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout         time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout        time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"90s"`
	HTTPIdleTimeout         time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxBodyKB               int64         `env:"MAX_BODY_KB" envDefault:"64"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// RequestTimeout bounds one analysis end to end: two model calls plus slack.
func (c Config) RequestTimeout() time.Duration {
	return 2*c.LLMTimeout + 5*time.Second
}

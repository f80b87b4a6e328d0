package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the cockpit service.
// Environment variables are parsed with the COCKPIT_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:""`

	// Read-path cache
	CacheBackend string `envconfig:"CACHE_BACKEND" default:"auto"`
	RedisAddr    string `envconfig:"REDIS_ADDR" default:""`

	// Auth boundary
	JWTSecret string `envconfig:"JWT_SECRET" default:"dev-secret-change-me"`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"cockpit.identity"`

	// Upstream subsystems
	SecurityURL       string        `envconfig:"UPSTREAM_SECURITY_URL" default:"http://guardian:8080"`
	OpportunityURL    string        `envconfig:"UPSTREAM_OPPORTUNITY_URL" default:"http://opportunities:8080"`
	PortfolioURL      string        `envconfig:"UPSTREAM_PORTFOLIO_URL" default:"http://portfolio:8080"`
	WorkflowURL       string        `envconfig:"UPSTREAM_WORKFLOW_URL" default:"http://workflow:8080"`
	ProofURL          string        `envconfig:"UPSTREAM_PROOF_URL" default:"http://receipts:8080"`
	ProviderStatusURL string        `envconfig:"UPSTREAM_PROVIDER_STATUS_URL" default:"http://chainstatus:8080"`
	AdapterTimeout    time.Duration `envconfig:"ADAPTER_TIMEOUT" default:"800ms"`
	AdapterRetries    int           `envconfig:"ADAPTER_RETRIES" default:"2"`

	// Scoring
	BurstSources []string      `envconfig:"BURST_SOURCES" default:"portfolio,proof"`
	BurstWindow  time.Duration `envconfig:"BURST_WINDOW" default:"6h"`

	ChainPolicyFile string `envconfig:"CHAIN_POLICY_FILE" default:""`

	// Notification pipeline
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:""`
	NotifyTopic  string   `envconfig:"NOTIFY_TOPIC" default:"cockpit.notifications"`

	// Digest
	DigestLocalHour            int           `envconfig:"DIGEST_LOCAL_HOUR" default:"9"`
	DigestTick                 time.Duration `envconfig:"DIGEST_TICK" default:"1m"`
	DigestWorkers              int           `envconfig:"DIGEST_WORKERS" default:"4"`
	PortfolioDeltaThresholdPct string        `envconfig:"PORTFOLIO_DELTA_THRESHOLD_PCT" default:"5"`

	// Request limits
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"10"`

	// Background loops
	HealthIntervalSeconds     int           `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int           `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
	ProviderPollInterval      time.Duration `envconfig:"PROVIDER_POLL_INTERVAL" default:"30s"`
	ShownPruneInterval        time.Duration `envconfig:"SHOWN_PRUNE_INTERVAL" default:"10m"`
}

// ResolveDefaults derives DBDriver and CacheBackend when set to "auto" and validates the result.
func (c *Config) ResolveDefaults() error {
	if c.DBDriver == "" || c.DBDriver == "auto" {
		if c.PostgresDSN != "" {
			c.DBDriver = "postgres"
		} else {
			c.DBDriver = "sqlite"
		}
	}
	switch c.DBDriver {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("DB_DRIVER=postgres requires POSTGRES_DSN")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			c.SQLitePath = "./data/cockpit.db"
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}

	if c.CacheBackend == "" || c.CacheBackend == "auto" {
		if c.RedisAddr != "" {
			c.CacheBackend = "redis"
		} else {
			c.CacheBackend = "memory"
		}
	}
	switch c.CacheBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("CACHE_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unsupported CACHE_BACKEND: %s", c.CacheBackend)
	}

	if c.DigestLocalHour < 0 || c.DigestLocalHour > 23 {
		return fmt.Errorf("DIGEST_LOCAL_HOUR must be 0-23, got %d", c.DigestLocalHour)
	}
	if c.DigestWorkers <= 0 {
		c.DigestWorkers = 1
	}
	if c.AdapterTimeout <= 0 {
		return fmt.Errorf("ADAPTER_TIMEOUT must be positive")
	}
	return nil
}

// New creates a new Config by parsing environment variables
// Example: COCKPIT_HTTP_PORT, COCKPIT_POSTGRES_DSN
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("COCKPIT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Str("cache_backend", cfg.CacheBackend).
		Int("port", cfg.HTTPPort).
		Dur("adapter_timeout", cfg.AdapterTimeout).
		Strs("burst_sources", cfg.BurstSources).
		Dur("burst_window", cfg.BurstWindow).
		Bool("kafka_enabled", len(cfg.KafkaBrokers) > 0).
		Str("chain_policy_file", cfg.ChainPolicyFile).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	cfg := &Config{
		Environment:                EnvTesting,
		LogLevel:                   "debug",
		HTTPPort:                   8080,
		DBDriver:                   "sqlite",
		SQLitePath:                 ":memory:",
		CacheBackend:               "memory",
		JWTSecret:                  "test-secret",
		JWTIssuer:                  "cockpit.test",
		AdapterTimeout:             200 * time.Millisecond,
		AdapterRetries:             0,
		BurstSources:               []string{"portfolio", "proof"},
		BurstWindow:                6 * time.Hour,
		NotifyTopic:                "cockpit.notifications",
		DigestLocalHour:            9,
		DigestTick:                 time.Minute,
		DigestWorkers:              2,
		PortfolioDeltaThresholdPct: "5",
		RateLimitRPS:               100,
		RateLimitBurst:             100,
		HealthIntervalSeconds:      1,
		HealthProbeTimeoutSeconds:  1,
		ProviderPollInterval:       time.Second,
		ShownPruneInterval:         time.Minute,
	}
	return cfg
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

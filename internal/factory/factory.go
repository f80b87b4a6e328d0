// Package factory builds the configured backends for the service binaries.
package factory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mycelian/cockpit/internal/adapters"
	"github.com/mycelian/cockpit/internal/adapters/upstream"
	"github.com/mycelian/cockpit/internal/cache"
	"github.com/mycelian/cockpit/internal/chainhealth"
	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/config"
	"github.com/mycelian/cockpit/internal/notify"
	storepkg "github.com/mycelian/cockpit/internal/store"
	storepg "github.com/mycelian/cockpit/internal/store/postgres"
	storesqlite "github.com/mycelian/cockpit/internal/store/sqlite"
)

// NewStore opens the store selected by cfg.DBDriver and applies migrations.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, error) {
	var st storepkg.Store
	switch cfg.DBDriver {
	case "postgres":
		db, err := storepg.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		st = storepg.NewWithDB(db)
	case "sqlite":
		db, err := storesqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		st = storesqlite.NewWithDB(db)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate %s store: %w", cfg.DBDriver, err)
	}
	log.Debug().Str("driver", cfg.DBDriver).Msg("store ready")
	return st, nil
}

// CacheBackend is a summary cache that can be closed.
type CacheBackend interface {
	cache.Store
	Close() error
}

type memoryBackend struct{ *cache.Memory }

func (memoryBackend) Close() error { return nil }

// NewCache returns the Redis cache when configured, else the in-process one.
func NewCache(cfg *config.Config, clk clock.Clock) CacheBackend {
	if cfg.CacheBackend == "redis" {
		return cache.DialRedis(cfg.RedisAddr)
	}
	return memoryBackend{cache.NewMemory(clk)}
}

// Publisher is a notification producer that can be closed.
type Publisher interface {
	notify.Publisher
	Close() error
}

type logPublisher struct{ notify.LogPublisher }

func (logPublisher) Close() error { return nil }

// NewPublisher returns a Kafka producer, or a logging stand-in without brokers.
func NewPublisher(cfg *config.Config, log zerolog.Logger) Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return logPublisher{notify.LogPublisher{Log: log}}
	}
	return notify.NewKafkaProducer(cfg.KafkaBrokers)
}

// Upstreams holds one client per upstream subsystem.
type Upstreams struct {
	Sources adapters.Clients
	Status  *upstream.Client
}

func NewUpstreams(cfg *config.Config, log zerolog.Logger) Upstreams {
	opts := upstream.Options{Retries: cfg.AdapterRetries}
	return Upstreams{
		Sources: adapters.Clients{
			Security:    upstream.New("security", cfg.SecurityURL, opts, log),
			Opportunity: upstream.New("opportunity", cfg.OpportunityURL, opts, log),
			Portfolio:   upstream.New("portfolio", cfg.PortfolioURL, opts, log),
			Workflow:    upstream.New("workflow", cfg.WorkflowURL, opts, log),
			Proof:       upstream.New("proof", cfg.ProofURL, opts, log),
		},
		Status: upstream.New("chainstatus", cfg.ProviderStatusURL, opts, log),
	}
}

// NewRunner builds the adapter fan-out over the HTTP sources.
func NewRunner(cfg *config.Config, up Upstreams, clk clock.Clock, log zerolog.Logger) *adapters.Runner {
	return adapters.NewRunner(adapters.HTTPSources(up.Sources), cfg.AdapterTimeout, clk, log)
}

// LoadPolicy reads CHAIN_POLICY_FILE or falls back to the built-in policy.
func LoadPolicy(cfg *config.Config) (chainhealth.Policy, error) {
	if cfg.ChainPolicyFile == "" {
		return chainhealth.DefaultPolicy(), nil
	}
	return chainhealth.LoadPolicy(cfg.ChainPolicyFile)
}

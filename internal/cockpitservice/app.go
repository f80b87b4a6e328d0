package cockpitservice

import (
	"context"
	"fmt"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mycelian/cockpit/internal/api"
	"github.com/mycelian/cockpit/internal/auth"
	"github.com/mycelian/cockpit/internal/chainhealth"
	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/config"
	"github.com/mycelian/cockpit/internal/digest"
	"github.com/mycelian/cockpit/internal/factory"
	"github.com/mycelian/cockpit/internal/notify"
	"github.com/mycelian/cockpit/internal/scoring"
	"github.com/mycelian/cockpit/internal/services"
	"github.com/mycelian/cockpit/internal/store"
	"github.com/mycelian/cockpit/internal/suppression"
)

// App is the fully wired engine shared by the service binary and the operator CLI.
type App struct {
	Config      *config.Config
	Store       store.Store
	Cache       factory.CacheBackend
	Publisher   factory.Publisher
	Upstreams   factory.Upstreams
	Monitor     *chainhealth.Monitor
	Suppression *suppression.Service
	Cockpit     *services.CockpitService
	Pulses      *services.PulseService
	Prefs       *services.PrefsService
	Relevance   *services.RelevanceService
	Generator   *digest.Generator
	Scheduler   *digest.Scheduler
	Verifier    *auth.Verifier
	Clock       clock.Clock
	Log         zerolog.Logger
}

// Build opens backends and wires every component. Nothing is started.
func Build(ctx context.Context, cfg *config.Config, clk clock.Clock, log zerolog.Logger) (*App, error) {
	threshold, err := decimal.NewFromString(cfg.PortfolioDeltaThresholdPct)
	if err != nil {
		return nil, fmt.Errorf("PORTFOLIO_DELTA_THRESHOLD_PCT: %w", err)
	}
	policy, err := factory.LoadPolicy(cfg)
	if err != nil {
		return nil, err
	}

	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Store:     st,
		Cache:     factory.NewCache(cfg, clk),
		Publisher: factory.NewPublisher(cfg, log),
		Upstreams: factory.NewUpstreams(cfg, log),
		Verifier:  auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Clock:     clk,
		Log:       log,
	}
	a.Monitor = chainhealth.NewMonitor(a.Upstreams.Status, policy, clk, log)
	a.Suppression = suppression.New(st.Shown(), clk, log)
	a.Cockpit = services.NewCockpitService(services.Deps{
		Store:       st,
		Fetcher:     factory.NewRunner(cfg, a.Upstreams, clk, log),
		Scans:       a.Upstreams.Status,
		Chains:      a.Monitor,
		Policy:      policy,
		Engine:      scoring.NewEngine(scoring.NewBurstConfig(cfg.BurstSources, cfg.BurstWindow)),
		Suppression: a.Suppression,
		Cache:       a.Cache,
		Clock:       clk,
		Log:         log,
	})
	a.Generator = digest.NewGenerator(st.Pulses(), a.Cockpit, threshold, clk, log)
	notifier := notify.NewNotifier(st.Notifications(), a.Publisher, cfg.NotifyTopic, clk, log)
	a.Scheduler = digest.NewScheduler(st.UserStates(), st.Pulses(), a.Generator, notifier, cfg.DigestLocalHour, cfg.DigestWorkers, clk, log)
	a.Pulses = services.NewPulseService(st.UserStates(), a.Generator, a.Cache, clk, log)
	a.Prefs = services.NewPrefsService(st.UserStates(), a.Cache, clk)
	a.Relevance = services.NewRelevanceService(st, a.Cache, clk)
	return a, nil
}

// Router wires the HTTP surface.
func (a *App) Router(h api.HealthReporter) *mux.Router {
	return api.NewRouter(api.Deps{
		Cockpit:   a.Cockpit,
		Pulses:    a.Pulses,
		Prefs:     a.Prefs,
		Relevance: a.Relevance,
		Verifier:  a.Verifier,
		Limiter:   api.NewUserLimiter(a.Config.RateLimitRPS, a.Config.RateLimitBurst),
		Health:    h,
		Clock:     a.Clock,
		Log:       a.Log,
	})
}

// Close releases backends in reverse order of construction.
func (a *App) Close() {
	if err := a.Publisher.Close(); err != nil {
		a.Log.Warn().Err(err).Msg("publisher close failed")
	}
	if err := a.Cache.Close(); err != nil {
		a.Log.Warn().Err(err).Msg("cache close failed")
	}
	if err := a.Store.Close(); err != nil {
		a.Log.Warn().Err(err).Msg("store close failed")
	}
}

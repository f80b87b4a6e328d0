package cockpitservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/config"
	"github.com/mycelian/cockpit/internal/health"
	"github.com/mycelian/cockpit/internal/logger"
	"github.com/mycelian/cockpit/internal/metrics"
)

// Run starts the cockpit HTTP server and background loops and blocks until shutdown or error.
func Run() error {
	log := logger.New("cockpit-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}
	log = logger.NewWithWriter(os.Stdout, "cockpit-service", cfg.LogLevel)

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Str("cache_backend", cfg.CacheBackend).
		Int("http_port", cfg.HTTPPort).
		Msg("cockpit-service starting")

	ctx, stop := newServerContext()
	defer stop()

	app, err := Build(ctx, cfg, clock.Real{}, log)
	if err != nil {
		return err
	}
	defer app.Close()

	// Checkers start before the listener so /api/health never reports a stale default.
	svcHealth := startHealthCheckers(ctx, app)
	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		return err
	}

	startBackground(ctx, app)
	return serve(ctx, app, svcHealth)
}

// startBackground launches the provider monitor, digest scheduler and suppression pruner.
func startBackground(ctx context.Context, app *App) {
	cfg := app.Config
	go app.Monitor.Start(ctx, cfg.ProviderPollInterval)
	go app.Scheduler.Start(ctx, cfg.DigestTick)
	go app.Suppression.StartPruner(ctx, cfg.ShownPruneInterval)
}

// startHealthCheckers starts component checkers and the service-level aggregator.
func startHealthCheckers(ctx context.Context, app *App) *health.ServiceHealthChecker {
	cfg := app.Config
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	targets := map[string]any{"store": app.Store, "cache": app.Cache}
	if len(cfg.KafkaBrokers) > 0 {
		targets["notifications"] = app.Publisher
	}
	var checkers []health.HealthChecker
	for name, t := range targets {
		pinger, ok := t.(health.HealthPinger)
		if !ok {
			continue
		}
		c := health.NewPingChecker(name, pinger, app.Log, probeTimeout)
		go c.Start(ctx, interval)
		checkers = append(checkers, c)
	}

	svcHealth := health.NewServiceHealthChecker(app.Log, checkers...)
	svcHealth.OnTransition(func(up bool) {
		if up {
			metrics.ServiceHealthy.Set(1)
		} else {
			metrics.ServiceHealthy.Set(0)
		}
	})
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

// serve runs the HTTP listener until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, app *App, svcHealth *health.ServiceHealthChecker) error {
	log := app.Log
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(app.Config.HTTPPort)),
		Handler:           app.Router(svcHealth),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      app.Config.AdapterTimeout + 10*time.Second,
		IdleTimeout:       90 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	failed := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("cockpit API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
	}()

	select {
	case err := <-failed:
		log.Error().Stack().Err(err).Msg("HTTP listener failed")
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("draining HTTP connections")
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error().Stack().Err(err).Msg("HTTP drain incomplete")
		return err
	}
	log.Info().Msg("cockpit-service stopped")
	return nil
}

// startupWindow is twice the health interval, never below one minute.
func startupWindow(healthIntervalSeconds int) time.Duration {
	return max(2*time.Duration(healthIntervalSeconds)*time.Second, time.Minute)
}

// waitUntilHealthy polls the aggregate checker until it reports healthy or the startup window closes.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	window := startupWindow(cfg.HealthIntervalSeconds)
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()
	poll := time.NewTicker(250 * time.Millisecond)
	defer poll.Stop()
	for !svcHealth.IsHealthy() {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("dependencies not healthy within %s", window)
			}
			return ctx.Err()
		case <-poll.C:
		}
	}
	return nil
}

func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

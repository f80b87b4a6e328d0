package health

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker is implemented by component-level checkers (store, cache, notifier).
type HealthChecker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// ServiceHealthChecker folds component checkers into one service flag.
type ServiceHealthChecker struct {
	healthy atomic.Int32
	deps    []HealthChecker
	log     zerolog.Logger
	onFlip  func(healthy bool)
}

func NewServiceHealthChecker(log zerolog.Logger, deps ...HealthChecker) *ServiceHealthChecker {
	h := &ServiceHealthChecker{deps: deps, log: log}
	h.healthy.Store(0)
	return h
}

// OnTransition registers fn to run whenever the aggregated flag flips. Call before Start.
func (h *ServiceHealthChecker) OnTransition(fn func(healthy bool)) { h.onFlip = fn }

// IsHealthy returns cached service health.
func (h *ServiceHealthChecker) IsHealthy() bool { return h.healthy.Load() == 1 }

// Components reports the cached flag of every dependency keyed by name.
func (h *ServiceHealthChecker) Components() map[string]bool {
	out := make(map[string]bool, len(h.deps))
	for _, c := range h.deps {
		out[c.Name()] = c.IsHealthy()
	}
	return out
}

// Names lists dependency names in stable order.
func (h *ServiceHealthChecker) Names() []string {
	out := make([]string, 0, len(h.deps))
	for _, c := range h.deps {
		out = append(out, c.Name())
	}
	sort.Strings(out)
	return out
}

// Start periodically evaluates dependency health and updates the service flag.
func (h *ServiceHealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := int32(-1)
	eval := func() {
		var down []string
		for _, c := range h.deps {
			if !c.IsHealthy() {
				down = append(down, c.Name())
			}
		}
		if len(down) == 0 {
			h.healthy.Store(1)
		} else {
			h.healthy.Store(0)
		}
		cur := h.healthy.Load()
		if cur == prev {
			return
		}
		if cur == 1 {
			h.log.Info().Msg("service health: UP")
		} else {
			h.log.Error().Strs("down", down).Msg("service health: DOWN")
		}
		if h.onFlip != nil {
			h.onFlip(cur == 1)
		}
		prev = cur
	}

	eval()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eval()
		}
	}
}

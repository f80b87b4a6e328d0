package chainhealth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/cockpit/internal/adapters/upstream"
	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/metrics"
)

const (
	// SlowP95 is the latency above which a degraded provider starts its sustain timer.
	SlowP95 = 1200 * time.Millisecond
	// SlowSustain is how long a slow provider must stay slow to count as degraded.
	SlowSustain = 5 * time.Minute
	// LagFactor times the normal indexer lag marks an indexer as stale.
	LagFactor = 2
	// staleAfterPolls successful polls without a sample for a chain forget its state.
	staleAfterPolls = 3
	// defaultStaleAfter applies until Start knows the poll interval.
	defaultStaleAfter = staleAfterPolls * 30 * time.Second
)

// StatusSource reads provider samples.
type StatusSource interface {
	ProviderStatus(ctx context.Context) ([]upstream.ProviderStatus, error)
}

type chainState struct {
	offline    bool
	slowSince  *time.Time
	lag        time.Duration
	lastSample time.Time
}

// Monitor keeps the latest health of every chain's data provider.
type Monitor struct {
	src    StatusSource
	policy Policy
	clock  clock.Clock
	log    zerolog.Logger

	mu         sync.RWMutex
	chains     map[string]*chainState
	staleAfter time.Duration
}

func NewMonitor(src StatusSource, policy Policy, clk clock.Clock, log zerolog.Logger) *Monitor {
	return &Monitor{
		src: src, policy: policy, clock: clk, log: log,
		chains:     make(map[string]*chainState),
		staleAfter: defaultStaleAfter,
	}
}

// Start polls until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	m.staleAfter = staleAfterPolls * interval
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll takes one sample. A failed poll keeps the previous state; only a successful
// poll can expire a chain.
func (m *Monitor) Poll(ctx context.Context) {
	samples, err := m.src.ProviderStatus(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("provider status poll failed, keeping last state")
		return
	}
	m.Observe(samples)
}

// Observe folds samples into the per-chain state and forgets chains that have been
// missing from samples for longer than the stale window.
func (m *Monitor) Observe(samples []upstream.ProviderStatus) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range samples {
		name := strings.ToLower(s.Chain)
		st, ok := m.chains[name]
		if !ok {
			st = &chainState{}
			m.chains[name] = st
		}
		st.lastSample = now
		st.offline = strings.EqualFold(s.Status, "offline")
		st.lag = time.Duration(s.IndexerLagSec) * time.Second

		slow := strings.EqualFold(s.Status, "degraded") && time.Duration(s.P95Millis)*time.Millisecond > SlowP95
		switch {
		case !slow:
			st.slowSince = nil
		case st.slowSince == nil:
			t := now
			st.slowSince = &t
		}
	}
	for name, st := range m.chains {
		if now.Sub(st.lastSample) > m.staleAfter {
			m.log.Info().Str("chain", name).Time("last_sample", st.lastSample).Msg("chain dropped from provider status, forgetting state")
			delete(m.chains, name)
		}
	}
	metrics.DegradedChains.Set(float64(len(m.degradedLocked(now, nil))))
}

// Degraded returns the chains among scope whose provider is unreliable. An empty
// scope checks every known chain.
func (m *Monitor) Degraded(scope []string) []string {
	now := m.clock.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degradedLocked(now, scope)
}

func (m *Monitor) degradedLocked(now time.Time, scope []string) []string {
	names := scope
	if len(names) == 0 {
		for name := range m.chains {
			names = append(names, name)
		}
	}
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		name := strings.ToLower(n)
		if seen[name] {
			continue
		}
		seen[name] = true
		st, ok := m.chains[name]
		if !ok {
			continue
		}
		if m.chainDegraded(name, st, now) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Monitor) chainDegraded(name string, st *chainState, now time.Time) bool {
	if st.offline {
		return true
	}
	if st.slowSince != nil && now.Sub(*st.slowSince) >= SlowSustain {
		return true
	}
	normal := m.policy.For(name).IndexerNormalLag
	return normal > 0 && st.lag > LagFactor*normal
}

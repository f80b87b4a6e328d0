// Package services orchestrates the cockpit read path and the per-user write paths.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/cockpit/internal/adapters"
	"github.com/mycelian/cockpit/internal/adapters/upstream"
	"github.com/mycelian/cockpit/internal/cache"
	"github.com/mycelian/cockpit/internal/chainhealth"
	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/digest"
	"github.com/mycelian/cockpit/internal/metrics"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/prefs"
	"github.com/mycelian/cockpit/internal/provenance"
	"github.com/mycelian/cockpit/internal/ranker"
	"github.com/mycelian/cockpit/internal/scoring"
	"github.com/mycelian/cockpit/internal/store"
	"github.com/mycelian/cockpit/internal/suppression"
	"github.com/mycelian/cockpit/internal/todaystate"
)

// OpenDebounce bounds last_opened_at mutations per user.
const OpenDebounce = time.Minute

// Fetcher fans out to the upstream sources.
type Fetcher interface {
	Run(ctx context.Context, q adapters.Query) adapters.Result
}

// ScanStatusReader reports scan completion per wallet and chain.
type ScanStatusReader interface {
	ScanStatus(ctx context.Context, userID string, wallets []string) ([]upstream.ScanStatus, error)
}

// ChainHealth reports which chains in scope are degraded.
type ChainHealth interface {
	Degraded(scope []string) []string
}

// FreshnessCounters count ranked actions per freshness class.
type FreshnessCounters struct {
	New      int `json:"new"`
	Updated  int `json:"updated"`
	Expiring int `json:"expiring"`
	Stable   int `json:"stable"`
}

// Summary is the cockpit read payload. Actions is the authoritative order.
type Summary struct {
	State           model.TodayState   `json:"state"`
	Card            model.Card         `json:"card"`
	Actions         []model.Action     `json:"actions"`
	Counters        FreshnessCounters  `json:"freshness_counters"`
	ScanState       model.ScanState    `json:"scan_state"`
	Degraded        bool               `json:"degraded_mode"`
	DegradedSources []model.SourceKind `json:"degraded_sources,omitempty"`
	DegradedChains  []string           `json:"degraded_chains,omitempty"`
	GeneratedAt     time.Time          `json:"generated_at"`
	Cached          bool               `json:"cached"`
}

// Deps bundles the collaborators of CockpitService.
type Deps struct {
	Store       store.Store
	Fetcher     Fetcher
	Scans       ScanStatusReader
	Chains      ChainHealth
	Policy      chainhealth.Policy
	Engine      *scoring.Engine
	Suppression *suppression.Service
	Cache       cache.Store
	Clock       clock.Clock
	Log         zerolog.Logger
}

// CockpitService runs the summary pipeline and the open/rendered events.
type CockpitService struct {
	d Deps
}

func NewCockpitService(d Deps) *CockpitService {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	return &CockpitService{d: d}
}

// loadUser reads the caller's row, falling back to defaults for users that never opened.
func loadUser(ctx context.Context, users store.UserStates, userID string) (model.UserState, error) {
	u, err := users.Get(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return model.UserState{UserID: userID, Prefs: model.DefaultPrefs()}, nil
	}
	if err != nil {
		return model.UserState{}, fmt.Errorf("load user state: %w", err)
	}
	return *u, nil
}

// Summary answers what to show now for the caller's wallet scope.
func (s *CockpitService) Summary(ctx context.Context, p model.Principal, scope model.WalletScope) (*Summary, error) {
	wallets, err := p.ScopeWallets(scope)
	if err != nil {
		return nil, fmt.Errorf("active wallet %q not linked to caller: %w", p.ActiveWallet, err)
	}
	active := ""
	if scope == model.ScopeActive {
		active = p.ActiveWallet
	}
	key := cache.Key(p.UserID, scope, active)
	if cached, ok := cache.GetJSON[Summary](ctx, s.d.Cache, key); ok {
		cached.Cached = true
		return &cached, nil
	}

	// Taken before any read so a write landing mid-computation supersedes this result.
	gen, genErr := s.d.Cache.Generation(ctx, p.UserID)

	user, err := loadUser(ctx, s.d.Store.UserStates(), p.UserID)
	if err != nil {
		return nil, err
	}
	now := s.d.Clock.Now()
	q := adapters.Query{UserID: p.UserID, Wallets: wallets}
	res := s.d.Fetcher.Run(ctx, q)

	// The remaining reads and the cache write outlive an abandoned request.
	bg := context.WithoutCancel(ctx)
	scan, scanErr := s.scanReport(bg, q, now)
	chains := s.d.Chains.Degraded(model.Chains(wallets))
	degraded := res.Degraded || scanErr != nil || len(chains) > 0

	gated := provenance.Gate(res.Drafts, degraded)
	keys := make([]string, len(gated))
	for i, a := range gated {
		keys[i] = a.DedupeKey()
	}
	scored := s.d.Engine.Score(gated, scoring.Inputs{
		Now:          now,
		LastOpenedAt: user.LastOpenedAt,
		Relevance:    s.relevance(bg, p.UserID),
		Shown:        s.d.Suppression.Recent(bg, p.UserID, keys),
		Degraded:     degraded,
	})
	ranked := ranker.Rank(scored)
	top := ranker.Primary(ranked)

	pulseDate, pulseRows := s.freshPulse(bg, user, now)
	in := todaystate.Inputs{
		OnboardingNeeded: todaystate.NeedsOnboarding(todaystate.OnboardingSignals{
			Wallets:        len(p.Wallets),
			CompletedScans: scan.Completed,
			OpenCount:      user.OpenCount,
			Engaged:        user.LastEngagedAt != nil,
		}),
		ScanState:           scan.State,
		CriticalRiskCount:   countCritical(scored),
		PendingActionsCount: res.Counts[model.SourceWorkflow],
		DailyPulseAvailable: pulseDate != "",
		Degraded:            degraded,
	}
	state := todaystate.Select(in)
	counters := countFreshness(ranked)

	out := &Summary{
		State: state,
		Card: todaystate.BuildCard(state, in, todaystate.CardContext{
			Wallets:     len(p.Wallets),
			ScanState:   scan.State,
			StaleChains: scan.StaleChains,
			PulseDate:   pulseDate,
			PulseRows:   pulseRows,
			Top:         top,
			NewCount:    counters.New,
		}),
		Actions:         top,
		Counters:        counters,
		ScanState:       scan.State,
		Degraded:        degraded,
		DegradedSources: res.Failed,
		DegradedChains:  chains,
		GeneratedAt:     now,
	}
	if out.Actions == nil {
		out.Actions = []model.Action{}
	}

	metrics.TodayStates.WithLabelValues(string(state)).Inc()
	if degraded {
		metrics.DegradedResponses.Inc()
	}
	if genErr != nil {
		s.d.Log.Warn().Err(genErr).Str("op", "cache.generation").Str("user_id", p.UserID).Msg("summary not cached")
	} else if err := cache.SetJSON(bg, s.d.Cache, p.UserID, gen, key, state, out); err != nil {
		s.d.Log.Warn().Err(err).Str("op", "cache.set").Str("user_id", p.UserID).Msg("summary cache write failed")
	}
	return out, nil
}

// scanReport treats an unreachable scan service as fresh coverage so the card is not
// blocked on it; the caller marks the response degraded instead.
func (s *CockpitService) scanReport(ctx context.Context, q adapters.Query, now time.Time) (chainhealth.ScanReport, error) {
	statuses, err := s.d.Scans.ScanStatus(ctx, q.UserID, q.Addresses())
	if err != nil {
		s.d.Log.Warn().Err(err).Str("user_id", q.UserID).Msg("scan status unavailable")
		return chainhealth.ScanReport{State: model.ScanFresh, Completed: len(q.Wallets)}, err
	}
	return s.d.Policy.EvaluateScans(statuses, q.Wallets, now), nil
}

func (s *CockpitService) relevance(ctx context.Context, userID string) *scoring.RelevanceIndex {
	invs, err := s.d.Store.Investments().List(ctx, userID)
	if err != nil {
		s.d.Log.Warn().Err(err).Str("op", "investments.list").Str("user_id", userID).Msg("relevance inputs unavailable")
		return nil
	}
	rules, err := s.d.Store.AlertRules().List(ctx, userID)
	if err != nil {
		s.d.Log.Warn().Err(err).Str("op", "alert_rules.list").Str("user_id", userID).Msg("alert rules unavailable")
		rules = nil
	}
	return scoring.NewRelevanceIndex(invs, rules)
}

// freshPulse returns today's pulse date and row count when it exists and is unread.
func (s *CockpitService) freshPulse(ctx context.Context, user model.UserState, now time.Time) (string, int) {
	today, _ := digest.Today(user, now)
	if user.LastPulseViewedDate == today {
		return "", 0
	}
	p, err := s.d.Store.Pulses().Get(ctx, user.UserID, today)
	if err != nil {
		return "", 0
	}
	return today, len(p.Rows)
}

func countCritical(actions []model.Action) int {
	n := 0
	for _, a := range actions {
		if a.Severity == model.SeverityCritical && a.Lane == model.LaneProtect {
			n++
		}
	}
	return n
}

func countFreshness(actions []model.Action) FreshnessCounters {
	var c FreshnessCounters
	for _, a := range actions {
		switch a.Freshness {
		case model.FreshnessNew:
			c.New++
		case model.FreshnessUpdated:
			c.Updated++
		case model.FreshnessExpiring:
			c.Expiring++
		default:
			c.Stable++
		}
	}
	return c
}

// Candidates scores every wallet the upstreams know for the user, without duplicate
// penalties. It backs digest generation.
func (s *CockpitService) Candidates(ctx context.Context, user model.UserState) (digest.Candidates, error) {
	res := s.d.Fetcher.Run(ctx, adapters.Query{UserID: user.UserID, AllWallets: true})
	gated := provenance.Gate(res.Drafts, res.Degraded)
	scored := s.d.Engine.Score(gated, scoring.Inputs{
		Now:          s.d.Clock.Now(),
		LastOpenedAt: user.LastOpenedAt,
		Relevance:    s.relevance(ctx, user.UserID),
		Degraded:     res.Degraded,
	})
	return digest.Candidates{Actions: scored, Degraded: res.Degraded}, nil
}

// OpenResult reports what an open event changed.
type OpenResult struct {
	Recorded       bool `json:"recorded"`
	TimezoneStored bool `json:"timezone_stored"`
}

// Open persists the first valid timezone and debounces last_opened_at.
func (s *CockpitService) Open(ctx context.Context, userID, timezone string) (*OpenResult, error) {
	now := s.d.Clock.Now()
	users := s.d.Store.UserStates()
	out := &OpenResult{}
	if timezone != "" {
		tz, err := prefs.ValidateTimezone(timezone)
		if err != nil {
			return nil, err
		}
		timezone = tz
		stored, err := users.SetTimezoneIfEmpty(ctx, userID, timezone, now)
		if err != nil {
			return nil, fmt.Errorf("persist timezone: %w", err)
		}
		out.TimezoneStored = stored
	}
	touched, err := users.TouchOpened(ctx, userID, now, OpenDebounce)
	if err != nil {
		return nil, fmt.Errorf("record open: %w", err)
	}
	out.Recorded = touched
	if touched || out.TimezoneStored {
		s.invalidate(ctx, userID)
	}
	return out, nil
}

// Rendered records the dedupe keys that reached the screen.
func (s *CockpitService) Rendered(ctx context.Context, userID string, keys []string) (int, error) {
	if err := suppression.ValidateKeys(keys); err != nil {
		return 0, err
	}
	n := s.d.Suppression.RecordRendered(ctx, userID, keys)
	if err := s.d.Store.UserStates().MarkEngaged(ctx, userID, s.d.Clock.Now()); err != nil {
		s.d.Log.Warn().Err(err).Str("op", "users.mark_engaged").Str("user_id", userID).Msg("engagement not recorded")
	}
	if n > 0 {
		s.invalidate(ctx, userID)
	}
	return n, nil
}

func (s *CockpitService) invalidate(ctx context.Context, userID string) {
	if err := s.d.Cache.InvalidateUser(ctx, userID); err != nil {
		s.d.Log.Warn().Err(err).Str("op", "cache.invalidate").Str("user_id", userID).Msg("summary cache not invalidated")
	}
}

package digest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/notify"
	"github.com/mycelian/cockpit/internal/store"
	"github.com/mycelian/cockpit/internal/store/sqlite"
)

var t0 = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

type fakeSource struct {
	cands Candidates
	err   error
	calls int
}

func (f *fakeSource) Candidates(context.Context, model.UserState) (Candidates, error) {
	f.calls++
	return f.cands, f.err
}

func newStore(t *testing.T) store.Store {
	t.Helper()
	db, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	s := sqlite.NewWithDB(db)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func berlin(id string) model.UserState {
	p := model.DefaultPrefs()
	p.Timezone = "Europe/Berlin"
	return model.UserState{UserID: id, Prefs: p}
}

func action(kind model.SourceKind, ref string, score int, f model.Freshness, sev model.Severity) model.Action {
	return model.Action{
		ID:        ref,
		Lane:      model.LaneEarn,
		Title:     ref,
		Severity:  sev,
		Freshness: f,
		Score:     score,
		EventTime: t0.Add(-time.Hour),
		Source:    model.Source{Kind: kind, RefID: ref},
		CTA:       model.CTA{Kind: model.CTAReview},
	}
}

func delta(ref string, pct string, score int) model.Action {
	a := action(model.SourcePortfolio, ref, score, model.FreshnessNew, model.SeverityLow)
	a.ImpactChips = []model.ImpactChip{{Kind: model.ImpactRiskDelta, Value: decimal.RequireFromString(pct)}}
	return a
}

func generator(s store.Store, src CandidateSource) *Generator {
	return NewGenerator(s.Pulses(), src, decimal.NewFromInt(5), clock.NewFixed(t0), zerolog.Nop())
}

func TestSelect_Caps(t *testing.T) {
	var in []model.Action
	for i := 0; i < 5; i++ {
		in = append(in,
			action(model.SourceOpportunity, fmt.Sprintf("exp-%d", i), 200-i, model.FreshnessExpiring, model.SeverityMed),
			action(model.SourceOpportunity, fmt.Sprintf("new-%d", i), 150-i, model.FreshnessNew, model.SeverityMed),
			delta(fmt.Sprintf("d-%d", i), "-12.5", 100-i),
		)
	}
	g := generator(newStore(t), &fakeSource{})

	rows, quiet := g.Select(in, t0)
	assert.False(t, quiet)
	require.Len(t, rows, MaxRows)
	per := map[model.PulseCategory]int{}
	for _, r := range rows {
		per[r.Category]++
	}
	for cat, n := range per {
		assert.LessOrEqual(t, n, MaxPerCategory, cat)
	}
	assert.Equal(t, "exp-0", rows[0].ActionID)
	assert.Equal(t, 2, per[model.PulsePortfolioDelta])
}

func TestSelect_Categories(t *testing.T) {
	g := generator(newStore(t), &fakeSource{})
	stable := action(model.SourceOpportunity, "old", 90, model.FreshnessStable, model.SeverityLow)
	critical := action(model.SourceGuardian, "crit", 200, model.FreshnessNew, model.SeverityCritical)
	minor := action(model.SourceGuardian, "minor", 80, model.FreshnessNew, model.SeverityMed)
	small := delta("small", "2", 70)
	oldProof := action(model.SourceProof, "p-old", 40, model.FreshnessStable, model.SeverityLow)
	oldProof.EventTime = t0.Add(-48 * time.Hour)
	workflow := action(model.SourceWorkflow, "wf", 120, model.FreshnessNew, model.SeverityHigh)

	for _, a := range []model.Action{stable, critical, small, oldProof, workflow} {
		assert.Empty(t, g.Category(a, t0), a.ID)
	}
	assert.Equal(t, model.PulseSecurityDelta, g.Category(minor, t0))
	assert.Equal(t, model.PulsePortfolioDelta, g.Category(delta("big", "-5", 1), t0), "threshold is inclusive")
}

func TestSelect_QuietDay(t *testing.T) {
	g := generator(newStore(t), &fakeSource{})
	minor := action(model.SourceGuardian, "minor", 80, model.FreshnessNew, model.SeverityLow)

	rows, quiet := g.Select([]model.Action{minor}, t0)
	assert.True(t, quiet)
	require.Len(t, rows, 2)
	assert.Equal(t, model.PulseQuietDay, rows[0].Category)
	assert.Equal(t, model.PulseSecurityDelta, rows[1].Category)

	rows, quiet = g.Select(nil, t0)
	assert.True(t, quiet)
	require.Len(t, rows, 1)
	assert.Equal(t, QuietDayMessage, rows[0].Title)
}

func TestGenerate_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	src := &fakeSource{cands: Candidates{Actions: []model.Action{
		action(model.SourceOpportunity, "o1", 150, model.FreshnessNew, model.SeverityMed),
	}}}
	g := generator(s, src)
	u := berlin("u1")

	first, inserted, err := g.Generate(ctx, u, "2026-03-02", TriggerLazy)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.False(t, first.QuietDay)
	assert.Equal(t, "Europe/Berlin", first.Timezone)

	src.cands.Actions = nil
	second, inserted, err := g.Generate(ctx, u, "2026-03-02", TriggerScheduled)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, 1, src.calls, "stored pulse short-circuits candidate reads")
}

func TestGenerate_DegradedIsNotStored(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	src := &fakeSource{cands: Candidates{Degraded: true}}
	g := generator(s, src)

	p, inserted, err := g.Generate(ctx, berlin("u1"), "2026-03-02", TriggerLazy)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.True(t, p.QuietDay)

	_, err = s.Pulses().Get(ctx, "u1", "2026-03-02")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	src.err = errors.New("store down")
	src.cands.Degraded = false
	_, inserted, err = g.Generate(ctx, berlin("u1"), "2026-03-02", TriggerLazy)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestGenerate_TimezoneFallback(t *testing.T) {
	u := berlin("u1")
	u.Prefs.Timezone = "Mars/Olympus"
	p, _, err := generator(newStore(t), &fakeSource{}).Generate(context.Background(), u, "2026-03-02", TriggerLazy)
	require.NoError(t, err)
	assert.True(t, p.TZDegraded)
	assert.Equal(t, "UTC", p.Timezone)
}

func TestGenerate_OldDateIsNeverBuilt(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	src := &fakeSource{cands: Candidates{Actions: []model.Action{
		action(model.SourceOpportunity, "o1", 150, model.FreshnessNew, model.SeverityHigh),
	}}}
	g := generator(s, src)
	u := berlin("u1")

	_, _, err := g.Generate(ctx, u, "2019-01-01", TriggerLazy)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.Zero(t, src.calls, "no candidate read for a day that cannot be built")
	_, err = s.Pulses().Get(ctx, "u1", "2019-01-01")
	assert.True(t, errors.Is(err, model.ErrNotFound), "nothing frozen under the old date")

	// A pulse stored back then is still served.
	old := &model.DailyPulse{UserID: "u1", Date: "2026-02-20", Timezone: "Europe/Berlin", QuietDay: true, CreatedAt: t0.AddDate(0, 0, -10)}
	_, err = s.Pulses().InsertIfAbsent(ctx, old)
	require.NoError(t, err)
	got, _, err := g.Generate(ctx, u, "2026-02-20", TriggerLazy)
	require.NoError(t, err)
	assert.True(t, got.QuietDay)

	// Yesterday covers a client whose clock is behind the stored zone.
	p, inserted, err := g.Generate(ctx, u, "2026-03-01", TriggerLazy)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "2026-03-01", p.Date)
}

func TestBuildable(t *testing.T) {
	u := berlin("u1")
	assert.True(t, Buildable(u, "2026-03-02", t0))
	assert.True(t, Buildable(u, "2026-03-01", t0))
	assert.False(t, Buildable(u, "2026-02-28", t0))
	assert.False(t, Buildable(u, "2026-03-03", t0))
	assert.False(t, Buildable(u, "not-a-date", t0))
}

func TestValidateDate(t *testing.T) {
	// 23:30 UTC on Mar 2 is already Mar 3 in Tokyo.
	now := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)
	tokyo := berlin("u1")
	tokyo.Prefs.Timezone = "Asia/Tokyo"

	assert.NoError(t, ValidateDate(tokyo, "2026-03-03", now))
	assert.True(t, errors.Is(ValidateDate(berlin("u1"), "2026-03-03", now), model.ErrValidation))
	assert.True(t, errors.Is(ValidateDate(tokyo, "03/03/2026", now), model.ErrValidation))
	assert.NoError(t, ValidateDate(tokyo, "2025-12-31", now))
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, _ model.UserState, msg notify.Notification) (notify.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return notify.OutcomeSent, nil
}

func TestScheduler_RunOnce(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	users := s.UserStates()
	for id, tz := range map[string]string{"berlin": "Europe/Berlin", "la": "America/Los_Angeles"} {
		require.NoError(t, users.Ensure(ctx, id, t0))
		_, err := users.SetTimezoneIfEmpty(ctx, id, tz, t0)
		require.NoError(t, err)
	}

	src := &fakeSource{cands: Candidates{Actions: []model.Action{
		action(model.SourceOpportunity, "o1", 150, model.FreshnessExpiring, model.SeverityHigh),
	}}}
	n := &recordingNotifier{}
	sched := NewScheduler(users, s.Pulses(), generator(s, src), n, 9, 2, clock.NewFixed(t0), zerolog.Nop())

	// 08:30 UTC is 09:30 in Berlin and 00:30 in Los Angeles.
	assert.Equal(t, 1, sched.RunOnce(ctx))
	require.Len(t, n.sent, 1)
	assert.Equal(t, "berlin", n.sent[0].UserID)
	assert.Equal(t, "2026-03-02", n.sent[0].PulseDate)
	assert.Equal(t, notify.KindDailyPulseReady, n.sent[0].Kind)

	assert.Zero(t, sched.RunOnce(ctx), "second sweep finds the stored pulse")
	assert.Len(t, n.sent, 1)
}

func TestScheduler_DegradedRunsBackOff(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	users := s.UserStates()
	require.NoError(t, users.Ensure(ctx, "berlin", t0))
	_, err := users.SetTimezoneIfEmpty(ctx, "berlin", "Europe/Berlin", t0)
	require.NoError(t, err)

	clk := clock.NewFixed(t0)
	src := &fakeSource{cands: Candidates{Degraded: true}}
	gen := NewGenerator(s.Pulses(), src, decimal.NewFromInt(5), clk, zerolog.Nop())
	n := &recordingNotifier{}
	sched := NewScheduler(users, s.Pulses(), gen, n, 9, 1, clk, zerolog.Nop())

	for i := 0; i < 5; i++ {
		assert.Zero(t, sched.RunOnce(ctx))
	}
	assert.Equal(t, 1, src.calls, "repeated sweeps wait out the backoff")

	clk.Advance(retryInitial)
	sched.RunOnce(ctx)
	assert.Equal(t, 2, src.calls)

	clk.Advance(retryInitial)
	sched.RunOnce(ctx)
	assert.Equal(t, 2, src.calls, "the second delay doubles")

	clk.Advance(retryInitial)
	sched.RunOnce(ctx)
	assert.Equal(t, 3, src.calls)

	src.cands.Degraded = false
	clk.Advance(4 * retryInitial)
	assert.Equal(t, 1, sched.RunOnce(ctx))
	assert.Equal(t, 4, src.calls)
	assert.Zero(t, sched.RunOnce(ctx))
	assert.Equal(t, 4, src.calls, "stored pulse ends retries")
	assert.Len(t, n.sent, 1)
}

func TestScheduler_Due(t *testing.T) {
	sched := NewScheduler(nil, nil, nil, nil, 9, 1, clock.NewFixed(t0), zerolog.Nop())
	noTZ := model.UserState{UserID: "u", Prefs: model.DefaultPrefs()}
	date, due := sched.Due(noTZ, t0)
	assert.Equal(t, "2026-03-02", date)
	assert.False(t, due, "UTC fallback is still before 09:00")

	_, due = sched.Due(noTZ, t0.Add(time.Hour))
	assert.True(t, due)
}

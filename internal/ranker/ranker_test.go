package ranker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/cockpit/internal/model"
)

var now = time.Date(2026, 1, 9, 16, 10, 0, 0, time.UTC)

func in(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func ids(actions []model.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.ID
	}
	return out
}

func TestRank_SeverityBeatsExpiry(t *testing.T) {
	critical := model.Action{ID: "crit", Score: 200, Severity: model.SeverityCritical, EventTime: now}
	high := model.Action{ID: "high", Score: 200, Severity: model.SeverityHigh, ExpiresAt: in(time.Hour), EventTime: now}

	assert.Equal(t, []string{"crit", "high"}, ids(Rank([]model.Action{high, critical})))
}

func TestRank_TieBreakChain(t *testing.T) {
	base := model.Action{Score: 100, Severity: model.SeverityMed, EventTime: now}

	soon, later := base, base
	soon.ID, soon.ExpiresAt = "soon", in(time.Hour)
	later.ID, later.ExpiresAt = "later", in(2*time.Hour)
	none := base
	none.ID = "none"
	assert.Equal(t, []string{"soon", "later", "none"}, ids(Rank([]model.Action{none, later, soon})))

	rel, norel := base, base
	rel.ID, rel.RelevanceScore = "rel", 10
	norel.ID = "norel"
	assert.Equal(t, []string{"rel", "norel"}, ids(Rank([]model.Action{norel, rel})))

	newer, older := base, base
	newer.ID, newer.EventTime = "newer", now.Add(time.Minute)
	older.ID = "older"
	assert.Equal(t, []string{"newer", "older"}, ids(Rank([]model.Action{older, newer})))

	x, y := base, base
	x.ID, y.ID = "x", "y"
	assert.Equal(t, []string{"x", "y"}, ids(Rank([]model.Action{y, x})))
}

func TestRank_ScoreFirst(t *testing.T) {
	low := model.Action{ID: "low", Score: 50, Severity: model.SeverityCritical, EventTime: now}
	hi := model.Action{ID: "hi", Score: 51, Severity: model.SeverityLow, EventTime: now}
	assert.Equal(t, []string{"hi", "low"}, ids(Rank([]model.Action{low, hi})))
}

func TestPrimary(t *testing.T) {
	mk := func(id string, score int, cta model.CTAKind, exec bool) model.Action {
		return model.Action{ID: id, Score: score, Severity: model.SeverityLow, EventTime: now, CTA: model.CTA{Kind: cta}, IsExecutable: exec}
	}
	actions := []model.Action{
		mk("a", 300, model.CTAFix, false),
		mk("b", 250, model.CTAReview, false),
		mk("c", 200, model.CTAExecute, true),
		mk("d", 150, model.CTAReview, false),
		mk("e", 100, model.CTAFix, true),
	}
	got := Primary(actions)
	require.Len(t, got, PrimaryLimit)
	assert.Equal(t, []string{"b", "c", "d"}, ids(got))
	assert.Equal(t, "a", actions[0].ID, "input untouched")
}

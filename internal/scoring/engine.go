package scoring

import (
	"time"

	"github.com/mycelian/cockpit/internal/model"
)

// Inputs carries the per-request context the engine scores against.
type Inputs struct {
	Now          time.Time
	LastOpenedAt *time.Time
	Relevance    *RelevanceIndex
	// Shown maps dedupe keys to their last render time.
	Shown    map[string]time.Time
	Degraded bool
}

// Engine scores gated drafts. It is safe for concurrent use.
type Engine struct {
	burst BurstConfig
}

func NewEngine(burst BurstConfig) *Engine {
	return &Engine{burst: burst}
}

// Score aggregates bursts and fills freshness, urgency, relevance and score on every action.
func (e *Engine) Score(drafts []model.Action, in Inputs) []model.Action {
	actions := e.burst.Aggregate(drafts)
	out := make([]model.Action, len(actions))
	for i, a := range actions {
		a.Freshness = Freshness(a, in.LastOpenedAt, in.Now)
		a.UrgencyScore = Urgency(a.ExpiresAt, in.Now)
		a.RelevanceScore = in.Relevance.Score(a)
		a.Score = Total(Factors{
			Lane:      a.Lane,
			Severity:  a.Severity,
			Urgency:   a.UrgencyScore,
			Freshness: a.Freshness,
			Relevance: a.RelevanceScore,
			Burst:     a.AggregateCount > 1,
			Degraded:  in.Degraded,
			Duplicate: IsDuplicate(in.Shown, a.DedupeKey(), in.Now),
		})
		out[i] = a
	}
	return out
}

// IsDuplicate reports whether key was rendered within the suppression window.
func IsDuplicate(shown map[string]time.Time, key string, now time.Time) bool {
	at, ok := shown[key]
	if !ok {
		return false
	}
	return now.Sub(at) < SuppressionWindow
}

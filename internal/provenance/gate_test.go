package provenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/cockpit/internal/model"
)

func draft(id string, p model.Provenance, cta model.CTAKind) model.Action {
	return model.Action{ID: id, Provenance: p, CTA: model.CTA{Kind: cta}}
}

func TestGate_HeuristicDowngrade(t *testing.T) {
	for _, kind := range []model.CTAKind{model.CTAFix, model.CTAExecute} {
		d := draft("a", model.ProvenanceHeuristic, kind)
		d.EventTime = time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)
		require.Error(t, d.Validate())

		got := GateOne(d, false)
		assert.Equal(t, model.CTAReview, got.CTA.Kind)
		assert.False(t, got.IsExecutable)
		require.NoError(t, got.Validate())
	}
}

func TestGate_Confirmed(t *testing.T) {
	got := GateOne(draft("a", model.ProvenanceConfirmed, model.CTAFix), false)
	assert.Equal(t, model.CTAFix, got.CTA.Kind)
	assert.True(t, got.IsExecutable)

	got = GateOne(draft("b", model.ProvenanceSimulated, model.CTAReview), false)
	assert.False(t, got.IsExecutable, "review is never executable")
	assert.True(t, PrimaryEligible(got))
}

func TestGate_Degraded(t *testing.T) {
	out := Gate([]model.Action{
		draft("fix", model.ProvenanceConfirmed, model.CTAFix),
		draft("exec", model.ProvenanceSimulated, model.CTAExecute),
		draft("review", model.ProvenanceConfirmed, model.CTAReview),
		draft("heur", model.ProvenanceHeuristic, model.CTAExecute),
	}, true)

	require.Len(t, out, 4)
	assert.Equal(t, model.CTAFix, out[0].CTA.Kind, "kind kept in degraded mode")
	assert.False(t, out[0].IsExecutable)
	assert.False(t, out[1].IsExecutable)
	assert.Equal(t, model.CTAReview, out[3].CTA.Kind)

	primary := FilterPrimary(out)
	ids := make([]string, 0, len(primary))
	for _, a := range primary {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"review", "heur"}, ids)
}

// Package provenance decides whether an action may be offered as executable.
package provenance

import "github.com/mycelian/cockpit/internal/model"

// Gate downgrades drafts whose trust level cannot back a mutating CTA.
// Heuristic Fix/Execute becomes a non-executable Review. In degraded mode every
// non-Review CTA loses executability but keeps its kind.
func Gate(drafts []model.Action, degraded bool) []model.Action {
	out := make([]model.Action, len(drafts))
	for i, a := range drafts {
		out[i] = GateOne(a, degraded)
	}
	return out
}

// GateOne applies the gate to a single draft.
func GateOne(a model.Action, degraded bool) model.Action {
	if a.Provenance == model.ProvenanceHeuristic && a.CTA.Kind.Mutates() {
		a.CTA.Kind = model.CTAReview
		a.IsExecutable = false
		return a
	}
	if a.CTA.Kind == model.CTAReview {
		a.IsExecutable = false
		return a
	}
	a.IsExecutable = !degraded
	return a
}

// PrimaryEligible reports whether a gated action may appear on the top-3 surface.
// Non-executable items are only allowed as Review.
func PrimaryEligible(a model.Action) bool {
	return a.IsExecutable || a.CTA.Kind == model.CTAReview
}

// FilterPrimary keeps primary-eligible actions in order.
func FilterPrimary(actions []model.Action) []model.Action {
	out := make([]model.Action, 0, len(actions))
	for _, a := range actions {
		if PrimaryEligible(a) {
			out = append(out, a)
		}
	}
	return out
}

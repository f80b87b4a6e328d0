// Package ranker orders scored actions deterministically.
package ranker

import (
	"sort"

	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/provenance"
)

// PrimaryLimit is the size of the primary surface.
const PrimaryLimit = 3

// Less orders a before b. Order: Score DESC, Severity DESC, ExpiresAt ASC (present
// beats absent), RelevanceScore DESC, EventTime DESC, ID ASC.
func Less(a, b model.Action) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
		return ra > rb
	}
	switch {
	case a.ExpiresAt != nil && b.ExpiresAt != nil:
		if !a.ExpiresAt.Equal(*b.ExpiresAt) {
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
	case a.ExpiresAt != nil:
		return true
	case b.ExpiresAt != nil:
		return false
	}
	if a.RelevanceScore != b.RelevanceScore {
		return a.RelevanceScore > b.RelevanceScore
	}
	if !a.EventTime.Equal(b.EventTime) {
		return a.EventTime.After(b.EventTime)
	}
	return a.ID < b.ID
}

// Rank returns a sorted copy of actions.
func Rank(actions []model.Action) []model.Action {
	out := make([]model.Action, len(actions))
	copy(out, actions)
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// Primary ranks, drops actions that may not appear on the primary surface and
// truncates to PrimaryLimit.
func Primary(actions []model.Action) []model.Action {
	eligible := provenance.FilterPrimary(Rank(actions))
	if len(eligible) > PrimaryLimit {
		eligible = eligible[:PrimaryLimit]
	}
	return eligible
}

package scoring

import (
	"sort"
	"time"

	"github.com/mycelian/cockpit/internal/model"
)

// BurstConfig decides which actions collapse into one aggregated row.
// Actions of a listed source kind sharing lane and kind are walked newest first; each
// group is anchored at its newest member and takes every older event within Window of
// it. The next event past the window anchors the following group.
type BurstConfig struct {
	Sources map[model.SourceKind]bool
	Window  time.Duration
}

// NewBurstConfig builds a config from source kind names.
func NewBurstConfig(sources []string, window time.Duration) BurstConfig {
	cfg := BurstConfig{Sources: make(map[model.SourceKind]bool, len(sources)), Window: window}
	for _, s := range sources {
		if s != "" {
			cfg.Sources[model.SourceKind(s)] = true
		}
	}
	return cfg
}

type burstKey struct {
	lane model.Lane
	kind model.SourceKind
}

// Aggregate collapses bursts. The representative is the most severe member, then
// the newest; it carries AggregateCount. Non-burst actions pass through untouched.
// Pass-through rows keep their input order; burst groups follow them. The ranker
// reorders everything afterwards.
func (c BurstConfig) Aggregate(actions []model.Action) []model.Action {
	if len(c.Sources) == 0 || c.Window <= 0 {
		return actions
	}

	groups := make(map[burstKey][]int)
	var order []burstKey
	out := make([]model.Action, 0, len(actions))
	for i, a := range actions {
		if !c.Sources[a.Source.Kind] {
			out = append(out, a)
			continue
		}
		k := burstKey{a.Lane, a.Source.Kind}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	for _, k := range order {
		idx := groups[k]
		sort.SliceStable(idx, func(x, y int) bool {
			return actions[idx[x]].EventTime.After(actions[idx[y]].EventTime)
		})
		for len(idx) > 0 {
			anchor := actions[idx[0]].EventTime
			n := 1
			for n < len(idx) && anchor.Sub(actions[idx[n]].EventTime) <= c.Window {
				n++
			}
			out = append(out, c.collapse(actions, idx[:n]))
			idx = idx[n:]
		}
	}
	return out
}

// collapse returns the group's representative; a single member passes through unchanged.
func (c BurstConfig) collapse(actions []model.Action, members []int) model.Action {
	rep := actions[members[0]]
	if len(members) == 1 {
		return rep
	}
	for _, i := range members[1:] {
		if actions[i].Severity.Rank() > rep.Severity.Rank() {
			rep = actions[i]
		}
	}
	rep.AggregateCount = len(members)
	return rep
}

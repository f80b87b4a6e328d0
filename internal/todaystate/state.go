// Package todaystate selects the single top-level state of the cockpit.
package todaystate

import (
	"fmt"
	"strings"

	"github.com/mycelian/cockpit/internal/model"
)

// Order is the evaluation order; the first matching state wins.
var Order = []model.TodayState{
	model.StateOnboarding,
	model.StateScanRequired,
	model.StateCriticalRisk,
	model.StatePendingActions,
	model.StateDailyPulse,
	model.StatePortfolioAnchor,
}

// Inputs are computed independently of the ranked action list.
type Inputs struct {
	OnboardingNeeded    bool
	ScanState           model.ScanState
	CriticalRiskCount   int
	PendingActionsCount int
	DailyPulseAvailable bool
	Degraded            bool
}

// Select is a pure function of in.
func Select(in Inputs) model.TodayState {
	switch {
	case in.OnboardingNeeded:
		return model.StateOnboarding
	case in.ScanState != model.ScanFresh:
		return model.StateScanRequired
	case in.CriticalRiskCount > 0:
		return model.StateCriticalRisk
	case in.PendingActionsCount > 0:
		return model.StatePendingActions
	case in.DailyPulseAvailable:
		return model.StateDailyPulse
	}
	return model.StatePortfolioAnchor
}

// OnboardingSignals feed the onboarding condition.
type OnboardingSignals struct {
	Wallets        int
	CompletedScans int
	OpenCount      int
	Engaged        bool
}

// RepeatSessionsWithoutEngagement is the open count after which a user who never
// engaged is treated as still onboarding.
const RepeatSessionsWithoutEngagement = 3

// NeedsOnboarding reports first-use incompleteness.
func NeedsOnboarding(s OnboardingSignals) bool {
	return s.Wallets == 0 || s.CompletedScans == 0 ||
		(s.OpenCount >= RepeatSessionsWithoutEngagement && !s.Engaged)
}

// CardContext supplies the figures a card may reference.
type CardContext struct {
	Wallets     int
	ScanState   model.ScanState
	StaleChains []string
	PulseDate   string
	PulseRows   int
	Top         []model.Action
	NewCount    int
}

// BuildCard renders the payload for state. Degraded mode adds a retry link as the
// only secondary affordance.
func BuildCard(state model.TodayState, in Inputs, cc CardContext) model.Card {
	card := model.Card{State: state}
	switch state {
	case model.StateOnboarding:
		card.AnchorMetric = model.Metric{Label: "wallets_linked", Value: cc.Wallets}
		card.ContextLine = "Finish setup to get a ranked view of your wallets."
		card.PrimaryAction = model.Link{Label: "Continue setup", Target: "/onboarding"}
	case model.StateScanRequired:
		card.AnchorMetric = model.Metric{Label: "chains_needing_scan", Value: len(cc.StaleChains)}
		if in.ScanState == model.ScanMissing || len(cc.StaleChains) == 0 {
			card.ContextLine = "No recent scan for this wallet scope."
		} else {
			card.ContextLine = fmt.Sprintf("Scan is out of date on %s.", strings.Join(cc.StaleChains, ", "))
		}
		card.PrimaryAction = model.Link{Label: "Run scan", Target: "/scan"}
	case model.StateCriticalRisk:
		card.AnchorMetric = model.Metric{Label: "critical_risks", Value: in.CriticalRiskCount}
		card.ContextLine = plural(in.CriticalRiskCount, "critical finding needs", "critical findings need") + " attention."
		card.PrimaryAction = firstOf(cc.Top, model.LaneProtect, model.Link{Label: "Review risks", Target: "/protect"})
	case model.StatePendingActions:
		card.AnchorMetric = model.Metric{Label: "pending_actions", Value: in.PendingActionsCount}
		card.ContextLine = plural(in.PendingActionsCount, "item is", "items are") + " waiting on you."
		card.PrimaryAction = model.Link{Label: "Open queue", Target: "/workflow"}
	case model.StateDailyPulse:
		card.AnchorMetric = model.Metric{Label: "pulse_rows", Value: cc.PulseRows}
		card.ContextLine = "Your daily pulse is ready."
		card.PrimaryAction = model.Link{Label: "Read pulse", Target: "/pulse/" + cc.PulseDate}
	default:
		card.State = model.StatePortfolioAnchor
		card.AnchorMetric = model.Metric{Label: "new_items", Value: cc.NewCount}
		card.ContextLine = "Nothing urgent. Here is what changed."
		card.PrimaryAction = firstOf(cc.Top, "", model.Link{Label: "View portfolio", Target: "/portfolio"})
	}
	if in.Degraded {
		card.Secondary = &model.Link{Label: "Data may be stale, retry", Target: "/api/v1/cockpit/summary"}
	}
	return card
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

// firstOf links the first ranked action in lane (any lane when empty), else fallback.
func firstOf(top []model.Action, lane model.Lane, fallback model.Link) model.Link {
	for _, a := range top {
		if lane == "" || a.Lane == lane {
			return model.Link{Label: a.Title, Target: a.CTA.Target, ActionID: a.ID}
		}
	}
	return fallback
}

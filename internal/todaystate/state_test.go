package todaystate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/cockpit/internal/model"
)

func TestSelect_ScanBeforeCritical(t *testing.T) {
	got := Select(Inputs{ScanState: model.ScanStale, CriticalRiskCount: 5, PendingActionsCount: 2, DailyPulseAvailable: true})
	assert.Equal(t, model.StateScanRequired, got)
}

// Every combination resolves to the first true condition in Order.
func TestSelect_Exhaustive(t *testing.T) {
	scans := []model.ScanState{model.ScanFresh, model.ScanStale, model.ScanMissing}
	for mask := 0; mask < 1<<5; mask++ {
		for _, scan := range scans {
			in := Inputs{
				OnboardingNeeded:    mask&1 != 0,
				ScanState:           scan,
				DailyPulseAvailable: mask&8 != 0,
				Degraded:            mask&16 != 0,
			}
			if mask&2 != 0 {
				in.CriticalRiskCount = 2
			}
			if mask&4 != 0 {
				in.PendingActionsCount = 1
			}

			conds := map[model.TodayState]bool{
				model.StateOnboarding:      in.OnboardingNeeded,
				model.StateScanRequired:    in.ScanState != model.ScanFresh,
				model.StateCriticalRisk:    in.CriticalRiskCount > 0,
				model.StatePendingActions:  in.PendingActionsCount > 0,
				model.StateDailyPulse:      in.DailyPulseAvailable,
				model.StatePortfolioAnchor: true,
			}
			var want model.TodayState
			for _, s := range Order {
				if conds[s] {
					want = s
					break
				}
			}
			require.Equal(t, want, Select(in), "inputs %+v", in)
		}
	}
}

func TestNeedsOnboarding(t *testing.T) {
	assert.True(t, NeedsOnboarding(OnboardingSignals{Wallets: 0, CompletedScans: 1}))
	assert.True(t, NeedsOnboarding(OnboardingSignals{Wallets: 1, CompletedScans: 0}))
	assert.True(t, NeedsOnboarding(OnboardingSignals{Wallets: 1, CompletedScans: 1, OpenCount: 3}))
	assert.False(t, NeedsOnboarding(OnboardingSignals{Wallets: 1, CompletedScans: 1, OpenCount: 2}))
	assert.False(t, NeedsOnboarding(OnboardingSignals{Wallets: 1, CompletedScans: 1, OpenCount: 9, Engaged: true}))
}

func TestBuildCard(t *testing.T) {
	top := []model.Action{
		{ID: "e1", Lane: model.LaneEarn, Title: "Claim rewards", CTA: model.CTA{Kind: model.CTAExecute, Target: "/earn/1"}},
		{ID: "p1", Lane: model.LaneProtect, Title: "Revoke approval", CTA: model.CTA{Kind: model.CTAFix, Target: "/protect/1"}},
	}

	card := BuildCard(model.StateCriticalRisk, Inputs{CriticalRiskCount: 1}, CardContext{Top: top})
	assert.Equal(t, "critical_risks", card.AnchorMetric.Label)
	assert.Equal(t, 1, card.AnchorMetric.Value)
	assert.Equal(t, "p1", card.PrimaryAction.ActionID)
	assert.Nil(t, card.Secondary)

	card = BuildCard(model.StatePortfolioAnchor, Inputs{Degraded: true}, CardContext{Top: top, NewCount: 4})
	assert.Equal(t, "e1", card.PrimaryAction.ActionID)
	require.NotNil(t, card.Secondary)

	card = BuildCard(model.StateScanRequired, Inputs{ScanState: model.ScanStale}, CardContext{StaleChains: []string{"ethereum", "base"}})
	assert.Equal(t, 2, card.AnchorMetric.Value)
	assert.Contains(t, card.ContextLine, "ethereum, base")

	card = BuildCard(model.StateDailyPulse, Inputs{}, CardContext{PulseDate: "2026-01-09", PulseRows: 5})
	assert.Equal(t, "/pulse/2026-01-09", card.PrimaryAction.Target)

	for _, s := range Order {
		c := BuildCard(s, Inputs{}, CardContext{})
		assert.Equal(t, s, c.State)
		assert.NotEmpty(t, c.ContextLine)
		assert.NotEmpty(t, c.PrimaryAction.Target)
	}
}

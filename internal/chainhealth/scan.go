package chainhealth

import (
	"sort"
	"strings"
	"time"

	"github.com/mycelian/cockpit/internal/adapters/upstream"
	"github.com/mycelian/cockpit/internal/model"
)

// ScanReport summarizes scan coverage for the wallets in scope.
type ScanReport struct {
	State       model.ScanState
	StaleChains []string
	// Completed counts wallet/chain pairs with at least one finished scan.
	Completed int
}

// EvaluateScans derives the scan state: missing when any wallet in scope has never
// been scanned on its chain, stale when any scan is older than its chain threshold.
func (p Policy) EvaluateScans(statuses []upstream.ScanStatus, wallets []model.Wallet, now time.Time) ScanReport {
	type key struct{ wallet, chain string }
	latest := make(map[key]time.Time)
	var report ScanReport
	for _, s := range statuses {
		if s.LastCompletedAt == nil {
			continue
		}
		report.Completed++
		k := key{strings.ToLower(s.Wallet), strings.ToLower(s.Chain)}
		if s.LastCompletedAt.After(latest[k]) {
			latest[k] = *s.LastCompletedAt
		}
	}

	if len(wallets) == 0 {
		report.State = model.ScanMissing
		return report
	}
	missing := false
	stale := map[string]bool{}
	for _, w := range wallets {
		chain := strings.ToLower(w.Chain)
		at, ok := latest[key{strings.ToLower(w.Address), chain}]
		if !ok {
			missing = true
			continue
		}
		if now.Sub(at) > p.For(chain).ScanStaleAfter {
			stale[chain] = true
		}
	}
	for c := range stale {
		report.StaleChains = append(report.StaleChains, c)
	}
	sort.Strings(report.StaleChains)

	switch {
	case missing:
		report.State = model.ScanMissing
	case len(stale) > 0:
		report.State = model.ScanStale
	default:
		report.State = model.ScanFresh
	}
	return report
}

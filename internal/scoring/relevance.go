package scoring

import (
	"encoding/json"
	"strings"

	"github.com/mycelian/cockpit/internal/model"
)

// Relevance points per investment kind.
const (
	RelevanceWalletRole = 15
	RelevanceSave       = 10
	RelevanceBookmark   = 5
	RelevanceAlertRule  = 5
)

// ruleMatch is the subset of an alert rule payload used for relevance.
// Empty fields match anything; a rule with no fields matches nothing.
type ruleMatch struct {
	SourceKind model.SourceKind `json:"source_kind"`
	Lane       model.Lane       `json:"lane"`
	RefID      string           `json:"ref_id"`
	Wallet     string           `json:"wallet"`
}

func (r ruleMatch) empty() bool {
	return r.SourceKind == "" && r.Lane == "" && r.RefID == "" && r.Wallet == ""
}

func (r ruleMatch) matches(a model.Action) bool {
	if r.empty() {
		return false
	}
	if r.SourceKind != "" && r.SourceKind != a.Source.Kind {
		return false
	}
	if r.Lane != "" && r.Lane != a.Lane {
		return false
	}
	if r.RefID != "" && r.RefID != a.Source.RefID {
		return false
	}
	if r.Wallet != "" && !strings.EqualFold(r.Wallet, a.Wallet) {
		return false
	}
	return true
}

// RelevanceIndex answers relevance lookups for one user's investments and rules.
type RelevanceIndex struct {
	investments []model.Investment
	rules       []ruleMatch
}

// NewRelevanceIndex decodes enabled rules once. Undecodable rule payloads are skipped.
func NewRelevanceIndex(investments []model.Investment, rules []model.AlertRule) *RelevanceIndex {
	idx := &RelevanceIndex{investments: investments}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		var m ruleMatch
		if err := json.Unmarshal(r.Rule, &m); err != nil {
			continue
		}
		idx.rules = append(idx.rules, m)
	}
	return idx
}

// Score returns the 0-30 relevance of a for this user.
func (idx *RelevanceIndex) Score(a model.Action) int {
	if idx == nil {
		return 0
	}
	total := 0
	for _, inv := range idx.investments {
		if !investmentMatches(inv, a) {
			continue
		}
		switch inv.Kind {
		case model.InvestmentWalletRole:
			total += RelevanceWalletRole
		case model.InvestmentSave:
			total += RelevanceSave
		case model.InvestmentBookmark:
			total += RelevanceBookmark
		}
	}
	for _, r := range idx.rules {
		if r.matches(a) {
			total += RelevanceAlertRule
		}
	}
	return clampRelevance(total)
}

func investmentMatches(inv model.Investment, a model.Action) bool {
	if inv.RefID == "" {
		return false
	}
	if inv.RefID == a.Source.RefID {
		return true
	}
	return a.Wallet != "" && strings.EqualFold(inv.RefID, a.Wallet)
}

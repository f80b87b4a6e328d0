package adapters

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mycelian/cockpit/internal/model"
)

var actionNamespace = uuid.MustParse("6f1c9a52-3c1e-4f0b-9d7e-2b8f4e0c7a11")

// ActionID is stable for a given source record so clients can key on it across requests.
func ActionID(kind model.SourceKind, refID string) string {
	return uuid.NewSHA1(actionNamespace, []byte(string(kind)+":"+refID)).String()
}

var (
	pctHigh = decimal.NewFromInt(25)
	pctMed  = decimal.NewFromInt(10)
)

// Normalize maps a native record onto an action draft. It returns false for records
// that cannot be shown: missing identity or event time, or already expired at now.
func Normalize(rec Record, now time.Time) (model.Action, bool) {
	var a model.Action
	switch r := rec.(type) {
	case SecurityFinding:
		a = model.Action{
			Lane:       model.LaneProtect,
			Title:      r.Title,
			Severity:   securitySeverity(r.Severity),
			Provenance: provenance(r.Provenance),
			CTA:        model.CTA{Kind: model.CTAReview, Target: r.Target},
			EventTime:  r.DetectedAt,
			ExpiresAt:  r.ExpiresAt,
			Source:     model.Source{Kind: model.SourceGuardian, RefID: r.ID},
			Wallet:     r.Wallet,
			Chain:      r.Chain,
			CreatedAt:  r.DetectedAt,
			UpdatedAt:  r.UpdatedAt,
		}
		if r.FixAvailable {
			a.CTA.Kind = model.CTAFix
		}
		a.ImpactChips = chips(
			chip(model.ImpactRiskDelta, r.RiskDelta),
			chip(model.ImpactGasEstUSD, r.GasEstUSD),
		)
	case Opportunity:
		a = model.Action{
			Lane:       model.LaneEarn,
			Title:      r.Title,
			Severity:   prioritySeverity(r.Priority),
			Provenance: provenance(r.Provenance),
			CTA:        model.CTA{Kind: model.CTAExecute, Target: r.Target},
			EventTime:  r.PublishedAt,
			ExpiresAt:  r.ExpiresAt,
			Source:     model.Source{Kind: model.SourceOpportunity, RefID: r.ID},
			Wallet:     r.Wallet,
			Chain:      r.Chain,
			CreatedAt:  r.PublishedAt,
			UpdatedAt:  r.UpdatedAt,
		}
		a.ImpactChips = chips(
			chip(model.ImpactUpsideEstUSD, r.UpsideUSD),
			chip(model.ImpactGasEstUSD, r.GasEstUSD),
		)
	case PortfolioDelta:
		change := r.ChangePct
		a = model.Action{
			Lane:       model.LaneWatch,
			Title:      portfolioTitle(r),
			Severity:   deltaSeverity(change.Abs()),
			Provenance: provenance(r.Provenance),
			CTA:        model.CTA{Kind: model.CTAReview, Target: "/portfolio/" + r.Asset},
			EventTime:  r.ObservedAt,
			Source:     model.Source{Kind: model.SourcePortfolio, RefID: r.ID},
			Wallet:     r.Wallet,
			Chain:      r.Chain,
			CreatedAt:  r.ObservedAt,
			UpdatedAt:  r.UpdatedAt,
		}
		if r.RiskFlag {
			a.Lane = model.LaneProtect
			a.Severity = bump(a.Severity)
		}
		a.ImpactChips = chips(chip(model.ImpactRiskDelta, &change))
	case WorkflowItem:
		a = model.Action{
			Lane:       workflowLane(r.Type),
			Title:      r.Title,
			Severity:   workflowSeverity(r, now),
			Provenance: provenance(r.Provenance),
			CTA:        model.CTA{Kind: model.CTAReview, Target: r.Target},
			EventTime:  r.CreatedAt,
			ExpiresAt:  r.DueAt,
			Source:     model.Source{Kind: model.SourceWorkflow, RefID: r.ID},
			Wallet:     r.Wallet,
			Chain:      r.Chain,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
		}
		if r.RequiresSignature {
			a.CTA.Kind = model.CTAExecute
		}
		var secs *decimal.Decimal
		if r.TimeEstSec != nil {
			v := decimal.NewFromInt(*r.TimeEstSec)
			secs = &v
		}
		a.ImpactChips = chips(
			chip(model.ImpactGasEstUSD, r.GasEstUSD),
			chip(model.ImpactTimeEstSec, secs),
		)
	case ProofReceipt:
		sev := model.SeverityLow
		if strings.EqualFold(r.Status, "failed") {
			sev = model.SeverityMed
		}
		a = model.Action{
			Lane:       model.LaneWatch,
			Title:      r.Title,
			Severity:   sev,
			Provenance: model.ProvenanceConfirmed,
			CTA:        model.CTA{Kind: model.CTAReview, Target: "/proofs/" + r.ID},
			EventTime:  r.RecordedAt,
			Source:     model.Source{Kind: model.SourceProof, RefID: r.ID},
			Wallet:     r.Wallet,
			Chain:      r.Chain,
			CreatedAt:  r.RecordedAt,
			UpdatedAt:  r.UpdatedAt,
		}
	default:
		panic(fmt.Sprintf("adapters: unhandled record type %T", rec))
	}

	if a.Source.RefID == "" || a.EventTime.IsZero() {
		return model.Action{}, false
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return model.Action{}, false
	}
	if a.Title == "" {
		a.Title = string(a.Source.Kind) + " " + a.Source.RefID
	}
	a.ID = ActionID(a.Source.Kind, a.Source.RefID)
	return a, true
}

// provenance treats unknown or missing trust levels as heuristic.
func provenance(v string) model.Provenance {
	switch p := model.Provenance(strings.ToLower(v)); p {
	case model.ProvenanceConfirmed, model.ProvenanceSimulated:
		return p
	}
	return model.ProvenanceHeuristic
}

func securitySeverity(v string) model.Severity {
	switch strings.ToUpper(v) {
	case "CRITICAL":
		return model.SeverityCritical
	case "HIGH":
		return model.SeverityHigh
	case "MEDIUM", "MED":
		return model.SeverityMed
	}
	return model.SeverityLow
}

func prioritySeverity(v string) model.Severity {
	switch strings.ToLower(v) {
	case "urgent":
		return model.SeverityCritical
	case "high":
		return model.SeverityHigh
	case "normal":
		return model.SeverityMed
	}
	return model.SeverityLow
}

func deltaSeverity(absPct decimal.Decimal) model.Severity {
	switch {
	case absPct.GreaterThanOrEqual(pctHigh):
		return model.SeverityHigh
	case absPct.GreaterThanOrEqual(pctMed):
		return model.SeverityMed
	}
	return model.SeverityLow
}

func bump(s model.Severity) model.Severity {
	switch s {
	case model.SeverityLow:
		return model.SeverityMed
	case model.SeverityMed:
		return model.SeverityHigh
	}
	return model.SeverityCritical
}

func workflowLane(typ string) model.Lane {
	switch strings.ToLower(typ) {
	case "claim":
		return model.LaneEarn
	case "revoke":
		return model.LaneProtect
	}
	return model.LaneWatch
}

// workflowSeverity rises as the due date approaches.
func workflowSeverity(r WorkflowItem, now time.Time) model.Severity {
	if r.DueAt == nil {
		return model.SeverityLow
	}
	switch left := r.DueAt.Sub(now); {
	case left < 24*time.Hour:
		return model.SeverityHigh
	case left < 72*time.Hour:
		return model.SeverityMed
	}
	return model.SeverityLow
}

func portfolioTitle(r PortfolioDelta) string {
	sign := ""
	if r.ChangePct.IsPositive() {
		sign = "+"
	}
	return fmt.Sprintf("%s moved %s%s%%", r.Asset, sign, r.ChangePct.StringFixed(1))
}

func chip(kind model.ImpactKind, v *decimal.Decimal) *model.ImpactChip {
	if v == nil {
		return nil
	}
	return &model.ImpactChip{Kind: kind, Value: *v}
}

// chips keeps at most model.MaxImpactChips present chips in argument order.
func chips(in ...*model.ImpactChip) []model.ImpactChip {
	var out []model.ImpactChip
	for _, c := range in {
		if c == nil {
			continue
		}
		if len(out) == model.MaxImpactChips {
			break
		}
		out = append(out, *c)
	}
	return out
}

// Package model holds the cockpit's unified domain types.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Lane string

const (
	LaneProtect Lane = "Protect"
	LaneEarn    Lane = "Earn"
	LaneWatch   Lane = "Watch"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMed      Severity = "med"
	SeverityLow      Severity = "low"
)

// Rank orders severities; higher is more severe. Unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMed:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

type Provenance string

const (
	ProvenanceConfirmed Provenance = "confirmed"
	ProvenanceSimulated Provenance = "simulated"
	ProvenanceHeuristic Provenance = "heuristic"
)

type CTAKind string

const (
	CTAFix     CTAKind = "Fix"
	CTAExecute CTAKind = "Execute"
	CTAReview  CTAKind = "Review"
)

// Mutates reports whether the CTA changes on-chain or account state.
func (k CTAKind) Mutates() bool { return k == CTAFix || k == CTAExecute }

type Freshness string

const (
	FreshnessNew      Freshness = "new"
	FreshnessUpdated  Freshness = "updated"
	FreshnessExpiring Freshness = "expiring"
	FreshnessStable   Freshness = "stable"
)

type SourceKind string

const (
	SourceGuardian    SourceKind = "guardian"
	SourceOpportunity SourceKind = "opportunity"
	SourcePortfolio   SourceKind = "portfolio"
	SourceWorkflow    SourceKind = "workflow"
	SourceProof       SourceKind = "proof"
)

// SourceKinds lists every upstream source in fan-out order.
var SourceKinds = []SourceKind{SourceGuardian, SourceOpportunity, SourcePortfolio, SourceWorkflow, SourceProof}

type ImpactKind string

const (
	ImpactRiskDelta    ImpactKind = "risk_delta"
	ImpactGasEstUSD    ImpactKind = "gas_est_usd"
	ImpactTimeEstSec   ImpactKind = "time_est_sec"
	ImpactUpsideEstUSD ImpactKind = "upside_est_usd"
)

// MaxImpactChips bounds the chips rendered on a single action.
const MaxImpactChips = 2

type ImpactChip struct {
	Kind  ImpactKind      `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

type CTA struct {
	Kind   CTAKind `json:"kind"`
	Target string  `json:"target"`
}

type Source struct {
	Kind  SourceKind `json:"kind"`
	RefID string     `json:"ref_id"`
}

// Action is the normalized, scored unit shown on the cockpit. It is computed per
// request and never persisted as-is.
type Action struct {
	ID             string       `json:"id"`
	Lane           Lane         `json:"lane"`
	Title          string       `json:"title"`
	Severity       Severity     `json:"severity"`
	Provenance     Provenance   `json:"provenance"`
	CTA            CTA          `json:"cta"`
	ImpactChips    []ImpactChip `json:"impact_chips"`
	EventTime      time.Time    `json:"event_time"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	Freshness      Freshness    `json:"freshness"`
	UrgencyScore   int          `json:"urgency_score"`
	RelevanceScore int          `json:"relevance_score"`
	IsExecutable   bool         `json:"is_executable"`
	Score          int          `json:"score"`
	Source         Source       `json:"source"`
	AggregateCount int          `json:"aggregated_count,omitempty"`

	// Adapter bookkeeping used for freshness derivation and scope filtering.
	Wallet    string     `json:"-"`
	Chain     string     `json:"-"`
	CreatedAt time.Time  `json:"-"`
	UpdatedAt *time.Time `json:"-"`
}

// DedupeKey identifies an action for duplicate suppression.
func (a Action) DedupeKey() string {
	return DedupeKey(a.Source.Kind, a.Source.RefID, a.CTA.Kind)
}

// DedupeKey builds the suppression key from its parts.
func DedupeKey(kind SourceKind, refID string, cta CTAKind) string {
	return string(kind) + ":" + refID + ":" + string(cta)
}

// Validate enforces the provenance invariant: heuristic sources never carry a mutating CTA.
func (a Action) Validate() error {
	if a.Provenance == ProvenanceHeuristic && a.CTA.Kind.Mutates() {
		return Invalid("cta.kind", "heuristic action %s cannot offer %s", a.ID, a.CTA.Kind)
	}
	if len(a.ImpactChips) > MaxImpactChips {
		return Invalid("impact_chips", "at most %d chips, got %d", MaxImpactChips, len(a.ImpactChips))
	}
	if a.EventTime.IsZero() {
		return Invalid("event_time", "required")
	}
	return nil
}

// ImpactValue returns the chip value for kind, if present.
func (a Action) ImpactValue(kind ImpactKind) (decimal.Decimal, bool) {
	for _, c := range a.ImpactChips {
		if c.Kind == kind {
			return c.Value, true
		}
	}
	return decimal.Zero, false
}

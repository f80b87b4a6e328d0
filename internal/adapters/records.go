// Package adapters normalizes upstream records into action drafts.
package adapters

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mycelian/cockpit/internal/model"
)

// Record is a native upstream record. The set of variants is closed: Normalize
// switches over every implementation.
type Record interface {
	Kind() model.SourceKind
	record()
}

// SecurityFinding comes from the security scanner.
type SecurityFinding struct {
	ID           string           `json:"id"`
	Wallet       string           `json:"wallet"`
	Chain        string           `json:"chain"`
	Title        string           `json:"title"`
	Severity     string           `json:"severity"` // CRITICAL | HIGH | MEDIUM | LOW | INFO
	Provenance   string           `json:"provenance"`
	FixAvailable bool             `json:"fix_available"`
	Target       string           `json:"target"`
	RiskDelta    *decimal.Decimal `json:"risk_delta,omitempty"`
	GasEstUSD    *decimal.Decimal `json:"gas_est_usd,omitempty"`
	DetectedAt   time.Time        `json:"detected_at"`
	UpdatedAt    *time.Time       `json:"updated_at,omitempty"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
}

// Opportunity comes from the opportunity feed and is usually time-limited.
type Opportunity struct {
	ID          string           `json:"id"`
	Wallet      string           `json:"wallet"`
	Chain       string           `json:"chain"`
	Title       string           `json:"title"`
	Priority    string           `json:"priority"` // urgent | high | normal | low
	Provenance  string           `json:"provenance"`
	Target      string           `json:"target"`
	UpsideUSD   *decimal.Decimal `json:"upside_usd,omitempty"`
	GasEstUSD   *decimal.Decimal `json:"gas_est_usd,omitempty"`
	PublishedAt time.Time        `json:"published_at"`
	UpdatedAt   *time.Time       `json:"updated_at,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
}

// PortfolioDelta is a change in one position reported by the portfolio tracker.
type PortfolioDelta struct {
	ID         string          `json:"id"`
	Wallet     string          `json:"wallet"`
	Chain      string          `json:"chain"`
	Asset      string          `json:"asset"`
	ChangePct  decimal.Decimal `json:"change_pct"`
	RiskFlag   bool            `json:"risk_flag"`
	Provenance string          `json:"provenance"`
	ObservedAt time.Time       `json:"observed_at"`
	UpdatedAt  *time.Time      `json:"updated_at,omitempty"`
}

// WorkflowItem is a pending item in the workflow queue.
type WorkflowItem struct {
	ID                string           `json:"id"`
	Wallet            string           `json:"wallet"`
	Chain             string           `json:"chain"`
	Title             string           `json:"title"`
	Type              string           `json:"type"` // claim | revoke | approve | ...
	RequiresSignature bool             `json:"requires_signature"`
	Provenance        string           `json:"provenance"`
	Target            string           `json:"target"`
	GasEstUSD         *decimal.Decimal `json:"gas_est_usd,omitempty"`
	TimeEstSec        *int64           `json:"time_est_sec,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         *time.Time       `json:"updated_at,omitempty"`
	DueAt             *time.Time       `json:"due_at,omitempty"`
}

// ProofReceipt is an entry of the proof/receipt log.
type ProofReceipt struct {
	ID         string     `json:"id"`
	Wallet     string     `json:"wallet"`
	Chain      string     `json:"chain"`
	Title      string     `json:"title"`
	Status     string     `json:"status"` // confirmed | pending | failed
	TxHash     string     `json:"tx_hash"`
	RecordedAt time.Time  `json:"recorded_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

func (SecurityFinding) Kind() model.SourceKind { return model.SourceGuardian }
func (Opportunity) Kind() model.SourceKind     { return model.SourceOpportunity }
func (PortfolioDelta) Kind() model.SourceKind  { return model.SourcePortfolio }
func (WorkflowItem) Kind() model.SourceKind    { return model.SourceWorkflow }
func (ProofReceipt) Kind() model.SourceKind    { return model.SourceProof }

func (SecurityFinding) record() {}
func (Opportunity) record()     {}
func (PortfolioDelta) record()  {}
func (WorkflowItem) record()    {}
func (ProofReceipt) record()    {}

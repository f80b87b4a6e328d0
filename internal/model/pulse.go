package model

import "time"

// PulseDateLayout is the wire and storage format of pulse dates.
const PulseDateLayout = "2006-01-02"

type PulseCategory string

const (
	PulseExpiring       PulseCategory = "expiring_opportunity"
	PulseNewOpportunity PulseCategory = "new_opportunity"
	PulsePortfolioDelta PulseCategory = "portfolio_delta"
	PulseSecurityDelta  PulseCategory = "security_delta"
	PulseProof          PulseCategory = "proof"
	PulseQuietDay       PulseCategory = "quiet_day"
)

// PulseRow is one digest line.
type PulseRow struct {
	Category  PulseCategory `json:"category"`
	ActionID  string        `json:"action_id,omitempty"`
	Title     string        `json:"title"`
	Lane      Lane          `json:"lane,omitempty"`
	Severity  Severity      `json:"severity,omitempty"`
	Freshness Freshness     `json:"freshness,omitempty"`
	Score     int           `json:"score,omitempty"`
	DedupeKey string        `json:"dedupe_key,omitempty"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

// DailyPulse is immutable once stored for (UserID, Date).
type DailyPulse struct {
	UserID     string     `json:"-"`
	Date       string     `json:"date"`
	Timezone   string     `json:"timezone"`
	TZDegraded bool       `json:"tz_degraded"`
	QuietDay   bool       `json:"quiet_day"`
	Rows       []PulseRow `json:"rows"`
	CreatedAt  time.Time  `json:"created_at"`
}

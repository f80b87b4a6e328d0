package model

type ScanState string

const (
	ScanFresh   ScanState = "fresh"
	ScanStale   ScanState = "stale"
	ScanMissing ScanState = "missing"
)

// TodayState is the single top-level state of the primary surface.
type TodayState string

const (
	StateOnboarding      TodayState = "onboarding"
	StateScanRequired    TodayState = "scan_required"
	StateCriticalRisk    TodayState = "critical_risk"
	StatePendingActions  TodayState = "pending_actions"
	StateDailyPulse      TodayState = "daily_pulse"
	StatePortfolioAnchor TodayState = "portfolio_anchor"
)

// Metric is the anchor number of a card.
type Metric struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// Link is a navigational target. ActionID is set when the link opens a ranked action.
type Link struct {
	Label    string `json:"label"`
	Target   string `json:"target"`
	ActionID string `json:"action_id,omitempty"`
}

// Card is the payload of the selected state: one metric, one line, one primary
// action and at most one secondary link.
type Card struct {
	State         TodayState `json:"state"`
	AnchorMetric  Metric     `json:"anchor_metric"`
	ContextLine   string     `json:"context_line"`
	PrimaryAction Link       `json:"primary_action"`
	Secondary     *Link      `json:"secondary,omitempty"`
}

package model

import (
	"encoding/json"
	"time"
)

type WalletScope string

const (
	ScopeActive WalletScope = "active"
	ScopeAll    WalletScope = "all"
)

// ParseWalletScope validates a wallet_scope query value. Empty means active.
func ParseWalletScope(v string) (WalletScope, error) {
	switch WalletScope(v) {
	case "", ScopeActive:
		return ScopeActive, nil
	case ScopeAll:
		return ScopeAll, nil
	}
	return "", Invalid("wallet_scope", "must be active or all, got %q", v)
}

// Wallet is a linked wallet as asserted by the auth collaborator.
type Wallet struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
}

// Prefs is the normalized per-user preference object. Writes replace it whole.
type Prefs struct {
	WalletScopeDefault WalletScope `json:"wallet_scope_default"`
	Timezone           string      `json:"timezone"`
	DNDStartLocal      string      `json:"dnd_start_local"`
	DNDEndLocal        string      `json:"dnd_end_local"`
	NotifCapPerDay     int         `json:"notif_cap_per_day"`
}

// DefaultPrefs applies to users that never saved preferences.
func DefaultPrefs() Prefs {
	return Prefs{
		WalletScopeDefault: ScopeActive,
		DNDStartLocal:      "22:00",
		DNDEndLocal:        "08:00",
		NotifCapPerDay:     3,
	}
}

// UserState is the single per-user row mutated by open events and preference writes.
type UserState struct {
	UserID              string
	LastOpenedAt        *time.Time
	OpenCount           int
	LastEngagedAt       *time.Time
	LastPulseViewedDate string
	Prefs               Prefs
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type InvestmentKind string

const (
	InvestmentSave       InvestmentKind = "save"
	InvestmentBookmark   InvestmentKind = "bookmark"
	InvestmentWalletRole InvestmentKind = "wallet_role"
)

// Valid reports whether k is a known investment kind.
func (k InvestmentKind) Valid() bool {
	switch k {
	case InvestmentSave, InvestmentBookmark, InvestmentWalletRole:
		return true
	}
	return false
}

// Investment is a user's save, bookmark or wallet role. RefID is a source ref or a wallet address.
type Investment struct {
	UserID    string          `json:"-"`
	Kind      InvestmentKind  `json:"kind"`
	RefID     string          `json:"ref_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AlertRule is an opaque rule payload with an enabled flag.
type AlertRule struct {
	UserID    string          `json:"-"`
	RuleID    string          `json:"rule_id"`
	Rule      json.RawMessage `json:"rule"`
	Enabled   bool            `json:"enabled"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ShownAction records that a dedupe key was rendered to the user.
type ShownAction struct {
	UserID    string
	DedupeKey string
	ShownAt   time.Time
}

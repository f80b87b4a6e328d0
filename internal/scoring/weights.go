// Package scoring turns gated action drafts into scored candidates.
package scoring

import (
	"time"

	"github.com/mycelian/cockpit/internal/model"
)

// Locked weight table.
const (
	WeightProtect = 80
	WeightEarn    = 50
	WeightWatch   = 20

	WeightCritical = 100
	WeightHigh     = 70
	WeightMed      = 40
	WeightLow      = 10

	WeightUrgent24h = 90
	WeightUrgent72h = 60

	WeightNew      = 25
	WeightUpdated  = 15
	WeightExpiring = 20

	WeightBurst = 10

	PenaltyDegraded  = -25
	PenaltyDuplicate = -30

	MaxRelevance = 30
)

// Windows shared with the suppression cache and the digest.
const (
	SuppressionWindow = 2 * time.Hour
	ExpiringWindow    = 72 * time.Hour
	urgentWindow      = 24 * time.Hour
)

// Factors is the fully resolved input of the total score.
type Factors struct {
	Lane      model.Lane
	Severity  model.Severity
	Urgency   int
	Freshness model.Freshness
	Relevance int
	Burst     bool
	Degraded  bool
	Duplicate bool
}

// Total sums the weight table for f.
func Total(f Factors) int {
	total := LaneWeight(f.Lane) + SeverityWeight(f.Severity) + UrgencyWeight(f.Urgency) +
		FreshnessWeight(f.Freshness) + clampRelevance(f.Relevance)
	if f.Burst {
		total += WeightBurst
	}
	if f.Degraded {
		total += PenaltyDegraded
	}
	if f.Duplicate {
		total += PenaltyDuplicate
	}
	return total
}

func LaneWeight(l model.Lane) int {
	switch l {
	case model.LaneProtect:
		return WeightProtect
	case model.LaneEarn:
		return WeightEarn
	case model.LaneWatch:
		return WeightWatch
	}
	return 0
}

func SeverityWeight(s model.Severity) int {
	switch s {
	case model.SeverityCritical:
		return WeightCritical
	case model.SeverityHigh:
		return WeightHigh
	case model.SeverityMed:
		return WeightMed
	case model.SeverityLow:
		return WeightLow
	}
	return 0
}

// UrgencyWeight maps an urgency score onto its bucket weight.
func UrgencyWeight(urgency int) int {
	switch {
	case urgency >= 90:
		return WeightUrgent24h
	case urgency >= 60:
		return WeightUrgent72h
	}
	return 0
}

func FreshnessWeight(f model.Freshness) int {
	switch f {
	case model.FreshnessNew:
		return WeightNew
	case model.FreshnessUpdated:
		return WeightUpdated
	case model.FreshnessExpiring:
		return WeightExpiring
	}
	return 0
}

func clampRelevance(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxRelevance {
		return MaxRelevance
	}
	return v
}

// Urgency derives the 0-100 urgency score. Under 24h maps to 90-100 growing as expiry
// nears, under 72h to 60-89, anything later (or no expiry) to 0.
func Urgency(expiresAt *time.Time, now time.Time) int {
	if expiresAt == nil {
		return 0
	}
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 100
	}
	mins := int(left / time.Minute)
	const (
		day   = int(urgentWindow / time.Minute)
		three = int(ExpiringWindow / time.Minute)
	)
	switch {
	case mins < day:
		return 90 + (10*(day-mins)+day/2)/day
	case mins < three:
		return 60 + 29*(three-mins)/(three-day)
	}
	return 0
}

// Freshness applies the strict precedence expiring > new > updated > stable.
// A user who has never opened the cockpit sees every item as new.
func Freshness(a model.Action, lastOpenedAt *time.Time, now time.Time) model.Freshness {
	if a.ExpiresAt != nil && a.ExpiresAt.Sub(now) < ExpiringWindow {
		return model.FreshnessExpiring
	}
	if lastOpenedAt == nil || a.EventTime.After(*lastOpenedAt) {
		return model.FreshnessNew
	}
	if a.UpdatedAt != nil && a.UpdatedAt.After(*lastOpenedAt) && !a.UpdatedAt.Equal(a.CreatedAt) {
		return model.FreshnessUpdated
	}
	return model.FreshnessStable
}

// Package digest builds the once-a-day pulse for each user.
package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/metrics"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/prefs"
	"github.com/mycelian/cockpit/internal/ranker"
	"github.com/mycelian/cockpit/internal/store"
)

const (
	MaxRows         = 8
	MaxPerCategory  = 3
	proofLookback   = 24 * time.Hour
	QuietDayMessage = "Quiet day. Nothing new needs your attention."
)

// Trigger labels why a pulse was generated.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerLazy      Trigger = "lazy"
	TriggerManual    Trigger = "manual"
)

// Candidates are the scored, gated actions available to a digest.
type Candidates struct {
	Actions  []model.Action
	Degraded bool
}

// CandidateSource runs the scoring pipeline for a user outside a request.
type CandidateSource interface {
	Candidates(ctx context.Context, user model.UserState) (Candidates, error)
}

// Generator selects, caps and persists pulses.
type Generator struct {
	pulses    store.Pulses
	source    CandidateSource
	clock     clock.Clock
	log       zerolog.Logger
	threshold decimal.Decimal
}

func NewGenerator(pulses store.Pulses, source CandidateSource, portfolioThresholdPct decimal.Decimal, clk clock.Clock, log zerolog.Logger) *Generator {
	return &Generator{pulses: pulses, source: source, clock: clk, log: log, threshold: portfolioThresholdPct}
}

// Today returns the user's local date and whether the zone fell back to UTC.
func Today(user model.UserState, now time.Time) (date string, tzDegraded bool) {
	loc, ok := prefs.Location(user.Prefs.Timezone)
	return now.In(loc).Format(model.PulseDateLayout), !ok
}

// ValidateDate rejects malformed dates and dates after the user's local today.
func ValidateDate(user model.UserState, date string, now time.Time) error {
	d, err := time.Parse(model.PulseDateLayout, date)
	if err != nil {
		return model.Invalid("date", "must be YYYY-MM-DD, got %q", date)
	}
	today, _ := Today(user, now)
	t, _ := time.Parse(model.PulseDateLayout, today)
	if d.After(t) {
		return model.Invalid("date", "%s is in the future for timezone %q", date, user.Prefs.Timezone)
	}
	return nil
}

// Buildable reports whether a missing pulse for date may still be built from current
// candidates: the user's local today, or yesterday for a client whose clock is behind
// the stored timezone. Older days would freeze today's data under a past date.
func Buildable(user model.UserState, date string, now time.Time) bool {
	d, err := time.Parse(model.PulseDateLayout, date)
	if err != nil {
		return false
	}
	today, _ := Today(user, now)
	t, _ := time.Parse(model.PulseDateLayout, today)
	return !d.After(t) && !d.Before(t.AddDate(0, 0, -1))
}

// Generate returns the pulse for (user, date), building it when absent. A stored pulse
// is never replaced. inserted reports whether this call created the stored row.
// Pulses built from a failed or degraded candidate read are returned but not stored,
// so a later call can produce a complete one. A missing pulse for a date outside
// Buildable is model.ErrNotFound.
func (g *Generator) Generate(ctx context.Context, user model.UserState, date string, trigger Trigger) (pulse *model.DailyPulse, inserted bool, err error) {
	existing, err := g.pulses.Get(ctx, user.UserID, date)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		g.log.Warn().Err(err).Str("op", "pulses.get").Str("user_id", user.UserID).Msg("pulse read failed, generating")
	}

	now := g.clock.Now()
	if !Buildable(user, date, now) {
		return nil, false, fmt.Errorf("no pulse stored for %s: %w", date, model.ErrNotFound)
	}
	_, tzDegraded := Today(user, now)
	cands, cerr := g.source.Candidates(ctx, user)
	if cerr != nil {
		g.log.Warn().Err(cerr).Str("user_id", user.UserID).Msg("digest candidates unavailable")
	}

	pulse = &model.DailyPulse{
		UserID:     user.UserID,
		Date:       date,
		Timezone:   user.Prefs.Timezone,
		TZDegraded: tzDegraded,
		CreatedAt:  now,
	}
	if tzDegraded {
		pulse.Timezone = "UTC"
	}
	pulse.Rows, pulse.QuietDay = g.Select(cands.Actions, now)

	if cerr != nil || cands.Degraded {
		metrics.DigestsGenerated.WithLabelValues(string(trigger), "transient").Inc()
		return pulse, false, nil
	}

	inserted, err = g.pulses.InsertIfAbsent(ctx, pulse)
	if err != nil {
		g.log.Warn().Err(err).Str("op", "pulses.insert").Str("user_id", user.UserID).Msg("pulse persist failed")
		metrics.DigestsGenerated.WithLabelValues(string(trigger), "unpersisted").Inc()
		return pulse, false, nil
	}
	if !inserted {
		// Lost a race; the stored pulse is authoritative.
		if stored, err := g.pulses.Get(ctx, user.UserID, date); err == nil {
			return stored, false, nil
		}
		return pulse, false, nil
	}
	outcome := "generated"
	if pulse.QuietDay {
		outcome = "quiet_day"
	}
	metrics.DigestsGenerated.WithLabelValues(string(trigger), outcome).Inc()
	return pulse, true, nil
}

// Category assigns a digest category, or "" when the action is not digest material.
func (g *Generator) Category(a model.Action, now time.Time) model.PulseCategory {
	switch a.Source.Kind {
	case model.SourceOpportunity:
		if a.Freshness == model.FreshnessExpiring {
			return model.PulseExpiring
		}
		if a.Freshness == model.FreshnessNew || a.Freshness == model.FreshnessUpdated {
			return model.PulseNewOpportunity
		}
	case model.SourcePortfolio:
		if v, ok := a.ImpactValue(model.ImpactRiskDelta); ok && v.Abs().GreaterThanOrEqual(g.threshold) {
			return model.PulsePortfolioDelta
		}
	case model.SourceGuardian:
		if a.Severity == model.SeverityMed || a.Severity == model.SeverityLow {
			return model.PulseSecurityDelta
		}
	case model.SourceProof:
		if now.Sub(a.EventTime) <= proofLookback {
			return model.PulseProof
		}
	}
	return ""
}

// anchors are the categories that make a day not quiet.
var anchors = map[model.PulseCategory]bool{
	model.PulseExpiring:       true,
	model.PulseNewOpportunity: true,
	model.PulsePortfolioDelta: true,
}

// Select ranks candidates with the cockpit ranker and applies the caps. Without an
// anchor row the pulse leads with a quiet-day placeholder.
func (g *Generator) Select(actions []model.Action, now time.Time) (rows []model.PulseRow, quiet bool) {
	perCat := make(map[model.PulseCategory]int)
	hasAnchor := false
	var picked []model.PulseRow
	for _, a := range ranker.Rank(actions) {
		cat := g.Category(a, now)
		if cat == "" || perCat[cat] >= MaxPerCategory {
			continue
		}
		perCat[cat]++
		if anchors[cat] {
			hasAnchor = true
		}
		picked = append(picked, row(cat, a))
	}

	if !hasAnchor {
		rows = append(rows, model.PulseRow{Category: model.PulseQuietDay, Title: QuietDayMessage})
		quiet = true
	}
	for _, r := range picked {
		if len(rows) == MaxRows {
			break
		}
		rows = append(rows, r)
	}
	return rows, quiet
}

func row(cat model.PulseCategory, a model.Action) model.PulseRow {
	return model.PulseRow{
		Category:  cat,
		ActionID:  a.ID,
		Title:     a.Title,
		Lane:      a.Lane,
		Severity:  a.Severity,
		Freshness: a.Freshness,
		Score:     a.Score,
		DedupeKey: a.DedupeKey(),
		ExpiresAt: a.ExpiresAt,
	}
}

package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/mycelian/cockpit/internal/cache"
	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/store"
)

// RelevanceService manages the investments and alert rules that feed relevance scoring.
// Every write invalidates the caller's cached summaries.
type RelevanceService struct {
	store store.Store
	cache cache.Store
	clock clock.Clock
}

func NewRelevanceService(s store.Store, c cache.Store, clk clock.Clock) *RelevanceService {
	return &RelevanceService{store: s, cache: c, clock: clk}
}

func (s *RelevanceService) ListInvestments(ctx context.Context, userID string) ([]model.Investment, error) {
	return s.store.Investments().List(ctx, userID)
}

func (s *RelevanceService) PutInvestment(ctx context.Context, inv *model.Investment) error {
	if !inv.Kind.Valid() {
		return model.Invalid("kind", "must be save, bookmark or wallet_role, got %q", inv.Kind)
	}
	inv.RefID = strings.TrimSpace(inv.RefID)
	if inv.RefID == "" {
		return model.Invalid("ref_id", "required")
	}
	if len(inv.Payload) > 0 && !json.Valid(inv.Payload) {
		return model.Invalid("payload", "must be valid JSON")
	}
	inv.CreatedAt = s.clock.Now()
	if err := s.store.Investments().Put(ctx, inv); err != nil {
		return err
	}
	_ = s.cache.InvalidateUser(ctx, inv.UserID)
	return nil
}

func (s *RelevanceService) DeleteInvestment(ctx context.Context, userID string, kind model.InvestmentKind, refID string) error {
	if !kind.Valid() {
		return model.Invalid("kind", "must be save, bookmark or wallet_role, got %q", kind)
	}
	if err := s.store.Investments().Delete(ctx, userID, kind, refID); err != nil {
		return err
	}
	_ = s.cache.InvalidateUser(ctx, userID)
	return nil
}

func (s *RelevanceService) ListAlertRules(ctx context.Context, userID string) ([]model.AlertRule, error) {
	return s.store.AlertRules().List(ctx, userID)
}

// PutAlertRule upserts rule, assigning an ID when none is given.
func (s *RelevanceService) PutAlertRule(ctx context.Context, rule *model.AlertRule) error {
	var obj map[string]any
	if err := json.Unmarshal(rule.Rule, &obj); err != nil {
		return model.Invalid("rule", "must be a JSON object")
	}
	if rule.RuleID == "" {
		rule.RuleID = uuid.NewString()
	}
	now := s.clock.Now()
	rule.CreatedAt, rule.UpdatedAt = now, now
	if err := s.store.AlertRules().Put(ctx, rule); err != nil {
		return err
	}
	_ = s.cache.InvalidateUser(ctx, rule.UserID)
	return nil
}

func (s *RelevanceService) DeleteAlertRule(ctx context.Context, userID, ruleID string) error {
	if err := s.store.AlertRules().Delete(ctx, userID, ruleID); err != nil {
		return err
	}
	_ = s.cache.InvalidateUser(ctx, userID)
	return nil
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mycelian/cockpit/internal/api/respond"
	"github.com/mycelian/cockpit/internal/auth"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/services"
)

// RelevanceHandler exposes investments and alert rules.
type RelevanceHandler struct {
	svc *services.RelevanceService
}

func NewRelevanceHandler(svc *services.RelevanceService) *RelevanceHandler {
	return &RelevanceHandler{svc: svc}
}

// ListInvestments GET /api/v1/cockpit/investments
func (h *RelevanceHandler) ListInvestments(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	invs, err := h.svc.ListInvestments(r.Context(), p.UserID)
	if err != nil {
		respond.WriteErr(w, r, err)
		return
	}
	if invs == nil {
		invs = []model.Investment{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"investments": invs, "count": len(invs)})
}

// PutInvestment PUT /api/v1/cockpit/investments
func (h *RelevanceHandler) PutInvestment(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	var inv model.Investment
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	inv.UserID = p.UserID
	if err := h.svc.PutInvestment(r.Context(), &inv); err != nil {
		respond.WriteErr(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, inv)
}

// DeleteInvestment DELETE /api/v1/cockpit/investments/{kind}/{refId}
func (h *RelevanceHandler) DeleteInvestment(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	vars := mux.Vars(r)
	if err := h.svc.DeleteInvestment(r.Context(), p.UserID, model.InvestmentKind(vars["kind"]), vars["refId"]); err != nil {
		respond.WriteErr(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ListAlertRules GET /api/v1/cockpit/alert-rules
func (h *RelevanceHandler) ListAlertRules(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	rules, err := h.svc.ListAlertRules(r.Context(), p.UserID)
	if err != nil {
		respond.WriteErr(w, r, err)
		return
	}
	if rules == nil {
		rules = []model.AlertRule{}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"alert_rules": rules, "count": len(rules)})
}

// PutAlertRule PUT /api/v1/cockpit/alert-rules
func (h *RelevanceHandler) PutAlertRule(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	var rule model.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	rule.UserID = p.UserID
	if err := h.svc.PutAlertRule(r.Context(), &rule); err != nil {
		respond.WriteErr(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, rule)
}

// DeleteAlertRule DELETE /api/v1/cockpit/alert-rules/{ruleId}
func (h *RelevanceHandler) DeleteAlertRule(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	if err := h.svc.DeleteAlertRule(r.Context(), p.UserID, mux.Vars(r)["ruleId"]); err != nil {
		respond.WriteErr(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

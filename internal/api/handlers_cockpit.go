package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mycelian/cockpit/internal/api/respond"
	"github.com/mycelian/cockpit/internal/auth"
	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/digest"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/services"
)

// CockpitHandler is the HTTP transport of the read path and its events.
type CockpitHandler struct {
	svc    *services.CockpitService
	pulses *services.PulseService
	prefs  *services.PrefsService
	clock  clock.Clock
}

func NewCockpitHandler(svc *services.CockpitService, pulses *services.PulseService, prefs *services.PrefsService, clk clock.Clock) *CockpitHandler {
	return &CockpitHandler{svc: svc, pulses: pulses, prefs: prefs, clock: clk}
}

// decodeOptional decodes a JSON body, treating an empty body as the zero value.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Summary GET /api/v1/cockpit/summary?wallet_scope=active|all
func (h *CockpitHandler) Summary(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	scope, err := model.ParseWalletScope(r.URL.Query().Get("wallet_scope"))
	if err != nil {
		respond.WriteErr(w, r, err)
		return
	}
	if r.URL.Query().Get("wallet_scope") == "" {
		// The stored default applies when the client does not ask.
		if pr, err := h.prefs.Get(r.Context(), p.UserID); err == nil && pr.WalletScopeDefault != "" {
			scope = pr.WalletScopeDefault
		}
	}
	out, err := h.svc.Summary(r.Context(), p, scope)
	if err != nil {
		respond.WriteErr(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// Open POST /api/v1/cockpit/open
func (h *CockpitHandler) Open(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	var req struct {
		Timezone string `json:"timezone"`
	}
	if err := decodeOptional(r, &req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	out, err := h.svc.Open(r.Context(), p.UserID, req.Timezone)
	if err != nil {
		respond.WriteErr(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// Rendered POST /api/v1/cockpit/rendered
func (h *CockpitHandler) Rendered(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	var req struct {
		DedupeKeys []string `json:"dedupe_keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	n, err := h.svc.Rendered(r.Context(), p.UserID, req.DedupeKeys)
	if err != nil {
		respond.WriteErr(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]int{"recorded": n})
}

// Pulse GET /api/v1/cockpit/pulse/{date}; without a date, the caller's local today.
func (h *CockpitHandler) Pulse(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	date := mux.Vars(r)["date"]
	if date == "" {
		u, err := h.prefs.Get(r.Context(), p.UserID)
		if err != nil {
			respond.WriteErr(w, r, err)
			return
		}
		date, _ = digest.Today(model.UserState{Prefs: u}, h.clock.Now())
	}
	out, err := h.pulses.Get(r.Context(), p.UserID, date)
	if err != nil {
		respond.WriteErr(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

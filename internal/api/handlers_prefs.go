package api

import (
	"encoding/json"
	"net/http"

	"github.com/mycelian/cockpit/internal/api/respond"
	"github.com/mycelian/cockpit/internal/auth"
	"github.com/mycelian/cockpit/internal/prefs"
	"github.com/mycelian/cockpit/internal/services"
)

type PrefsHandler struct {
	svc *services.PrefsService
}

func NewPrefsHandler(svc *services.PrefsService) *PrefsHandler { return &PrefsHandler{svc: svc} }

// Get GET /api/v1/cockpit/preferences
func (h *PrefsHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	out, err := h.svc.Get(r.Context(), p.UserID)
	if err != nil {
		respond.WriteErr(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

// Put PUT /api/v1/cockpit/preferences
func (h *PrefsHandler) Put(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	var in prefs.Input
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON: "+err.Error())
		return
	}
	out, err := h.svc.Put(r.Context(), p.UserID, in)
	if err != nil {
		respond.WriteErr(w, r, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, out)
}

package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mycelian/cockpit/internal/api/recovery"
	"github.com/mycelian/cockpit/internal/auth"
	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/services"
)

// Deps are the services the router exposes.
type Deps struct {
	Cockpit   *services.CockpitService
	Pulses    *services.PulseService
	Prefs     *services.PrefsService
	Relevance *services.RelevanceService
	Verifier  *auth.Verifier
	Limiter   *UserLimiter
	Health    HealthReporter
	Clock     clock.Clock
	Log       zerolog.Logger
}

// NewRouter wires every route. Only /api/health and /metrics are unauthenticated.
func NewRouter(d Deps) *mux.Router {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	router := mux.NewRouter()

	// Global middlewares
	router.Use(RequestLogger(d.Log), recovery.Middleware)

	healthHandler := NewHealthHandler(d.Health)
	cockpitHandler := NewCockpitHandler(d.Cockpit, d.Pulses, d.Prefs, d.Clock)
	prefsHandler := NewPrefsHandler(d.Prefs)
	relevanceHandler := NewRelevanceHandler(d.Relevance)

	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := router.PathPrefix("/api/v1/cockpit").Subrouter()
	v1.Use(Authenticate(d.Verifier))
	if d.Limiter != nil {
		v1.Use(RateLimit(d.Limiter, d.Clock))
	}

	v1.HandleFunc("/summary", cockpitHandler.Summary).Methods("GET")
	v1.HandleFunc("/open", cockpitHandler.Open).Methods("POST")
	v1.HandleFunc("/rendered", cockpitHandler.Rendered).Methods("POST")
	v1.HandleFunc("/pulse", cockpitHandler.Pulse).Methods("GET")
	v1.HandleFunc("/pulse/{date}", cockpitHandler.Pulse).Methods("GET")

	v1.HandleFunc("/preferences", prefsHandler.Get).Methods("GET")
	v1.HandleFunc("/preferences", prefsHandler.Put).Methods("PUT")

	v1.HandleFunc("/investments", relevanceHandler.ListInvestments).Methods("GET")
	v1.HandleFunc("/investments", relevanceHandler.PutInvestment).Methods("PUT")
	v1.HandleFunc("/investments/{kind}/{refId}", relevanceHandler.DeleteInvestment).Methods("DELETE")
	v1.HandleFunc("/alert-rules", relevanceHandler.ListAlertRules).Methods("GET")
	v1.HandleFunc("/alert-rules", relevanceHandler.PutAlertRule).Methods("PUT")
	v1.HandleFunc("/alert-rules/{ruleId}", relevanceHandler.DeleteAlertRule).Methods("DELETE")

	return router
}

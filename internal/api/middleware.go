package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mycelian/cockpit/internal/api/respond"
	"github.com/mycelian/cockpit/internal/auth"
	"github.com/mycelian/cockpit/internal/clock"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestLogger attaches a request-scoped logger carrying request_id and writes one
// access line per request.
func RequestLogger(base zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			l := base.With().Str("request_id", reqID).Logger()
			ctx := l.WithContext(r.Context())
			w.Header().Set("X-Request-ID", reqID)

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(ctx))

			zerolog.Ctx(ctx).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

// Authenticate requires a valid bearer token and attaches the caller to the context.
func Authenticate(v *auth.Verifier) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := auth.ExtractBearer(r)
			if err != nil {
				respond.WriteUnauthorized(w, err.Error())
				return
			}
			p, err := v.Verify(tok)
			if err != nil {
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("token rejected")
				respond.WriteUnauthorized(w, "invalid bearer token")
				return
			}
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("user_id", p.UserID)
			})
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

// RateLimit applies the per-user bucket. It must run after Authenticate.
func RateLimit(l *UserLimiter, clk clock.Clock) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := auth.PrincipalFrom(r.Context())
			if ok, wait := l.Allow(p.UserID, clk.Now()); !ok {
				respond.WriteRateLimited(w, wait)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

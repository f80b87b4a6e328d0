package recovery

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/mycelian/cockpit/internal/api/respond"
)

// Middleware intercepts panics from downstream handlers, logs details, and returns an
// INTERNAL_ERROR envelope.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				zerolog.Ctx(r.Context()).Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("url", r.URL.String()).
					Str("remote", r.RemoteAddr).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				respond.WriteInternalError(w, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

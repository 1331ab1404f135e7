// internal/app/features/scheduler/routes.go
package scheduler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Routes returns the ops scheduler subrouter, mounted under /ops/scheduler.
func Routes(h *Handler, token string) chi.Router {
	r := chi.NewRouter()
	r.Use(RequireToken(token))
	r.Get("/status", h.ServeStatus)
	r.Get("/retirements", h.ServeRetirements)
	r.Get("/runs", h.ServeRuns)
	r.Post("/sweeps/{kind}", h.ServeTriggerSweep)
	r.Post("/restart", h.ServeRestart)
	return r
}

// RequireToken rejects requests whose bearer token does not match token.
// An empty token disables the check.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="ops"`)
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

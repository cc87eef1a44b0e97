// Package health exposes liveness and readiness for process supervision.
// Liveness is static; readiness runs the registered dependency probes
// (database, rate-limiter backend) and reports 503 if any fails.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// checkTimeout bounds each readiness probe.
const checkTimeout = 2 * time.Second

// Check probes one dependency. A nil error means ready.
type Check func(ctx context.Context) error

// Handler serves /health and /ready.
type Handler struct {
	checks map[string]Check
	logger *logrus.Logger
}

// NewHandler returns a health handler with the given named readiness checks.
// checks may be empty; then /ready always reports ready.
func NewHandler(checks map[string]Check, logger *logrus.Logger) *Handler {
	return &Handler{checks: checks, logger: logger}
}

// Live handles GET /health.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready handles GET /ready: every check must pass.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	failures := make(map[string]string)
	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			h.logger.WithError(err).WithField("check", name).Warn("readiness check failed")
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "not ready",
			"failures": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

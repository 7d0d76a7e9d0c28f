package api

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each dependency check.
const healthCheckTimeout = 2 * time.Second

// criticalCheck is the dependency whose failure makes /health answer 503.
const criticalCheck = "database"

// handleHealth reports the version and the state of each dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.checks))

	for name, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.HealthCheck(ctx)
		cancel()

		if err == nil {
			checks[name] = "ok"
			continue
		}
		checks[name] = "unavailable"
		s.logger.Warn("health check failed", "check", name, "error", err)
		if name == criticalCheck {
			status = "unavailable"
			code = http.StatusServiceUnavailable
		} else if status == "ok" {
			status = "degraded"
		}
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}

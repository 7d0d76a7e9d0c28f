package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Instrument(routePattern))
	}
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.rateLimitMiddleware)
			}

			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/me", s.handleMe)
				r.Get("/profile", s.handleMe)
				r.Post("/revoke-all", s.handleRevokeAll)
				r.Post("/check-permission", s.handleCheckPermission)
				r.Post("/check-role", s.handleCheckRole)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Route("/users", func(r chi.Router) {
				r.With(requireAnyRole(auth.RoleAdmin, auth.RoleModerator), requirePermission(auth.PermUsersRead)).Get("/", s.handleListUsers)

				r.Route("/{id}", func(r chi.Router) {
					r.With(requireSelfOrAdmin).Get("/", s.handleGetUser)
					r.With(requirePermission(auth.PermUsersWrite)).Patch("/", s.handleUpdateUser)
					r.With(requireRole(auth.RoleAdmin), requirePermission(auth.PermUsersDelete)).Delete("/", s.handleDeleteUser)
					r.With(requirePermission(auth.PermUsersWrite)).Post("/revoke-sessions", s.handleRevokeUserSessions)
					r.With(requireAnyPermission(auth.PermUsersRead, auth.PermSystemAdmin)).Get("/sessions", s.handleListUserSessions)
				})
			})

			r.With(requirePermission(auth.PermSystemAdmin)).Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// routePattern labels metrics with the matched chi pattern, not the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyClaims    contextKey = "claims"
)

const headerRequestID = "X-Request-ID"

// requestIDMiddleware echoes the caller's X-Request-ID, minting a UUID when
// there is none, and stores it on the context for log lines.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyRequestID).(string) //nolint:errcheck // empty outside the middleware
	return id
}

// loggingMiddleware writes one access log line per request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(began).Milliseconds(),
			"request_id", requestID(r),
		)
	})
}

// recoveryMiddleware turns a handler panic into a logged 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			s.logger.Error("handler panic",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestID(r),
			)
			writeInternalError(w, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflights and reflects allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	methods := joinOrDefault(s.cfg.CORS.AllowedMethods, "GET, POST, PATCH, DELETE, OPTIONS")
	headers := joinOrDefault(s.cfg.CORS.AllowedHeaders, "Authorization, Content-Type, "+headerRequestID)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.isAllowedOrigin(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// maxRequestBodySize caps JSON bodies at 1 MiB.
const maxRequestBodySize = 1 << 20

func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies the per-IP token bucket.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth verifies the bearer access token and stores its claims on the
// request context. Missing, malformed, expired and forged tokens all get
// the same 401.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.ExtractBearer(r.Header.Get("Authorization"))
		if !ok {
			writeUnauthorized(w, "authentication required")
			return
		}
		claims, err := s.auth.VerifyAccessToken(token)
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// claimsFromContext returns the verified claims, or nil outside requireAuth.
func claimsFromContext(ctx context.Context) *auth.AccessClaims {
	claims, _ := ctx.Value(ctxKeyClaims).(*auth.AccessClaims) //nolint:errcheck // nil when absent
	return claims
}

// guard builds a middleware that lets the request through when allowed
// returns true for the caller's claims, and answers 403 otherwise.
func guard(message string, allowed func(r *http.Request, c *auth.AccessClaims) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil {
				writeUnauthorized(w, "authentication required")
				return
			}
			if !allowed(r, claims) {
				writeForbidden(w, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireRole admits callers holding role.
func requireRole(role string) func(http.Handler) http.Handler {
	return requireAnyRole(role)
}

// requireAnyRole admits callers holding at least one of roles.
func requireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return guard("insufficient role", func(_ *http.Request, c *auth.AccessClaims) bool {
		return slices.ContainsFunc(roles, c.HasRole)
	})
}

// requirePermission admits callers whose token carries perm ("resource:action").
func requirePermission(perm string) func(http.Handler) http.Handler {
	return requireAnyPermission(perm)
}

// requireAnyPermission admits callers carrying at least one of perms.
func requireAnyPermission(perms ...string) func(http.Handler) http.Handler {
	return guard("insufficient permissions", func(_ *http.Request, c *auth.AccessClaims) bool {
		for _, p := range perms {
			if slices.Contains(c.Permissions, p) {
				return true
			}
		}
		return false
	})
}

// requireSelfOrAdmin admits the user named by {id} and admins.
var requireSelfOrAdmin = guard("access denied", func(r *http.Request, c *auth.AccessClaims) bool {
	return c.UserID() == chi.URLParam(r, "id") || c.HasRole(auth.RoleAdmin)
})

// isAllowedOrigin reports whether origin may call the API. No configured
// origins means any origin.
func (s *Server) isAllowedOrigin(origin string) bool {
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return true
	}
	return slices.ContainsFunc(s.cfg.CORS.AllowedOrigins, func(allowed string) bool {
		return allowed == "*" || allowed == origin
	})
}

// statusWriter records the status code for the access log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func joinOrDefault(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, ", ")
}

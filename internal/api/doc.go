// Package api implements identityd's HTTP REST API.
//
// It is a thin adapter over auth.Service: it decodes requests, applies the
// access guards and maps error kinds onto HTTP status codes. No
// authentication decision is made here that the core does not make.
//
// # Routes
//
//	GET    /api/v1/health
//	POST   /api/v1/auth/register | login | refresh | logout
//	GET    /api/v1/auth/me | profile             (bearer)
//	POST   /api/v1/auth/revoke-all               (bearer)
//	POST   /api/v1/auth/check-permission         (bearer)
//	POST   /api/v1/auth/check-role               (bearer)
//	GET    /api/v1/users                         (admin|moderator + users:read)
//	GET    /api/v1/users/{id}                    (self or admin)
//	PATCH  /api/v1/users/{id}                    (users:write)
//	DELETE /api/v1/users/{id}                    (admin + users:delete)
//	POST   /api/v1/users/{id}/revoke-sessions    (users:write)
//	GET    /api/v1/users/{id}/sessions           (users:read)
//	GET    /api/v1/audit                         (system:admin)
//	GET    /metrics                              (prometheus)
//
// # Errors
//
// Every error body is {"status","code","message"}: invalid input 400,
// unauthorized 401, forbidden 403, not found 404, conflict 409, store
// unavailable 503, anything else 500. Unauthorized responses never say
// which check failed.
//
// # Rate Limiting
//
// When security.rate_limit.enabled is set, /api/v1/auth/* is limited per
// client IP with a token bucket (429 when exhausted).
package api

// Package auth is the credential lifecycle and access-control core of the
// identity service.
//
// It is built from small components, each constructed with its dependencies
// passed in explicitly:
//   - Hasher: Argon2id password digests (legacy bcrypt digests verify and are
//     upgraded on next login) plus the password strength policy
//   - TokenCodec: HS256 access and refresh tokens signed with two independent
//     secrets and bound to an issuer/audience pair
//   - Ledger: refresh tokens stored as SHA-256 hashes, at most one active per user
//   - Resolver: role → permission aggregation for authorisation checks
//   - Service: register, login, refresh, logout, revoke-all and check operations
//
// Permissions are never granted to a user directly. A user's effective set is
// the de-duplicated union of "resource:action" strings across all assigned roles.
//
// Every failure returned by Service wraps exactly one of the kind sentinels
// (ErrInvalidInput, ErrConflict, ErrUnauthorized, ErrForbidden, ErrNotFound,
// ErrUnavailable). Unauthorized deliberately hides whether the account exists,
// the password was wrong, or the token was expired rather than revoked.
package auth

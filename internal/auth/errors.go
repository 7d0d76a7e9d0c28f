package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Error kinds returned by Service. Match with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("store unavailable")
)

// Codec and ledger errors. These never leave Service unwrapped; they are
// collapsed into ErrUnauthorized at the orchestration boundary.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenInvalid = errors.New("refresh token not recognised")
	ErrTokenExpired = errors.New("refresh token has expired")
	ErrTokenRevoked = errors.New("refresh token has been revoked")
)

// Repository errors.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrPermissionNotFound = errors.New("permission not found")
	ErrUsernameExists     = errors.New("username already exists")
	ErrEmailExists        = errors.New("email already exists")
	ErrRoleExists         = errors.New("role already exists")
	ErrPermissionExists   = errors.New("permission already exists")
)

// ValidationError carries every violated rule of an input policy.
// It unwraps to ErrInvalidInput.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// storeErr classifies a driver failure as ErrUnavailable while keeping the
// original error in the chain for logging.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// isUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isUniqueViolationOn reports whether err is a unique violation on exactly
// one of the given constraints, named as SQLite reports them
// ("users.email", "permissions.resource, permissions.action"). A clash on
// any other key, a primary key included, does not match.
func isUniqueViolationOn(err error, constraints ...string) bool {
	return isUniqueViolation(err) && slices.Contains(constraints, uniqueViolationColumn(err))
}

// uniqueViolationColumn extracts "table.column" from a SQLite unique
// constraint message, e.g. "UNIQUE constraint failed: users.email".
func uniqueViolationColumn(err error) string {
	msg := err.Error()
	_, col, ok := strings.Cut(msg, "constraint failed: ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(col)
}

// isForeignKeyViolation reports whether err is a SQLite FOREIGN KEY failure.
func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

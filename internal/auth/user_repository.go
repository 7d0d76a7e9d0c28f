package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserRepository defines the interface for user account persistence.
type UserRepository interface {
	// Create inserts user and its role assignments in one transaction.
	// Uniqueness is checked inside the same transaction.
	Create(ctx context.Context, user *User, roleIDs []string) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// FindByUsernameOrEmail returns the first user matching either value.
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*User, error)
	List(ctx context.Context, params ListParams) ([]User, int, error)
	// Update writes the mutable fields and, when roleIDs is non-nil,
	// replaces the role set, all in one transaction.
	Update(ctx context.Context, user *User, roleIDs *[]string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// List paging bounds.
const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// userSortColumns whitelists the sortable fields.
var userSortColumns = map[string]string{
	"username":   "username",
	"email":      "email",
	"status":     "status",
	"created_at": "created_at",
	"createdAt":  "created_at",
	"updated_at": "updated_at",
	"updatedAt":  "updated_at",
}

// ListParams selects one page of users.
type ListParams struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string // ASC or DESC
}

// Normalize clamps paging values and replaces unknown sort fields with defaults.
func (p ListParams) Normalize() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if _, ok := userSortColumns[p.SortBy]; !ok {
		p.SortBy = "created_at"
	}
	if strings.EqualFold(p.SortOrder, "ASC") {
		p.SortOrder = "ASC"
	} else {
		p.SortOrder = "DESC"
	}
	return p
}

// Offset returns the row offset of the page.
func (p ListParams) Offset() int {
	return (p.Page - 1) * p.Limit
}

const userColumns = "id, username, email, password_hash, status, last_login_at, created_at, updated_at"

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// Create inserts a new user account. The ID is generated if empty and the
// status defaults to pending.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User, roleIDs []string) error {
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()
	}
	if user.Status == "" {
		user.Status = StatusPending
	}

	now := time.Now().UTC().Format(time.RFC3339)
	user.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	user.UpdatedAt = user.CreatedAt

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("beginning user create", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if err := checkUnique(ctx, tx, "", user.Username, user.Email); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return err
	}

	roleIDs = dedupe(roleIDs)
	if err := checkRolesExist(ctx, tx, roleIDs); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Email, user.PasswordHash, string(user.Status), now, now,
	)
	if err != nil {
		return classifyUserWrite("creating user", err)
	}

	if err := insertUserRoles(ctx, tx, user.ID, roleIDs); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeErr("committing user create", err)
	}
	return nil
}

// GetByID retrieves a user by their unique ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetByUsername retrieves a user by their username.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
}

// FindByUsernameOrEmail retrieves the user whose username or email matches.
func (r *SQLiteUserRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*User, error) {
	return r.getUser(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ? OR email = ? ORDER BY created_at ASC LIMIT 1",
		username, email)
}

// List returns one page of users and the total row count.
func (r *SQLiteUserRepository) List(ctx context.Context, params ListParams) ([]User, int, error) {
	params = params.Normalize()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return nil, 0, storeErr("counting users", err)
	}

	// Column and direction come from the whitelist, never from input.
	query := fmt.Sprintf("SELECT %s FROM users ORDER BY %s %s, id ASC LIMIT ? OFFSET ?",
		userColumns, userSortColumns[params.SortBy], params.SortOrder)

	rows, err := r.db.QueryContext(ctx, query, params.Limit, params.Offset())
	if err != nil {
		return nil, 0, storeErr("listing users", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUserFrom(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr("iterating users", err)
	}

	return users, total, nil
}

// Update modifies a user's mutable fields (username, email, status). A
// non-nil roleIDs replaces the user's roles in the same transaction; an
// empty slice clears them.
func (r *SQLiteUserRepository) Update(ctx context.Context, user *User, roleIDs *[]string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	user.UpdatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("beginning user update", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if err := checkUnique(ctx, tx, user.ID, user.Username, user.Email); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE users SET username = ?, email = ?, status = ?, updated_at = ? WHERE id = ?`,
		user.Username, user.Email, string(user.Status), now, user.ID,
	)
	if err != nil {
		return classifyUserWrite("updating user", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}

	if roleIDs != nil {
		if err := replaceUserRoles(ctx, tx, user.ID, *roleIDs); err != nil { //nolint:govet // shadow: err re-declared in nested scope
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("committing user update", err)
	}
	return nil
}

// UpdatePassword changes a user's password hash.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, now, id,
	)
	if err != nil {
		return storeErr("updating password", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateLastLogin records a successful login instant.
func (r *SQLiteUserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return storeErr("updating last login", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Delete removes a user account by ID. Role assignments and refresh tokens
// cascade.
func (r *SQLiteUserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return storeErr("deleting user", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Count returns the total number of user accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, storeErr("counting users", err)
	}
	return count, nil
}

func (r *SQLiteUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	return scanUserFrom(r.db.QueryRowContext(ctx, query, args...))
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanUserFrom scans a user from any scanner (Row or Rows).
func scanUserFrom(s scanner) (*User, error) {
	var u User
	var status string
	var lastLogin sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &status,
		&lastLogin, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, storeErr("scanning user", err)
	}

	u.Status = UserStatus(status)
	if lastLogin.Valid {
		t, _ := time.Parse(time.RFC3339, lastLogin.String) //nolint:errcheck // format is controlled
		u.LastLoginAt = &t
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &u, nil
}

// checkUnique fails with ErrUsernameExists or ErrEmailExists when another
// user (not excludeID) already holds username or email.
func checkUnique(ctx context.Context, tx *sql.Tx, excludeID, username, email string) error {
	var existingUsername string
	err := tx.QueryRowContext(ctx,
		`SELECT username FROM users WHERE (username = ? OR email = ?) AND id != ? LIMIT 1`,
		username, email, excludeID,
	).Scan(&existingUsername)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return storeErr("checking user uniqueness", err)
	case existingUsername == username:
		return ErrUsernameExists
	default:
		return ErrEmailExists
	}
}

// checkRolesExist fails with ErrRoleNotFound unless every id resolves.
func checkRolesExist(ctx context.Context, tx *sql.Tx, roleIDs []string) error {
	if len(roleIDs) == 0 {
		return nil
	}
	placeholders, args := inClause(roleIDs)

	var found int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM roles WHERE id IN ("+placeholders+")", args...,
	).Scan(&found)
	if err != nil {
		return storeErr("resolving roles", err)
	}
	if found != len(roleIDs) {
		return ErrRoleNotFound
	}
	return nil
}

// replaceUserRoles swaps the user's role set for roleIDs inside tx.
func replaceUserRoles(ctx context.Context, tx *sql.Tx, userID string, roleIDs []string) error {
	roleIDs = dedupe(roleIDs)
	if err := checkRolesExist(ctx, tx, roleIDs); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM user_roles WHERE user_id = ?", userID); err != nil {
		return storeErr("clearing roles", err)
	}
	return insertUserRoles(ctx, tx, userID, roleIDs)
}

func insertUserRoles(ctx context.Context, tx *sql.Tx, userID string, roleIDs []string) error {
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_roles (user_id, role_id) VALUES (?, ?)`,
			userID, roleID,
		); err != nil {
			return storeErr("assigning role", err)
		}
	}
	return nil
}

// classifyUserWrite maps a username or email clash that slipped past
// checkUnique to its sentinel. Anything else, an id collision included, is
// a store failure.
func classifyUserWrite(op string, err error) error {
	switch {
	case isUniqueViolationOn(err, "users.username"):
		return ErrUsernameExists
	case isUniqueViolationOn(err, "users.email"):
		return ErrEmailExists
	default:
		return storeErr(op, err)
	}
}

// inClause returns "?, ?, ?" and the matching argument slice.
func inClause(values []string) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", "), args
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package audit records authentication activity in the audit_logs table
// and serves it back for administrators.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entity types recorded in audit_logs.entity_type.
const (
	EntityUser    = "user"
	EntitySession = "session"
)

// Pagination limits for List.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// AuditLog is one audit trail entry. EntityID and UserID are the affected
// user; both are empty for a failed login against an unknown account.
type AuditLog struct { //nolint:revive // audit.AuditLog is clearer than audit.Log in calling code
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter selects entries for List. Zero fields match everything.
type Filter struct {
	Action string    // optional: register, login, login_failed, refresh, logout, ...
	UserID string    // optional: entries about one user
	Since  time.Time // optional: entries at or after this instant
	Limit  int       // default 50, max 200
	Offset int
}

// ListResult is one page of entries.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository stores and lists audit entries.
type Repository interface {
	Create(ctx context.Context, entry *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit logs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts entry, filling ID ("aud-" prefix) and CreatedAt when unset.
func (r *SQLiteRepository) Create(ctx context.Context, entry *AuditLog) error {
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var details any
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encoding audit details: %w", err)
		}
		details = string(b)
	}

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity_type, entity_id, user_id, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.EntityType,
		nullableString(entry.EntityID), nullableString(entry.UserID),
		entry.Source, details, entry.CreatedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// normalized clamps Limit and Offset into range.
func (f Filter) normalized() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}
	f.Offset = max(f.Offset, 0)
	return f
}

// where renders the filter as a parameterised WHERE clause ("" for none).
func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if !f.Since.IsZero() {
		add("created_at >= ?", f.Since.UTC().Format(time.RFC3339))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

const selectAuditLogs = "SELECT id, action, entity_type, entity_id, user_id, source, details, created_at FROM audit_logs"

// List returns audit logs matching the filter, newest first. Total counts
// every match, ignoring Limit and Offset.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = filter.normalized()
	where, args := filter.where()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		selectAuditLogs+where+" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	result := &ListResult{Logs: []AuditLog{}, Total: total, Limit: filter.Limit, Offset: filter.Offset}
	for rows.Next() {
		entry, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		result.Logs = append(result.Logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}
	return result, nil
}

func scanAuditLog(rows *sql.Rows) (AuditLog, error) {
	var (
		entry                     AuditLog
		entityID, userID, details sql.NullString
		createdAt                 string
	)
	if err := rows.Scan(&entry.ID, &entry.Action, &entry.EntityType,
		&entityID, &userID, &entry.Source, &details, &createdAt); err != nil {
		return AuditLog{}, fmt.Errorf("scanning audit log: %w", err)
	}

	entry.EntityID = entityID.String
	entry.UserID = userID.String
	if details.String != "" {
		// Unparseable details are dropped rather than failing the page.
		_ = json.Unmarshal([]byte(details.String), &entry.Details) //nolint:errcheck // best-effort decode
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return AuditLog{}, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
	}
	entry.CreatedAt = t
	return entry, nil
}

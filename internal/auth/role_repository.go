package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RoleRepository defines the interface for role, permission and role
// assignment persistence.
type RoleRepository interface {
	GetByID(ctx context.Context, id string) (*Role, error)
	// GetByIDs returns the roles matching ids. Unknown ids are skipped; the
	// caller compares lengths to detect them.
	GetByIDs(ctx context.Context, ids []string) ([]Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
	// ListForUser returns the user's roles with permissions loaded.
	ListForUser(ctx context.Context, userID string) ([]Role, error)
	// SetUserRoles replaces the user's role assignments atomically.
	SetUserRoles(ctx context.Context, userID string, roleIDs []string) error
	AssignRole(ctx context.Context, userID, roleID string) error
	CreateRole(ctx context.Context, role *Role) error
	CreatePermission(ctx context.Context, perm *Permission) error
	GetPermissionByName(ctx context.Context, name string) (*Permission, error)
	GrantPermission(ctx context.Context, roleID, permissionID string) error
}

// SQLiteRoleRepository implements RoleRepository using SQLite.
type SQLiteRoleRepository struct {
	db *sql.DB
}

// NewRoleRepository creates a new SQLite-backed role repository.
func NewRoleRepository(db *sql.DB) *SQLiteRoleRepository {
	return &SQLiteRoleRepository{db: db}
}

// GetByID retrieves a role with its permissions.
func (r *SQLiteRoleRepository) GetByID(ctx context.Context, id string) (*Role, error) {
	return r.getRole(ctx, "SELECT id, name, description, created_at FROM roles WHERE id = ?", id)
}

// GetByName retrieves a role with its permissions by exact name.
func (r *SQLiteRoleRepository) GetByName(ctx context.Context, name string) (*Role, error) {
	return r.getRole(ctx, "SELECT id, name, description, created_at FROM roles WHERE name = ?", name)
}

// GetByIDs retrieves the roles whose ids are listed.
func (r *SQLiteRoleRepository) GetByIDs(ctx context.Context, ids []string) ([]Role, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []Role{}, nil
	}
	placeholders, args := inClause(ids)
	return r.queryRoles(ctx,
		"SELECT id, name, description, created_at FROM roles WHERE id IN ("+placeholders+") ORDER BY name", args...)
}

// List returns every role ordered by name.
func (r *SQLiteRoleRepository) List(ctx context.Context) ([]Role, error) {
	return r.queryRoles(ctx, "SELECT id, name, description, created_at FROM roles ORDER BY name")
}

// ListForUser returns the roles assigned to userID. An unknown user has no roles.
func (r *SQLiteRoleRepository) ListForUser(ctx context.Context, userID string) ([]Role, error) {
	return r.queryRoles(ctx,
		`SELECT r.id, r.name, r.description, r.created_at
		 FROM roles r JOIN user_roles ur ON ur.role_id = r.id
		 WHERE ur.user_id = ? ORDER BY r.name`, userID)
}

// SetUserRoles replaces every role assignment of userID.
func (r *SQLiteRoleRepository) SetUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("beginning role assignment", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id = ?", userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return storeErr("checking user", err)
	}

	if err := replaceUserRoles(ctx, tx, userID, roleIDs); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeErr("committing role assignment", err)
	}
	return nil
}

// AssignRole adds one role to a user. Assigning a held role is a no-op.
func (r *SQLiteRoleRepository) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_roles (user_id, role_id) VALUES (?, ?)`, userID, roleID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrRoleNotFound
		}
		return storeErr("assigning role", err)
	}
	return nil
}

// CreateRole inserts a role. The ID is generated if empty.
func (r *SQLiteRoleRepository) CreateRole(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = "role-" + uuid.NewString()
	}
	now := time.Now().UTC().Format(time.RFC3339)
	role.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO roles (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		role.ID, role.Name, role.Description, now)
	if err != nil {
		if isUniqueViolationOn(err, "roles.name") {
			return ErrRoleExists
		}
		return storeErr("creating role", err)
	}
	return nil
}

// CreatePermission inserts a permission. Name defaults to "resource:action".
func (r *SQLiteRoleRepository) CreatePermission(ctx context.Context, perm *Permission) error {
	if perm.ID == "" {
		perm.ID = "perm-" + uuid.NewString()
	}
	if perm.Name == "" {
		perm.Name = PermissionString(perm.Resource, perm.Action)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	perm.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO permissions (id, name, resource, action, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		perm.ID, perm.Name, perm.Resource, perm.Action, perm.Description, now)
	if err != nil {
		if isUniqueViolationOn(err, "permissions.name", "permissions.resource, permissions.action") {
			return ErrPermissionExists
		}
		return storeErr("creating permission", err)
	}
	return nil
}

// GetPermissionByName retrieves a permission by its "resource:action" name.
func (r *SQLiteRoleRepository) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	var p Permission
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, resource, action, description, created_at FROM permissions WHERE name = ?`, name,
	).Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPermissionNotFound
		}
		return nil, storeErr("getting permission", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	return &p, nil
}

// GrantPermission attaches a permission to a role. Granting twice is a no-op.
func (r *SQLiteRoleRepository) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO role_permissions (role_id, permission_id) VALUES (?, ?)`,
		roleID, permissionID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrRoleNotFound
		}
		return storeErr("granting permission", err)
	}
	return nil
}

func (r *SQLiteRoleRepository) getRole(ctx context.Context, query string, args ...any) (*Role, error) {
	var role Role
	var createdAt string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&role.ID, &role.Name, &role.Description, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, storeErr("getting role", err)
	}
	role.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	roles := []Role{role}
	if err := r.loadPermissions(ctx, roles); err != nil {
		return nil, err
	}
	return &roles[0], nil
}

func (r *SQLiteRoleRepository) queryRoles(ctx context.Context, query string, args ...any) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("listing roles", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		var role Role
		var createdAt string
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &createdAt); err != nil {
			return nil, storeErr("scanning role", err)
		}
		role.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating roles", err)
	}
	// Close before the next query; the pool holds a single connection.
	rows.Close()

	if err := r.loadPermissions(ctx, roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// loadPermissions fills Permissions for every role in one query.
func (r *SQLiteRoleRepository) loadPermissions(ctx context.Context, roles []Role) error {
	if len(roles) == 0 {
		return nil
	}
	index := make(map[string]int, len(roles))
	ids := make([]string, len(roles))
	for i := range roles {
		index[roles[i].ID] = i
		ids[i] = roles[i].ID
		roles[i].Permissions = []Permission{}
	}
	placeholders, args := inClause(ids)

	rows, err := r.db.QueryContext(ctx,
		`SELECT rp.role_id, p.id, p.name, p.resource, p.action, p.description, p.created_at
		 FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
		 WHERE rp.role_id IN (`+placeholders+`) ORDER BY p.name`, args...)
	if err != nil {
		return storeErr("loading role permissions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roleID, createdAt string
		var p Permission
		if err := rows.Scan(&roleID, &p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &createdAt); err != nil {
			return storeErr("scanning permission", err)
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
		i := index[roleID]
		roles[i].Permissions = append(roles[i].Permissions, p)
	}
	if err := rows.Err(); err != nil {
		return storeErr("iterating permissions", err)
	}
	return nil
}

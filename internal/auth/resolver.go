package auth

import (
	"context"
	"errors"
	"fmt"
)

// Grants is a user's current authorisation state.
type Grants struct {
	Roles       []string
	Permissions PermissionSet
}

// Resolver aggregates roles into effective permissions. It reads the store
// on every call, so role changes apply to the next check.
type Resolver struct {
	users UserRepository
	roles RoleRepository
}

// NewResolver creates a resolver over the given repositories.
func NewResolver(users UserRepository, roles RoleRepository) *Resolver {
	return &Resolver{users: users, roles: roles}
}

// EffectivePermissions is the de-duplicated union of permissions across roles.
func EffectivePermissions(roles []Role) PermissionSet {
	set := make(PermissionSet)
	for _, role := range roles {
		for _, p := range role.Permissions {
			set.Add(p.String())
		}
	}
	return set
}

// Resolve loads the user's role names and effective permissions.
// ErrUserNotFound is returned for an unknown user.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*Grants, error) {
	if _, err := r.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	roles, err := r.roles.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading roles: %w", err)
	}

	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = role.Name
	}
	return &Grants{Roles: names, Permissions: EffectivePermissions(roles)}, nil
}

// HasPermission reports whether any of the user's roles grants exactly
// (resource, action). An unknown user has no permissions.
func (r *Resolver) HasPermission(ctx context.Context, userID, resource, action string) (bool, error) {
	grants, err := r.Resolve(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return grants.Permissions.Has(resource, action), nil
}

// HasRole is a case-sensitive role name membership test. An unknown user
// has no roles.
func (r *Resolver) HasRole(ctx context.Context, userID, roleName string) (bool, error) {
	grants, err := r.Resolve(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, name := range grants.Roles {
		if name == roleName {
			return true, nil
		}
	}
	return false, nil
}

package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestEffectivePermissions_UnionDeduplicated(t *testing.T) {
	roles := []Role{
		{Name: "user", Permissions: []Permission{
			{Resource: "posts", Action: "read"},
			{Resource: "posts", Action: "write"},
		}},
		{Name: "moderator", Permissions: []Permission{
			{Resource: "posts", Action: "read"},
			{Resource: "posts", Action: "moderate"},
		}},
	}

	got := EffectivePermissions(roles).Sorted()
	want := []string{"posts:moderate", "posts:read", "posts:write"}
	if !slices.Equal(got, want) {
		t.Errorf("EffectivePermissions() = %v, want %v", got, want)
	}

	if n := len(EffectivePermissions(nil)); n != 0 {
		t.Errorf("EffectivePermissions(nil) has %d entries, want 0", n)
	}
}

func TestResolver_Resolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := createRole(t, env.roles, "user", "posts:read", "posts:write")
	mod := createRole(t, env.roles, "moderator", "posts:read", "posts:moderate")
	alice := seedTestUser(t, env, "alice", StatusActive, user.ID, mod.ID)

	grants, err := env.resolver.Resolve(ctx, alice.ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if !slices.Equal(grants.Roles, []string{"moderator", "user"}) {
		t.Errorf("Roles = %v, want [moderator user]", grants.Roles)
	}
	want := []string{"posts:moderate", "posts:read", "posts:write"}
	if got := grants.Permissions.Sorted(); !slices.Equal(got, want) {
		t.Errorf("Permissions = %v, want %v", got, want)
	}

	if _, err := env.resolver.Resolve(ctx, "usr-missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Resolve(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestResolver_HasPermission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role := createRole(t, env.roles, "user", "posts:read")
	alice := seedTestUser(t, env, "alice", StatusActive, role.ID)

	tests := []struct {
		name     string
		userID   string
		resource string
		action   string
		want     bool
	}{
		{"granted", alice.ID, "posts", "read", true},
		{"other action", alice.ID, "posts", "write", false},
		{"other resource", alice.ID, "users", "read", false},
		{"exact match only", alice.ID, "post", "read", false},
		{"unknown user", "usr-missing", "posts", "read", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.resolver.HasPermission(ctx, tt.userID, tt.resource, tt.action)
			if err != nil {
				t.Fatalf("HasPermission() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.resource, tt.action, got, tt.want)
			}
		})
	}
}

func TestResolver_RoleChangeTakesEffectImmediately(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	guest := createRole(t, env.roles, "guest", "posts:read")
	mod := createRole(t, env.roles, "moderator", "posts:moderate")
	alice := seedTestUser(t, env, "alice", StatusActive, guest.ID)

	ok, err := env.resolver.HasPermission(ctx, alice.ID, "posts", "moderate")
	if err != nil {
		t.Fatalf("HasPermission() error = %v", err)
	}
	if ok {
		t.Fatal("HasPermission() = true before role grant")
	}

	if err := env.roles.AssignRole(ctx, alice.ID, mod.ID); err != nil {
		t.Fatalf("AssignRole() error = %v", err)
	}

	ok, err = env.resolver.HasPermission(ctx, alice.ID, "posts", "moderate")
	if err != nil {
		t.Fatalf("HasPermission() error = %v", err)
	}
	if !ok {
		t.Error("HasPermission() = false after role grant, want true without re-login")
	}

	if err := env.roles.SetUserRoles(ctx, alice.ID, []string{guest.ID}); err != nil {
		t.Fatalf("SetUserRoles() error = %v", err)
	}
	ok, err = env.resolver.HasPermission(ctx, alice.ID, "posts", "moderate")
	if err != nil {
		t.Fatalf("HasPermission() error = %v", err)
	}
	if ok {
		t.Error("HasPermission() = true after role removal")
	}
}

func TestResolver_HasRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := createRole(t, env.roles, "admin")
	alice := seedTestUser(t, env, "alice", StatusActive, admin.ID)

	tests := []struct {
		name   string
		userID string
		role   string
		want   bool
	}{
		{"exact", alice.ID, "admin", true},
		{"case-sensitive", alice.ID, "Admin", false},
		{"not held", alice.ID, "user", false},
		{"unknown user", "usr-missing", "admin", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.resolver.HasRole(ctx, tt.userID, tt.role)
			if err != nil {
				t.Fatalf("HasRole() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("HasRole(%q) = %v, want %v", tt.role, got, tt.want)
			}
		})
	}
}

func TestRoleRepository_Catalogue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role := createRole(t, env.roles, "editor", "posts:write", "posts:read")

	got, err := env.roles.GetByName(ctx, "editor")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	if got.ID != role.ID {
		t.Errorf("ID = %q, want %q", got.ID, role.ID)
	}
	if len(got.Permissions) != 2 {
		t.Fatalf("len(Permissions) = %d, want 2", len(got.Permissions))
	}
	if got.Permissions[0].String() != "posts:read" {
		t.Errorf("Permissions[0] = %q, want posts:read (ordered by name)", got.Permissions[0].String())
	}

	if err := env.roles.CreateRole(ctx, &Role{Name: "editor"}); !errors.Is(err, ErrRoleExists) {
		t.Errorf("CreateRole(duplicate) error = %v, want ErrRoleExists", err)
	}
	if err := env.roles.CreatePermission(ctx, &Permission{Resource: "posts", Action: "read"}); !errors.Is(err, ErrPermissionExists) {
		t.Errorf("CreatePermission(duplicate) error = %v, want ErrPermissionExists", err)
	}
	if err := env.roles.CreateRole(ctx, &Role{ID: role.ID, Name: "reviewer"}); errors.Is(err, ErrRoleExists) || !errors.Is(err, ErrUnavailable) {
		t.Errorf("CreateRole(colliding id) error = %v, want ErrUnavailable", err)
	}
	perm, err := env.roles.GetPermissionByName(ctx, "posts:read")
	if err != nil {
		t.Fatalf("GetPermissionByName() error = %v", err)
	}
	if err := env.roles.CreatePermission(ctx, &Permission{ID: perm.ID, Resource: "posts", Action: "archive"}); errors.Is(err, ErrPermissionExists) || !errors.Is(err, ErrUnavailable) {
		t.Errorf("CreatePermission(colliding id) error = %v, want ErrUnavailable", err)
	}
	if _, err := env.roles.GetByName(ctx, "Editor"); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("GetByName(Editor) error = %v, want ErrRoleNotFound", err)
	}

	found, err := env.roles.GetByIDs(ctx, []string{role.ID, role.ID, "role-missing"})
	if err != nil {
		t.Fatalf("GetByIDs() error = %v", err)
	}
	if len(found) != 1 {
		t.Errorf("GetByIDs() returned %d roles, want 1", len(found))
	}
}

func TestRoleRepository_SetUserRoles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := createRole(t, env.roles, "a")
	b := createRole(t, env.roles, "b")
	alice := seedTestUser(t, env, "alice", StatusActive, a.ID)

	if err := env.roles.SetUserRoles(ctx, alice.ID, []string{b.ID, "role-missing"}); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("SetUserRoles(unknown) error = %v, want ErrRoleNotFound", err)
	}
	// Failed replacement leaves the old assignment intact.
	roles, err := env.roles.ListForUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListForUser() error = %v", err)
	}
	if len(roles) != 1 || roles[0].Name != "a" {
		t.Errorf("roles = %v, want [a]", roles)
	}

	if err := env.roles.SetUserRoles(ctx, "usr-missing", []string{b.ID}); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("SetUserRoles(missing user) error = %v, want ErrUserNotFound", err)
	}
}

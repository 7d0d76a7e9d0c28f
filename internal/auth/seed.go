package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for a generated admin password.
const seedPasswordBytes = 16

// SeedOptions configures the bootstrap admin account.
type SeedOptions struct {
	AdminUsername string
	AdminEmail    string
	AdminPassword string // generated when empty; returned in SeedResult
}

// SeedResult reports what SeedDefaults created.
type SeedResult struct {
	PermissionsCreated int
	RolesCreated       int
	AdminCreated       bool
	GeneratedPassword  string
}

// SeedDefaults creates the default permission catalogue and roles, then an
// active admin account if no users exist. Running it again changes nothing.
func SeedDefaults(ctx context.Context, users UserRepository, roles RoleRepository, hasher *Hasher, opts SeedOptions, logger *slog.Logger) (*SeedResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res := &SeedResult{}

	permIDs := make(map[string]string, len(defaultPermissions))
	for _, entry := range defaultPermissions {
		perm, created, err := ensurePermission(ctx, roles, entry)
		if err != nil {
			return nil, err
		}
		if created {
			res.PermissionsCreated++
		}
		permIDs[perm.Name] = perm.ID
	}

	var adminRoleID string
	for _, def := range defaultRoles {
		role, err := roles.GetByName(ctx, def.name)
		if errors.Is(err, ErrRoleNotFound) {
			role = &Role{Name: def.name, Description: def.description}
			if err = roles.CreateRole(ctx, role); err != nil {
				return nil, fmt.Errorf("creating role %s: %w", def.name, err)
			}
			res.RolesCreated++
		} else if err != nil {
			return nil, fmt.Errorf("getting role %s: %w", def.name, err)
		}

		for _, name := range DefaultRolePermissions(def.name) {
			if err := roles.GrantPermission(ctx, role.ID, permIDs[name]); err != nil {
				return nil, fmt.Errorf("granting %s to %s: %w", name, def.name, err)
			}
		}
		if def.name == RoleAdmin {
			adminRoleID = role.ID
		}
	}

	count, err := users.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Info("users exist, skipping admin seed")
		return res, nil
	}

	if err := seedAdmin(ctx, users, hasher, opts, adminRoleID, res, logger); err != nil {
		return nil, err
	}
	return res, nil
}

func ensurePermission(ctx context.Context, roles RoleRepository, entry catalogueEntry) (*Permission, bool, error) {
	perm, err := roles.GetPermissionByName(ctx, entry.name)
	if err == nil {
		return perm, false, nil
	}
	if !errors.Is(err, ErrPermissionNotFound) {
		return nil, false, fmt.Errorf("getting permission %s: %w", entry.name, err)
	}

	resource, action, _ := ParsePermission(entry.name)
	perm = &Permission{Name: entry.name, Resource: resource, Action: action, Description: entry.description}
	if err := roles.CreatePermission(ctx, perm); err != nil {
		return nil, false, fmt.Errorf("creating permission %s: %w", entry.name, err)
	}
	return perm, true, nil
}

func seedAdmin(ctx context.Context, users UserRepository, hasher *Hasher, opts SeedOptions, adminRoleID string, res *SeedResult, logger *slog.Logger) error {
	if opts.AdminUsername == "" {
		opts.AdminUsername = "admin"
	}
	if opts.AdminEmail == "" {
		opts.AdminEmail = "admin@localhost.localdomain"
	}

	password := opts.AdminPassword
	if password == "" {
		b := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("generating seed password: %w", err)
		}
		// Suffix satisfies the strength policy's upper-case and symbol rules.
		password = hex.EncodeToString(b) + "A!"
		res.GeneratedPassword = password
	} else if err := ValidatePasswordStrength(password).Err(); err != nil {
		return fmt.Errorf("seed admin password: %w", err)
	}

	digest, err := hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Username:     opts.AdminUsername,
		Email:        opts.AdminEmail,
		PasswordHash: digest,
		Status:       StatusActive,
	}
	if err := users.Create(ctx, admin, []string{adminRoleID}); err != nil {
		return fmt.Errorf("creating seed admin: %w", err)
	}
	res.AdminCreated = true

	if res.GeneratedPassword != "" {
		logger.Warn("seed admin account created with generated password",
			"username", admin.Username,
			"action_required", "change this password immediately",
		)
	} else {
		logger.Info("seed admin account created", "username", admin.Username)
	}
	return nil
}

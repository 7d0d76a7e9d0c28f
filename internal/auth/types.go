package auth

import (
	"regexp"
	"time"
)

// usernamePattern defines the valid format for usernames:
// letters, digits and underscores, 3-50 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)

// emailPattern is a deliberately loose shape check; deliverability is not our concern.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// maxEmailLength matches the column width used by the previous deployment.
const maxEmailLength = 255

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// IsValidEmail checks if an email address has a plausible shape.
func IsValidEmail(email string) bool {
	return len(email) <= maxEmailLength && emailPattern.MatchString(email)
}

// UserStatus is the lifecycle state of an account.
type UserStatus string

const (
	// StatusPending is the default for self-registered accounts. Pending
	// accounts can log in; activation is an administrative concern.
	StatusPending UserStatus = "pending"

	// StatusActive is a fully enabled account.
	StatusActive UserStatus = "active"

	// StatusSuspended blocks login and refresh until an admin lifts it.
	StatusSuspended UserStatus = "suspended"

	// StatusInactive blocks login and refresh (e.g. a departed user).
	StatusInactive UserStatus = "inactive"
)

// IsValid reports whether s is one of the known statuses.
func (s UserStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended, StatusInactive:
		return true
	}
	return false
}

// CanAuthenticate reports whether an account in this status may obtain tokens.
func (s UserStatus) CanAuthenticate() bool {
	return s != StatusSuspended && s != StatusInactive
}

// User is an identity record.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never serialised
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Role is a named grouping of permissions.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Permission is an atomic (resource, action) capability.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// String returns the "resource:action" form used in claims and comparisons.
func (p Permission) String() string {
	return PermissionString(p.Resource, p.Action)
}

// RefreshToken is the stored record of one outstanding refresh token.
// Only the SHA-256 hash of the token is kept.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"` // never serialised
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the public view of a user returned to callers.
type Profile struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Status      UserStatus `json:"status"`
	Roles       []string   `json:"roles"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// newProfile builds the public view of u with the given role names.
func newProfile(u *User, roles []string) Profile {
	if roles == nil {
		roles = []string{}
	}
	return Profile{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Status:      u.Status,
		Roles:       roles,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

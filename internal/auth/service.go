package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Deps are the collaborators a Service is built from.
type Deps struct {
	Users    UserRepository
	Roles    RoleRepository
	Ledger   *Ledger
	Resolver *Resolver
	Codec    *TokenCodec
	Hasher   *Hasher
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEventSink sets where operation events are sent.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.events = sink
		}
	}
}

// WithRefreshRotation makes Refresh consume the presented refresh token and
// return a new one. Off by default: Refresh returns an access token only.
func WithRefreshRotation(on bool) Option {
	return func(s *Service) {
		s.rotate = on
	}
}

// Service is the auth orchestrator: the single entry point for register,
// login, refresh, logout, session revocation and authorisation checks.
type Service struct {
	users    UserRepository
	roles    RoleRepository
	ledger   *Ledger
	resolver *Resolver
	codec    *TokenCodec
	hasher   *Hasher

	clock  Clock
	logger *slog.Logger
	events EventSink
	rotate bool

	dummyOnce   sync.Once
	dummyDigest string
}

// New creates a Service. Every field of Deps is required.
func New(d Deps, opts ...Option) (*Service, error) {
	if d.Users == nil || d.Roles == nil || d.Ledger == nil || d.Resolver == nil || d.Codec == nil || d.Hasher == nil {
		return nil, errors.New("auth service: missing dependency")
	}
	s := &Service{
		users:    d.Users,
		roles:    d.Roles,
		ledger:   d.Ledger,
		resolver: d.Resolver,
		codec:    d.Codec,
		hasher:   d.Hasher,
		clock:    SystemClock,
		logger:   slog.Default(),
		events:   discardSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterRequest is the input to Register.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
	RoleIDs  []string
	Status   UserStatus // empty means pending
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	User         Profile
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// RefreshResult is returned by a successful Refresh. RefreshToken is set
// only when rotation is enabled.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Register creates a user. Order of checks: input shape, username/email
// conflict, password strength, role resolution.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Profile, error) {
	start := time.Now()
	profile, err := s.register(ctx, req)
	s.emit(ctx, OpRegister, idOf(profile), req.Username, err, start)
	return profile, err
}

func (s *Service) register(ctx context.Context, req RegisterRequest) (*Profile, error) {
	var shape []string
	if !IsValidUsername(req.Username) {
		shape = append(shape, "username must be 3-50 letters, digits or underscores")
	}
	if !IsValidEmail(req.Email) {
		shape = append(shape, "email is not valid")
	}
	if req.Status != "" && !req.Status.IsValid() {
		shape = append(shape, "status is not valid")
	}
	if len(shape) > 0 {
		return nil, &ValidationError{Violations: shape}
	}

	existing, err := s.users.FindByUsernameOrEmail(ctx, req.Username, req.Email)
	switch {
	case err == nil:
		if existing.Username == req.Username {
			return nil, fmt.Errorf("%w: %w", ErrConflict, ErrUsernameExists)
		}
		return nil, fmt.Errorf("%w: %w", ErrConflict, ErrEmailExists)
	case !errors.Is(err, ErrUserNotFound):
		return nil, classify(err)
	}

	if err := s.hasher.ValidateStrength(req.Password).Err(); err != nil {
		return nil, err
	}

	roleIDs := dedupe(req.RoleIDs)
	roles, err := s.roles.GetByIDs(ctx, roleIDs)
	if err != nil {
		return nil, classify(err)
	}
	if len(roles) != len(roleIDs) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, ErrRoleNotFound)
	}

	digest, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: hashing password: %w", ErrUnavailable, err)
	}

	user := &User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: digest,
		Status:       req.Status,
	}
	if err := s.users.Create(ctx, user, roleIDs); err != nil {
		return nil, classify(err)
	}

	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)

	profile := newProfile(user, roleNames(roles))
	return &profile, nil
}

// Login authenticates username/password and issues a token pair. An unknown
// user and a wrong password fail identically with ErrUnauthorized. Status is
// only checked after the password, so it is never revealed to a caller
// without valid credentials.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	start := time.Now()
	res, err := s.login(ctx, username, password)
	var userID string
	if res != nil {
		userID = res.User.ID
	}
	s.emit(ctx, OpLogin, userID, username, err, start)
	return res, err
}

func (s *Service) login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Equalise timing with the wrong-password path.
			s.hasher.Verify(password, s.dummyHash())
			return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
		}
		return nil, classify(err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.logger.Warn("login failed", "username", username, "reason", "password mismatch")
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}

	if !user.Status.CanAuthenticate() {
		s.logger.Warn("login refused", "user_id", user.ID, "status", user.Status)
		return nil, fmt.Errorf("%w: account is %s", ErrForbidden, user.Status)
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user.ID, password)
	}

	grants, err := s.resolver.Resolve(ctx, user.ID)
	if err != nil {
		return nil, classify(err)
	}

	access, err := s.codec.IssueAccessToken(s.identity(user, grants))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	refresh, err := s.codec.IssueRefreshToken(user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if err := s.ledger.Issue(ctx, user.ID, refresh); err != nil {
		return nil, classify(err)
	}

	now := s.clock.Now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, classify(err)
	}
	loginAt := now.UTC().Truncate(time.Second)
	user.LastLoginAt = &loginAt

	s.logger.Info("user logged in", "user_id", user.ID, "username", user.Username)

	return &LoginResult{
		User:         newProfile(user, grants.Roles),
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    s.codec.AccessTTL(),
	}, nil
}

// rehash upgrades a legacy or weak digest. Failure is logged only.
func (s *Service) rehash(ctx context.Context, userID, password string) {
	digest, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, userID, digest)
	}
	if err != nil {
		s.logger.Warn("password rehash failed", "user_id", userID, "error", err)
		return
	}
	s.logger.Info("password digest upgraded", "user_id", userID)
}

// Refresh exchanges a refresh token for a new access token carrying the
// user's current roles and permissions. Signature and ledger checks are
// both required; every token failure is ErrUnauthorized.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	start := time.Now()
	res, userID, err := s.refresh(ctx, refreshToken)
	s.emit(ctx, OpRefresh, userID, "", err, start)
	return res, err
}

func (s *Service) refresh(ctx context.Context, token string) (*RefreshResult, string, error) {
	claims, err := s.codec.VerifyRefreshToken(token)
	if err != nil {
		s.logger.Warn("refresh rejected", "reason", "signature or claims")
		return nil, "", fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	}

	var next string
	if s.rotate {
		next, err = s.codec.IssueRefreshToken(claims.Subject, claims.Username)
		if err != nil {
			return nil, claims.Subject, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	var userID string
	if s.rotate {
		userID, err = s.ledger.Rotate(ctx, token, next)
	} else {
		userID, err = s.ledger.Redeem(ctx, token)
	}
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, claims.Subject, err
		}
		s.logger.Warn("refresh rejected", "user_id", claims.Subject, "reason", ledgerReason(err))
		return nil, claims.Subject, fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	}
	if userID != claims.Subject {
		s.logger.Warn("refresh rejected", "user_id", claims.Subject, "reason", "subject mismatch")
		return nil, claims.Subject, fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, userID, fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
		}
		return nil, userID, classify(err)
	}
	if !user.Status.CanAuthenticate() {
		return nil, userID, fmt.Errorf("%w: account is %s", ErrForbidden, user.Status)
	}

	grants, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, userID, classify(err)
	}

	access, err := s.codec.IssueAccessToken(s.identity(user, grants))
	if err != nil {
		return nil, userID, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return &RefreshResult{
		AccessToken:  access,
		RefreshToken: next,
		ExpiresIn:    s.codec.AccessTTL(),
	}, userID, nil
}

// Logout revokes the refresh token. Unknown, malformed or already revoked
// tokens succeed silently; only a store failure is reported.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	start := time.Now()
	var userID string
	if claims, err := s.codec.VerifyRefreshToken(refreshToken); err == nil {
		userID = claims.Subject
	}
	err := s.ledger.Revoke(ctx, refreshToken)
	if err != nil {
		err = classify(err)
	}
	s.emit(ctx, OpLogout, userID, "", err, start)
	return err
}

// RevokeAllSessions revokes every refresh token of userID and returns how
// many were active.
func (s *Service) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	start := time.Now()
	n, err := s.revokeAll(ctx, userID)
	s.emit(ctx, OpRevokeSessions, userID, "", err, start)
	return n, err
}

func (s *Service) revokeAll(ctx context.Context, userID string) (int64, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return 0, classify(err)
	}
	n, err := s.ledger.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, classify(err)
	}
	s.logger.Info("sessions revoked", "user_id", userID, "count", n)
	return n, nil
}

// CheckPermission reports whether userID holds resource:action through any role.
func (s *Service) CheckPermission(ctx context.Context, userID, resource, action string) (bool, error) {
	ok, err := s.resolver.HasPermission(ctx, userID, resource, action)
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

// CheckRole reports whether userID holds roleName (case-sensitive).
func (s *Service) CheckRole(ctx context.Context, userID, roleName string) (bool, error) {
	ok, err := s.resolver.HasRole(ctx, userID, roleName)
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

// Profile returns the public view of a user.
func (s *Service) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	roles, err := s.roles.ListForUser(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	profile := newProfile(user, roleNames(roles))
	return &profile, nil
}

// UserPage is one page of ListUsers.
type UserPage struct {
	Data       []Profile `json:"data"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
	Total      int       `json:"total"`
	TotalPages int       `json:"total_pages"`
}

// ListUsers returns one page of user profiles.
func (s *Service) ListUsers(ctx context.Context, params ListParams) (*UserPage, error) {
	params = params.Normalize()
	users, total, err := s.users.List(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	page := &UserPage{
		Data:       make([]Profile, 0, len(users)),
		Page:       params.Page,
		Limit:      params.Limit,
		Total:      total,
		TotalPages: (total + params.Limit - 1) / params.Limit,
	}
	for i := range users {
		roles, err := s.roles.ListForUser(ctx, users[i].ID)
		if err != nil {
			return nil, classify(err)
		}
		page.Data = append(page.Data, newProfile(&users[i], roleNames(roles)))
	}
	return page, nil
}

// UserUpdate holds the fields to change. Nil fields are left alone.
type UserUpdate struct {
	Username *string
	Email    *string
	Status   *UserStatus
	RoleIDs  *[]string
}

// UpdateUser changes a user's username, email, status or roles.
func (s *Service) UpdateUser(ctx context.Context, userID string, upd UserUpdate) (*Profile, error) {
	start := time.Now()
	profile, err := s.updateUser(ctx, userID, upd)
	s.emit(ctx, OpUpdateUser, userID, "", err, start)
	return profile, err
}

func (s *Service) updateUser(ctx context.Context, userID string, upd UserUpdate) (*Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}

	var violations []string
	if upd.Username != nil {
		if !IsValidUsername(*upd.Username) {
			violations = append(violations, "username must be 3-50 letters, digits or underscores")
		}
		user.Username = *upd.Username
	}
	if upd.Email != nil {
		if !IsValidEmail(*upd.Email) {
			violations = append(violations, "email is not valid")
		}
		user.Email = *upd.Email
	}
	if upd.Status != nil {
		if !upd.Status.IsValid() {
			violations = append(violations, "status is not valid")
		}
		user.Status = *upd.Status
	}
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	if upd.RoleIDs != nil {
		ids := dedupe(*upd.RoleIDs)
		found, err := s.roles.GetByIDs(ctx, ids)
		if err != nil {
			return nil, classify(err)
		}
		if len(found) != len(ids) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, ErrRoleNotFound)
		}
	}

	if err := s.users.Update(ctx, user, upd.RoleIDs); err != nil {
		return nil, classify(err)
	}

	s.logger.Info("user updated", "user_id", userID)
	return s.Profile(ctx, userID)
}

// DeleteUser removes a user; their role assignments and refresh tokens go with it.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	start := time.Now()
	err := s.users.Delete(ctx, userID)
	if err != nil {
		err = classify(err)
	} else {
		s.logger.Info("user deleted", "user_id", userID)
	}
	s.emit(ctx, OpDeleteUser, userID, "", err, start)
	return err
}

// ListSessions returns the user's active refresh token records.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]RefreshToken, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, classify(err)
	}
	tokens, err := s.ledger.Active(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return tokens, nil
}

// PurgeExpiredTokens removes expired refresh token records.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.ledger.PurgeExpired(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// VerifyAccessToken exposes the codec check for transport middleware.
func (s *Service) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims, err := s.codec.VerifyAccessToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return claims, nil
}

func (s *Service) identity(u *User, g *Grants) Identity {
	return Identity{
		UserID:      u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Roles:       g.Roles,
		Permissions: g.Permissions.Sorted(),
	}
}

// dummyHash returns a digest used to spend the same work on unknown users.
func (s *Service) dummyHash() string {
	s.dummyOnce.Do(func() {
		d, err := s.hasher.Hash("not-a-real-password")
		if err != nil {
			return
		}
		s.dummyDigest = d
	})
	return s.dummyDigest
}

func (s *Service) emit(ctx context.Context, op, userID, username string, err error, start time.Time) {
	ev := Event{
		Type:     op,
		UserID:   userID,
		Username: username,
		Outcome:  OutcomeSuccess,
		Duration: time.Since(start),
		At:       s.clock.Now(),
	}
	if err != nil {
		ev.Outcome = OutcomeFailure
		ev.Reason = Kind(err)
	}
	s.events.Emit(ctx, ev)
}

// Kind names the error kind of err, or "internal" if it wraps none.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}

// classify maps repository and ledger errors onto exactly one error kind.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, ErrUserNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, ErrUsernameExists), errors.Is(err, ErrEmailExists):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, ErrRoleNotFound), errors.Is(err, ErrPermissionNotFound):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenRevoked):
		return fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	default:
		// Driver errors, cancelled or timed-out contexts.
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

func ledgerReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	default:
		return "unknown token"
	}
}

func roleNames(roles []Role) []string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	return names
}

func idOf(p *Profile) string {
	if p == nil {
		return ""
	}
	return p.ID
}

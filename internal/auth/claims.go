package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ClaimsVersion is the schema version embedded in every token. Tokens with
// any other version are rejected.
const ClaimsVersion = 1

// Token types carried in the "typ" claim.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Default lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// AccessClaims is the fixed, versioned payload of an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Version     int      `json:"ver"`
	Type        string   `json:"typ"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// Validate is called by the jwt parser after the registered claims pass.
func (c *AccessClaims) Validate() error {
	return validateShape(c.Version, c.Type, tokenTypeAccess, c.Subject)
}

// UserID returns the subject.
func (c *AccessClaims) UserID() string { return c.Subject }

// HasRole reports exact membership of role in the token's roles.
func (c *AccessClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the token carries "resource:action".
func (c *AccessClaims) HasPermission(resource, action string) bool {
	want := PermissionString(resource, action)
	for _, p := range c.Permissions {
		if p == want {
			return true
		}
	}
	return false
}

// RefreshClaims is the minimal payload of a refresh token. Roles are never
// carried; they are resolved fresh on every refresh.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Version  int    `json:"ver"`
	Type     string `json:"typ"`
	Username string `json:"username"`
}

// Validate is called by the jwt parser after the registered claims pass.
func (c *RefreshClaims) Validate() error {
	return validateShape(c.Version, c.Type, tokenTypeRefresh, c.Subject)
}

func validateShape(version int, typ, wantType, subject string) error {
	if version != ClaimsVersion {
		return fmt.Errorf("unsupported claims version %d", version)
	}
	if typ != wantType {
		return fmt.Errorf("token type %q, want %q", typ, wantType)
	}
	if subject == "" {
		return errors.New("missing subject")
	}
	return nil
}

// Identity is what an access token asserts about its bearer.
type Identity struct {
	UserID      string
	Username    string
	Email       string
	Roles       []string
	Permissions []string
}

// CodecConfig configures a TokenCodec.
type CodecConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenCodec signs and verifies HS256 tokens in two independent signing
// domains: access tokens and refresh tokens use different secrets, so a
// token from one domain never verifies in the other.
type TokenCodec struct {
	accessKey  []byte
	refreshKey []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      Clock

	accessParser  *jwt.Parser
	refreshParser *jwt.Parser
}

// NewTokenCodec creates a codec. Secrets must be non-empty and distinct.
func NewTokenCodec(cfg CodecConfig, clock Clock) (*TokenCodec, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token codec: signing secrets must not be empty")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("token codec: access and refresh secrets must differ")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("token codec: issuer and audience are required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if clock == nil {
		clock = SystemClock
	}

	newParser := func() *jwt.Parser {
		return jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(clock.Now),
		)
	}

	return &TokenCodec{
		accessKey:     []byte(cfg.AccessSecret),
		refreshKey:    []byte(cfg.RefreshSecret),
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		clock:         clock,
		accessParser:  newParser(),
		refreshParser: newParser(),
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

func (c *TokenCodec) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := c.clock.Now()
	return jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{c.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}

// IssueAccessToken signs an access token for id, valid for the configured TTL.
func (c *TokenCodec) IssueAccessToken(id Identity) (string, error) {
	return c.IssueAccessTokenTTL(id, c.accessTTL)
}

// IssueAccessTokenTTL signs an access token for id with an explicit lifetime.
func (c *TokenCodec) IssueAccessTokenTTL(id Identity, ttl time.Duration) (string, error) {
	if id.UserID == "" {
		return "", errors.New("issuing access token: missing subject")
	}
	claims := AccessClaims{
		RegisteredClaims: c.registered(id.UserID, ttl),
		Version:          ClaimsVersion,
		Type:             tokenTypeAccess,
		Username:         id.Username,
		Email:            id.Email,
		Roles:            nonNil(id.Roles),
		Permissions:      nonNil(id.Permissions),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessKey)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// IssueRefreshToken signs a refresh token carrying only subject and username.
// Every token has a fresh jti, so two tokens issued in the same second differ.
func (c *TokenCodec) IssueRefreshToken(userID, username string) (string, error) {
	return c.IssueRefreshTokenTTL(userID, username, c.refreshTTL)
}

// IssueRefreshTokenTTL is IssueRefreshToken with an explicit lifetime.
func (c *TokenCodec) IssueRefreshTokenTTL(userID, username string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("issuing refresh token: missing subject")
	}
	claims := RefreshClaims{
		RegisteredClaims: c.registered(userID, ttl),
		Version:          ClaimsVersion,
		Type:             tokenTypeRefresh,
		Username:         username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshKey)
	if err != nil {
		return "", fmt.Errorf("signing refresh token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken checks signature, issuer, audience, expiry and claim
// schema. Every failure returns ErrInvalidToken with no further detail.
func (c *TokenCodec) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.verify(c.accessParser, token, claims, c.accessKey); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefreshToken performs the same checks against the refresh domain.
func (c *TokenCodec) VerifyRefreshToken(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.verify(c.refreshParser, token, claims, c.refreshKey); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *TokenCodec) verify(p *jwt.Parser, token string, claims jwt.Claims, key []byte) error {
	if token == "" {
		return ErrInvalidToken
	}
	parsed, err := p.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

// ExpiresAt decodes the expiry of any token from this codec without
// verifying it. ok is false if the token cannot be decoded.
func (c *TokenCodec) ExpiresAt(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// ExtractBearer returns the token from an "Authorization: Bearer <token>"
// header value. Missing or malformed headers yield ok=false.
func ExtractBearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

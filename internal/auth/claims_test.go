package auth

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testIdentity() Identity {
	return Identity{
		UserID:      "usr-12345678",
		Username:    "alice",
		Email:       "alice@x.com",
		Roles:       []string{"user"},
		Permissions: []string{"posts:read", "posts:write"},
	}
}

func TestTokenCodec_AccessRoundTrip(t *testing.T) {
	clock := newFixedClock()
	codec := testCodec(t, clock)

	token, err := codec.IssueAccessToken(testIdentity())
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	claims, err := codec.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyAccessToken() error = %v", err)
	}

	if claims.Subject != "usr-12345678" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "usr-12345678")
	}
	if claims.Username != "alice" {
		t.Errorf("Username = %q, want %q", claims.Username, "alice")
	}
	if claims.Email != "alice@x.com" {
		t.Errorf("Email = %q, want %q", claims.Email, "alice@x.com")
	}
	if !slices.Equal(claims.Roles, []string{"user"}) {
		t.Errorf("Roles = %v, want [user]", claims.Roles)
	}
	if !claims.HasPermission("posts", "write") {
		t.Error("HasPermission(posts, write) = false, want true")
	}
	if claims.HasPermission("posts", "delete") {
		t.Error("HasPermission(posts, delete) = true, want false")
	}
	if claims.Version != ClaimsVersion {
		t.Errorf("Version = %d, want %d", claims.Version, ClaimsVersion)
	}
	if claims.Issuer != "identityd-test" {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, "identityd-test")
	}
	want := clock.Now().Add(15 * time.Minute)
	if !claims.ExpiresAt.Time.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt.Time, want)
	}
}

func TestTokenCodec_RefreshRoundTrip(t *testing.T) {
	codec := testCodec(t, newFixedClock())

	token, err := codec.IssueRefreshToken("usr-12345678", "alice")
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}

	claims, err := codec.VerifyRefreshToken(token)
	if err != nil {
		t.Fatalf("VerifyRefreshToken() error = %v", err)
	}
	if claims.Subject != "usr-12345678" || claims.Username != "alice" {
		t.Errorf("claims = %q/%q, want usr-12345678/alice", claims.Subject, claims.Username)
	}

	// Refresh tokens never carry authorisation data.
	if strings.Contains(decodePayload(t, token), "permissions") {
		t.Error("refresh token payload should not contain permissions")
	}
}

func TestTokenCodec_RefreshTokensAreUnique(t *testing.T) {
	codec := testCodec(t, newFixedClock())

	a, err := codec.IssueRefreshToken("usr-1", "alice")
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}
	b, err := codec.IssueRefreshToken("usr-1", "alice")
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}
	if a == b {
		t.Error("tokens issued at the same instant should differ")
	}
}

func TestTokenCodec_SigningDomainsAreSeparate(t *testing.T) {
	codec := testCodec(t, newFixedClock())

	access, err := codec.IssueAccessToken(testIdentity())
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}
	refresh, err := codec.IssueRefreshToken("usr-12345678", "alice")
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}

	if _, err := codec.VerifyRefreshToken(access); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyRefreshToken(access) error = %v, want ErrInvalidToken", err)
	}
	if _, err := codec.VerifyAccessToken(refresh); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyAccessToken(refresh) error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenCodec_Expiry(t *testing.T) {
	clock := newFixedClock()
	codec := testCodec(t, clock)

	token, err := codec.IssueAccessToken(testIdentity())
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	clock.Advance(14 * time.Minute)
	if _, err := codec.VerifyAccessToken(token); err != nil {
		t.Errorf("VerifyAccessToken() before expiry error = %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := codec.VerifyAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("VerifyAccessToken() after expiry error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenCodec_IssuerAudienceBinding(t *testing.T) {
	clock := newFixedClock()
	codec := testCodec(t, clock)

	tests := []struct {
		name     string
		issuer   string
		audience string
	}{
		{"other issuer", "someone-else", "identityd-test-clients"},
		{"other audience", "identityd-test", "other-clients"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Same secrets, different binding.
			other, err := NewTokenCodec(CodecConfig{
				AccessSecret:  testAccessSecret,
				RefreshSecret: testRefreshSecret,
				Issuer:        tt.issuer,
				Audience:      tt.audience,
			}, clock)
			if err != nil {
				t.Fatalf("NewTokenCodec() error = %v", err)
			}
			token, err := other.IssueAccessToken(testIdentity())
			if err != nil {
				t.Fatalf("IssueAccessToken() error = %v", err)
			}
			if _, err := codec.VerifyAccessToken(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("VerifyAccessToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenCodec_RejectsForeignClaims(t *testing.T) {
	clock := newFixedClock()
	codec := testCodec(t, clock)
	now := clock.Now()

	registered := jwt.RegisteredClaims{
		Issuer:    "identityd-test",
		Subject:   "usr-12345678",
		Audience:  jwt.ClaimStrings{"identityd-test-clients"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}

	tests := []struct {
		name   string
		claims jwt.Claims
		method jwt.SigningMethod
		key    any
	}{
		{
			name:   "future claims version",
			claims: AccessClaims{RegisteredClaims: registered, Version: ClaimsVersion + 1, Type: tokenTypeAccess},
			method: jwt.SigningMethodHS256,
			key:    []byte(testAccessSecret),
		},
		{
			name:   "missing type",
			claims: AccessClaims{RegisteredClaims: registered, Version: ClaimsVersion},
			method: jwt.SigningMethodHS256,
			key:    []byte(testAccessSecret),
		},
		{
			name: "missing expiry",
			claims: AccessClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:   "identityd-test",
					Subject:  "usr-12345678",
					Audience: jwt.ClaimStrings{"identityd-test-clients"},
				},
				Version: ClaimsVersion,
				Type:    tokenTypeAccess,
			},
			method: jwt.SigningMethodHS256,
			key:    []byte(testAccessSecret),
		},
		{
			name:   "other HMAC algorithm",
			claims: AccessClaims{RegisteredClaims: registered, Version: ClaimsVersion, Type: tokenTypeAccess},
			method: jwt.SigningMethodHS512,
			key:    []byte(testAccessSecret),
		},
		{
			name:   "unsigned",
			claims: AccessClaims{RegisteredClaims: registered, Version: ClaimsVersion, Type: tokenTypeAccess},
			method: jwt.SigningMethodNone,
			key:    jwt.UnsafeAllowNoneSignatureType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(tt.method, tt.claims).SignedString(tt.key)
			if err != nil {
				t.Fatalf("SignedString() error = %v", err)
			}
			if _, err := codec.VerifyAccessToken(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("VerifyAccessToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenCodec_ErrorsCarryNoDetail(t *testing.T) {
	codec := testCodec(t, newFixedClock())

	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := codec.VerifyAccessToken(token)
		if err != ErrInvalidToken { //nolint:errorlint // the exact sentinel, unwrapped
			t.Errorf("VerifyAccessToken(%q) error = %v, want bare ErrInvalidToken", token, err)
		}
	}
}

func TestTokenCodec_ExpiresAt(t *testing.T) {
	clock := newFixedClock()
	codec := testCodec(t, clock)

	token, err := codec.IssueRefreshToken("usr-1", "alice")
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}

	exp, ok := codec.ExpiresAt(token)
	if !ok {
		t.Fatal("ExpiresAt() ok = false")
	}
	if want := clock.Now().Add(7 * 24 * time.Hour); !exp.Equal(want) {
		t.Errorf("ExpiresAt() = %v, want %v", exp, want)
	}

	if _, ok := codec.ExpiresAt("not-a-token"); ok {
		t.Error("ExpiresAt(garbage) ok = true, want false")
	}
}

func TestNewTokenCodec_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  CodecConfig
	}{
		{"empty access secret", CodecConfig{RefreshSecret: "r", Issuer: "i", Audience: "a"}},
		{"empty refresh secret", CodecConfig{AccessSecret: "a", Issuer: "i", Audience: "a"}},
		{"same secrets", CodecConfig{AccessSecret: "same", RefreshSecret: "same", Issuer: "i", Audience: "a"}},
		{"no issuer", CodecConfig{AccessSecret: "a", RefreshSecret: "r", Audience: "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTokenCodec(tt.cfg, nil); err == nil {
				t.Error("NewTokenCodec() error = nil, want error")
			}
		})
	}
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc", "abc", true},
		{"  Bearer   abc  ", "abc", true},
		{"", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"abc.def.ghi", "", false},
		{"Bearer abc def", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := ExtractBearer(tt.header)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ExtractBearer(%q) = %q, %v, want %q, %v", tt.header, got, ok, tt.want, tt.ok)
			}
		})
	}
}

// decodePayload returns the JSON payload segment of a token.
func decodePayload(t *testing.T, token string) string {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}
	b, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		t.Fatalf("DecodeSegment() error = %v", err)
	}
	return string(b)
}

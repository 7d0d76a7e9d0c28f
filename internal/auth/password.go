package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2id defaults, OWASP 2025 recommendation.
const (
	defaultWorkFactor  = 3         // iterations
	defaultMemoryKiB   = 64 * 1024 // 64 MiB
	defaultParallelism = 1
	argonKeyLen        = 32 // output hash length
	argonSaltLen       = 16 // salt length
)

// Strength policy.
const (
	minPasswordLength = 8
	passwordSymbols   = `!@#$%^&*(),.?":{}|<>`
)

// Violation messages returned by ValidateStrength, in evaluation order.
const (
	ViolationLength    = "Password must be at least 8 characters long"
	ViolationUppercase = "Password must contain at least one uppercase letter"
	ViolationLowercase = "Password must contain at least one lowercase letter"
	ViolationDigit     = "Password must contain at least one number"
	ViolationSymbol    = "Password must contain at least one special character"
)

// HasherConfig holds the argon2id cost parameters. Zero values take defaults.
type HasherConfig struct {
	WorkFactor  uint32 // argon2 iterations
	MemoryKiB   uint32
	Parallelism uint8
}

// Hasher produces and verifies password digests.
//
// New digests are Argon2id in PHC string format:
// $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
// Legacy bcrypt digests ($2a$, $2b$, $2y$) still verify.
type Hasher struct {
	cfg HasherConfig
}

// NewHasher creates a Hasher, filling unset parameters with defaults.
func NewHasher(cfg HasherConfig) *Hasher {
	if cfg.WorkFactor == 0 {
		cfg.WorkFactor = defaultWorkFactor
	}
	if cfg.MemoryKiB == 0 {
		cfg.MemoryKiB = defaultMemoryKiB
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = defaultParallelism
	}
	return &Hasher{cfg: cfg}
}

// Hash returns a salted one-way digest of plaintext. It only fails if the
// system random source is unavailable.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, h.cfg.WorkFactor, h.cfg.MemoryKiB, h.cfg.Parallelism, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.cfg.MemoryKiB, h.cfg.WorkFactor, h.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches digest. A malformed or
// unsupported digest returns false.
func (h *Hasher) Verify(plaintext, digest string) bool {
	if isBcrypt(digest) {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
	}

	salt, key, params, err := decodePHC(digest)
	if err != nil {
		return false
	}

	candidate := argon2.IDKey([]byte(plaintext), salt, params.time, params.memory, params.threads, uint32(len(key))) //nolint:gosec // G115: key length always fits uint32

	return subtle.ConstantTimeCompare(key, candidate) == 1
}

// NeedsRehash reports whether digest should be replaced on next successful
// login: legacy bcrypt, or argon2id with weaker parameters than configured.
func (h *Hasher) NeedsRehash(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	_, _, params, err := decodePHC(digest)
	if err != nil {
		return true
	}
	return params.time < h.cfg.WorkFactor ||
		params.memory < h.cfg.MemoryKiB ||
		params.threads < h.cfg.Parallelism
}

// StrengthResult lists every violated password rule. OK is true when
// Violations is empty.
type StrengthResult struct {
	OK         bool
	Violations []string
}

// Err returns a *ValidationError when the password is too weak, nil otherwise.
func (r StrengthResult) Err() error {
	if r.OK {
		return nil
	}
	return &ValidationError{Violations: r.Violations}
}

// ValidateStrength checks plaintext against the password policy.
func (h *Hasher) ValidateStrength(plaintext string) StrengthResult {
	return ValidatePasswordStrength(plaintext)
}

// ValidatePasswordStrength evaluates every rule and returns all violations,
// not just the first.
func ValidatePasswordStrength(plaintext string) StrengthResult {
	var upper, lower, digit, symbol bool
	for _, r := range plaintext {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}

	var violations []string
	if utf8.RuneCountInString(plaintext) < minPasswordLength {
		violations = append(violations, ViolationLength)
	}
	if !upper {
		violations = append(violations, ViolationUppercase)
	}
	if !lower {
		violations = append(violations, ViolationLowercase)
	}
	if !digit {
		violations = append(violations, ViolationDigit)
	}
	if !symbol {
		violations = append(violations, ViolationSymbol)
	}

	return StrengthResult{OK: len(violations) == 0, Violations: violations}
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// decodePHC parses an Argon2id PHC string into its components.
func decodePHC(encoded string) (salt, key []byte, params argonParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, nil, params, fmt.Errorf("invalid PHC hash format")
	}

	if parts[1] != "argon2id" {
		return nil, nil, params, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, params, fmt.Errorf("unsupported argon2 version: %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("parsing parameters: %w", err)
	}
	if params.time == 0 || params.threads == 0 {
		return nil, nil, params, fmt.Errorf("invalid argon2 parameters")
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding salt: %w", err)
	}

	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, fmt.Errorf("decoding hash: %w", err)
	}
	if len(key) == 0 {
		return nil, nil, params, fmt.Errorf("empty hash")
	}

	return salt, key, params, nil
}

package auth

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndVerify(t *testing.T) {
	h := testHasher()

	digest, err := h.Hash("correct-horse-Battery-1!")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if !strings.HasPrefix(digest, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Errorf("Hash() = %q, want argon2id PHC with configured params", digest)
	}

	if !h.Verify("correct-horse-Battery-1!", digest) {
		t.Error("Verify() = false for correct password")
	}
	if h.Verify("wrong-password", digest) {
		t.Error("Verify() = true for wrong password")
	}
}

func TestHasher_UniqueSalts(t *testing.T) {
	h := testHasher()

	a, err := h.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	b, err := h.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if a == b {
		t.Error("two hashes of the same password should differ")
	}
	if !h.Verify("same-password", a) || !h.Verify("same-password", b) {
		t.Error("both digests should verify")
	}
}

func TestHasher_VerifyMalformedDigest(t *testing.T) {
	h := testHasher()

	tests := []struct {
		name   string
		digest string
	}{
		{"empty", ""},
		{"garbage", "not-a-hash"},
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=3,p=1$c2FsdA$aGFzaA"},
		{"too few parts", "$argon2id$v=19$m=65536"},
		{"bad params", "$argon2id$v=19$bogus$c2FsdA$aGFzaA"},
		{"zero threads", "$argon2id$v=19$m=1024,t=1,p=0$c2FsdA$aGFzaA"},
		{"bad salt", "$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA"},
		{"bad bcrypt", "$2b$10$truncated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if h.Verify("anything", tt.digest) {
				t.Errorf("Verify(%q) = true, want false", tt.digest)
			}
		})
	}
}

func TestHasher_LegacyBcrypt(t *testing.T) {
	h := testHasher()

	legacy, err := bcrypt.GenerateFromPassword([]byte("Legacy-Pass1!"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword() error = %v", err)
	}

	if !h.Verify("Legacy-Pass1!", string(legacy)) {
		t.Error("Verify() = false for correct bcrypt password")
	}
	if h.Verify("Legacy-Pass2!", string(legacy)) {
		t.Error("Verify() = true for wrong bcrypt password")
	}
	if !h.NeedsRehash(string(legacy)) {
		t.Error("NeedsRehash() = false for bcrypt digest")
	}
}

func TestHasher_NeedsRehash(t *testing.T) {
	weak := NewHasher(HasherConfig{WorkFactor: 1, MemoryKiB: 1024, Parallelism: 1})
	strong := NewHasher(HasherConfig{WorkFactor: 2, MemoryKiB: 2048, Parallelism: 1})

	digest, err := weak.Hash("some-password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if weak.NeedsRehash(digest) {
		t.Error("NeedsRehash() = true for digest with current params")
	}
	if !strong.NeedsRehash(digest) {
		t.Error("NeedsRehash() = false for digest with weaker params")
	}
	if !strong.Verify("some-password", digest) {
		t.Error("stronger hasher should still verify the weaker digest")
	}
}

func TestNewHasher_Defaults(t *testing.T) {
	h := NewHasher(HasherConfig{})

	if h.cfg.WorkFactor != defaultWorkFactor {
		t.Errorf("WorkFactor = %d, want %d", h.cfg.WorkFactor, defaultWorkFactor)
	}
	if h.cfg.MemoryKiB != defaultMemoryKiB {
		t.Errorf("MemoryKiB = %d, want %d", h.cfg.MemoryKiB, defaultMemoryKiB)
	}
	if h.cfg.Parallelism != defaultParallelism {
		t.Errorf("Parallelism = %d, want %d", h.cfg.Parallelism, defaultParallelism)
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     []string
	}{
		{
			name:     "short lowercase reports every missing rule",
			password: "abc",
			want:     []string{ViolationLength, ViolationUppercase, ViolationDigit, ViolationSymbol},
		},
		{
			name:     "empty",
			password: "",
			want:     []string{ViolationLength, ViolationUppercase, ViolationLowercase, ViolationDigit, ViolationSymbol},
		},
		{
			name:     "no symbol",
			password: "Password1",
			want:     []string{ViolationSymbol},
		},
		{
			name:     "no uppercase",
			password: "passw0rd!",
			want:     []string{ViolationUppercase},
		},
		{
			name:     "symbol outside the set does not count",
			password: "Passw0rd_",
			want:     []string{ViolationSymbol},
		},
		{
			name:     "valid",
			password: "Passw0rd!",
			want:     nil,
		},
		{
			name:     "multibyte counts runes",
			password: "Pä1!ßøab",
			want:     nil,
		},
		{
			name:     "seven runes is too short even when bytes exceed eight",
			password: "Pa1!ßøå",
			want:     []string{ViolationLength},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidatePasswordStrength(tt.password)
			if !slices.Equal(got.Violations, tt.want) {
				t.Errorf("Violations = %q, want %q", got.Violations, tt.want)
			}
			if got.OK != (len(tt.want) == 0) {
				t.Errorf("OK = %v, want %v", got.OK, len(tt.want) == 0)
			}
		})
	}
}

func TestStrengthResult_Err(t *testing.T) {
	if err := ValidatePasswordStrength("Passw0rd!").Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}

	err := ValidatePasswordStrength("abc").Err()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Err() = %T, want *ValidationError", err)
	}
	if len(verr.Violations) != 4 {
		t.Errorf("len(Violations) = %d, want 4", len(verr.Violations))
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should unwrap to ErrInvalidInput")
	}
}

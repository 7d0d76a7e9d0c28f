package auth

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	testAccessSecret  = "test-access-secret-0123456789abcdef"
	testRefreshSecret = "test-refresh-secret-0123456789abcdef"
	testPassword      = "Passw0rd!"
)

// testDB creates a temporary SQLite database with the identity schema applied.
// The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "identity-test.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	// Same pool shape as production: one connection, writes serialised.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "20260101_000000_identity_schema.up.sql"))
	if err != nil {
		t.Fatalf("reading schema: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("applying identity schema: %v", err)
	}

	return db
}

// fixedClock is a Clock that only moves when told to.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testHasher uses minimal argon2 cost so tests stay fast.
func testHasher() *Hasher {
	return NewHasher(HasherConfig{WorkFactor: 1, MemoryKiB: 1024, Parallelism: 1})
}

func testCodec(t *testing.T, clock Clock) *TokenCodec {
	t.Helper()

	codec, err := NewTokenCodec(CodecConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		Issuer:        "identityd-test",
		Audience:      "identityd-test-clients",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}, clock)
	if err != nil {
		t.Fatalf("NewTokenCodec() error = %v", err)
	}
	return codec
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSink collects emitted events.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) byType(typ string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// testEnv wires every core component over one test database.
type testEnv struct {
	db       *sql.DB
	clock    *fixedClock
	users    *SQLiteUserRepository
	roles    *SQLiteRoleRepository
	tokens   *SQLiteTokenRepository
	hasher   *Hasher
	codec    *TokenCodec
	ledger   *Ledger
	resolver *Resolver
	sink     *recordingSink
	svc      *Service
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	db := testDB(t)
	env := &testEnv{
		db:     db,
		clock:  newFixedClock(),
		users:  NewUserRepository(db),
		roles:  NewRoleRepository(db),
		tokens: NewTokenRepository(db),
		hasher: testHasher(),
		sink:   &recordingSink{},
	}
	env.codec = testCodec(t, env.clock)
	env.ledger = NewLedger(env.tokens, env.codec.RefreshTTL(), env.clock, discardLogger())
	env.resolver = NewResolver(env.users, env.roles)

	base := []Option{WithClock(env.clock), WithLogger(discardLogger()), WithEventSink(env.sink)}
	svc, err := New(Deps{
		Users:    env.users,
		Roles:    env.roles,
		Ledger:   env.ledger,
		Resolver: env.resolver,
		Codec:    env.codec,
		Hasher:   env.hasher,
	}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.svc = svc
	return env
}

// createRole creates a role granting the given "resource:action" permissions,
// creating permissions that do not exist yet.
func createRole(t *testing.T, roles *SQLiteRoleRepository, name string, perms ...string) *Role {
	t.Helper()
	ctx := t.Context()

	role := &Role{Name: name}
	if err := roles.CreateRole(ctx, role); err != nil {
		t.Fatalf("CreateRole(%s) error = %v", name, err)
	}
	for _, name := range perms {
		perm, err := roles.GetPermissionByName(ctx, name)
		if err != nil {
			resource, action, _ := ParsePermission(name)
			perm = &Permission{Resource: resource, Action: action}
			if err := roles.CreatePermission(ctx, perm); err != nil {
				t.Fatalf("CreatePermission(%s) error = %v", name, err)
			}
		}
		if err := roles.GrantPermission(ctx, role.ID, perm.ID); err != nil {
			t.Fatalf("GrantPermission(%s) error = %v", name, err)
		}
	}
	return role
}

// seedTestUser inserts a user with the given status and roles and returns it.
func seedTestUser(t *testing.T, env *testEnv, username string, status UserStatus, roleIDs ...string) *User {
	t.Helper()

	digest, err := env.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	user := &User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: digest,
		Status:       status,
	}
	if err := env.users.Create(t.Context(), user, roleIDs); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return user
}

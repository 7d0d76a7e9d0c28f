package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// Resilience tests verify that the auth core holds its invariants under
// concurrency and store failure. These tests use the TestResilience_ prefix
// for easy filtering:
//
//	go test -run TestResilience -race ./internal/auth/...

// TestResilience_ConcurrentLogins verifies that parallel logins for one user
// leave exactly one active refresh token.
func TestResilience_ConcurrentLogins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedTestUser(t, env, "alice", StatusActive)

	const workers = 8
	var wg sync.WaitGroup
	tokens := make(chan string, workers)
	errs := make(chan error, workers)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.svc.Login(ctx, "alice", testPassword)
			if err != nil {
				errs <- err
				return
			}
			tokens <- res.RefreshToken
		}()
	}
	wg.Wait()
	close(tokens)
	close(errs)

	for err := range errs {
		t.Errorf("Login() error = %v", err)
	}

	active, err := env.ledger.Active(ctx, alice.ID)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active tokens = %d, want exactly 1", len(active))
	}

	// Only the token that won the race still refreshes.
	var redeemable int
	for tok := range tokens {
		if _, err := env.svc.Refresh(ctx, tok); err == nil {
			redeemable++
		}
	}
	if redeemable != 1 {
		t.Errorf("redeemable refresh tokens = %d, want 1", redeemable)
	}
}

// TestResilience_ConcurrentRegistration verifies that racing registrations
// for one username produce exactly one user.
func TestResilience_ConcurrentRegistration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const workers = 6
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Register(ctx, RegisterRequest{
				Username: "racer",
				Email:    fmt.Sprintf("racer%d@example.com", i),
				Password: testPassword,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrConflict):
		default:
			t.Errorf("Register() error = %v, want nil or ErrConflict", err)
		}
	}
	if successes != 1 {
		t.Errorf("successful registrations = %d, want 1", successes)
	}

	count, err := env.users.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

// TestResilience_ConcurrentRotation verifies that a refresh token presented
// twice at once is only exchanged once.
func TestResilience_ConcurrentRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedTestUser(t, env, "alice", StatusActive)

	if err := env.ledger.Issue(ctx, alice.ID, "shared-token"); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	const workers = 4
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.Rotate(ctx, "shared-token", fmt.Sprintf("next-%d", i))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrTokenRevoked):
		default:
			t.Errorf("Rotate() error = %v, want nil or ErrTokenRevoked", err)
		}
	}
	if successes != 1 {
		t.Errorf("successful rotations = %d, want 1", successes)
	}

	active, err := env.ledger.Active(ctx, alice.ID)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if len(active) != 1 {
		t.Errorf("active tokens = %d, want 1", len(active))
	}
}

// TestResilience_CancelledContext verifies that a cancelled request surfaces
// as ErrUnavailable, not as a credential failure.
func TestResilience_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	seedTestUser(t, env, "alice", StatusActive)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.svc.Login(ctx, "alice", testPassword)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Login(cancelled) error = %v, want ErrUnavailable", err)
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Error("a store failure must not look like bad credentials")
	}
}

// TestResilience_ClosedDatabase verifies that every operation reports
// ErrUnavailable once the store is gone.
func TestResilience_ClosedDatabase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedTestUser(t, env, "alice", StatusActive)
	login, err := env.svc.Login(ctx, "alice", testPassword)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	env.db.Close()

	checks := map[string]error{}
	_, checks["login"] = env.svc.Login(ctx, "alice", testPassword)
	_, checks["register"] = env.svc.Register(ctx, RegisterRequest{Username: "bob", Email: "bob@x.com", Password: testPassword})
	_, checks["refresh"] = env.svc.Refresh(ctx, login.RefreshToken)
	checks["logout"] = env.svc.Logout(ctx, login.RefreshToken)
	_, checks["revoke"] = env.svc.RevokeAllSessions(ctx, alice.ID)
	_, checks["check permission"] = env.svc.CheckPermission(ctx, alice.ID, "posts", "read")

	for op, err := range checks {
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("%s error = %v, want ErrUnavailable", op, err)
		}
	}
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Ledger is the durable record of issued refresh tokens. Only SHA-256
// hashes are stored, and at most one token per user is active.
type Ledger struct {
	repo   TokenRepository
	ttl    time.Duration
	clock  Clock
	logger *slog.Logger
}

// NewLedger creates a ledger. ttl <= 0 uses DefaultRefreshTTL.
func NewLedger(repo TokenRepository, ttl time.Duration, clock Clock, logger *slog.Logger) *Ledger {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, ttl: ttl, clock: clock, logger: logger}
}

// TTL returns the stored-token lifetime.
func (l *Ledger) TTL() time.Duration { return l.ttl }

func (l *Ledger) record(userID, token string) *RefreshToken {
	return &RefreshToken{
		UserID:    userID,
		TokenHash: HashToken(token),
		ExpiresAt: l.clock.Now().Add(l.ttl),
	}
}

// Issue stores token for userID, superseding every earlier token of that user.
func (l *Ledger) Issue(ctx context.Context, userID, token string) error {
	rec := l.record(userID, token)
	if err := l.repo.ReplaceForUser(ctx, rec); err != nil {
		return fmt.Errorf("issuing refresh token: %w", err)
	}
	l.logger.Debug("refresh token issued", "user_id", userID, "token_hash", hashPrefix(rec.TokenHash))
	return nil
}

// Redeem validates token against the ledger and returns its owner.
// Failures are ErrTokenInvalid (unknown), ErrTokenRevoked or ErrTokenExpired.
// Revocation is checked before expiry.
func (l *Ledger) Redeem(ctx context.Context, token string) (string, error) {
	rec, err := l.repo.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return "", ErrTokenInvalid
		}
		return "", fmt.Errorf("redeeming refresh token: %w", err)
	}
	if rec.Revoked {
		return "", ErrTokenRevoked
	}
	if !l.clock.Now().Before(rec.ExpiresAt) {
		return "", ErrTokenExpired
	}
	return rec.UserID, nil
}

// Rotate redeems oldToken and atomically replaces it with newToken.
func (l *Ledger) Rotate(ctx context.Context, oldToken, newToken string) (string, error) {
	userID, err := l.Redeem(ctx, oldToken)
	if err != nil {
		return "", err
	}
	rec := l.record(userID, newToken)
	if err := l.repo.Rotate(ctx, HashToken(oldToken), rec); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			return "", ErrTokenRevoked
		}
		return "", fmt.Errorf("rotating refresh token: %w", err)
	}
	return userID, nil
}

// Revoke marks token revoked. Unknown or already revoked tokens are a no-op.
func (l *Ledger) Revoke(ctx context.Context, token string) error {
	if err := l.repo.RevokeByHash(ctx, HashToken(token)); err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every active token of userID.
func (l *Ledger) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	n, err := l.repo.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoking sessions: %w", err)
	}
	return n, nil
}

// Active lists the user's redeemable tokens.
func (l *Ledger) Active(ctx context.Context, userID string) ([]RefreshToken, error) {
	tokens, err := l.repo.ListActiveByUser(ctx, userID, l.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return tokens, nil
}

// PurgeExpired deletes expired records. Safe to run concurrently.
func (l *Ledger) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := l.repo.DeleteExpired(ctx, l.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("purging expired tokens: %w", err)
	}
	if n > 0 {
		l.logger.Info("purged expired refresh tokens", "count", n)
	}
	return n, nil
}

// hashPrefix shortens a token hash for log lines.
func hashPrefix(h string) string {
	if len(h) > 12 { //nolint:mnd // log prefix length
		return h[:12]
	}
	return h
}

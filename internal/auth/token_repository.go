package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TokenRepository defines the interface for refresh token persistence.
type TokenRepository interface {
	// ReplaceForUser revokes every active token of token.UserID and inserts
	// token, atomically.
	ReplaceForUser(ctx context.Context, token *RefreshToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// RevokeByHash marks the matching token revoked. Unknown hashes are not an error.
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	// Rotate revokes the active token with oldHash and inserts newToken,
	// atomically. ErrTokenRevoked means oldHash was no longer active.
	Rotate(ctx context.Context, oldHash string, newToken *RefreshToken) error
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]RefreshToken, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLiteTokenRepository implements TokenRepository using SQLite.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new SQLite-backed token repository.
func NewTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

// HashToken computes the SHA-256 hash of a raw token string for storage.
// Raw tokens are never stored, only their hashes.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

const tokenColumns = "id, user_id, token_hash, expires_at, revoked, created_at"

// ReplaceForUser supersedes all of the user's outstanding tokens with token.
func (r *SQLiteTokenRepository) ReplaceForUser(ctx context.Context, token *RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("beginning token replace", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, //nolint:govet // shadow: err re-declared in nested scope
		"UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ? AND revoked = 0", token.UserID); err != nil {
		return storeErr("revoking previous tokens", err)
	}

	if err := insertToken(ctx, tx, token); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeErr("committing token replace", err)
	}
	return nil
}

// GetByTokenHash retrieves a refresh token by its SHA-256 hash.
func (r *SQLiteTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	t, err := scanTokenFrom(r.db.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM refresh_tokens WHERE token_hash = ?", tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, storeErr("getting refresh token by hash", err)
	}
	return t, nil
}

// RevokeByHash marks a single refresh token as revoked.
func (r *SQLiteTokenRepository) RevokeByHash(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1 WHERE token_hash = ?", tokenHash)
	if err != nil {
		return storeErr("revoking token", err)
	}
	return nil
}

// RevokeAllForUser marks all refresh tokens for a user as revoked and
// returns how many were still active.
func (r *SQLiteTokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ? AND revoked = 0", userID)
	if err != nil {
		return 0, storeErr("revoking all tokens for user", err)
	}
	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// Rotate consumes the token identified by oldHash and issues newToken in
// its place. The conditional UPDATE makes a concurrent second redemption of
// the same token fail.
func (r *SQLiteTokenRepository) Rotate(ctx context.Context, oldHash string, newToken *RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("beginning rotation", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1 WHERE token_hash = ? AND revoked = 0", oldHash)
	if err != nil {
		return storeErr("revoking rotated token", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrTokenRevoked
	}

	if _, err := tx.ExecContext(ctx, //nolint:govet // shadow: err re-declared in nested scope
		"UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ? AND revoked = 0", newToken.UserID); err != nil {
		return storeErr("revoking sibling tokens", err)
	}

	if err := insertToken(ctx, tx, newToken); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeErr("committing rotation", err)
	}
	return nil
}

// ListActiveByUser returns all non-revoked, non-expired tokens for a user.
func (r *SQLiteTokenRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tokenColumns+`
		 FROM refresh_tokens
		 WHERE user_id = ? AND revoked = 0 AND expires_at > ?
		 ORDER BY created_at DESC`, userID, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, storeErr("listing active tokens", err)
	}
	defer rows.Close()

	tokens := []RefreshToken{}
	for rows.Next() {
		t, err := scanTokenFrom(rows)
		if err != nil {
			return nil, storeErr("scanning token", err)
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating tokens", err)
	}
	return tokens, nil
}

// DeleteExpired removes tokens whose expiry is at or before now.
// Returns the number of deleted rows.
func (r *SQLiteTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at <= ?", now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, storeErr("deleting expired tokens", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

func insertToken(ctx context.Context, tx *sql.Tx, token *RefreshToken) error {
	if token.ID == "" {
		token.ID = "rt-" + uuid.NewString()
	}
	now := time.Now().UTC().Format(time.RFC3339)
	token.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		token.ID, token.UserID, token.TokenHash,
		token.ExpiresAt.UTC().Format(time.RFC3339),
		boolToInt(token.Revoked), now,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrUserNotFound
		}
		return storeErr("creating refresh token", err)
	}
	return nil
}

// scanTokenFrom scans a refresh token from any scanner. sql.ErrNoRows is
// returned unchanged.
func scanTokenFrom(s scanner) (*RefreshToken, error) {
	var t RefreshToken
	var revoked int
	var expiresAt, createdAt string

	if err := s.Scan(&t.ID, &t.UserID, &t.TokenHash, &expiresAt, &revoked, &createdAt); err != nil {
		return nil, err
	}

	t.Revoked = revoked != 0
	t.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	return &t, nil
}

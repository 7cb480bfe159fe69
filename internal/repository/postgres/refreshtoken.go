package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/labtrack/internal/apperrors"
	"github.com/nkiryanov/labtrack/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const refreshTokenColumns = `id, user_id, token_hash, created_at, expires_at, revoked_at`

const saveToken = `-- name: Save Refresh Token
INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at, revoked_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (token_hash) DO NOTHING
RETURNING ` + refreshTokenColumns

// Save token
// Hash conflict does not abort surrounding transaction, so caller may retry with other token
func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, saveToken, token.ID, token.UserID, token.TokenHash, token.CreatedAt, token.ExpiresAt, token.RevokedAt)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, pgx.ErrNoRows):
		return saved, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExists)
	default:
		return saved, fmt.Errorf("db error: %w", err)
	}
}

const getToken = `-- name: GetToken by its hash
SELECT ` + refreshTokenColumns + `
FROM refresh_tokens
WHERE token_hash = $1
`

// Get token
// It should return result even it expired or revoked already
func (r *RefreshTokenRepo) Get(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, tokenHash)
	return collectToken(rows)
}

const consumeToken = `-- name: Revoke token if it still valid
UPDATE refresh_tokens
SET revoked_at = $2
WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
RETURNING ` + refreshTokenColumns

// Consume revokes valid token and returns it
// Only one of concurrent callers gets the token, others receive ErrRefreshTokenNotFound
func (r *RefreshTokenRepo) Consume(ctx context.Context, tokenHash string, now time.Time) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, consumeToken, tokenHash, now)
	return collectToken(rows)
}

const revokeToken = `-- name: Revoke token if it not revoked
UPDATE refresh_tokens
SET revoked_at = $2
WHERE token_hash = $1 AND revoked_at IS NULL
RETURNING user_id
`

// Revoke is idempotent: already revoked and not existed tokens are not an error
// Returns owner of the token when this call revoked it
func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenHash string, now time.Time) (uuid.UUID, bool, error) {
	var userID uuid.UUID
	err := r.DB.QueryRow(ctx, revokeToken, tokenHash, now).Scan(&userID)

	switch {
	case err == nil:
		return userID, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return uuid.Nil, false, nil
	default:
		return uuid.Nil, false, fmt.Errorf("db error: %w", err)
	}
}

const revokeAllForUser = `-- name: Revoke all user tokens
UPDATE refresh_tokens
SET revoked_at = $2
WHERE user_id = $1 AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllForUser, userID, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteExpired = `-- name: Delete expired tokens
DELETE FROM refresh_tokens
WHERE expires_at <= $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpired, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectToken(rows pgx.Rows) (models.RefreshToken, error) {
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt)
	return t, err
}

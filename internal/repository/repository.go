package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/labtrack/internal/models"
)

type CreateUserParams struct {
	Username       string
	Email          string
	HashedPassword string
	FirstName      string
	LastName       string
	Role           models.Role
	IsActive       bool
}

type ListUsersOpts struct {
	Role   models.Role // empty means any role
	Active *bool       // nil means both active and inactive
	Limit  int
	Offset int
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username or email exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, arg CreateUserParams) (models.User, error)

	// Get user by its id, username or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	ListUsers(ctx context.Context, opts ListUsersOpts) ([]models.User, error)

	// Field level updates. All of them bump updated_at
	// If user not found must return apperrors.ErrUserNotFound
	SetLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) (models.User, error)
	SetPassword(ctx context.Context, userID uuid.UUID, hashedPassword string) (models.User, error)
	SetRole(ctx context.Context, userID uuid.UUID, role models.Role) (models.User, error)
	SetActive(ctx context.Context, userID uuid.UUID, active bool) (models.User, error)
}

// RefreshToken repository interface
// Tokens are addressed by hash, the raw value never reaches the repository
type RefreshTokenRepo interface {
	// Save token
	// If token with the same hash exists has to return apperrors.ErrRefreshTokenExists
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Get token even it expired or revoked
	// If not found must return apperrors.ErrRefreshTokenNotFound
	Get(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Revoke token if it is valid at 'now' and return it
	// If nothing was revoked must return apperrors.ErrRefreshTokenNotFound
	Consume(ctx context.Context, tokenHash string, now time.Time) (models.RefreshToken, error)

	// Set revoked_at if it not set. Return owner of the token and true if the token changed
	Revoke(ctx context.Context, tokenHash string, now time.Time) (uuid.UUID, bool, error)

	// Revoke all not revoked tokens of the user and return count of changed tokens
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)

	// Delete tokens expired before 'now' and return deleted count
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo

	// Run fn in transaction. Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}

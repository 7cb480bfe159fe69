package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/labtrack/internal/apperrors"
	"github.com/nkiryanov/labtrack/internal/models"
	"github.com/nkiryanov/labtrack/internal/repository"
)

const defaultListLimit = 50

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, username, email, password_hash, first_name, last_name, role, is_active, is_verified, last_login, created_at, updated_at`

const createUser = `-- name: CreateUser
INSERT INTO users (id, username, email, password_hash, first_name, last_name, role, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + userColumns

func (r *UserRepo) CreateUser(ctx context.Context, arg repository.CreateUserParams) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser,
		uuid.New(),
		arg.Username,
		strings.ToLower(arg.Email),
		arg.HashedPassword,
		arg.FirstName,
		arg.LastName,
		arg.Role,
		arg.IsActive,
	)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, apperrors.ErrUserAlreadyExists
		}

		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + ` FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	return r.getOne(ctx, getUserByID, id)
}

const getUserByUsername = `-- name: GetUserByUsername
SELECT ` + userColumns + ` FROM users
WHERE username = $1
`

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return r.getOne(ctx, getUserByUsername, username)
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT ` + userColumns + ` FROM users
WHERE email = $1
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return r.getOne(ctx, getUserByEmail, strings.ToLower(email))
}

const listUsers = `-- name: ListUsers
SELECT ` + userColumns + ` FROM users
WHERE ($1 = '' OR role = $1)
  AND ($2::boolean IS NULL OR is_active = $2)
ORDER BY created_at, username
LIMIT $3 OFFSET $4
`

func (r *UserRepo) ListUsers(ctx context.Context, opts repository.ListUsersOpts) ([]models.User, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}

	rows, _ := r.DB.Query(ctx, listUsers, string(opts.Role), opts.Active, opts.Limit, opts.Offset)
	users, err := pgx.CollectRows(rows, rowToUser)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return users, nil
}

const setLastLogin = `-- name: SetLastLogin
UPDATE users SET last_login = $2, updated_at = $2
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) SetLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) (models.User, error) {
	return r.getOne(ctx, setLastLogin, userID, at)
}

const setPassword = `-- name: SetPassword
UPDATE users SET password_hash = $2, updated_at = now()
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) SetPassword(ctx context.Context, userID uuid.UUID, hashedPassword string) (models.User, error) {
	return r.getOne(ctx, setPassword, userID, hashedPassword)
}

const setRole = `-- name: SetRole
UPDATE users SET role = $2, updated_at = now()
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) SetRole(ctx context.Context, userID uuid.UUID, role models.Role) (models.User, error) {
	return r.getOne(ctx, setRole, userID, role)
}

const setActive = `-- name: SetActive
UPDATE users SET is_active = $2, updated_at = now()
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) SetActive(ctx context.Context, userID uuid.UUID, active bool) (models.User, error) {
	return r.getOne(ctx, setActive, userID, active)
}

func (r *UserRepo) getOne(ctx context.Context, query string, args ...any) (models.User, error) {
	rows, _ := r.DB.Query(ctx, query, args...)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.HashedPassword,
		&u.FirstName,
		&u.LastName,
		&u.Role,
		&u.IsActive,
		&u.IsVerified,
		&u.LastLogin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

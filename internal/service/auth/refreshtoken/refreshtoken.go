package refreshtoken

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/labtrack/internal/apperrors"
	"github.com/nkiryanov/labtrack/internal/models"
	"github.com/nkiryanov/labtrack/internal/repository"
)

const (
	defaultRefreshTTL = 7 * 24 * time.Hour

	// 256 bits of entropy
	tokenBytes = 32

	maxIssueAttempts = 3
)

type Config struct {
	// Refresh token lifetime
	// If not set than default is used
	RefreshTTL time.Duration

	// Clock, time.Now if not set
	Now func() time.Time

	// Source of token bytes, crypto/rand if not set
	Rand io.Reader
}

// Persistent store of opaque refresh tokens
// Only sha256 of a token is saved, so leaked table could not be used to refresh sessions
type Store struct {
	repo       repository.RefreshTokenRepo
	refreshTTL time.Duration
	now        func() time.Time
	rand       io.Reader
}

func New(cfg Config, repo repository.RefreshTokenRepo) (*Store, error) {
	if repo == nil {
		return nil, errors.New("refresh token repo must not be nil")
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.RefreshTTL < 0 {
		return nil, errors.New("refresh token ttl must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}

	return &Store{
		repo:       repo,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
		rand:       cfg.Rand,
	}, nil
}

// Hash used to address token in the repository
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Store) TTL() time.Duration {
	return s.refreshTTL
}

// Issue new token for the user
// Token collision is practically impossible, but retry anyway rather than fail login
func (s *Store) Issue(ctx context.Context, userID uuid.UUID) (models.IssuedToken, error) {
	now := s.now().Truncate(time.Second)
	expiresAt := now.Add(s.refreshTTL)

	for range maxIssueAttempts {
		b := make([]byte, tokenBytes)
		if _, err := io.ReadFull(s.rand, b); err != nil {
			return models.IssuedToken{}, fmt.Errorf("error while generate refresh token. Err: %w", err)
		}
		token := base64.RawURLEncoding.EncodeToString(b)

		_, err := s.repo.Save(ctx, models.RefreshToken{
			ID:        uuid.New(),
			UserID:    userID,
			TokenHash: Hash(token),
			CreatedAt: now,
			ExpiresAt: expiresAt,
		})
		switch {
		case errors.Is(err, apperrors.ErrRefreshTokenExists):
			continue
		case err != nil:
			return models.IssuedToken{}, fmt.Errorf("error while saving refresh token. Err: %w", err)
		}

		return models.IssuedToken{Value: token, ExpiresAt: expiresAt}, nil
	}

	return models.IssuedToken{}, fmt.Errorf("refresh token not issued after %d attempts: %w", maxIssueAttempts, apperrors.ErrRefreshTokenExists)
}

// Return token record if it is usable
// Fails with apperrors.ErrRefreshTokenNotFound, apperrors.ErrRefreshTokenRevoked or apperrors.ErrRefreshTokenExpired
func (s *Store) Verify(ctx context.Context, token string) (models.RefreshToken, error) {
	record, err := s.repo.Get(ctx, Hash(token))
	if err != nil {
		return models.RefreshToken{}, err
	}

	if err := s.check(record); err != nil {
		return models.RefreshToken{}, err
	}

	return record, nil
}

// Revoke the token if it is usable and return it
// Of many concurrent consumers of the same token only one succeeds
func (s *Store) Consume(ctx context.Context, token string) (models.RefreshToken, error) {
	hash := Hash(token)

	record, err := s.repo.Consume(ctx, hash, s.now())
	switch {
	case err == nil:
		return record, nil
	case !errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		return models.RefreshToken{}, err
	}

	// Nothing consumed, find out why
	record, err = s.repo.Get(ctx, hash)
	if err != nil {
		return models.RefreshToken{}, err
	}
	if err := s.check(record); err != nil {
		return models.RefreshToken{}, err
	}

	// Both reads disagree only under a race with another writer
	return models.RefreshToken{}, apperrors.ErrRefreshTokenRevoked
}

// Revoke token. Return owner of the token and true if token was revoked by this call
func (s *Store) Revoke(ctx context.Context, token string) (uuid.UUID, bool, error) {
	return s.repo.Revoke(ctx, Hash(token), s.now())
}

// Revoke every live token of the user
func (s *Store) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.RevokeAllForUser(ctx, userID, s.now())
}

// Delete tokens that are expired, revoked or not
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}

func (s *Store) check(record models.RefreshToken) error {
	switch {
	case record.RevokedAt != nil:
		return apperrors.ErrRefreshTokenRevoked
	case !record.ExpiresAt.After(s.now()):
		return apperrors.ErrRefreshTokenExpired
	}
	return nil
}

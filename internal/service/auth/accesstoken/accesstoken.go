package accesstoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/labtrack/internal/apperrors"
	"github.com/nkiryanov/labtrack/internal/models"
)

const defaultAccessTTL = 5 * time.Minute

var signingMethod = jwt.SigningMethodHS256

type accessClaims struct {
	jwt.RegisteredClaims
	UserID   uuid.UUID   `json:"uid"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
	Type     string      `json:"type"`
}

// Codec with sensible defaults
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// Access token lifetime
	// If not set than default is used
	AccessTTL time.Duration

	// Clock, time.Now if not set
	Now func() time.Time
}

// Stateless access token issuer and verifier
// Verification never touches the store: whoever holds the secret trusts the claims
type Codec struct {
	key       []byte
	accessTTL time.Duration
	now       func() time.Time
}

func New(cfg Config) (*Codec, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.AccessTTL < 0 {
		return nil, errors.New("access token ttl must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Codec{
		key:       []byte(cfg.SecretKey),
		accessTTL: cfg.AccessTTL,
		now:       cfg.Now,
	}, nil
}

func (c *Codec) TTL() time.Duration {
	return c.accessTTL
}

// Issue signed access token for the user
func (c *Codec) Issue(user models.User) (models.IssuedToken, error) {
	now := c.now().Truncate(time.Second)
	expiresAt := now.Add(c.accessTTL)

	token := jwt.NewWithClaims(
		signingMethod,
		accessClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			UserID:   user.ID,
			Username: user.Username,
			Email:    user.Email,
			Role:     user.Role,
			Type:     models.AccessTokenType,
		},
	)

	signed, err := token.SignedString(c.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// Parse and validate access token
// Returns apperrors.ErrInvalidSignature, apperrors.ErrTokenExpired or apperrors.ErrWrongTokenType on failure
func (c *Codec) Verify(access string) (models.AccessClaims, error) {
	claims := &accessClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.AccessClaims{}, fmt.Errorf("%w: %w", apperrors.ErrTokenExpired, err)
	default:
		return models.AccessClaims{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidSignature, err)
	}

	if claims.Type != models.AccessTokenType {
		return models.AccessClaims{}, fmt.Errorf("%w: got %q", apperrors.ErrWrongTokenType, claims.Type)
	}
	if claims.UserID == uuid.Nil || claims.IssuedAt == nil {
		return models.AccessClaims{}, fmt.Errorf("%w: required claims missing", apperrors.ErrInvalidSignature)
	}

	return models.AccessClaims{
		TokenID:   claims.ID,
		UserID:    claims.UserID,
		Username:  claims.Username,
		Email:     claims.Email,
		Role:      claims.Role,
		Type:      claims.Type,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

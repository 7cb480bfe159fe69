package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/labtrack/internal/apperrors"
	"github.com/nkiryanov/labtrack/internal/events"
	"github.com/nkiryanov/labtrack/internal/logger"
	"github.com/nkiryanov/labtrack/internal/metrics"
	"github.com/nkiryanov/labtrack/internal/models"
	"github.com/nkiryanov/labtrack/internal/service/user"
)

// Stateless access token issuer and verifier
type AccessCodec interface {
	Issue(user models.User) (models.IssuedToken, error)
	Verify(access string) (models.AccessClaims, error)
}

// Persistent refresh token store
type RefreshStore interface {
	Issue(ctx context.Context, userID uuid.UUID) (models.IssuedToken, error)
	Verify(ctx context.Context, token string) (models.RefreshToken, error)
	Consume(ctx context.Context, token string) (models.RefreshToken, error)
	Revoke(ctx context.Context, token string) (uuid.UUID, bool, error)
	RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Credential store operations the session service relies on
type Users interface {
	CreateUser(ctx context.Context, p user.CreateUserParams) (models.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	Login(ctx context.Context, credential string, password string) (models.User, error)
	RecordLogin(ctx context.Context, userID uuid.UUID) (models.User, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, current string, next string) (models.User, error)
}

type Recorder interface {
	Login(result string)
	Refresh(result string)
}

type Config struct {
	// Audit events, dropped if not set
	Events events.Publisher

	// No-op logger if not set
	Logger logger.Logger

	// Metrics are not collected if not set
	Metrics Recorder

	// Clock for audit events, time.Now if not set
	Now func() time.Time
}

// Session lifecycle: login, refresh, logout and session verification
type AuthService struct {
	access  AccessCodec
	refresh RefreshStore
	users   Users

	events  events.Publisher
	logger  logger.Logger
	metrics Recorder
	now     func() time.Time
}

func NewService(cfg Config, access AccessCodec, refresh RefreshStore, users Users) (*AuthService, error) {
	if access == nil || refresh == nil || users == nil {
		return nil, errors.New("access codec, refresh store and users must not be nil")
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopRecorder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &AuthService{
		access:  access,
		refresh: refresh,
		users:   users,
		events:  cfg.Events,
		logger:  cfg.Logger.With("component", "auth"),
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}, nil
}

// Self registration. Always creates lab engineer, other roles are granted by admin
func (s *AuthService) Register(ctx context.Context, p user.CreateUserParams) (models.User, error) {
	p.Role = models.RoleLabEngineer
	return s.users.CreateUser(ctx, p)
}

// Check credentials and open new session
// Every login opens independent session, so the user may be logged in from many devices
func (s *AuthService) Login(ctx context.Context, credential string, password string) (models.Session, error) {
	u, err := s.users.Login(ctx, credential, password)
	switch {
	case errors.Is(err, apperrors.ErrInvalidCredentials), errors.Is(err, apperrors.ErrAccountDeactivated):
		s.metrics.Login(metrics.ResultFailure)
		s.publish(ctx, events.LoginFailed, u.ID, map[string]string{"reason": err.Error()})
		return models.Session{}, err
	case err != nil:
		s.metrics.Login(metrics.ResultError)
		return models.Session{}, fmt.Errorf("login failed. Err: %w", err)
	}

	u, err = s.users.RecordLogin(ctx, u.ID)
	if err != nil {
		s.metrics.Login(metrics.ResultError)
		return models.Session{}, fmt.Errorf("login not recorded. Err: %w", err)
	}

	pair, err := s.issuePair(ctx, u)
	if err != nil {
		s.metrics.Login(metrics.ResultError)
		return models.Session{}, err
	}

	s.metrics.Login(metrics.ResultOK)
	s.publish(ctx, events.LoginSucceeded, u.ID, nil)
	return models.Session{Tokens: pair, User: u}, nil
}

// Exchange refresh token for a new pair
// Presented token is consumed: it can't be used again even if the exchange fails later
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	record, err := s.refresh.Consume(ctx, refresh)
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound), errors.Is(err, apperrors.ErrRefreshTokenInvalid):
		s.metrics.Refresh(metrics.ResultFailure)
		s.logger.Debug("refresh token rejected", "error", err)
		return models.TokenPair{}, apperrors.ErrInvalidRefreshToken
	case err != nil:
		s.metrics.Refresh(metrics.ResultError)
		return models.TokenPair{}, fmt.Errorf("refresh token not consumed. Err: %w", err)
	}

	u, err := s.users.GetUserByID(ctx, record.UserID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		s.metrics.Refresh(metrics.ResultFailure)
		return models.TokenPair{}, apperrors.ErrInvalidRefreshToken
	case err != nil:
		s.metrics.Refresh(metrics.ResultError)
		return models.TokenPair{}, fmt.Errorf("refresh token owner not loaded. Err: %w", err)
	case !u.IsActive:
		s.metrics.Refresh(metrics.ResultFailure)
		return models.TokenPair{}, apperrors.ErrAccountDeactivated
	}

	pair, err := s.issuePair(ctx, u)
	if err != nil {
		s.metrics.Refresh(metrics.ResultError)
		return models.TokenPair{}, err
	}

	s.metrics.Refresh(metrics.ResultOK)
	s.publish(ctx, events.TokenRefreshed, u.ID, nil)
	return pair, nil
}

// Revoke refresh token
// Logout always succeeds for the caller: unknown or already revoked tokens are fine, store faults are logged
func (s *AuthService) Logout(ctx context.Context, refresh string) {
	userID, revoked, err := s.refresh.Revoke(ctx, refresh)
	if err != nil {
		s.logger.Error("refresh token not revoked on logout", "error", err)
		return
	}

	if revoked {
		s.publish(ctx, events.LoggedOut, userID, nil)
	}
}

// Revoke every refresh token of the user, i.e. log out from all devices
// Access tokens already issued stay valid until expiry
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, err := s.refresh.RevokeAll(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("sessions not revoked. Err: %w", err)
	}

	s.publish(ctx, events.SessionsRevoked, userID, map[string]string{"count": strconv.FormatInt(count, 10)})
	return count, nil
}

// Verify access token and load its user
// Token alone is not enough: user must still exist and be active
func (s *AuthService) VerifySession(ctx context.Context, access string) (models.User, models.AccessClaims, error) {
	claims, err := s.access.Verify(access)
	if err != nil {
		return models.User{}, models.AccessClaims{}, err
	}

	u, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return models.User{}, models.AccessClaims{}, err
	}

	if !u.IsActive {
		return models.User{}, models.AccessClaims{}, apperrors.ErrAccountDeactivated
	}

	return u, claims, nil
}

// Change password and end every session of the user
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current string, next string) error {
	if _, err := s.users.ChangePassword(ctx, userID, current, next); err != nil {
		return err
	}

	count, err := s.refresh.RevokeAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("password changed but sessions not revoked. Err: %w", err)
	}

	s.publish(ctx, events.PasswordChanged, userID, map[string]string{"revoked": strconv.FormatInt(count, 10)})
	return nil
}

func (s *AuthService) issuePair(ctx context.Context, u models.User) (models.TokenPair, error) {
	access, err := s.access.Issue(u)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("access token could not generated. Err: %w", err)
	}

	refresh, err := s.refresh.Issue(ctx, u.ID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("refresh token could not generated. Err: %w", err)
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

func (s *AuthService) publish(ctx context.Context, t events.Type, userID uuid.UUID, meta map[string]string) {
	s.events.Publish(ctx, events.Event{Type: t, UserID: userID, At: s.now(), Meta: meta})
}

type nopRecorder struct{}

func (nopRecorder) Login(string)   {}
func (nopRecorder) Refresh(string) {}

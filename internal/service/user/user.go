package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/labtrack/internal/apperrors"
	"github.com/nkiryanov/labtrack/internal/events"
	"github.com/nkiryanov/labtrack/internal/logger"
	"github.com/nkiryanov/labtrack/internal/models"
	"github.com/nkiryanov/labtrack/internal/repository"
	"github.com/nkiryanov/labtrack/internal/service/auth/hasher"
)

// Compared against when user is unknown, so login takes the same time either way
const dummyPassword = "labtrack-dummy-password"

type Config struct {
	// Hasher to create and check password hashes, hasher.Default if not set
	Hasher hasher.PasswordHasher

	// Audit events, dropped if not set
	Events events.Publisher

	// No-op logger if not set
	Logger logger.Logger

	// Clock, time.Now if not set
	Now func() time.Time
}

type CreateUserParams struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      models.Role // lab_engg if empty
}

type UserService struct {
	hasher  hasher.PasswordHasher
	events  events.Publisher
	logger  logger.Logger
	now     func() time.Time
	storage repository.Storage

	dummyOnce sync.Once
	dummyHash string
}

func NewService(cfg Config, storage repository.Storage) *UserService {
	if cfg.Hasher == nil {
		cfg.Hasher = hasher.Default
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &UserService{
		hasher:  cfg.Hasher,
		events:  cfg.Events,
		logger:  cfg.Logger.With("component", "user"),
		now:     cfg.Now,
		storage: storage,
	}
}

func (s *UserService) CreateUser(ctx context.Context, p CreateUserParams) (models.User, error) {
	var user models.User

	// Login treats credentials with '@' as emails
	if strings.Contains(p.Username, "@") {
		return user, fmt.Errorf("can't create user %q. Err: %w", p.Username, apperrors.ErrInvalidUsername)
	}
	if p.Role == "" {
		p.Role = models.RoleLabEngineer
	}
	if !p.Role.Valid() {
		return user, fmt.Errorf("can't create user with role %q. Err: %w", p.Role, apperrors.ErrInvalidRole)
	}

	hash, err := s.hasher.Hash(p.Password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	user, err = s.storage.User().CreateUser(ctx, repository.CreateUserParams{
		Username:       p.Username,
		Email:          p.Email,
		HashedPassword: hash,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		Role:           p.Role,
		IsActive:       true,
	})
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	s.publish(ctx, events.UserRegistered, user.ID, map[string]string{"role": user.Role.String()})
	return user, nil
}

func (s *UserService) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.storage.User().GetUserByID(ctx, userID)
}

// Credential is either username or email. Usernames never contain '@', CreateUser rejects them
func (s *UserService) GetByCredential(ctx context.Context, credential string) (models.User, error) {
	if strings.Contains(credential, "@") {
		return s.storage.User().GetUserByEmail(ctx, credential)
	}
	return s.storage.User().GetUserByUsername(ctx, credential)
}

// Check user credentials
// Unknown user and wrong password are reported the same way: apperrors.ErrInvalidCredentials
// Hash made by older scheme is upgraded on the fly
func (s *UserService) Login(ctx context.Context, credential string, password string) (models.User, error) {
	user, err := s.GetByCredential(ctx, credential)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		_ = s.hasher.Compare(s.dummy(), password)
		return models.User{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.User{}, err
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.User{}, apperrors.ErrInvalidCredentials
	}

	if !user.IsActive {
		return models.User{}, apperrors.ErrAccountDeactivated
	}

	if s.hasher.NeedsRehash(user.HashedPassword) {
		user = s.rehash(ctx, user, password)
	}

	return user, nil
}

// Set last login to now
func (s *UserService) RecordLogin(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.storage.User().SetLastLogin(ctx, userID, s.now())
}

func (s *UserService) ListUsers(ctx context.Context, opts repository.ListUsersOpts) ([]models.User, error) {
	if opts.Role != "" && !opts.Role.Valid() {
		return nil, fmt.Errorf("can't filter by role %q. Err: %w", opts.Role, apperrors.ErrInvalidRole)
	}
	return s.storage.User().ListUsers(ctx, opts)
}

func (s *UserService) SetRole(ctx context.Context, userID uuid.UUID, role models.Role) (models.User, error) {
	if !role.Valid() {
		return models.User{}, fmt.Errorf("can't set role %q. Err: %w", role, apperrors.ErrInvalidRole)
	}

	user, err := s.storage.User().SetRole(ctx, userID, role)
	if err != nil {
		return user, err
	}

	s.publish(ctx, events.UserRoleChanged, user.ID, map[string]string{"role": role.String()})
	return user, nil
}

// Activate or deactivate user
// Deactivation revokes every refresh token of the user in the same transaction
func (s *UserService) SetActive(ctx context.Context, userID uuid.UUID, active bool) (models.User, error) {
	var user models.User

	err := s.storage.InTx(ctx, func(storage repository.Storage) error {
		var err error
		user, err = storage.User().SetActive(ctx, userID, active)
		if err != nil {
			return err
		}

		if !active {
			_, err = storage.Refresh().RevokeAllForUser(ctx, userID, s.now())
		}
		return err
	})
	if err != nil {
		return models.User{}, err
	}

	s.publish(ctx, events.UserActiveChanged, user.ID, map[string]string{"active": fmt.Sprint(active)})
	return user, nil
}

// Replace password after checking the current one
func (s *UserService) ChangePassword(ctx context.Context, userID uuid.UUID, current string, next string) (models.User, error) {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return models.User{}, err
	}

	if err := s.hasher.Compare(user.HashedPassword, current); err != nil {
		return models.User{}, apperrors.ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return models.User{}, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	return s.storage.User().SetPassword(ctx, userID, hash)
}

// Best effort: user logs in anyway even if new hash was not saved
func (s *UserService) rehash(ctx context.Context, user models.User, password string) models.User {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("password not rehashed", "user_id", user.ID, "error", err)
		return user
	}

	updated, err := s.storage.User().SetPassword(ctx, user.ID, hash)
	if err != nil {
		s.logger.Warn("password not rehashed", "user_id", user.ID, "error", err)
		return user
	}

	s.logger.Info("password rehashed", "user_id", user.ID)
	return updated
}

func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash(dummyPassword)
	})
	return s.dummyHash
}

func (s *UserService) publish(ctx context.Context, t events.Type, userID uuid.UUID, meta map[string]string) {
	s.events.Publish(ctx, events.Event{Type: t, UserID: userID, At: s.now(), Meta: meta})
}

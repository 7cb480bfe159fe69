package handlers

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nkiryanov/labtrack/internal/models"
	"github.com/nkiryanov/labtrack/internal/service/user"
)

var errDBDown = errors.New("db is down")

// Auth service where everything fails
type brokenAuth struct{}

func (brokenAuth) Register(context.Context, user.CreateUserParams) (models.User, error) {
	return models.User{}, errDBDown
}

func (brokenAuth) Login(context.Context, string, string) (models.Session, error) {
	return models.Session{}, errDBDown
}

func (brokenAuth) Refresh(context.Context, string) (models.TokenPair, error) {
	return models.TokenPair{}, errDBDown
}

func (brokenAuth) Logout(context.Context, string) {}

func (brokenAuth) LogoutAll(context.Context, uuid.UUID) (int64, error) {
	return 0, errDBDown
}

func (brokenAuth) ChangePassword(context.Context, uuid.UUID, string, string) error {
	return errDBDown
}

func (brokenAuth) VerifySession(context.Context, string) (models.User, models.AccessClaims, error) {
	return models.User{}, models.AccessClaims{}, errDBDown
}

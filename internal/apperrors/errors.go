package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account is deactivated")
	ErrMissingCredential  = errors.New("missing bearer credential")
	ErrForbidden          = errors.New("insufficient role")

	// Access token verification failures
	ErrInvalidSignature = errors.New("access token signature is invalid")
	ErrTokenExpired     = errors.New("access token is expired")
	ErrWrongTokenType   = errors.New("token is not an access token")

	// Refresh token store failures. Revoked and expired both wrap ErrRefreshTokenInvalid
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenInvalid  = errors.New("refresh token is invalid")
	ErrRefreshTokenRevoked  = fmt.Errorf("%w: revoked", ErrRefreshTokenInvalid)
	ErrRefreshTokenExpired  = fmt.Errorf("%w: expired", ErrRefreshTokenInvalid)
	ErrRefreshTokenExists   = errors.New("refresh token already exists")

	// What clients see for any refresh token failure
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	ErrInvalidRole     = errors.New("unknown role")
	ErrInvalidUsername = errors.New("username must not contain '@'")
)

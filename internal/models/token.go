package models

import (
	"time"

	"github.com/google/uuid"
)

const AccessTokenType = "access"

type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time // nil if token not revoked
}

// Token is usable only if it is not revoked and not expired at the given moment
func (t RefreshToken) ValidAt(now time.Time) bool {
	return t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// Claims carried by a signed access token
type AccessClaims struct {
	TokenID   string
	UserID    uuid.UUID
	Username  string
	Email     string
	Role      Role
	Type      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issues by AuthService on login and refresh
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// Result of successful login
type Session struct {
	Tokens TokenPair
	User   User
}

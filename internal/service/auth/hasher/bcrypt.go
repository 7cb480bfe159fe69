package hasher

import (
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Legacy bcrypt hasher
// Accounts created before PBKDF2 was adopted still carry these hashes
// Password is prehashed with sha256 to bypass bcrypt 72 bytes limit
type Bcrypt struct{}

func (h Bcrypt) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], bcrypt.DefaultCost)
	return string(hash), err
}

func (h Bcrypt) Compare(hashedPassword string, password string) error {
	sum := sha256.Sum256([]byte(password))
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrMismatch
	default:
		return ErrMalformedHash
	}
}

// Any bcrypt hash should be migrated to PBKDF2
func (h Bcrypt) NeedsRehash(string) bool {
	return true
}

package hasher

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Algorithm identifier stored in front of every hash
	AlgPBKDF2SHA256 = "pbkdf2_sha256"

	DefaultIterations = 260000
	MinIterations     = 100000

	saltLen = 16
	keyLen  = sha256.Size
)

var (
	ErrEmptyPassword    = errors.New("password must not be empty")
	ErrMismatch         = errors.New("password does not match")
	ErrMalformedHash    = errors.New("password hash is malformed")
	ErrUnknownAlgorithm = errors.New("password hash algorithm is unknown")
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error

	// Report whether the hash was made by an older scheme or with weaker parameters
	NeedsRehash(hashedPassword string) bool
}

// Used when caller does not provide its own hasher
var Default PasswordHasher = PBKDF2{Iterations: DefaultIterations}

// PBKDF2-HMAC-SHA256 hasher
// Hash format is 'pbkdf2_sha256$<iterations>$<salt>$<base64 key>'
// Bcrypt hashes are still accepted by Compare so old accounts can log in and be rehashed
type PBKDF2 struct {
	Iterations int
}

func (h PBKDF2) iterations() int {
	if h.Iterations <= 0 {
		return DefaultIterations
	}
	return h.Iterations
}

func (h PBKDF2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	b := make([]byte, saltLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while generating salt. Err: %w", err)
	}
	salt := base64.RawStdEncoding.EncodeToString(b)

	return encode(h.iterations(), salt, derive(password, salt, h.iterations())), nil
}

func (h PBKDF2) Compare(hashedPassword string, password string) error {
	if isBcrypt(hashedPassword) {
		return Bcrypt{}.Compare(hashedPassword, password)
	}

	parsed, err := decode(hashedPassword)
	if err != nil {
		return err
	}

	got := derive(password, parsed.salt, parsed.iterations)
	if subtle.ConstantTimeCompare(got, parsed.key) != 1 {
		return ErrMismatch
	}

	return nil
}

func (h PBKDF2) NeedsRehash(hashedPassword string) bool {
	parsed, err := decode(hashedPassword)
	if err != nil {
		return true
	}
	return parsed.iterations < h.iterations()
}

type pbkdf2Hash struct {
	iterations int
	salt       string
	key        []byte
}

func derive(password, salt string, iterations int) []byte {
	return pbkdf2.Key([]byte(password), []byte(salt), iterations, keyLen, sha256.New)
}

func encode(iterations int, salt string, key []byte) string {
	return strings.Join([]string{
		AlgPBKDF2SHA256,
		strconv.Itoa(iterations),
		salt,
		base64.StdEncoding.EncodeToString(key),
	}, "$")
}

func decode(hashedPassword string) (pbkdf2Hash, error) {
	var h pbkdf2Hash

	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 4 {
		return h, ErrMalformedHash
	}
	if parts[0] != AlgPBKDF2SHA256 {
		return h, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, parts[0])
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return h, ErrMalformedHash
	}

	key, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(key) == 0 || parts[2] == "" {
		return h, ErrMalformedHash
	}

	return pbkdf2Hash{iterations: iterations, salt: parts[2], key: key}, nil
}

func isBcrypt(hashedPassword string) bool {
	return strings.HasPrefix(hashedPassword, "$2")
}

// Package crypto hashes and verifies API key secrets and user passwords.
//
// A key is presented as "<key-id>.<secret>". Only the id, a per-key salt and
// the Argon2id hash of the secret are stored. Passwords are stored the same
// way, with a per-user salt.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/argon2"
)

// Argon2id parameters.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	saltLen   = 16
	secretLen = 32
)

// ErrMalformedKey is returned by ParseKey for anything not shaped like "<uuid>.<secret>".
var ErrMalformedKey = errors.New("malformed api key")

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashSecret returns the Argon2id hash of secret using salt.
func HashSecret(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifySecret compares secret against the stored hash in constant time.
func VerifySecret(secret, salt, expected []byte) bool {
	if len(secret) == 0 {
		return false
	}
	got := HashSecret(secret, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// HashPassword draws a fresh salt and returns it with the Argon2id hash of password.
func HashPassword(password string) (salt, hash []byte, err error) {
	salt, err = RandBytes(saltLen)
	if err != nil {
		return nil, nil, err
	}
	return salt, HashSecret([]byte(password), salt), nil
}

// VerifyPassword verifies password against the stored hash and salt. An
// account without a stored hash never verifies.
func VerifyPassword(password string, salt, expected []byte) bool {
	if len(expected) == 0 {
		return false
	}
	return VerifySecret([]byte(password), salt, expected)
}

// Generated is a freshly minted key. Plain is shown to the owner once.
type Generated struct {
	ID    uuid.UUID
	Plain string
	Salt  []byte
	Hash  []byte
}

// NewKey mints a key id and secret and hashes the secret.
func NewKey() (Generated, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return Generated{}, err
	}
	raw, err := RandBytes(secretLen)
	if err != nil {
		return Generated{}, err
	}
	salt, err := RandBytes(saltLen)
	if err != nil {
		return Generated{}, err
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	return Generated{
		ID:    id,
		Plain: id.String() + "." + secret,
		Salt:  salt,
		Hash:  HashSecret([]byte(secret), salt),
	}, nil
}

// ParseKey splits a presented key into its id and secret.
func ParseKey(s string) (uuid.UUID, []byte, error) {
	idPart, secret, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok || secret == "" {
		return uuid.Nil, nil, ErrMalformedKey
	}
	id, err := uuid.FromString(idPart)
	if err != nil {
		return uuid.Nil, nil, ErrMalformedKey
	}
	return id, []byte(secret), nil
}

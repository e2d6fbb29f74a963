package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/akiojin/llm-router/types"
)

// HashPassword bcrypt-hashes an interactive admin password. Bcrypt's
// deliberate slowness is the correct tradeoff here — unlike API keys and
// agent tokens, which are looked up by hash on every request and use a fast
// SHA-256 digest instead (see internal/registry and the api_keys table).
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", types.NewError(types.ErrPasswordHash, "failed to hash password").WithCause(err).WithHTTPStatus(500)
	}
	return string(hash), nil
}

// VerifyPassword checks plaintext against a bcrypt hash.
func VerifyPassword(hash, plaintext string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)); err != nil {
		return types.NewError(types.ErrAuthentication, "invalid credentials").WithHTTPStatus(401)
	}
	return nil
}

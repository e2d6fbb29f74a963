package auth

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/akiojin/llm-router/types"
)

const jwtSecretFileName = "jwt_secret"

// LoadOrCreateJWTSecret reads dataDir/jwt_secret, minting a new random
// 256-bit secret on first run. The file is written with 0600 permissions
// since it is the key material for every admin session token.
func LoadOrCreateJWTSecret(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, jwtSecretFileName)

	if raw, err := os.ReadFile(path); err == nil {
		decoded, decodeErr := hex.DecodeString(string(raw))
		if decodeErr != nil || len(decoded) == 0 {
			return nil, types.NewError(types.ErrInternalError, "jwt secret file is corrupt: "+path).WithCause(decodeErr).WithHTTPStatus(500)
		}
		return decoded, nil
	} else if !os.IsNotExist(err) {
		return nil, types.NewError(types.ErrInternalError, "failed to read jwt secret file").WithCause(err).WithHTTPStatus(500)
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to create data directory").WithCause(err).WithHTTPStatus(500)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to generate jwt secret").WithCause(err).WithHTTPStatus(500)
	}

	encoded := hex.EncodeToString(secret)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to persist jwt secret").WithCause(err).WithHTTPStatus(500)
	}
	return secret, nil
}

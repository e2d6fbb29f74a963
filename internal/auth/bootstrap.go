package auth

import (
	"context"

	"go.uber.org/zap"

	"github.com/akiojin/llm-router/config"
)

// ResolveJWTSecret returns the configured JWT secret if set, otherwise mints
// or loads one from dataDir/jwt_secret.
func ResolveJWTSecret(cfg config.AuthConfig, dataDir string) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	return LoadOrCreateJWTSecret(dataDir)
}

// Bootstrap ensures at least one admin user exists, creating one from
// cfg.AdminUsername/AdminPassword when the users table is empty. It is a
// no-op once any user exists, whatever its role, so operators may safely leave
// the bootstrap credentials configured across restarts.
func Bootstrap(ctx context.Context, repo *Repo, cfg config.AuthConfig, logger *zap.Logger) error {
	count, err := repo.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	username := cfg.AdminUsername
	if username == "" {
		username = "admin"
	}
	password := cfg.AdminPassword
	if password == "" {
		password = "admin"
		logger.Warn("no admin password configured, using insecure default; set LLM_ROUTER_ADMIN_PASSWORD",
			zap.String("username", username))
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if _, err := repo.CreateUser(ctx, username, hash, "admin"); err != nil {
		return err
	}
	logger.Info("bootstrapped admin user", zap.String("username", username))
	return nil
}

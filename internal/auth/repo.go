package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/akiojin/llm-router/types"
)

// Repo wraps the gorm handle backing users, api_keys, and agent_tokens.
type Repo struct {
	db *gorm.DB
}

// NewRepo creates a Repo bound to db.
func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// CreateUser inserts a new admin user with the given pre-hashed password.
func (r *Repo) CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error) {
	now := time.Now().UTC()
	u := &User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, types.NewError(types.ErrDatabase, "failed to create user").WithCause(err).WithHTTPStatus(500)
	}
	return u, nil
}

// GetUserByUsername looks up a user by username.
func (r *Repo) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NotFound("user", username)
	}
	if err != nil {
		return nil, types.NewError(types.ErrDatabase, "failed to query user").WithCause(err).WithHTTPStatus(500)
	}
	return &u, nil
}

// GetUserByID looks up a user by id.
func (r *Repo) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NotFound("user", id)
	}
	if err != nil {
		return nil, types.NewError(types.ErrDatabase, "failed to query user").WithCause(err).WithHTTPStatus(500)
	}
	return &u, nil
}

// CountUsers returns the total number of admin users.
func (r *Repo) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&User{}).Count(&count).Error; err != nil {
		return 0, types.NewError(types.ErrDatabase, "failed to count users").WithCause(err).WithHTTPStatus(500)
	}
	return count, nil
}

// ListUsers returns every admin user.
func (r *Repo) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := r.db.WithContext(ctx).Order("created_at asc").Find(&users).Error; err != nil {
		return nil, types.NewError(types.ErrDatabase, "failed to list users").WithCause(err).WithHTTPStatus(500)
	}
	return users, nil
}

// UpdateUserPassword overwrites a user's password hash.
func (r *Repo) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).
		Updates(map[string]any{"password_hash": passwordHash, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return types.NewError(types.ErrDatabase, "failed to update user").WithCause(res.Error).WithHTTPStatus(500)
	}
	if res.RowsAffected == 0 {
		return types.NotFound("user", id)
	}
	return nil
}

// DeleteUser removes a user by id.
func (r *Repo) DeleteUser(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&User{})
	if res.Error != nil {
		return types.NewError(types.ErrDatabase, "failed to delete user").WithCause(res.Error).WithHTTPStatus(500)
	}
	if res.RowsAffected == 0 {
		return types.NotFound("user", id)
	}
	return nil
}

// CreateAPIKey inserts a new API key record for userID, already hashed.
func (r *Repo) CreateAPIKey(ctx context.Context, name, keyHash, userID string) (*APIKey, error) {
	k := &APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   keyHash,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(k).Error; err != nil {
		return nil, types.NewError(types.ErrDatabase, "failed to create api key").WithCause(err).WithHTTPStatus(500)
	}
	return k, nil
}

// GetAPIKeyByHash looks up an active API key by its hash.
func (r *Repo) GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	var k APIKey
	err := r.db.WithContext(ctx).Where("key_hash = ? AND revoked_at IS NULL", hash).First(&k).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrAuthentication, "invalid api key").WithHTTPStatus(401)
	}
	if err != nil {
		return nil, types.NewError(types.ErrDatabase, "failed to query api key").WithCause(err).WithHTTPStatus(500)
	}
	return &k, nil
}

// TouchAPIKey updates last_used_at for id; failures are non-fatal to the
// caller (best-effort bookkeeping).
func (r *Repo) TouchAPIKey(ctx context.Context, id string) {
	now := time.Now().UTC()
	r.db.WithContext(ctx).Model(&APIKey{}).Where("id = ?", id).Update("last_used_at", now)
}

// ListAPIKeys returns every API key, most recent first.
func (r *Repo) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	var keys []APIKey
	if err := r.db.WithContext(ctx).Order("created_at desc").Find(&keys).Error; err != nil {
		return nil, types.NewError(types.ErrDatabase, "failed to list api keys").WithCause(err).WithHTTPStatus(500)
	}
	return keys, nil
}

// RevokeAPIKey marks an API key revoked. Idempotent.
func (r *Repo) RevokeAPIKey(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&APIKey{}).Where("id = ? AND revoked_at IS NULL", id).Update("revoked_at", now)
	if res.Error != nil {
		return types.NewError(types.ErrDatabase, "failed to revoke api key").WithCause(res.Error).WithHTTPStatus(500)
	}
	return nil
}

// DeleteAPIKey removes an API key by id.
func (r *Repo) DeleteAPIKey(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&APIKey{})
	if res.Error != nil {
		return types.NewError(types.ErrDatabase, "failed to delete api key").WithCause(res.Error).WithHTTPStatus(500)
	}
	if res.RowsAffected == 0 {
		return types.NotFound("api key", id)
	}
	return nil
}

// UpsertAgentTokenRecord records (or re-records, on rotation) the hash
// minted for nodeID. The admin token-rotation endpoint does not call it; the
// Node Registry's in-memory hash remains authoritative for verification.
func (r *Repo) UpsertAgentTokenRecord(ctx context.Context, nodeID, tokenHash string) error {
	var existing AgentTokenRecord
	err := r.db.WithContext(ctx).Where("node_id = ?", nodeID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rec := &AgentTokenRecord{
			ID:        uuid.New().String(),
			NodeID:    nodeID,
			TokenHash: tokenHash,
			CreatedAt: time.Now().UTC(),
		}
		if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
			return types.NewError(types.ErrDatabase, "failed to record agent token").WithCause(err).WithHTTPStatus(500)
		}
		return nil
	case err != nil:
		return types.NewError(types.ErrDatabase, "failed to query agent token").WithCause(err).WithHTTPStatus(500)
	default:
		existing.TokenHash = tokenHash
		existing.RevokedAt = nil
		if err := r.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return types.NewError(types.ErrDatabase, "failed to update agent token").WithCause(err).WithHTTPStatus(500)
		}
		return nil
	}
}

// Package auth implements the Auth boundary: the relational store backing
// admin users, API keys, and agent-token audit records, JWT issuance, and
// the HTTP middleware that turns request credentials into a types.Principal.
package auth

import "time"

// User is a bootstrap admin account, stored in router.db.
type User struct {
	ID           string `gorm:"column:id;primaryKey"`
	Username     string `gorm:"column:username;uniqueIndex"`
	PasswordHash string `gorm:"column:password_hash"`
	Role         string `gorm:"column:role"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

// TableName pins the gorm table name to the migration-created table.
func (User) TableName() string { return "users" }

// APIKey is a client credential for the inference-facing routes.
type APIKey struct {
	ID         string     `gorm:"column:id;primaryKey"`
	Name       string     `gorm:"column:name"`
	KeyHash    string     `gorm:"column:key_hash;uniqueIndex"`
	UserID     string     `gorm:"column:user_id"`
	LastUsedAt *time.Time `gorm:"column:last_used_at"`
	RevokedAt  *time.Time `gorm:"column:revoked_at"`
	CreatedAt  time.Time  `gorm:"column:created_at"`
}

// TableName pins the gorm table name to the migration-created table.
func (APIKey) TableName() string { return "api_keys" }

// Active reports whether the key has not been revoked.
func (k *APIKey) Active() bool { return k.RevokedAt == nil }

// AgentTokenRecord is an audit trail of minted agent tokens, one row per
// node. The token-rotation admin endpoint rotates only the Node Registry's
// hash and does not write this table; verifying a heartbeat's token also
// stays in the Node Registry's own in-memory hash (see
// internal/registry.Registry.VerifyAgentToken).
type AgentTokenRecord struct {
	ID        string     `gorm:"column:id;primaryKey"`
	NodeID    string     `gorm:"column:node_id;uniqueIndex"`
	TokenHash string     `gorm:"column:token_hash;uniqueIndex"`
	RevokedAt *time.Time `gorm:"column:revoked_at"`
	CreatedAt time.Time  `gorm:"column:created_at"`
}

// TableName pins the gorm table name to the migration-created table.
func (AgentTokenRecord) TableName() string { return "agent_tokens" }

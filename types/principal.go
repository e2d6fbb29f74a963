package types

// PrincipalKind distinguishes the different authenticated identities the
// auth middleware can attach to a request.
type PrincipalKind string

const (
	// PrincipalAdminUser is a human operator authenticated via a JWT
	// session (POST /api/auth/login).
	PrincipalAdminUser PrincipalKind = "admin_user"
	// PrincipalAPIKey is a client application authenticated via the
	// X-API-Key header.
	PrincipalAPIKey PrincipalKind = "api_key"
	// PrincipalAgentToken is a node authenticated via the X-Agent-Token
	// header. NodeID is not populated by the middleware — the token is
	// only meaningful once paired with the node_id carried in the
	// request body, so callers must verify it themselves.
	PrincipalAgentToken PrincipalKind = "agent_token"
	// PrincipalAuthDisabled is synthesized by the middleware when
	// AUTH_DISABLED is set, satisfying every guard.
	PrincipalAuthDisabled PrincipalKind = "auth_disabled"
)

// Principal is the authenticated identity attached to an inbound request by
// the auth middleware. Exactly the fields relevant to Kind are populated.
type Principal struct {
	Kind PrincipalKind

	// AdminUser fields.
	UserID string
	Role   string

	// APIKey fields.
	KeyID string

	// AgentToken fields — the raw bearer value, unverified against any
	// particular node until a handler checks it.
	RawToken string
}

// IsAdmin reports whether p satisfies an admin-only guard.
func (p *Principal) IsAdmin() bool {
	if p == nil {
		return false
	}
	if p.Kind == PrincipalAuthDisabled {
		return true
	}
	return p.Kind == PrincipalAdminUser && p.Role == "admin"
}

// IsInferenceCaller reports whether p satisfies the api-key-or-disabled
// guard used on the OpenAI-compatible proxy routes.
func (p *Principal) IsInferenceCaller() bool {
	if p == nil {
		return false
	}
	switch p.Kind {
	case PrincipalAuthDisabled, PrincipalAPIKey:
		return true
	default:
		return false
	}
}

// AgentTokenValue returns the raw agent token carried by p, if any.
func (p *Principal) AgentTokenValue() (string, bool) {
	if p == nil {
		return "", false
	}
	if p.Kind == PrincipalAuthDisabled {
		return "", true
	}
	if p.Kind == PrincipalAgentToken && p.RawToken != "" {
		return p.RawToken, true
	}
	return "", false
}

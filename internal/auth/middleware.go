package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/akiojin/llm-router/types"
)

type contextKey int

const principalContextKey contextKey = iota

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *types.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the Principal attached by the middleware, if
// any.
func PrincipalFromContext(ctx context.Context) *types.Principal {
	p, _ := ctx.Value(principalContextKey).(*types.Principal)
	return p
}

// HashAPIKey digests a raw API key the same way minted keys are stored, so
// lookups can compare hashes instead of plaintext.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Middleware resolves an incoming request's credentials into a
// types.Principal, attaching it to the request context. It never rejects a
// request itself — route guards (RequireAdmin, RequireInference,
// RequireAgentToken) decide whether the resolved Principal (or its absence)
// is sufficient.
type Middleware struct {
	repo     *Repo
	issuer   *TokenIssuer
	disabled bool
}

// NewMiddleware builds a Middleware. When disabled is true every request is
// treated as PrincipalAuthDisabled (the AUTH_DISABLED dev bypass) — the
// guard logic still runs, it simply always passes.
func NewMiddleware(repo *Repo, issuer *TokenIssuer, disabled bool) *Middleware {
	return &Middleware{repo: repo, issuer: issuer, disabled: disabled}
}

// Resolve is the http middleware entry point.
func (m *Middleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			ctx := WithPrincipal(r.Context(), &types.Principal{Kind: types.PrincipalAuthDisabled})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		principal := m.resolve(r)
		ctx := WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) resolve(r *http.Request) *types.Principal {
	if token := r.Header.Get("X-Agent-Token"); token != "" {
		return &types.Principal{Kind: types.PrincipalAgentToken, RawToken: token}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		rec, err := m.repo.GetAPIKeyByHash(r.Context(), HashAPIKey(key))
		if err == nil && rec.Active() {
			go m.repo.TouchAPIKey(context.Background(), rec.ID)
			return &types.Principal{Kind: types.PrincipalAPIKey, KeyID: rec.ID, UserID: rec.UserID}
		}
		return nil
	}

	if raw := bearerToken(r); raw != "" {
		claims, err := m.issuer.Parse(raw)
		if err == nil {
			return &types.Principal{Kind: types.PrincipalAdminUser, UserID: claims.UserID, Role: claims.Role}
		}
		return nil
	}

	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimPrefix(header, prefix)
	}
	return ""
}

// RequireAdmin rejects requests whose Principal is not an admin, with a 401.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if !p.IsAdmin() {
			writeUnauthorized(w, "admin authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireInference rejects requests that are neither an API key nor
// auth-disabled — the guard used on the inference proxy routes.
func RequireInference(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if !p.IsInferenceCaller() {
			writeUnauthorized(w, "api key required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAgentToken rejects requests that carry no agent-token credential at
// all (the handler itself still verifies the token's value against the
// target node via the Node Registry).
func RequireAgentToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if _, ok := p.AgentTokenValue(); !ok {
			writeUnauthorized(w, "agent token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"` + message + `"}}`))
}

package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/akiojin/llm-router/internal/auth"
	"github.com/akiojin/llm-router/types"
)

// AuthHandler implements the admin session surface: POST /api/auth/login,
// POST /api/auth/logout, GET /api/auth/me.
type AuthHandler struct {
	repo   *auth.Repo
	issuer *auth.TokenIssuer
	logger *zap.Logger
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(repo *auth.Repo, issuer *auth.TokenIssuer, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{repo: repo, issuer: issuer, logger: logger}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	Username  string `json:"username"`
	Role      string `json:"role"`
}

// HandleLogin implements POST /api/auth/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Username == "" || req.Password == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "username and password are required", h.logger)
		return
	}

	user, err := h.repo.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "invalid credentials", h.logger)
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "invalid credentials", h.logger)
		return
	}

	token, expiresAt, err := h.issuer.Issue(user.ID, user.Role)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	WriteSuccess(w, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Username:  user.Username,
		Role:      user.Role,
	})
}

// HandleLogout implements POST /api/auth/logout. Sessions are stateless
// JWTs, so logout is client-side (discard the token); the endpoint exists
// for symmetry with login and to give clients a definite success response.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, map[string]string{"status": "ok"})
}

// HandleMe implements GET /api/auth/me.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if !principal.IsAdmin() {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "admin authentication required", h.logger)
		return
	}
	if principal.Kind == types.PrincipalAuthDisabled {
		WriteSuccess(w, map[string]string{"username": "", "role": "admin", "kind": string(principal.Kind)})
		return
	}

	user, err := h.repo.GetUserByID(r.Context(), principal.UserID)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	WriteSuccess(w, map[string]string{"username": user.Username, "role": user.Role, "kind": string(principal.Kind)})
}

func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*types.Error); ok {
		WriteError(w, apiErr, h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
}

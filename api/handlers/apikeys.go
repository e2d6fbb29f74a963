package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"go.uber.org/zap"

	"github.com/akiojin/llm-router/internal/auth"
	"github.com/akiojin/llm-router/types"
)

// APIKeysHandler implements admin CRUD over inference API keys:
// GET/POST/DELETE /api/api-keys[/{id}].
type APIKeysHandler struct {
	repo   *auth.Repo
	logger *zap.Logger
}

// NewAPIKeysHandler builds an APIKeysHandler.
func NewAPIKeysHandler(repo *auth.Repo, logger *zap.Logger) *APIKeysHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIKeysHandler{repo: repo, logger: logger}
}

type apiKeyView struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	UserID     string  `json:"user_id"`
	Active     bool    `json:"active"`
	LastUsedAt *string `json:"last_used_at,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

type createAPIKeyRequest struct {
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}

type createAPIKeyResponse struct {
	apiKeyView
	Key string `json:"key"`
}

// HandleList implements GET /api/api-keys.
func (h *APIKeysHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	keys, err := h.repo.ListAPIKeys(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	views := make([]apiKeyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, toAPIKeyView(&k))
	}
	WriteSuccess(w, views)
}

// HandleCreate implements POST /api/api-keys. The plaintext key is returned
// exactly once, in this response; only its SHA-256 hash is persisted.
func (h *APIKeysHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Name == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "name is required", h.logger)
		return
	}

	plaintext, err := generateAPIKey()
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to generate api key", h.logger)
		return
	}

	key, err := h.repo.CreateAPIKey(r.Context(), req.Name, auth.HashAPIKey(plaintext), req.UserID)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, Response{Success: true, Data: createAPIKeyResponse{
		apiKeyView: toAPIKeyView(key),
		Key:        plaintext,
	}})
}

// HandleRevoke implements DELETE /api/api-keys/{id}?hard=true to fully
// delete, or a plain DELETE to soft-revoke.
func (h *APIKeysHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if r.URL.Query().Get("hard") == "true" {
		if err := h.repo.DeleteAPIKey(r.Context(), id); err != nil {
			h.writeErr(w, err)
			return
		}
		WriteSuccess(w, map[string]string{"status": "deleted"})
		return
	}
	if err := h.repo.RevokeAPIKey(r.Context(), id); err != nil {
		h.writeErr(w, err)
		return
	}
	WriteSuccess(w, map[string]string{"status": "revoked"})
}

func (h *APIKeysHandler) writeErr(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*types.Error); ok {
		WriteError(w, apiErr, h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
}

func toAPIKeyView(k *auth.APIKey) apiKeyView {
	view := apiKeyView{
		ID:        k.ID,
		Name:      k.Name,
		UserID:    k.UserID,
		Active:    k.Active(),
		CreatedAt: k.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if k.LastUsedAt != nil {
		formatted := k.LastUsedAt.Format("2006-01-02T15:04:05Z07:00")
		view.LastUsedAt = &formatted
	}
	return view
}

func generateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "sk-" + hex.EncodeToString(raw), nil
}

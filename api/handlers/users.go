package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/akiojin/llm-router/internal/auth"
	"github.com/akiojin/llm-router/types"
)

// UsersHandler implements admin CRUD over operator accounts:
// GET/POST/PUT/DELETE /api/users[/{id}].
type UsersHandler struct {
	repo   *auth.Repo
	logger *zap.Logger
}

// NewUsersHandler builds a UsersHandler.
func NewUsersHandler(repo *auth.Repo, logger *zap.Logger) *UsersHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsersHandler{repo: repo, logger: logger}
}

type userView struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type updateUserPasswordRequest struct {
	Password string `json:"password"`
}

// HandleList implements GET /api/users.
func (h *UsersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.repo.ListUsers(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, toUserView(u.ID, u.Username, u.Role, u.CreatedAt.Format("2006-01-02T15:04:05Z07:00")))
	}
	WriteSuccess(w, views)
}

// HandleCreate implements POST /api/users.
func (h *UsersHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Username == "" || req.Password == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "username and password are required", h.logger)
		return
	}
	role := req.Role
	if role == "" {
		role = "admin"
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	user, err := h.repo.CreateUser(r.Context(), req.Username, hash, role)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{Success: true, Data: toUserView(user.ID, user.Username, user.Role, user.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))})
}

// HandleUpdatePassword implements PUT /api/users/{id}.
func (h *UsersHandler) HandleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateUserPasswordRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Password == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "password is required", h.logger)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := h.repo.UpdateUserPassword(r.Context(), id, hash); err != nil {
		h.writeErr(w, err)
		return
	}
	WriteSuccess(w, map[string]string{"status": "ok"})
}

// HandleDelete implements DELETE /api/users/{id}.
func (h *UsersHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.repo.DeleteUser(r.Context(), id); err != nil {
		h.writeErr(w, err)
		return
	}
	WriteSuccess(w, map[string]string{"status": "deleted"})
}

func (h *UsersHandler) writeErr(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*types.Error); ok {
		WriteError(w, apiErr, h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
}

func toUserView(id, username, role, createdAt string) userView {
	return userView{ID: id, Username: username, Role: role, CreatedAt: createdAt}
}

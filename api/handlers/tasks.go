package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/akiojin/llm-router/internal/protocol"
	"github.com/akiojin/llm-router/internal/tasks"
	"github.com/akiojin/llm-router/types"
)

// TasksHandler implements the Download Task Manager's HTTP surface:
// GET /api/tasks, GET /api/tasks/{id}, POST /api/tasks/{id}/progress.
type TasksHandler struct {
	tasks  *tasks.Manager
	logger *zap.Logger
}

// NewTasksHandler builds a TasksHandler.
func NewTasksHandler(mgr *tasks.Manager, logger *zap.Logger) *TasksHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TasksHandler{tasks: mgr, logger: logger}
}

// HandleList implements GET /api/tasks.
func (h *TasksHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if nodeID := r.URL.Query().Get("node_id"); nodeID != "" {
		WriteSuccess(w, h.tasks.ListByNode(nodeID))
		return
	}
	if r.URL.Query().Get("active") == "true" {
		WriteSuccess(w, h.tasks.ListActive())
		return
	}
	WriteSuccess(w, h.tasks.List())
}

// HandleGet implements GET /api/tasks/{id}.
func (h *TasksHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Get(r.PathValue("id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	WriteSuccess(w, task)
}

// HandleProgress implements POST /api/tasks/{id}/progress: an agent's
// periodic report as it executes a model pull.
func (h *TasksHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	var update protocol.ProgressUpdate
	if err := DecodeJSONBody(w, r, &update, h.logger); err != nil {
		return
	}

	task, err := h.tasks.UpdateProgress(r.PathValue("id"), update.Progress, update.Speed)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	WriteSuccess(w, task)
}

// HandleFail implements POST /api/tasks/{id}/fail: an agent reports it could
// not complete the pull.
func (h *TasksHandler) HandleFail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}

	task, err := h.tasks.MarkFailed(r.PathValue("id"), body.Reason)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	WriteSuccess(w, task)
}

func (h *TasksHandler) writeErr(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*types.Error); ok {
		WriteError(w, apiErr, h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
}

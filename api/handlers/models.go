package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/akiojin/llm-router/internal/catalog"
	"github.com/akiojin/llm-router/internal/registry"
	"github.com/akiojin/llm-router/internal/tasks"
	"github.com/akiojin/llm-router/types"
)

// ModelsHandler implements the model catalog CRUD and the fleet
// distribution/pull-trigger surface: GET/POST/DELETE /api/models[/{name}],
// POST /api/models/distribute, POST /api/agents/{id}/models/pull.
type ModelsHandler struct {
	catalog    *catalog.Store
	registry   *registry.Registry
	tasks      *tasks.Manager
	dispatcher *tasks.Dispatcher
	logger     *zap.Logger
}

// NewModelsHandler builds a ModelsHandler.
func NewModelsHandler(cat *catalog.Store, reg *registry.Registry, taskMgr *tasks.Manager, dispatcher *tasks.Dispatcher, logger *zap.Logger) *ModelsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelsHandler{catalog: cat, registry: reg, tasks: taskMgr, dispatcher: dispatcher, logger: logger}
}

type putModelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	SizeBytes   uint64 `json:"size_bytes"`
}

type distributeModelsRequest struct {
	ModelName string   `json:"model_name"`
	Target    string   `json:"target"`
	AgentIDs  []string `json:"agent_ids"`
}

type distributeModelsResponse struct {
	TaskIDs []string `json:"task_ids"`
}

type pullModelRequest struct {
	ModelName string `json:"model_name"`
}

type pullModelResponse struct {
	TaskID string `json:"task_id"`
}

// HandleList implements GET /api/models.
func (h *ModelsHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, h.catalog.List())
}

type openAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type openAIModelList struct {
	Object string        `json:"object"`
	Data   []openAIModel `json:"data"`
}

// HandleListOpenAI implements GET /v1/models: the catalog rendered in the
// OpenAI list-models shape consumed by OpenAI-compatible clients.
func (h *ModelsHandler) HandleListOpenAI(w http.ResponseWriter, _ *http.Request) {
	models := h.catalog.List()
	data := make([]openAIModel, 0, len(models))
	for _, m := range models {
		data = append(data, openAIModel{ID: m.Name, Object: "model", OwnedBy: "llm-router"})
	}
	WriteJSON(w, http.StatusOK, openAIModelList{Object: "list", Data: data})
}

// HandleCreate implements POST /api/models: add or update a catalog entry.
func (h *ModelsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req putModelRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Name == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "name is required", h.logger)
		return
	}

	model := catalog.ModelInfo{Name: req.Name, Description: req.Description, SizeBytes: req.SizeBytes}
	if err := h.catalog.Put(model); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{Success: true, Data: model})
}

// HandleDelete implements DELETE /api/models/{name}.
func (h *ModelsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.catalog.Remove(name); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"status": "deleted"})
}

// HandleDistribute implements POST /api/models/distribute: creates one
// download task per target node and dispatches a pull request to each.
func (h *ModelsHandler) HandleDistribute(w http.ResponseWriter, r *http.Request) {
	var req distributeModelsRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.ModelName == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "model_name is required", h.logger)
		return
	}

	var nodeIDs []string
	switch req.Target {
	case "all":
		for _, n := range h.registry.List() {
			nodeIDs = append(nodeIDs, n.ID)
		}
	case "specific":
		nodeIDs = req.AgentIDs
	default:
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "target must be 'all' or 'specific'", h.logger)
		return
	}

	taskIDs := make([]string, 0, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		node, err := h.registry.Get(nodeID)
		if err != nil {
			h.logger.Warn("skipping unknown node in distribution", zap.String("node_id", nodeID), zap.Error(err))
			continue
		}
		task := h.tasks.CreateTask(node.ID, req.ModelName)
		h.dispatcher.Dispatch(r.Context(), node, task)
		taskIDs = append(taskIDs, task.ID)
	}

	WriteJSON(w, http.StatusAccepted, Response{Success: true, Data: distributeModelsResponse{TaskIDs: taskIDs}})
}

// HandlePullToAgent implements POST /api/agents/{id}/models/pull: triggers a
// single-node pull outside of a fleet-wide distribution.
func (h *ModelsHandler) HandlePullToAgent(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")
	node, err := h.registry.Get(nodeID)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	var req pullModelRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.ModelName == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "model_name is required", h.logger)
		return
	}

	task := h.tasks.CreateTask(node.ID, req.ModelName)
	h.dispatcher.Dispatch(r.Context(), node, task)

	WriteJSON(w, http.StatusAccepted, Response{Success: true, Data: pullModelResponse{TaskID: task.ID}})
}

func (h *ModelsHandler) writeErr(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*types.Error); ok {
		WriteError(w, apiErr, h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
}

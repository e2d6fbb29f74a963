package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/akiojin/llm-router/internal/auth"
	"github.com/akiojin/llm-router/internal/loadmanager"
	"github.com/akiojin/llm-router/internal/protocol"
	"github.com/akiojin/llm-router/internal/registry"
	"github.com/akiojin/llm-router/types"
)

// NodesHandler implements the Node Registration HTTP surface: POST/GET
// /api/nodes and the agent heartbeat, POST /api/health.
type NodesHandler struct {
	registry *registry.Registry
	load     *loadmanager.Manager
	prober   *RuntimeProber
	logger   *zap.Logger
}

// NewNodesHandler builds a NodesHandler.
func NewNodesHandler(reg *registry.Registry, load *loadmanager.Manager, logger *zap.Logger) *NodesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NodesHandler{registry: reg, load: load, logger: logger}
}

// WithRuntimeProbe enables the registration-time reachability probe of the
// joining node's runtime. Deployments set LLM_ROUTER_SKIP_HEALTH_CHECK to
// leave it off (tests, or agents behind NAT the router can't dial back).
func (h *NodesHandler) WithRuntimeProbe(prober *RuntimeProber) *NodesHandler {
	h.prober = prober
	return h
}

// RuntimeProber checks that a registering node's LLM runtime actually
// answers HTTP before the node is admitted to the fleet.
type RuntimeProber struct {
	client *http.Client
	logger *zap.Logger
}

// NewRuntimeProber builds a RuntimeProber; client should carry a short
// timeout (seconds, not the inference upstream timeout).
func NewRuntimeProber(client *http.Client, logger *zap.Logger) *RuntimeProber {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuntimeProber{client: client, logger: logger}
}

// Probe dials the runtime's root endpoint. Any HTTP response counts as
// alive; only a transport failure fails the probe.
func (p *RuntimeProber) Probe(ctx context.Context, ipAddress string, runtimePort uint16) error {
	url := fmt.Sprintf("http://%s:%d/", ipAddress, runtimePort)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("runtime probe failed", zap.String("url", url), zap.Error(err))
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// HandleRegister implements POST /api/nodes. First registration requires no
// credential; a re-registration of an already-known machine_name must carry
// a valid X-Agent-Token for that node (the idempotent-registration
// invariant).
func (h *NodesHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	// Probe only after the GPU invariant would pass; an invalid request
	// must fail validation without the node ever being dialed.
	if h.prober != nil && protocol.GPUValid(req.GPUAvailable, req.GPUDevices) {
		if err := h.prober.Probe(r.Context(), req.IPAddress, req.RuntimePort); err != nil {
			apiErr := types.NewError(types.ErrHTTP, "node runtime is not reachable, retry once it is up").
				WithCause(err).
				WithHTTPStatus(http.StatusBadGateway).
				WithRetryable(true)
			WriteError(w, apiErr, h.logger)
			return
		}
	}

	resp, err := h.registry.Register(req)
	if err != nil {
		// The GPU-required validation error is a pre-existing external
		// contract: a flat {"error": "<message>"} body, not the standard
		// Response envelope used elsewhere.
		if apiErr, ok := err.(*types.Error); ok && apiErr.Code == types.ErrValidation {
			WriteJSON(w, apiErr.HTTPStatus, map[string]string{"error": apiErr.Message})
			return
		}
		h.writeRegistryError(w, err)
		return
	}

	if resp.Status == protocol.StatusUpdated {
		principal := auth.PrincipalFromContext(r.Context())
		token, ok := principal.AgentTokenValue()
		if !ok {
			WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "agent token required to update an existing node", h.logger)
			return
		}
		if principal.Kind != types.PrincipalAuthDisabled {
			if verr := h.registry.VerifyAgentToken(resp.NodeID, token); verr != nil {
				h.writeRegistryError(w, verr)
				return
			}
		}
	}

	status := http.StatusCreated
	if resp.Status == protocol.StatusUpdated {
		status = http.StatusOK
	}
	WriteJSON(w, status, Response{Success: true, Data: resp})
}

// HandleList implements GET /api/nodes.
func (h *NodesHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, h.registry.List())
}

// HandleHeartbeat implements POST /api/health: an agent's periodic metrics
// report. Updates both the Node Registry's presence/model fields and the
// Load Manager's per-node load snapshot.
func (h *NodesHandler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req protocol.HealthCheckRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	principal := auth.PrincipalFromContext(r.Context())
	token, ok := principal.AgentTokenValue()
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrAuthentication, "agent token required", h.logger)
		return
	}
	if principal.Kind != types.PrincipalAuthDisabled {
		if err := h.registry.VerifyAgentToken(req.NodeID, token); err != nil {
			h.writeRegistryError(w, err)
			return
		}
	}

	update := registry.HeartbeatUpdate{
		LoadedModels: req.LoadedModels,
		Initializing: req.Initializing,
		ReadyModels:  req.ReadyModels,
	}
	if err := h.registry.UpdateLastSeen(req.NodeID, update); err != nil {
		h.writeRegistryError(w, err)
		return
	}

	if err := h.load.RecordMetrics(req.NodeID, req.CPUUsage, req.MemoryUsage, req.ActiveRequests); err != nil {
		h.logger.Warn("failed to record load metrics", zap.String("node_id", req.NodeID), zap.Error(err))
	}

	WriteSuccess(w, map[string]string{"status": "ok"})
}

// HandleRotateToken implements POST /api/nodes/{id}/rotate-token: an
// admin-only supplement that mints a fresh agent token for a node,
// invalidating its previous one.
func (h *NodesHandler) HandleRotateToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.registry.RotateToken(r.PathValue("id"))
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}
	WriteSuccess(w, map[string]string{"agent_token": token})
}

func (h *NodesHandler) writeRegistryError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*types.Error); ok {
		WriteError(w, apiErr, h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
}

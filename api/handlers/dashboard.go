package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/akiojin/llm-router/internal/cache"
	"github.com/akiojin/llm-router/internal/history"
	"github.com/akiojin/llm-router/internal/loadmanager"
	"github.com/akiojin/llm-router/internal/logsink"
	"github.com/akiojin/llm-router/internal/protocol"
	"github.com/akiojin/llm-router/internal/registry"
	"github.com/akiojin/llm-router/types"
)

// DashboardHandler implements the aggregated read-only dashboard views:
// GET /api/dashboard/{nodes,stats,overview,request-history,logs/coordinator,
// logs/nodes/:id}. It composes the Node Registry, Load Manager, and Request
// History components rather than owning any state of its own.
type DashboardHandler struct {
	registry *registry.Registry
	load     *loadmanager.Manager
	history  *history.Store
	logProxy *logsink.NodeLogProxy
	logDir   string
	logger   *zap.Logger

	snapshots    *cache.Manager
	snapshotsTTL time.Duration
}

// NewDashboardHandler builds a DashboardHandler. logDir is the coordinator's
// own structured-log directory (internal/logsink); logProxy relays a node's
// /api/logs endpoint through a bounded pool.
func NewDashboardHandler(reg *registry.Registry, load *loadmanager.Manager, hist *history.Store, logProxy *logsink.NodeLogProxy, logDir string, logger *zap.Logger) *DashboardHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardHandler{registry: reg, load: load, history: hist, logProxy: logProxy, logDir: logDir, logger: logger.With(zap.String("component", "dashboard"))}
}

// WithSnapshotCache shares node/stats snapshot responses through Redis for
// multi-replica dashboard deployments. Reads fall back to the in-process
// view on any cache error; the cache is an optimization, never a
// correctness dependency.
func (h *DashboardHandler) WithSnapshotCache(c *cache.Manager, ttl time.Duration) *DashboardHandler {
	h.snapshots = c
	h.snapshotsTTL = ttl
	return h
}

// HandleNodes implements GET /api/dashboard/nodes: every node paired with
// its current load snapshot.
func (h *DashboardHandler) HandleNodes(w http.ResponseWriter, r *http.Request) {
	if h.snapshots != nil {
		var cached []*loadmanager.Snapshot
		if err := h.snapshots.GetJSON(r.Context(), "dashboard:nodes", &cached); err == nil {
			WriteSuccess(w, cached)
			return
		}
	}

	snaps := h.load.Snapshots()
	if h.snapshots != nil {
		if err := h.snapshots.SetJSON(r.Context(), "dashboard:nodes", snaps, h.snapshotsTTL); err != nil {
			h.logger.Warn("failed to cache node snapshots", zap.Error(err))
		}
	}
	WriteSuccess(w, snaps)
}

// HandleStats implements GET /api/dashboard/stats: fleet-wide load summary.
func (h *DashboardHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if h.snapshots != nil {
		var cached loadmanager.Summary
		if err := h.snapshots.GetJSON(r.Context(), "dashboard:stats", &cached); err == nil {
			WriteSuccess(w, &cached)
			return
		}
	}

	summary := h.load.Summary()
	if h.snapshots != nil {
		if err := h.snapshots.SetJSON(r.Context(), "dashboard:stats", summary, h.snapshotsTTL); err != nil {
			h.logger.Warn("failed to cache fleet summary", zap.Error(err))
		}
	}
	WriteSuccess(w, summary)
}

type overviewResponse struct {
	Fleet          *loadmanager.Summary       `json:"fleet"`
	History        history.Summary           `json:"history"`
	RecentRequests []*protocol.RequestRecord `json:"recent_requests"`
}

// HandleOverview implements GET /api/dashboard/overview: a single combined
// view of fleet load and recent request volume, built for a dashboard
// landing page that would otherwise need three separate calls.
func (h *DashboardHandler) HandleOverview(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, overviewResponse{
		Fleet:          h.load.Summary(),
		History:        h.history.Summary(),
		RecentRequests: h.history.Recent(10),
	})
}

// HandleRequestHistory implements GET /api/dashboard/request-history: the
// recent-request deque, optionally filtered by node_id, plus the trailing
// 60-minute aggregation buckets.
func (h *DashboardHandler) HandleRequestHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	var records any
	if nodeID := r.URL.Query().Get("node_id"); nodeID != "" {
		records = h.history.ByNode(nodeID, limit)
	} else {
		records = h.history.Recent(limit)
	}

	WriteSuccess(w, requestHistoryResponse{
		Records: records,
		Buckets: h.history.Buckets(time.Now().UTC()),
		Dropped: h.history.DroppedWrites(),
	})
}

type requestHistoryResponse struct {
	Records any                    `json:"records"`
	Buckets []history.MinuteBucket `json:"buckets"`
	Dropped uint64                 `json:"dropped_writes"`
}

// HandleCoordinatorLogs implements GET /api/dashboard/logs/coordinator: the
// router's own recent structured log lines.
func (h *DashboardHandler) HandleCoordinatorLogs(w http.ResponseWriter, r *http.Request) {
	tail := 200
	if raw := r.URL.Query().Get("tail"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			tail = n
		}
	}

	entries, err := logsink.Tail(h.logDir, tail)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"entries": entries})
}

// HandleNodeLogs implements GET /api/dashboard/logs/nodes/{id}: relays the
// target node's own /api/logs endpoint through the bounded log-tail pool.
func (h *DashboardHandler) HandleNodeLogs(w http.ResponseWriter, r *http.Request) {
	tail := 200
	if raw := r.URL.Query().Get("tail"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			tail = n
		}
	}

	node, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}

	body, err := h.logProxy.FetchNodeLogs(r.Context(), node, tail)
	if err != nil {
		WriteErrorMessage(w, http.StatusBadGateway, types.ErrHTTP, "failed to fetch node logs: "+err.Error(), h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *DashboardHandler) writeErr(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*types.Error); ok {
		WriteError(w, apiErr, h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, err.Error(), h.logger)
}

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akiojin/llm-router/api/handlers"
	"github.com/akiojin/llm-router/internal/circuitbreaker"
	"github.com/akiojin/llm-router/internal/history"
	"github.com/akiojin/llm-router/internal/loadmanager"
	"github.com/akiojin/llm-router/internal/protocol"
	"github.com/akiojin/llm-router/internal/registry"
	"github.com/akiojin/llm-router/types"
)

// maxRequestBodyBytes bounds the client request body the proxy will buffer
// in order to inspect the "model" field and forward it upstream.
const maxRequestBodyBytes = 32 << 20

// maxRecordedBodyBytes bounds how much of a request/response body is kept in
// a protocol.RequestRecord — large bodies are truncated rather than held in memory
// for the life of the in-process ring buffer.
const maxRecordedBodyBytes = 16 << 10

// Handler implements the OpenAI/Ollama-compatible proxy: select an agent for
// the requested model, forward the request body verbatim, and relay the
// response back either streamed (SSE passthrough) or buffered.
type Handler struct {
	registry *registry.Registry
	load     *loadmanager.Manager
	history  *history.Store
	client   *http.Client
	timeout  time.Duration
	logger   *zap.Logger

	// breakers fast-fail nodes whose transport keeps erroring, one
	// breaker per node id. Only connection-level failures count; an
	// upstream HTTP error status is the agent answering, not the
	// transport failing.
	breakersMu sync.Mutex
	breakers   map[string]circuitbreaker.CircuitBreaker
}

// NewHandler builds a proxy Handler. A non-positive timeout disables the
// per-request upstream deadline (not recommended outside tests). A nil
// client defaults to a bare &http.Client{}; callers wanting TLS-hardened
// transport (internal/tlsutil) for nodes reachable over https:// pass one
// in.
func NewHandler(reg *registry.Registry, load *loadmanager.Manager, hist *history.Store, client *http.Client, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Handler{
		registry: reg,
		load:     load,
		history:  hist,
		client:   client,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "proxy")),
		breakers: make(map[string]circuitbreaker.CircuitBreaker),
	}
}

func (h *Handler) breakerFor(nodeID string) circuitbreaker.CircuitBreaker {
	h.breakersMu.Lock()
	defer h.breakersMu.Unlock()

	b, ok := h.breakers[nodeID]
	if !ok {
		b = circuitbreaker.New(nil, h.logger.With(zap.String("node_id", nodeID)))
		h.breakers[nodeID] = b
	}
	return b
}

// modelPeek is decoded from the client body only to discover which model is
// being requested; the original bytes, not this struct, are forwarded.
type modelPeek struct {
	Model string `json:"model"`
}

// route describes one proxied endpoint.
type route struct {
	requestType  protocol.RequestType
	upstreamPath string
	openAIShape  bool
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, rt route) {
	started := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		h.writeError(w, rt.openAIShape, http.StatusBadRequest, types.ErrValidation, "failed to read request body")
		return
	}

	var peek modelPeek
	if err := json.Unmarshal(body, &peek); err != nil || peek.Model == "" {
		h.writeError(w, rt.openAIShape, http.StatusBadRequest, types.ErrValidation, "request body must include a non-empty \"model\" field")
		return
	}

	node, err := h.load.SelectAgentForModel(peek.Model)
	if err != nil {
		h.writeSelectionError(w, rt, err)
		return
	}

	guard, err := h.load.Begin(node.ID)
	if err != nil {
		h.writeSelectionError(w, rt, err)
		return
	}
	defer guard.Close()

	ctx := r.Context()
	var cancel context.CancelFunc
	if h.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	upstreamURL := fmt.Sprintf("http://%s:%d%s", node.IPAddress, node.APIPort, rt.upstreamPath)
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL, bytes.NewReader(body))
	if err != nil {
		h.recordFailure(r, rt, node, body, started, "failed to build upstream request")
		h.writeError(w, rt.openAIShape, http.StatusInternalServerError, types.ErrInternalError, "failed to build upstream request")
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		upstreamReq.Header.Set("Content-Type", ct)
	} else {
		upstreamReq.Header.Set("Content-Type", "application/json")
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		upstreamReq.Header.Set("Accept", accept)
	}

	var resp *http.Response
	err = h.breakerFor(node.ID).Call(ctx, func() error {
		var doErr error
		resp, doErr = h.client.Do(upstreamReq)
		return doErr
	})
	if err != nil {
		h.logger.Warn("upstream request failed",
			zap.String("node_id", node.ID),
			zap.String("machine_name", node.MachineName),
			zap.Error(err),
		)
		h.recordFailure(r, rt, node, body, started, err.Error())
		if err == circuitbreaker.ErrCircuitOpen || err == circuitbreaker.ErrTooManyCallsInHalfOpen {
			h.writeError(w, rt.openAIShape, http.StatusServiceUnavailable, types.ErrNoAgentsAvailable, "selected agent is temporarily unavailable")
			return
		}
		h.writeError(w, rt.openAIShape, http.StatusBadGateway, types.ErrHTTP, "upstream agent request failed")
		return
	}
	defer resp.Body.Close()

	if isEventStream(resp.Header.Get("Content-Type")) {
		h.relayStream(w, resp, guard, r, rt, node, body, started)
		return
	}
	h.relayBuffered(w, resp, guard, r, rt, node, body, started)
}

func isEventStream(contentType string) bool {
	return len(contentType) >= len("text/event-stream") && contentType[:len("text/event-stream")] == "text/event-stream"
}

func (h *Handler) relayBuffered(w http.ResponseWriter, resp *http.Response, guard *loadmanager.RequestGuard, r *http.Request, rt route, node *protocol.Node, reqBody []byte, started time.Time) {
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBodyBytes))
	if err != nil {
		h.recordFailure(r, rt, node, reqBody, started, "failed to read upstream response")
		h.writeError(w, rt.openAIShape, http.StatusBadGateway, types.ErrHTTP, "failed to read upstream response")
		return
	}

	if resp.StatusCode >= 400 {
		h.record(r, rt, node, reqBody, respBody, started, protocol.OutcomeError, fmt.Sprintf("upstream status %d", resp.StatusCode))
		h.writeUpstreamError(w, rt.openAIShape, resp.StatusCode, respBody)
		return
	}

	guard.Succeed()
	h.record(r, rt, node, reqBody, respBody, started, protocol.OutcomeSuccess, "")

	copyResponseHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

func (h *Handler) relayStream(w http.ResponseWriter, resp *http.Response, guard *loadmanager.RequestGuard, r *http.Request, rt route, node *protocol.Node, reqBody []byte, started time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.recordFailure(r, rt, node, reqBody, started, "response writer does not support streaming")
		h.writeError(w, rt.openAIShape, http.StatusInternalServerError, types.ErrInternalError, "streaming not supported by this server")
		return
	}

	copyResponseHeaders(w, resp)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(resp.StatusCode)
	flusher.Flush()

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				h.recordFailure(r, rt, node, reqBody, started, "client disconnected during stream")
				guard.Close()
				return
			}
			flusher.Flush()
		}
		if readErr != nil {
			if readErr != io.EOF {
				h.record(r, rt, node, reqBody, nil, started, protocol.OutcomeError, readErr.Error())
				return
			}
			break
		}
	}

	if resp.StatusCode < 400 {
		guard.Succeed()
		h.record(r, rt, node, reqBody, nil, started, protocol.OutcomeSuccess, "")
	} else {
		h.record(r, rt, node, reqBody, nil, started, protocol.OutcomeError, fmt.Sprintf("upstream status %d", resp.StatusCode))
	}
}

func copyResponseHeaders(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
}

func (h *Handler) recordFailure(r *http.Request, rt route, node *protocol.Node, reqBody []byte, started time.Time, message string) {
	h.record(r, rt, node, reqBody, nil, started, protocol.OutcomeError, message)
}

func (h *Handler) record(r *http.Request, rt route, node *protocol.Node, reqBody, respBody []byte, started time.Time, outcome protocol.RequestOutcome, errMessage string) {
	if h.history == nil {
		return
	}

	var peek modelPeek
	_ = json.Unmarshal(reqBody, &peek)

	rec := &protocol.RequestRecord{
		ID:              requestID(r),
		Timestamp:       started.UTC(),
		RequestType:     rt.requestType,
		Model:           peek.Model,
		NodeID:          node.ID,
		NodeMachineName: node.MachineName,
		NodeIP:          node.IPAddress,
		ClientIP:        r.RemoteAddr,
		RequestBody:     truncate(reqBody),
		ResponseBody:    truncate(respBody),
		DurationMs:      time.Since(started).Milliseconds(),
		Outcome:         outcome,
		ErrorMessage:    errMessage,
		CompletedAt:     time.Now().UTC(),
	}
	h.history.Record(r.Context(), rec)
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return ""
}

func truncate(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}
	if len(body) <= maxRecordedBodyBytes {
		return body
	}
	return body[:maxRecordedBodyBytes]
}

func (h *Handler) writeSelectionError(w http.ResponseWriter, rt route, err error) {
	if apiErr, ok := err.(*types.Error); ok {
		status := apiErr.HTTPStatus
		if status == 0 {
			status = http.StatusServiceUnavailable
		}
		h.writeError(w, rt.openAIShape, status, apiErr.Code, apiErr.Message)
		return
	}
	h.writeError(w, rt.openAIShape, http.StatusInternalServerError, types.ErrInternalError, err.Error())
}

// writeError renders a pre-upstream failure (bad request, no agent
// available) in the shape appropriate to the route family: the router's
// envelope for Ollama-native /api/* routes, an OpenAI-style {"error":{...}}
// object for /v1/* routes.
func (h *Handler) writeError(w http.ResponseWriter, openAIShape bool, status int, code types.ErrorCode, message string) {
	if !openAIShape {
		handlers.WriteErrorMessage(w, status, code, message, h.logger)
		return
	}

	writeJSONError(w, status, openAIErrorType(code), message, nil)
}

// writeUpstreamError forwards an error response from the selected agent. For
// /api/* routes the upstream body is passed through byte for byte; for
// /v1/* routes it is wrapped in the OpenAI error envelope since clients of
// those routes only understand that shape.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, openAIShape bool, status int, body []byte) {
	if !openAIShape {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write(body)
		return
	}

	code := status
	writeJSONError(w, status, "ollama_upstream_error", string(body), &code)
}

func writeJSONError(w http.ResponseWriter, status int, errType, message string, code *int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	payload := map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	}
	if code == nil {
		payload["error"].(map[string]any)["code"] = status
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func openAIErrorType(code types.ErrorCode) string {
	switch code {
	case types.ErrValidation:
		return "invalid_request_error"
	case types.ErrNoAgentsAvailable:
		return "server_error"
	case types.ErrAuthentication, types.ErrAuthorization:
		return "authentication_error"
	default:
		return "server_error"
	}
}

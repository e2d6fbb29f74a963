package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akiojin/llm-router/internal/history"
	"github.com/akiojin/llm-router/internal/loadmanager"
	"github.com/akiojin/llm-router/internal/protocol"
	"github.com/akiojin/llm-router/internal/registry"
)

func newTestHandler(t *testing.T, upstream *httptest.Server) (*Handler, *registry.Registry) {
	t.Helper()

	reg, err := registry.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	host := strings.TrimPrefix(upstream.URL, "http://")
	parts := strings.Split(host, ":")
	require.Len(t, parts, 2)
	portNum, err := strconv.ParseUint(parts[1], 10, 16)
	require.NoError(t, err)
	port := uint16(portNum)

	resp, err := reg.Register(protocol.RegisterRequest{
		MachineName:    "gpu-box-1",
		IPAddress:      parts[0],
		RuntimeVersion: "0.1.0",
		RuntimePort:    port,
		APIPort:        &port,
		GPUAvailable:   true,
		GPUDevices:     []protocol.GPUDevice{{Model: "RTX 4090", Count: 1}},
	})
	require.NoError(t, err)

	require.NoError(t, reg.UpdateLastSeen(resp.NodeID, registry.HeartbeatUpdate{
		LoadedModels: []string{"llama3"},
	}))

	load := loadmanager.New(reg)
	hist, err := history.New(history.Config{}, zap.NewNop())
	require.NoError(t, err)

	return NewHandler(reg, load, hist, nil, 5*time.Second, zap.NewNop()), reg
}

func TestHandler_HandleChat_BuffersUpstreamResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "llama3")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"hi"}}`))
	}))
	defer upstream.Close()

	handler, _ := newTestHandler(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"model":"llama3","messages":[]}`))
	rec := httptest.NewRecorder()

	handler.HandleChat(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "assistant")
}

func TestHandler_HandleChatCompletions_MissingModel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be called without a model")
	}))
	defer upstream.Close()

	handler, _ := newTestHandler(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()

	handler.HandleChatCompletions(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request_error")
}

func TestHandler_HandleGenerate_NoAgentForModel(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be called for an unknown model")
	}))
	defer upstream.Close()

	handler, _ := newTestHandler(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"model":"unknown-model","prompt":"hi"}`))
	rec := httptest.NewRecorder()

	handler.HandleGenerate(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_HandleChatCompletions_UpstreamErrorWrapped(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer upstream.Close()

	handler, _ := newTestHandler(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"llama3","messages":[]}`))
	rec := httptest.NewRecorder()

	handler.HandleChatCompletions(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "ollama_upstream_error")
}

// newFleetHandler registers n nodes, all pointing at the same stub
// upstream, each with loaded model "llama3" and heartbeat metrics at the
// given CPU level.
func newFleetHandler(t *testing.T, upstream *httptest.Server, n int, cpu float32) (*Handler, *loadmanager.Manager) {
	t.Helper()

	reg, err := registry.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	host := strings.TrimPrefix(upstream.URL, "http://")
	parts := strings.Split(host, ":")
	require.Len(t, parts, 2)
	portNum, err := strconv.ParseUint(parts[1], 10, 16)
	require.NoError(t, err)
	port := uint16(portNum)

	load := loadmanager.New(reg)

	for i := 0; i < n; i++ {
		resp, err := reg.Register(protocol.RegisterRequest{
			MachineName:    "gpu-box-" + strconv.Itoa(i),
			IPAddress:      parts[0],
			RuntimeVersion: "0.1.0",
			RuntimePort:    port,
			APIPort:        &port,
			GPUAvailable:   true,
			GPUDevices:     []protocol.GPUDevice{{Model: "RTX 4090", Count: 1}},
		})
		require.NoError(t, err)
		require.NoError(t, reg.UpdateLastSeen(resp.NodeID, registry.HeartbeatUpdate{
			LoadedModels: []string{"llama3"},
		}))
		require.NoError(t, load.RecordMetrics(resp.NodeID, cpu, 40.0, 0))
	}

	hist, err := history.New(history.Config{}, zap.NewNop())
	require.NoError(t, err)

	return NewHandler(reg, load, hist, nil, 5*time.Second, zap.NewNop()), load
}

func assignmentCounts(load *loadmanager.Manager) map[string]uint64 {
	counts := make(map[string]uint64)
	for _, snap := range load.Snapshots() {
		counts[snap.MachineName] = snap.TotalRequests
	}
	return counts
}

// Nine sequential requests across three equally-loaded capable nodes land
// three on each.
func TestHandler_SequentialCallsDistributeEvenly(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"done":true}`))
	}))
	defer upstream.Close()

	handler, load := newFleetHandler(t, upstream, 3, 35.0)

	for i := 0; i < 9; i++ {
		rec := httptest.NewRecorder()
		handler.HandleChat(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"model":"llama3"}`)))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	for name, count := range assignmentCounts(load) {
		assert.EqualValues(t, 3, count, name)
	}
}

// With every node saturated past the CPU threshold, selection still
// proceeds round-robin instead of failing, and stays fair.
func TestHandler_HighCPUFallsBackToRoundRobin(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"done":true}`))
	}))
	defer upstream.Close()

	handler, load := newFleetHandler(t, upstream, 3, 95.0)

	for i := 0; i < 9; i++ {
		rec := httptest.NewRecorder()
		handler.HandleChat(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"model":"llama3"}`)))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	for name, count := range assignmentCounts(load) {
		assert.EqualValues(t, 3, count, name)
	}
}

func TestHandler_HandleChat_StreamsSSEPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"chunk\":1}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: {\"chunk\":2}\n\n"))
		flusher.Flush()
	}))
	defer upstream.Close()

	handler, _ := newTestHandler(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"model":"llama3","stream":true}`))
	rec := httptest.NewRecorder()

	handler.HandleChat(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"chunk\":1")
	assert.Contains(t, rec.Body.String(), "\"chunk\":2")
}

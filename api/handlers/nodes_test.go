package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akiojin/llm-router/internal/auth"
	"github.com/akiojin/llm-router/internal/loadmanager"
	"github.com/akiojin/llm-router/internal/protocol"
	"github.com/akiojin/llm-router/internal/registry"
	"github.com/akiojin/llm-router/types"
)

func newNodesHandler(t *testing.T) *NodesHandler {
	t.Helper()
	reg, err := registry.New(t.TempDir(), nil)
	require.NoError(t, err)
	load := loadmanager.New(reg)
	return NewNodesHandler(reg, load, nil)
}

// Registering an agent that claims GPU availability but lists no GPU
// devices must fail with a flat {"error": "<message>"} body, not the
// standard Response envelope.
func TestHandleRegister_GPURequired(t *testing.T) {
	h := newNodesHandler(t)

	body, err := json.Marshal(protocol.RegisterRequest{
		MachineName:    "gpu-node",
		IPAddress:      "10.0.0.10",
		RuntimeVersion: "0.1.42",
		RuntimePort:    11434,
		GPUAvailable:   true,
		GPUDevices:     nil,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/nodes", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleRegister(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t,
		`{"error":"検証エラー: GPU hardware is required for agent registration. No GPU devices detected in gpu_devices array."}`,
		rec.Body.String(),
	)
}

// A valid GPU-equipped registration returns 201 with a new node_id and a
// non-empty agent_token, and the node is visible via a subsequent list.
func TestHandleRegister_Success(t *testing.T) {
	h := newNodesHandler(t)

	body, err := json.Marshal(protocol.RegisterRequest{
		MachineName:    "gpu-node",
		IPAddress:      "10.0.0.10",
		RuntimeVersion: "0.1.42",
		RuntimePort:    11434,
		GPUAvailable:   true,
		GPUDevices:     []protocol.GPUDevice{{Model: "NVIDIA RTX 4090", Count: 2}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/nodes", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleRegister(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var registerResp protocol.RegisterResponse
	require.NoError(t, json.Unmarshal(data, &registerResp))

	assert.Equal(t, protocol.StatusRegistered, registerResp.Status)
	assert.NotEmpty(t, registerResp.NodeID)
	assert.NotEmpty(t, registerResp.AgentToken)

	listReq := httptest.NewRequest(http.MethodGet, "/api/nodes", nil)
	listRec := httptest.NewRecorder()
	h.HandleList(listRec, listReq)

	var listResp Response
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listResp))
	nodesData, err := json.Marshal(listResp.Data)
	require.NoError(t, err)
	var nodes []*protocol.Node
	require.NoError(t, json.Unmarshal(nodesData, &nodes))

	require.Len(t, nodes, 1)
	require.Len(t, nodes[0].GPUDevices, 1)
	assert.EqualValues(t, 2, nodes[0].GPUDevices[0].Count)
}

func TestHandleRegister_ProbeFailureRejectsRegistration(t *testing.T) {
	h := newNodesHandler(t).WithRuntimeProbe(NewRuntimeProber(&http.Client{Timeout: 200 * time.Millisecond}, nil))

	// 203.0.113.0/24 is TEST-NET-3; nothing answers there.
	body, err := json.Marshal(protocol.RegisterRequest{
		MachineName:    "unreachable-node",
		IPAddress:      "203.0.113.7",
		RuntimeVersion: "0.1.42",
		RuntimePort:    11434,
		GPUAvailable:   true,
		GPUDevices:     []protocol.GPUDevice{{Model: "NVIDIA RTX 4090", Count: 1}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/nodes", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleRegister(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.True(t, resp.Error.Retryable)
}

func TestHandleRegister_ProbeReachableRuntime(t *testing.T) {
	runtime := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Ollama is running"))
	}))
	defer runtime.Close()

	u, err := url.Parse(runtime.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	h := newNodesHandler(t).WithRuntimeProbe(NewRuntimeProber(runtime.Client(), nil))

	body, err := json.Marshal(protocol.RegisterRequest{
		MachineName:    "reachable-node",
		IPAddress:      u.Hostname(),
		RuntimeVersion: "0.1.42",
		RuntimePort:    uint16(port),
		GPUAvailable:   true,
		GPUDevices:     []protocol.GPUDevice{{Model: "NVIDIA RTX 4090", Count: 1}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/nodes", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleRegister(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

// A heartbeat for a node_id the registry has never seen is rejected.
func TestHandleHeartbeat_UnknownNode(t *testing.T) {
	h := newNodesHandler(t)

	body, err := json.Marshal(protocol.HealthCheckRequest{NodeID: "does-not-exist"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/health", bytes.NewReader(body))
	req = req.WithContext(auth.WithPrincipal(req.Context(), &types.Principal{Kind: types.PrincipalAuthDisabled}))
	rec := httptest.NewRecorder()

	h.HandleHeartbeat(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akiojin/llm-router/internal/catalog"
	"github.com/akiojin/llm-router/internal/protocol"
	"github.com/akiojin/llm-router/internal/registry"
	"github.com/akiojin/llm-router/internal/tasks"
	"github.com/akiojin/llm-router/testutil"
)

// stubAgent runs an httptest server standing in for a node's router-facing
// API, counting /pull requests.
func stubAgent(t *testing.T) (*httptest.Server, *atomic.Int32, string, uint16) {
	t.Helper()

	var pulls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pull" {
			pulls.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return srv, &pulls, u.Hostname(), uint16(port)
}

func newModelsHandler(t *testing.T, reg *registry.Registry) (*ModelsHandler, *tasks.Manager) {
	t.Helper()

	cat, err := catalog.New(t.TempDir(), nil)
	require.NoError(t, err)

	mgr := tasks.New()
	dispatcher := tasks.NewDispatcher(&http.Client{Timeout: 5 * time.Second}, mgr, nil)
	return NewModelsHandler(cat, reg, mgr, dispatcher, nil), mgr
}

func registerStubNode(t *testing.T, reg *registry.Registry, machineName, ip string, apiPort uint16) string {
	t.Helper()

	port := apiPort
	resp, err := reg.Register(protocol.RegisterRequest{
		MachineName:    machineName,
		IPAddress:      ip,
		RuntimeVersion: "0.1.42",
		RuntimePort:    apiPort - 1,
		APIPort:        &port,
		GPUAvailable:   true,
		GPUDevices:     []protocol.GPUDevice{{Model: "NVIDIA RTX 4090", Count: 1}},
	})
	require.NoError(t, err)
	return resp.NodeID
}

func TestModelsHandler_CatalogCRUD(t *testing.T) {
	reg, err := registry.New(t.TempDir(), nil)
	require.NoError(t, err)
	h, _ := newModelsHandler(t, reg)

	body := []byte(`{"name":"gpt-oss:20b","description":"general model","size_bytes":13000000000}`)
	rec := httptest.NewRecorder()
	h.HandleCreate(rec, httptest.NewRequest(http.MethodPost, "/api/models", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleList(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, _ := json.Marshal(resp.Data)
	var models []catalog.ModelInfo
	require.NoError(t, json.Unmarshal(data, &models))
	require.Len(t, models, 1)
	assert.Equal(t, "gpt-oss:20b", models[0].Name)

	req := httptest.NewRequest(http.MethodDelete, "/api/models/gpt-oss:20b", nil)
	req.SetPathValue("name", "gpt-oss:20b")
	rec = httptest.NewRecorder()
	h.HandleDelete(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestModelsHandler_ListOpenAIShape(t *testing.T) {
	reg, err := registry.New(t.TempDir(), nil)
	require.NoError(t, err)
	h, _ := newModelsHandler(t, reg)

	body := []byte(`{"name":"gpt-oss:20b"}`)
	rec := httptest.NewRecorder()
	h.HandleCreate(rec, httptest.NewRequest(http.MethodPost, "/api/models", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleListOpenAI(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Object string `json:"object"`
		Data   []struct {
			ID     string `json:"id"`
			Object string `json:"object"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "gpt-oss:20b", list.Data[0].ID)
	assert.Equal(t, "model", list.Data[0].Object)
}

func TestModelsHandler_DistributeReturns202AndDispatches(t *testing.T) {
	_, pulls, ip, port := stubAgent(t)

	reg, err := registry.New(t.TempDir(), nil)
	require.NoError(t, err)
	registerStubNode(t, reg, "stub-node", ip, port)

	h, mgr := newModelsHandler(t, reg)

	body := []byte(`{"model_name":"gpt-oss:20b","target":"all"}`)
	rec := httptest.NewRecorder()
	h.HandleDistribute(rec, httptest.NewRequest(http.MethodPost, "/api/models/distribute", bytes.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data, _ := json.Marshal(resp.Data)
	var out struct {
		TaskIDs []string `json:"task_ids"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.TaskIDs, 1)

	task, err := mgr.Get(out.TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "gpt-oss:20b", task.ModelName)

	// The pull POST is fire-and-forget; wait for the stub to see it.
	testutil.AssertEventuallyTrue(t, func() bool {
		return pulls.Load() == 1
	}, 5*time.Second)
}

func TestModelsHandler_DistributeValidatesTarget(t *testing.T) {
	reg, err := registry.New(t.TempDir(), nil)
	require.NoError(t, err)
	h, _ := newModelsHandler(t, reg)

	body := []byte(`{"model_name":"gpt-oss:20b","target":"everything"}`)
	rec := httptest.NewRecorder()
	h.HandleDistribute(rec, httptest.NewRequest(http.MethodPost, "/api/models/distribute", bytes.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModelsHandler_PullToAgent(t *testing.T) {
	_, pulls, ip, port := stubAgent(t)

	reg, err := registry.New(t.TempDir(), nil)
	require.NoError(t, err)
	nodeID := registerStubNode(t, reg, "stub-node", ip, port)

	h, _ := newModelsHandler(t, reg)

	body := []byte(`{"model_name":"gpt-oss:7b"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/agents/"+nodeID+"/models/pull", bytes.NewReader(body))
	req.SetPathValue("id", nodeID)
	rec := httptest.NewRecorder()

	h.HandlePullToAgent(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	testutil.AssertEventuallyTrue(t, func() bool {
		return pulls.Load() == 1
	}, 5*time.Second)
}

func TestModelsHandler_PullToUnknownAgent(t *testing.T) {
	reg, err := registry.New(t.TempDir(), nil)
	require.NoError(t, err)
	h, _ := newModelsHandler(t, reg)

	req := httptest.NewRequest(http.MethodPost, "/api/agents/ghost/models/pull", bytes.NewReader([]byte(`{"model_name":"m"}`)))
	req.SetPathValue("id", "ghost")
	rec := httptest.NewRecorder()

	h.HandlePullToAgent(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRequestRoundTrip(t *testing.T) {
	mem := uint64(24_000)
	count := uint32(4)
	model := "NVIDIA RTX 4090"
	port := uint16(11435)

	req := RegisterRequest{
		MachineName:    "gpu-node-1",
		IPAddress:      "10.0.0.10",
		RuntimeVersion: "0.1.42",
		RuntimePort:    11434,
		APIPort:        &port,
		GPUAvailable:   true,
		GPUDevices: []GPUDevice{
			{Model: "NVIDIA RTX 4090", Count: 2, Memory: &mem},
		},
		GPUCount: &count,
		GPUModel: &model,
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var out RegisterRequest
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, req, out)
}

func TestHealthCheckRequestRoundTrip_OptionalFieldsOmitted(t *testing.T) {
	req := HealthCheckRequest{
		NodeID:         "node-1",
		CPUUsage:       42.5,
		MemoryUsage:    60.1,
		ActiveRequests: 3,
		LoadedModels:   []string{"gpt-oss:20b"},
		Initializing:   false,
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, field := range []string{
		"gpu_usage", "gpu_memory_usage", "gpu_memory_total_mb",
		"gpu_memory_used_mb", "gpu_temperature", "gpu_model_name",
		"gpu_compute_capability", "gpu_capability_score",
		"average_response_time_ms", "ready_models",
	} {
		_, present := raw[field]
		assert.Falsef(t, present, "expected %s to be omitted", field)
	}

	var out HealthCheckRequest
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, req, out)
}

func TestHealthCheckRequestRoundTrip_AllFieldsPresent(t *testing.T) {
	gpuUsage := float32(55.5)
	gpuMemUsage := float32(70.0)
	gpuMemTotal := uint64(24576)
	gpuMemUsed := uint64(17203)
	gpuTemp := float32(68.0)
	gpuModel := "NVIDIA RTX 4090"
	gpuCompute := "8.9"
	gpuScore := uint32(9200)
	avgLatency := float32(120.4)

	req := HealthCheckRequest{
		NodeID:                "node-1",
		CPUUsage:              12.3,
		MemoryUsage:           45.6,
		GPUUsage:              &gpuUsage,
		GPUMemoryUsage:        &gpuMemUsage,
		GPUMemoryTotalMB:      &gpuMemTotal,
		GPUMemoryUsedMB:       &gpuMemUsed,
		GPUTemperature:        &gpuTemp,
		GPUModelName:          &gpuModel,
		GPUComputeCapability:  &gpuCompute,
		GPUCapabilityScore:    &gpuScore,
		ActiveRequests:        7,
		AverageResponseTimeMs: &avgLatency,
		LoadedModels:          []string{"gpt-oss:20b", "llama3:8b"},
		Initializing:          true,
		ReadyModels:           &ReadyModels{Ready: 1, Total: 2},
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var out HealthCheckRequest
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, req, out)
}

func TestDownloadTaskStatusIsTerminal(t *testing.T) {
	assert.False(t, TaskPending.IsTerminal())
	assert.False(t, TaskInProgress.IsTerminal())
	assert.True(t, TaskCompleted.IsTerminal())
	assert.True(t, TaskFailed.IsTerminal())
}

func TestNodeHasModel(t *testing.T) {
	n := &Node{LoadedModels: []string{"a", "b"}}
	assert.True(t, n.HasModel("a"))
	assert.False(t, n.HasModel("c"))
}

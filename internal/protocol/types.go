package protocol

import (
	"encoding/json"
	"time"
)

// NodeStatus is the liveness state of a registered Node.
type NodeStatus string

const (
	// NodeOnline means the node has sent a heartbeat within the health
	// monitor's timeout window.
	NodeOnline NodeStatus = "online"
	// NodeOffline means the Health Monitor (or an explicit mark-offline
	// call) has decided the node is stale.
	NodeOffline NodeStatus = "offline"
)

// GPUDevice describes one GPU installed on a node, as reported at
// registration time.
type GPUDevice struct {
	Model  string `json:"model"`
	Count  uint32 `json:"count"`
	Memory *uint64 `json:"memory,omitempty"`
}

// ReadyModels reports how many of a node's models have finished loading
// during startup initialization, as (ready, total).
type ReadyModels struct {
	Ready uint8 `json:"ready"`
	Total uint8 `json:"total"`
}

// Node is the Node Registry's record of one fleet member.
type Node struct {
	ID             string       `json:"id"`
	MachineName    string       `json:"machine_name"`
	IPAddress      string       `json:"ip_address"`
	RuntimeVersion string       `json:"runtime_version"`
	RuntimePort    uint16       `json:"runtime_port"`
	// APIPort is the node's router-facing API port. Defaults to
	// RuntimePort+1 for compatibility with agents that don't send it
	// explicitly (see Registry.Register in internal/registry).
	APIPort uint16 `json:"api_port"`

	GPUAvailable bool        `json:"gpu_available"`
	GPUDevices   []GPUDevice `json:"gpu_devices"`
	GPUCount     *uint32     `json:"gpu_count,omitempty"`
	GPUModel     *string     `json:"gpu_model,omitempty"`
	// CapabilityScore is a 0-10000 scalar summarizing GPU strength. It is
	// stored with the node; agent selection does not consult it.
	CapabilityScore *uint32 `json:"capability_score,omitempty"`

	Status       NodeStatus `json:"status"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastSeen     time.Time  `json:"last_seen"`

	LoadedModels []string `json:"loaded_models"`

	Initializing bool         `json:"initializing"`
	ReadyModels  *ReadyModels `json:"ready_models,omitempty"`
}

// HasModel reports whether the node currently has modelName loaded.
func (n *Node) HasModel(modelName string) bool {
	for _, m := range n.LoadedModels {
		if m == modelName {
			return true
		}
	}
	return false
}

// RegisterRequest is the body of POST /api/nodes.
type RegisterRequest struct {
	MachineName    string      `json:"machine_name"`
	IPAddress      string      `json:"ip_address"`
	RuntimeVersion string      `json:"runtime_version"`
	RuntimePort    uint16      `json:"runtime_port"`
	APIPort        *uint16     `json:"api_port,omitempty"`
	GPUAvailable   bool        `json:"gpu_available"`
	GPUDevices     []GPUDevice `json:"gpu_devices"`
	GPUCount       *uint32     `json:"gpu_count,omitempty"`
	GPUModel       *string     `json:"gpu_model,omitempty"`
}

// GPUValid reports whether a claimed GPU inventory satisfies the
// GPU-required registration invariant: availability asserted, at least one
// device, and no device with a zero count.
func GPUValid(available bool, devices []GPUDevice) bool {
	if !available || len(devices) == 0 {
		return false
	}
	for _, d := range devices {
		if d.Count == 0 {
			return false
		}
	}
	return true
}

// RegistrationStatus distinguishes a first sighting from a re-registration.
type RegistrationStatus string

const (
	StatusRegistered RegistrationStatus = "registered"
	StatusUpdated    RegistrationStatus = "updated"
)

// RegisterResponse is the body returned from POST /api/nodes.
type RegisterResponse struct {
	NodeID               string             `json:"node_id"`
	Status               RegistrationStatus `json:"status"`
	AgentAPIPort         *uint16            `json:"agent_api_port,omitempty"`
	AutoDistributedModel *string            `json:"auto_distributed_model,omitempty"`
	DownloadTaskID       *string            `json:"download_task_id,omitempty"`
	// AgentToken is returned in plaintext exactly once, on first
	// registration. The router persists only its hash.
	AgentToken *string `json:"agent_token,omitempty"`
}

// HealthCheckRequest is the body of POST /api/health — a full metrics
// snapshot sent by a node on every heartbeat.
type HealthCheckRequest struct {
	NodeID                string   `json:"node_id"`
	CPUUsage              float32  `json:"cpu_usage"`
	MemoryUsage           float32  `json:"memory_usage"`
	GPUUsage              *float32 `json:"gpu_usage,omitempty"`
	GPUMemoryUsage        *float32 `json:"gpu_memory_usage,omitempty"`
	GPUMemoryTotalMB      *uint64  `json:"gpu_memory_total_mb,omitempty"`
	GPUMemoryUsedMB       *uint64  `json:"gpu_memory_used_mb,omitempty"`
	GPUTemperature        *float32 `json:"gpu_temperature,omitempty"`
	GPUModelName          *string  `json:"gpu_model_name,omitempty"`
	GPUComputeCapability  *string  `json:"gpu_compute_capability,omitempty"`
	GPUCapabilityScore    *uint32  `json:"gpu_capability_score,omitempty"`
	ActiveRequests        uint32   `json:"active_requests"`
	AverageResponseTimeMs *float32 `json:"average_response_time_ms,omitempty"`
	LoadedModels          []string `json:"loaded_models"`
	Initializing          bool     `json:"initializing"`
	ReadyModels           *ReadyModels `json:"ready_models,omitempty"`
}

// ProgressUpdate is sent by an agent back to the router as it executes a
// model pull: POST /api/tasks/{task_id}/progress.
type ProgressUpdate struct {
	Progress float32 `json:"progress"`
	Speed    *uint64 `json:"speed,omitempty"`
}

// DownloadTaskStatus is the Download Task Manager's state machine.
type DownloadTaskStatus string

const (
	TaskPending    DownloadTaskStatus = "pending"
	TaskInProgress DownloadTaskStatus = "in_progress"
	TaskCompleted  DownloadTaskStatus = "completed"
	TaskFailed     DownloadTaskStatus = "failed"
)

// IsTerminal reports whether s is a terminal download-task state.
func (s DownloadTaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// DownloadTask tracks one asynchronous model pull on one agent.
type DownloadTask struct {
	ID          string             `json:"id"`
	NodeID      string             `json:"node_id"`
	ModelName   string             `json:"model_name"`
	Status      DownloadTaskStatus `json:"status"`
	Progress    float32            `json:"progress"`
	Speed       *uint64            `json:"speed,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Error       *string            `json:"error,omitempty"`
}

// RequestType enumerates the proxy's request kinds for history accounting.
type RequestType string

const (
	RequestChat       RequestType = "chat"
	RequestGenerate   RequestType = "generate"
	RequestEmbeddings RequestType = "embeddings"
)

// RequestOutcome is the terminal status of one proxied request.
type RequestOutcome string

const (
	OutcomeSuccess RequestOutcome = "success"
	OutcomeError   RequestOutcome = "error"
)

// RequestRecord is one entry in the Request History store.
type RequestRecord struct {
	ID              string          `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	RequestType     RequestType     `json:"request_type"`
	Model           string          `json:"model"`
	NodeID          string          `json:"node_id"`
	NodeMachineName string          `json:"node_machine_name"`
	NodeIP          string          `json:"node_ip"`
	ClientIP        string          `json:"client_ip,omitempty"`
	RequestBody     json.RawMessage `json:"request_body,omitempty"`
	ResponseBody    json.RawMessage `json:"response_body,omitempty"`
	DurationMs      int64           `json:"duration_ms"`
	Outcome         RequestOutcome  `json:"status"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CompletedAt     time.Time       `json:"completed_at"`
}

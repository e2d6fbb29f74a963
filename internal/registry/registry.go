package registry

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akiojin/llm-router/internal/protocol"
	"github.com/akiojin/llm-router/types"
)

const nodesFileName = "nodes.json"

// record is the on-disk/in-memory representation of one Node: the public
// protocol.Node plus the agent-token hash, which is never serialized to a
// client-facing response.
type record struct {
	protocol.Node
	TokenHash string `json:"token_hash,omitempty"`
}

// Registry is the Node Registry: an in-memory map of nodes backed by a JSON
// file, guarded by a single reader/writer lock. Persistence always happens
// on a cloned snapshot after the lock is released, so disk I/O never blocks
// readers or writers of the map.
type Registry struct {
	mu       sync.RWMutex
	nodes    map[string]*record
	filePath string
	logger   *zap.Logger
}

// New loads the registry from dataDir/nodes.json (if present), purges any
// node that fails the GPU-required invariant, and rewrites the file if the
// purge changed anything.
func New(dataDir string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		nodes:    make(map[string]*record),
		filePath: filepath.Join(dataDir, nodesFileName),
		logger:   logger.With(zap.String("component", "registry")),
	}

	if err := r.load(); err != nil {
		return nil, err
	}

	if err := r.cleanupInvalid(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("registry: read %s: %w", r.filePath, err)
	}

	if len(data) == 0 {
		return nil
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("registry: decode %s: %w", r.filePath, err)
	}

	for i := range records {
		rec := records[i]
		r.nodes[rec.ID] = &rec
	}

	return nil
}

// cleanupInvalid drops any loaded node that violates the GPU-required
// invariant and, if that changed anything, rewrites the file. This is the
// mechanism that enforces the invariant on data persisted before it was
// introduced.
func (r *Registry) cleanupInvalid() error {
	r.mu.Lock()
	dropped := 0
	for id, rec := range r.nodes {
		if !isGPUValid(rec.GPUAvailable, rec.GPUDevices) {
			delete(r.nodes, id)
			dropped++
		}
	}
	snapshot := r.cloneAllLocked()
	r.mu.Unlock()

	if dropped == 0 {
		return nil
	}

	r.logger.Warn("dropped nodes failing GPU-required invariant at startup", zap.Int("count", dropped))
	return persist(r.filePath, snapshot)
}

func isGPUValid(available bool, devices []protocol.GPUDevice) bool {
	return protocol.GPUValid(available, devices)
}

// Register performs an idempotent registration keyed on machine_name. The
// first sighting of a machine_name mints and returns a plaintext
// agent_token (only its hash is retained); subsequent registrations of the
// same machine_name update the existing record and return no token.
func (r *Registry) Register(req protocol.RegisterRequest) (*protocol.RegisterResponse, error) {
	if !isGPUValid(req.GPUAvailable, req.GPUDevices) {
		return nil, types.GPURequired()
	}

	apiPort := req.RuntimePort + 1
	if req.APIPort != nil {
		apiPort = *req.APIPort
	}

	now := time.Now().UTC()

	r.mu.Lock()
	existing := r.findByMachineNameLocked(req.MachineName)

	var (
		rec         *record
		status      protocol.RegistrationStatus
		plainToken  string
		mintedToken bool
	)

	if existing != nil {
		existing.IPAddress = req.IPAddress
		existing.RuntimeVersion = req.RuntimeVersion
		existing.RuntimePort = req.RuntimePort
		existing.APIPort = apiPort
		existing.GPUAvailable = req.GPUAvailable
		existing.GPUDevices = req.GPUDevices
		existing.GPUCount = req.GPUCount
		existing.GPUModel = req.GPUModel
		existing.Status = protocol.NodeOnline
		existing.LastSeen = now
		rec = existing
		status = protocol.StatusUpdated
	} else {
		token, hash, err := mintAgentToken()
		if err != nil {
			r.mu.Unlock()
			return nil, types.NewError(types.ErrInternalError, "failed to mint agent token").WithCause(err).WithHTTPStatus(500)
		}

		rec = &record{
			Node: protocol.Node{
				ID:             uuid.New().String(),
				MachineName:    req.MachineName,
				IPAddress:      req.IPAddress,
				RuntimeVersion: req.RuntimeVersion,
				RuntimePort:    req.RuntimePort,
				APIPort:        apiPort,
				GPUAvailable:   req.GPUAvailable,
				GPUDevices:     req.GPUDevices,
				GPUCount:       req.GPUCount,
				GPUModel:       req.GPUModel,
				Status:         protocol.NodeOnline,
				RegisteredAt:   now,
				LastSeen:       now,
				LoadedModels:   []string{},
			},
			TokenHash: hash,
		}
		r.nodes[rec.ID] = rec
		status = protocol.StatusRegistered
		plainToken = token
		mintedToken = true
	}

	snapshot := cloneNode(&rec.Node)
	r.mu.Unlock()

	if err := r.persistOne(snapshot); err != nil {
		return nil, err
	}

	resp := &protocol.RegisterResponse{
		NodeID:       rec.ID,
		Status:       status,
		AgentAPIPort: &rec.APIPort,
	}
	if mintedToken {
		resp.AgentToken = &plainToken
	}

	return resp, nil
}

func (r *Registry) findByMachineNameLocked(machineName string) *record {
	for _, rec := range r.nodes {
		if rec.MachineName == machineName {
			return rec
		}
	}
	return nil
}

// Get returns a copy of the node with the given id.
func (r *Registry) Get(nodeID string) (*protocol.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.nodes[nodeID]
	if !ok {
		return nil, types.NodeNotFound(nodeID)
	}
	return cloneNode(&rec.Node), nil
}

// VerifyAgentToken checks a plaintext agent token against the stored hash
// for nodeID, returning nil on success.
func (r *Registry) VerifyAgentToken(nodeID, token string) error {
	r.mu.RLock()
	rec, ok := r.nodes[nodeID]
	r.mu.RUnlock()

	if !ok {
		return types.NodeNotFound(nodeID)
	}
	if rec.TokenHash == "" || hashToken(token) != rec.TokenHash {
		return types.NewError(types.ErrAuthentication, "invalid agent token").WithHTTPStatus(401)
	}
	return nil
}

// RotateToken mints a fresh agent token for nodeID, overwriting the stored
// hash, and returns the new plaintext token. Re-registration itself never
// rotates the token; only this admin operation does.
func (r *Registry) RotateToken(nodeID string) (string, error) {
	plaintext, hash, err := mintAgentToken()
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "failed to mint agent token").WithCause(err).WithHTTPStatus(500)
	}

	r.mu.Lock()
	rec, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return "", types.NodeNotFound(nodeID)
	}
	rec.TokenHash = hash
	r.mu.Unlock()

	if err := r.persistOne(&rec.Node); err != nil {
		return "", types.NewError(types.ErrDatabase, "failed to persist rotated token").WithCause(err).WithHTTPStatus(500)
	}
	return plaintext, nil
}

// List returns a copy of every registered node.
func (r *Registry) List() []*protocol.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []*protocol.Node {
	out := make([]*protocol.Node, 0, len(r.nodes))
	for _, rec := range r.nodes {
		out = append(out, cloneNode(&rec.Node))
	}
	return out
}

// HeartbeatUpdate carries the subset of a health-check report the registry
// itself is responsible for persisting; GPU/CPU metrics used purely for
// load-balancing decisions are handled by the Load Manager instead.
type HeartbeatUpdate struct {
	LoadedModels []string
	Initializing bool
	ReadyModels  *protocol.ReadyModels
}

// UpdateLastSeen marks nodeID Online, refreshes last_seen, and merges the
// heartbeat-reported fields. Fails with NotFound if nodeID is unknown.
func (r *Registry) UpdateLastSeen(nodeID string, update HeartbeatUpdate) error {
	r.mu.Lock()
	rec, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return types.NodeNotFound(nodeID)
	}

	rec.LastSeen = time.Now().UTC()
	rec.Status = protocol.NodeOnline
	rec.LoadedModels = update.LoadedModels
	rec.Initializing = update.Initializing
	rec.ReadyModels = update.ReadyModels

	snapshot := cloneNode(&rec.Node)
	r.mu.Unlock()

	return r.persistOne(snapshot)
}

// MarkOffline transitions nodeID to Offline. It is idempotent: if the node
// is already Offline, no write occurs.
func (r *Registry) MarkOffline(nodeID string) error {
	r.mu.Lock()
	rec, ok := r.nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return types.NodeNotFound(nodeID)
	}

	if rec.Status == protocol.NodeOffline {
		r.mu.Unlock()
		return nil
	}

	rec.Status = protocol.NodeOffline
	snapshot := cloneNode(&rec.Node)
	r.mu.Unlock()

	return r.persistOne(snapshot)
}

// cloneAllLocked must be called with r.mu held.
func (r *Registry) cloneAllLocked() []record {
	out := make([]record, 0, len(r.nodes))
	for _, rec := range r.nodes {
		out = append(out, *rec)
	}
	return out
}

// persistOne rewrites the whole file after a single-node mutation. The
// registry is small (a fleet, not a cluster of thousands) so a full
// rewrite per mutation keeps the format simple; the snapshot is taken
// under the lock, the write happens outside it.
func (r *Registry) persistOne(_ *protocol.Node) error {
	r.mu.RLock()
	snapshot := r.cloneAllLocked()
	r.mu.RUnlock()
	return persist(r.filePath, snapshot)
}

func persist(path string, records []record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("registry: mkdir %s: %w", filepath.Dir(path), err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode nodes: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("registry: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("registry: rename %s: %w", tmp, err)
	}
	return nil
}

func cloneNode(n *protocol.Node) *protocol.Node {
	clone := *n
	clone.GPUDevices = append([]protocol.GPUDevice(nil), n.GPUDevices...)
	clone.LoadedModels = append([]string(nil), n.LoadedModels...)
	if n.GPUCount != nil {
		v := *n.GPUCount
		clone.GPUCount = &v
	}
	if n.GPUModel != nil {
		v := *n.GPUModel
		clone.GPUModel = &v
	}
	if n.CapabilityScore != nil {
		v := *n.CapabilityScore
		clone.CapabilityScore = &v
	}
	if n.ReadyModels != nil {
		v := *n.ReadyModels
		clone.ReadyModels = &v
	}
	return &clone
}

func mintAgentToken() (plaintext, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	plaintext = hex.EncodeToString(buf)
	return plaintext, hashToken(plaintext), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

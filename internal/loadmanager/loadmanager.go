package loadmanager

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akiojin/llm-router/internal/protocol"
	"github.com/akiojin/llm-router/types"
)

// capableCPUThreshold is the maximum cpu_usage a node may report and still
// be eligible for load-based selection; nodes above it only receive traffic
// via the round-robin fallback.
const capableCPUThreshold = 80.0

// NodeLister is the subset of the Node Registry the Load Manager depends
// on. Keeping it narrow lets tests substitute a fake registry without
// building a full Registry.
type NodeLister interface {
	List() []*protocol.Node
	Get(nodeID string) (*protocol.Node, error)
}

// Metrics is the latest heartbeat-reported load snapshot for one node.
type Metrics struct {
	CPUUsage       float32
	MemoryUsage    float32
	ActiveRequests uint32
	TotalRequests  uint64
	Timestamp      time.Time
}

type loadState struct {
	lastMetrics    *Metrics
	assignedActive uint32
	totalAssigned  uint64
	successCount   uint64
	errorCount     uint64
	totalLatencyMs uint64
}

func (s *loadState) combinedActive() uint32 {
	var heartbeatActive uint32
	if s.lastMetrics != nil {
		heartbeatActive = s.lastMetrics.ActiveRequests
	}
	sum := uint64(heartbeatActive) + uint64(s.assignedActive)
	if sum > 1<<32-1 {
		return 1<<32 - 1
	}
	return uint32(sum)
}

func (s *loadState) averageLatencyMs() (float32, bool) {
	completed := s.successCount + s.errorCount
	if completed == 0 {
		return 0, false
	}
	return float32(float64(s.totalLatencyMs) / float64(completed)), true
}

func (s *loadState) lastUpdated() (time.Time, bool) {
	if s.lastMetrics == nil {
		return time.Time{}, false
	}
	return s.lastMetrics.Timestamp, true
}

func (s *loadState) clone() loadState {
	clone := *s
	if s.lastMetrics != nil {
		m := *s.lastMetrics
		clone.lastMetrics = &m
	}
	return clone
}

// Manager is the Load Manager: per-node load state plus the select_agent
// scheduling algorithm.
type Manager struct {
	registry   NodeLister
	mu         sync.RWMutex
	state      map[string]*loadState
	roundRobin uint64
}

// New creates a Load Manager bound to registry.
func New(registry NodeLister) *Manager {
	return &Manager{
		registry: registry,
		state:    make(map[string]*loadState),
	}
}

func (m *Manager) entry(nodeID string) *loadState {
	st, ok := m.state[nodeID]
	if !ok {
		st = &loadState{}
		m.state[nodeID] = st
	}
	return st
}

// RecordMetrics replaces the last-known metrics for nodeID wholesale and
// aligns the reported total_requests with the router's own assigned
// counter, exactly mirroring record_metrics in the original balancer.
func (m *Manager) RecordMetrics(nodeID string, cpuUsage, memoryUsage float32, activeRequests uint32) error {
	if _, err := m.registry.Get(nodeID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.entry(nodeID)
	st.lastMetrics = &Metrics{
		CPUUsage:       cpuUsage,
		MemoryUsage:    memoryUsage,
		ActiveRequests: activeRequests,
		TotalRequests:  st.totalAssigned,
		Timestamp:      time.Now().UTC(),
	}
	return nil
}

// BeginRequest records that one request has been dispatched to nodeID.
// Callers should prefer Begin, which pairs this with FinishRequest via a
// scoped guard.
func (m *Manager) BeginRequest(nodeID string) error {
	if _, err := m.registry.Get(nodeID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.entry(nodeID)
	st.assignedActive++
	st.totalAssigned++
	if st.lastMetrics != nil {
		st.lastMetrics.TotalRequests = st.totalAssigned
	}
	return nil
}

// FinishRequest records the completion of a request begun with
// BeginRequest: it decrements assigned_active (saturating at zero),
// tallies the outcome, and accumulates latency.
func (m *Manager) FinishRequest(nodeID string, outcome protocol.RequestOutcome, duration time.Duration) error {
	if _, err := m.registry.Get(nodeID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.entry(nodeID)
	if st.assignedActive > 0 {
		st.assignedActive--
	}

	switch outcome {
	case protocol.OutcomeSuccess:
		st.successCount++
	default:
		st.errorCount++
	}

	st.totalLatencyMs += uint64(duration.Milliseconds())
	return nil
}

// RequestGuard pairs one BeginRequest with exactly one FinishRequest,
// regardless of which exit path the caller takes. The default outcome is
// Error; callers mark success explicitly once the upstream response is
// known good.
type RequestGuard struct {
	manager  *Manager
	nodeID   string
	start    time.Time
	outcome  protocol.RequestOutcome
	finished bool
}

// Begin starts accounting for a request against nodeID and returns a guard
// whose Close must be deferred by the caller.
func (m *Manager) Begin(nodeID string) (*RequestGuard, error) {
	if err := m.BeginRequest(nodeID); err != nil {
		return nil, err
	}
	return &RequestGuard{
		manager: m,
		nodeID:  nodeID,
		start:   time.Now(),
		outcome: protocol.OutcomeError,
	}, nil
}

// Succeed marks the guarded request as successful. Call it once the
// upstream response has been fully and successfully delivered.
func (g *RequestGuard) Succeed() {
	g.outcome = protocol.OutcomeSuccess
}

// Close fires FinishRequest exactly once. Safe to call multiple times or
// via defer alongside an explicit call.
func (g *RequestGuard) Close() {
	if g.finished {
		return
	}
	g.finished = true
	_ = g.manager.FinishRequest(g.nodeID, g.outcome, time.Since(g.start))
}

type candidate struct {
	node  *protocol.Node
	state loadState
}

// SelectAgent implements the selection algorithm: among Online nodes,
// prefer the least-loaded node that has reported recent metrics at or
// below the CPU threshold, breaking ties by total assigned requests then
// machine name; if no node qualifies, fall back to round robin over all
// Online nodes. Fails with NoAgentsAvailable if no node is Online.
func (m *Manager) SelectAgent() (*protocol.Node, error) {
	return m.selectFrom(m.registry.List())
}

// SelectAgentForModel runs the same selection algorithm as SelectAgent but
// restricted to Online nodes that currently have modelName loaded. Callers
// (the OpenAI-compatible proxy) apply this model-aware pre-filter instead of
// folding it into SelectAgent itself, keeping the scheduling algorithm a
// pure function of whatever candidate set it's handed.
func (m *Manager) SelectAgentForModel(modelName string) (*protocol.Node, error) {
	nodes := m.registry.List()
	withModel := make([]*protocol.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.HasModel(modelName) {
			withModel = append(withModel, n)
		}
	}
	return m.selectFrom(withModel)
}

func (m *Manager) selectFrom(nodes []*protocol.Node) (*protocol.Node, error) {
	online := make([]*protocol.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Status == protocol.NodeOnline {
			online = append(online, n)
		}
	}

	if len(online) == 0 {
		return nil, types.NoAgentsAvailable()
	}

	m.mu.RLock()
	capableSet := make([]candidate, 0, len(online))
	for _, n := range online {
		st, ok := m.state[n.ID]
		if !ok || st.lastMetrics == nil {
			continue
		}
		if st.lastMetrics.CPUUsage > capableCPUThreshold {
			continue
		}
		capableSet = append(capableSet, candidate{node: n, state: st.clone()})
	}
	m.mu.RUnlock()

	if len(capableSet) > 0 {
		sort.Slice(capableSet, func(i, j int) bool {
			a, b := capableSet[i], capableSet[j]
			if ai, bi := a.state.combinedActive(), b.state.combinedActive(); ai != bi {
				return ai < bi
			}
			if a.state.totalAssigned != b.state.totalAssigned {
				return a.state.totalAssigned < b.state.totalAssigned
			}
			return a.node.MachineName < b.node.MachineName
		})
		return capableSet[0].node, nil
	}

	sort.Slice(online, func(i, j int) bool { return online[i].ID < online[j].ID })
	next := atomic.AddUint64(&m.roundRobin, 1) - 1
	return online[next%uint64(len(online))], nil
}

// Snapshot is the per-node load view used by dashboard queries.
type Snapshot struct {
	NodeID                string
	MachineName           string
	Status                protocol.NodeStatus
	CPUUsage              *float32
	MemoryUsage           *float32
	ActiveRequests        uint32
	TotalRequests         uint64
	SuccessfulRequests    uint64
	FailedRequests        uint64
	AverageResponseTimeMs *float32
	LastUpdated           *time.Time
}

// Summary aggregates load across the whole fleet.
type Summary struct {
	TotalAgents           int
	OnlineAgents          int
	OfflineAgents         int
	TotalRequests         uint64
	SuccessfulRequests    uint64
	FailedRequests        uint64
	AverageResponseTimeMs *float32
}

func (m *Manager) buildSnapshot(node *protocol.Node, st loadState) *Snapshot {
	snap := &Snapshot{
		NodeID:             node.ID,
		MachineName:        node.MachineName,
		Status:             node.Status,
		ActiveRequests:     st.combinedActive(),
		TotalRequests:      st.totalAssigned,
		SuccessfulRequests: st.successCount,
		FailedRequests:     st.errorCount,
	}
	if st.lastMetrics != nil {
		cpu := st.lastMetrics.CPUUsage
		mem := st.lastMetrics.MemoryUsage
		snap.CPUUsage = &cpu
		snap.MemoryUsage = &mem
	}
	if avg, ok := st.averageLatencyMs(); ok {
		snap.AverageResponseTimeMs = &avg
	}
	if t, ok := st.lastUpdated(); ok {
		snap.LastUpdated = &t
	}
	return snap
}

// Snapshot returns the load view for a single node.
func (m *Manager) Snapshot(nodeID string) (*Snapshot, error) {
	node, err := m.registry.Get(nodeID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	st := loadState{}
	if existing, ok := m.state[nodeID]; ok {
		st = existing.clone()
	}
	m.mu.RUnlock()

	return m.buildSnapshot(node, st), nil
}

// Snapshots returns the load view for every registered node.
func (m *Manager) Snapshots() []*Snapshot {
	nodes := m.registry.List()

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Snapshot, 0, len(nodes))
	for _, n := range nodes {
		st := loadState{}
		if existing, ok := m.state[n.ID]; ok {
			st = existing.clone()
		}
		out = append(out, m.buildSnapshot(n, st))
	}
	return out
}

// Summary aggregates request counts and average latency across the fleet.
func (m *Manager) Summary() *Summary {
	nodes := m.registry.List()

	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := &Summary{TotalAgents: len(nodes)}

	var totalLatencyMs uint64
	var latencySamples uint64

	for _, n := range nodes {
		if n.Status == protocol.NodeOnline {
			summary.OnlineAgents++
		} else {
			summary.OfflineAgents++
		}

		st, ok := m.state[n.ID]
		if !ok {
			continue
		}

		summary.TotalRequests += st.totalAssigned
		summary.SuccessfulRequests += st.successCount
		summary.FailedRequests += st.errorCount

		if completed := st.successCount + st.errorCount; completed > 0 {
			totalLatencyMs += st.totalLatencyMs
			latencySamples += completed
		}
	}

	if latencySamples > 0 {
		avg := float32(float64(totalLatencyMs) / float64(latencySamples))
		summary.AverageResponseTimeMs = &avg
	}

	return summary
}

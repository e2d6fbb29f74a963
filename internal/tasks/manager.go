package tasks

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akiojin/llm-router/internal/protocol"
	"github.com/akiojin/llm-router/types"
)

// Manager is the Download Task Manager: an in-memory map of tasks keyed by
// id, guarded by a single mutex. Tasks are not persisted — a router
// restart loses in-flight download bookkeeping, matching the original
// implementation's in-memory-only task store.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*protocol.DownloadTask
}

// New creates an empty Download Task Manager.
func New() *Manager {
	return &Manager{tasks: make(map[string]*protocol.DownloadTask)}
}

// CreateTask registers a new Pending task for nodeID pulling modelName.
func (m *Manager) CreateTask(nodeID, modelName string) *protocol.DownloadTask {
	task := &protocol.DownloadTask{
		ID:        uuid.New().String(),
		NodeID:    nodeID,
		ModelName: modelName,
		Status:    protocol.TaskPending,
		StartedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	return cloneTask(task)
}

func clampProgress(p float32) float32 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// UpdateProgress clamps progress to [0,1], transitions Pending→InProgress
// on the first positive report, and auto-completes once progress reaches
// 1.0. A no-op once the task has reached a terminal state.
func (m *Manager) UpdateProgress(taskID string, progress float32, speed *uint64) (*protocol.DownloadTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return nil, types.TaskNotFound(taskID)
	}

	if task.Status.IsTerminal() {
		return cloneTask(task), nil
	}

	progress = clampProgress(progress)
	task.Progress = progress
	task.Speed = speed

	if task.Status == protocol.TaskPending && progress > 0 {
		task.Status = protocol.TaskInProgress
	}

	if progress >= 1.0 {
		markCompletedLocked(task)
	}

	return cloneTask(task), nil
}

// MarkCompleted transitions taskID to Completed. A no-op once the task has
// already reached a terminal state.
func (m *Manager) MarkCompleted(taskID string) (*protocol.DownloadTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return nil, types.TaskNotFound(taskID)
	}

	if task.Status.IsTerminal() {
		return cloneTask(task), nil
	}

	markCompletedLocked(task)
	return cloneTask(task), nil
}

func markCompletedLocked(task *protocol.DownloadTask) {
	task.Status = protocol.TaskCompleted
	task.Progress = 1.0
	now := time.Now().UTC()
	task.CompletedAt = &now
}

// MarkFailed transitions taskID to Failed with the given reason. A no-op
// once the task has already reached a terminal state — terminal states do
// not regress.
func (m *Manager) MarkFailed(taskID, reason string) (*protocol.DownloadTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return nil, types.TaskNotFound(taskID)
	}

	if task.Status.IsTerminal() {
		return cloneTask(task), nil
	}

	task.Status = protocol.TaskFailed
	now := time.Now().UTC()
	task.CompletedAt = &now
	task.Error = &reason

	return cloneTask(task), nil
}

// Get returns a copy of the task with the given id.
func (m *Manager) Get(taskID string) (*protocol.DownloadTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return nil, types.TaskNotFound(taskID)
	}
	return cloneTask(task), nil
}

// List returns a copy of every task.
func (m *Manager) List() []*protocol.DownloadTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*protocol.DownloadTask, 0, len(m.tasks))
	for _, task := range m.tasks {
		out = append(out, cloneTask(task))
	}
	return out
}

// ListByNode returns a copy of every task targeting nodeID.
func (m *Manager) ListByNode(nodeID string) []*protocol.DownloadTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*protocol.DownloadTask, 0)
	for _, task := range m.tasks {
		if task.NodeID == nodeID {
			out = append(out, cloneTask(task))
		}
	}
	return out
}

// ListActive returns a copy of every non-terminal task.
func (m *Manager) ListActive() []*protocol.DownloadTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*protocol.DownloadTask, 0)
	for _, task := range m.tasks {
		if !task.Status.IsTerminal() {
			out = append(out, cloneTask(task))
		}
	}
	return out
}

// CleanupFinishedTasks removes every terminal task and returns how many
// were removed.
func (m *Manager) CleanupFinishedTasks() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, task := range m.tasks {
		if task.Status.IsTerminal() {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}

func cloneTask(t *protocol.DownloadTask) *protocol.DownloadTask {
	clone := *t
	if t.Speed != nil {
		v := *t.Speed
		clone.Speed = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		clone.CompletedAt = &v
	}
	if t.Error != nil {
		v := *t.Error
		clone.Error = &v
	}
	return &clone
}

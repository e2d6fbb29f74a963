package health

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/akiojin/llm-router/internal/protocol"
)

// Registry is the subset of the Node Registry the monitor depends on.
type Registry interface {
	List() []*protocol.Node
	MarkOffline(nodeID string) error
}

// Monitor wakes every CheckInterval and marks any Online node whose
// last_seen exceeds Timeout as Offline. It never treats a failed mark as
// fatal — the next tick simply tries again.
type Monitor struct {
	registry      Registry
	checkInterval time.Duration
	timeout       time.Duration
	logger        *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Health Monitor. checkInterval and timeout must be positive;
// New applies no defaults (the config package defaults them to 30s and 60s).
func New(registry Registry, checkInterval, timeout time.Duration, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		registry:      registry,
		checkInterval: checkInterval,
		timeout:       timeout,
		logger:        logger.With(zap.String("component", "health_monitor")),
	}
}

// Start launches the background loop. Calling Start twice without an
// intervening Stop is a programming error and panics.
func (m *Monitor) Start(ctx context.Context) {
	if m.cancel != nil {
		panic("health: monitor already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	m.logger.Info("health monitor started",
		zap.Duration("check_interval", m.checkInterval),
		zap.Duration("timeout", m.timeout),
	)

	go m.loop(ctx)
}

// Stop cancels the background loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep marks every stale Online node Offline. A failure to mark one node
// is logged and does not stop the sweep from continuing to the rest.
func (m *Monitor) sweep() {
	now := time.Now().UTC()

	for _, node := range m.registry.List() {
		if node.Status != protocol.NodeOnline {
			continue
		}

		if now.Sub(node.LastSeen) <= m.timeout {
			continue
		}

		m.logger.Warn("node heartbeat timeout, marking offline",
			zap.String("node_id", node.ID),
			zap.String("machine_name", node.MachineName),
			zap.Duration("elapsed", now.Sub(node.LastSeen)),
		)

		if err := m.registry.MarkOffline(node.ID); err != nil {
			m.logger.Error("failed to mark node offline",
				zap.String("node_id", node.ID),
				zap.Error(err),
			)
		}
	}
}

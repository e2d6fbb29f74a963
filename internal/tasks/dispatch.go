package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/akiojin/llm-router/internal/protocol"
	"github.com/akiojin/llm-router/internal/retry"
)

// pullRequestBody is the body POSTed to an agent's /pull endpoint.
type pullRequestBody struct {
	Model  string `json:"model"`
	TaskID string `json:"task_id"`
}

// Dispatcher opens POST /pull on the owning node for a freshly created
// task. It never blocks its caller: Dispatch launches a goroutine and
// returns immediately, matching spec's "router MUST NOT block the client
// on task completion" requirement.
type Dispatcher struct {
	client *http.Client
	tasks  *Manager
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher. client is typically configured with
// the server's UpstreamTimeout.
func NewDispatcher(client *http.Client, tasks *Manager, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{client: client, tasks: tasks, logger: logger.With(zap.String("component", "task_dispatcher"))}
}

// Dispatch fires off the pull request for task against node in the
// background. Failures, whether a connection error or a non-2xx response,
// are retried with backoff a handful of times (the agent may still be
// starting up); a failure that survives retry marks the task Failed.
func (d *Dispatcher) Dispatch(ctx context.Context, node *protocol.Node, task *protocol.DownloadTask) {
	go d.run(ctx, node, task)
}

func (d *Dispatcher) run(ctx context.Context, node *protocol.Node, task *protocol.DownloadTask) {
	body, err := json.Marshal(pullRequestBody{Model: task.ModelName, TaskID: task.ID})
	if err != nil {
		d.fail(task.ID, fmt.Errorf("encode pull request: %w", err))
		return
	}

	url := fmt.Sprintf("http://%s:%d/pull", node.IPAddress, node.APIPort)

	policy := &retry.Policy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
	retryer := retry.NewBackoffRetryer(policy, d.logger)

	err = retryer.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("agent returned status %d for pull", resp.StatusCode)
		}
		return nil
	})

	if err != nil {
		d.logger.Error("pull dispatch failed",
			zap.String("task_id", task.ID),
			zap.String("node_id", node.ID),
			zap.Error(err),
		)
		d.fail(task.ID, err)
	}
}

func (d *Dispatcher) fail(taskID string, cause error) {
	if _, err := d.tasks.MarkFailed(taskID, cause.Error()); err != nil {
		d.logger.Error("failed to mark task failed after dispatch error",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}

/*
Package handlers implements the control-plane HTTP endpoints of the
llm-router: node registration and heartbeats, model-pull task dispatch and
progress callbacks, admin auth, user and API-key management, the read-only
dashboard, and liveness/readiness probes. The OpenAI/Ollama-compatible
inference proxy lives in internal/proxy, and the Prometheus endpoints are
mounted by the server in cmd/llm-router.

# Core types

  - NodesHandler    — node registration (POST /api/nodes), listing, agent
    heartbeat ingestion (POST /api/health) and agent-token rotation
  - TasksHandler    — model distribution and download-task status/progress
  - AuthHandler     — login/logout/me
  - UsersHandler, APIKeysHandler — admin CRUD
  - DashboardHandler — aggregated read-only dashboard views
  - HealthHandler   — process liveness/readiness (/health, /healthz, /ready)
  - Response, ErrorInfo — the shared JSON envelope

# Conventions

All handlers write through WriteSuccess/WriteError/WriteJSON so every
response, success or failure, shares one envelope shape. types.Error values
carry an HTTP status and a retryable flag; mapErrorCodeToHTTPStatus supplies
a default when a handler constructs a bare error code.
*/
package handlers

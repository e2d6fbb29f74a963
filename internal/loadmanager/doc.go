// Package loadmanager implements the Load Manager: per-node load
// accounting and the select_agent scheduling algorithm.
//
// The Load Manager holds a handle to the Node Registry to resolve ids and
// list membership; the Registry has no reciprocal dependency. Selection
// itself never touches disk — it operates purely on an in-memory snapshot
// of node status plus the most recent heartbeat metrics.
package loadmanager

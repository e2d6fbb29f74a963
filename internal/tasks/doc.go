// Package tasks implements the Download Task Manager: the
// Pending → InProgress → {Completed, Failed} state machine for
// asynchronous model pulls, and the fire-and-forget dispatch of a pull
// request to the owning node.
package tasks

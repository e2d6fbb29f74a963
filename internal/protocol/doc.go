// Package protocol defines the wire-level records shared between the router
// and its agent nodes: registration, heartbeats, download progress, and the
// data model persisted by the Node Registry. These types are intentionally
// free of business logic — they are pure DTOs shaped to the external
// interface contract.
package protocol

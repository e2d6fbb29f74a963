// Package registry implements the Node Registry: the single source of truth
// for which nodes are members of the fleet, their addressing and GPU
// capability, and their Online/Offline liveness state.
//
// The registry is a plain service with no dependency on the Load Manager or
// any other subsystem — callers that need to resolve ids for scheduling
// purposes hold a Registry, not the other way around.
package registry

// Package health implements the Health Monitor: a background loop that
// demotes nodes the registry hasn't heard from recently to Offline.
//
// The monitor never resurrects a node — bringing a node back Online is the
// heartbeat's job, not the monitor's.
package health

// Package api holds the HTTP-facing types shared by every handler in
// api/handlers: the canonical Response envelope and its ErrorInfo. Route
// handlers themselves live in api/handlers.
package api

/*
Package types holds the shared types the rest of the router depends on:
the structured error taxonomy and the authenticated Principal.

types is the lowest-level package in the module and imports nothing from
it, so any package — registry, load manager, proxy, HTTP handlers — can
speak the same error and identity vocabulary without import cycles.

# Core types

  - Error / ErrorCode — structured errors carrying an HTTP status and a
    retryable flag, built fluently (NewError(...).WithHTTPStatus(...)).
  - Principal / PrincipalKind — the authenticated identity attached to a
    request by the auth middleware: admin user, API key, agent token, or
    the AUTH_DISABLED dev bypass.

# Conventions

Constructors exist for the common failures (NodeNotFound, TaskNotFound,
NoAgentsAvailable, GPURequired) so call sites don't restate status codes
or messages. Handlers map any remaining bare ErrorCode to a status via
api/handlers.
*/
package types

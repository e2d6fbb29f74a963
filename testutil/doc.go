/*
Package testutil provides the shared helpers used by the router's
package-level test suites.

# Capabilities

  - Context helpers: TestContext / TestContextWithTimeout /
    CancelledContext, with automatic Cleanup registration.
  - Assertions: AssertJSONEqual for serialized-shape comparison.
  - Async assertions: AssertEventuallyTrue / AssertEventuallyEqual, which
    poll until a condition holds or the timeout expires — used by the
    health monitor and history tests that wait on background goroutines.
  - Data helpers: MustJSON / MustParseJSON for terse fixture construction.
*/
package testutil

/*
Package server manages the router's HTTP listener lifecycle: non-blocking
start, graceful shutdown, and signal handling.

Manager wraps net/http.Server with an explicit net.Listener so a bind
failure surfaces synchronously at startup (a fatal error per the router's
exit-code contract) rather than asynchronously from the serve goroutine.
Shutdown drains in-flight requests within the configured timeout.
StartTLS serves HTTPS for deployments that terminate TLS at the process.
*/
package server

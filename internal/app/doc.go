// Package app assembles the progress server.
//
// New wires, in order:
//
//	1. OpenTelemetry providers (tracing, and metrics served on /metrics)
//	2. the operation registry
//	3. the WebSocket broadcast server subscribed to the registry
//	4. the optional SQLite history store and its listener
//	5. the chi router and the HTTP server
//
// Serve starts the background services, listens, and on cancellation shuts
// down in reverse: WebSocket clients, HTTP server, history listener, registry,
// store and telemetry. Run does the same on the configured address until
// SIGINT or SIGTERM. The package never calls os.Exit.
package app

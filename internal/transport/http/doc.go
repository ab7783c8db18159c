// Package http implements the REST surface of the progress server.
//
// Handlers are thin: they parse and validate the request, call the operation
// registry, the broadcast hub or the history store, and render JSON. Failures
// go through errors.ErrorHandler and leave as RFC 7807 problem documents.
//
// Routes, mounted under /api by the application router:
//
//	GET  /health                          liveness and version
//	GET  /version                         build and protocol version
//	GET  /status                          registry counts and hub counters
//	GET  /operations                      live operation summaries
//	GET  /operations/{id}                 live operation details
//	POST /operations/{id}/cancel          request cancellation
//	GET  /operations/{id}/history         persisted snapshots, oldest first
//	GET  /operations/{id}/history/export  the same snapshots as CSV or XLSX
//	GET  /history                         persisted operations, newest first
//	GET  /history/export                  the same operations as CSV or XLSX
package http

// Package httpapi is the HTTP front door: it accepts a video reference,
// records a queued job, enqueues its split task, and reports job status.
//
// Routes are served by gorilla/mux behind rs/cors. Every response uses the
// same envelope: {"success", "message", "data", "error": {"code", "message"}}.
package httpapi

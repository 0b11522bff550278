// Package gateway wires the familiar daemon together and serves its ops API.
//
// # Overview
//
// The Gateway owns every long-lived component: the SQLite store, the
// runtime client, the session registry, the permission gate, the chat
// orchestrator, the Matrix bridge when enabled, and the HTTP server for
// the ops API. cmd/familiar builds a Gateway from config and calls Run.
//
// # HTTP API
//
// Routes registered in api.go:
//
//   - POST /api/send - run a turn, streamed back as SSE
//   - POST /api/approve - answer a pending permission request
//   - GET /api/sessions - list session records
//   - POST /api/sessions/{channel}/invalidate - destroy a live session
//   - DELETE /api/sessions/{channel} - hard-delete a session record
//   - GET/PUT/DELETE /api/memories - memory CRUD
//   - GET /api/health - liveness (no auth)
//   - GET /api/ready - store and runtime reachability
//
// Every route except health passes the auth middleware: bearer JWT or
// signed-key headers. With no auth configured the API is open and requests
// carry a local identity.
//
// # SSE Streaming
//
// /api/send responses are Server-Sent Events mirroring the turn:
//
//	event: text
//	data: {"text": "Hello!"}
//
// Event names: started, thinking, text, tool_start, tool_end,
// permission_request, permission_resolved, done, error. The stream also
// acts as the channel's approval prompter, so permission requests raised
// mid-turn appear inline and are answered via POST /api/approve.
//
// # Lifecycle
//
// Run restores persisted sessions, opens the TCP listener (plus a tsnet
// listener when Tailscale is enabled), and blocks until the context is
// canceled. Shutdown destroys live runtime sessions, stops the surfaces
// and servers, and closes the store, joining any errors.
package gateway

// ABOUTME: SSE event vocabulary for the ops API turn stream.
// ABOUTME: Names and payload shapes for /api/send responses.

package gateway

// SSE event names emitted on /api/send streams. The stream mirrors the
// runtime turn, with tool events carrying display names instead of call ids.
const (
	eventStarted            = "started"
	eventThinking           = "thinking"
	eventText               = "text"
	eventToolStart          = "tool_start"
	eventToolEnd            = "tool_end"
	eventPermissionRequest  = "permission_request"
	eventPermissionResolved = "permission_resolved"
	eventDone               = "done"
	eventError              = "error"
)

// ABOUTME: Event types emitted on a turn's SSE stream
// ABOUTME: Defines the wire payloads for each event kind

package runtime

import "encoding/json"

// EventType identifies a turn stream event.
type EventType string

const (
	EventThinking          EventType = "thinking"
	EventText              EventType = "text"
	EventToolStart         EventType = "tool_start"
	EventToolComplete      EventType = "tool_complete"
	EventPermissionRequest EventType = "permission_request"
	EventDone              EventType = "done"
	EventError             EventType = "error"
)

// Event is one frame from a turn stream. Data holds the raw JSON payload.
type Event struct {
	Type EventType
	Data string
}

// TextEvent is the payload of text and thinking events.
type TextEvent struct {
	Text string `json:"text"`
}

// ToolStartEvent announces a tool invocation.
type ToolStartEvent struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Input      json.RawMessage `json:"input,omitempty"`
}

// ToolCompleteEvent closes a tool invocation.
type ToolCompleteEvent struct {
	ToolCallID string `json:"tool_call_id"`
	IsError    bool   `json:"is_error,omitempty"`
}

// PermissionRequestEvent asks for a decision on a gated tool use.
type PermissionRequestEvent struct {
	RequestID string          `json:"request_id"`
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// DoneEvent carries the turn's complete final text.
type DoneEvent struct {
	FullText string `json:"full_text"`
}

// ErrorEvent reports a turn failure.
type ErrorEvent struct {
	Error string `json:"error"`
}

// ABOUTME: Per-turn bookkeeping for tool execution events.
// ABOUTME: Pairs start/complete by call id and pushes status transitions.

package tools

import (
	"log/slog"
	"sync"
)

// StatusSink receives user-visible tool status transitions. Calls are made
// inline from the event-stream callback, so implementations must not block.
type StatusSink interface {
	ToolStarted(displayName string)
	ToolEnded(displayName string)
}

// Dispatcher tracks one turn's tool calls. Create one per turn and Drain it
// on teardown; the pending map never outlives its turn.
type Dispatcher struct {
	registry *Registry
	sink     StatusSink
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]string // toolCallId -> display name
}

// NewDispatcher creates the per-turn dispatcher for this registry. A nil
// sink discards status transitions.
func (r *Registry) NewDispatcher(sink StatusSink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: r,
		sink:     sink,
		logger:   logger.With("component", "tools"),
		pending:  make(map[string]string),
	}
}

// OnExecutionStart records a tool-execution-start event. It returns the
// display name pushed to the sink, or false for internal bookkeeping calls
// that stay hidden.
func (d *Dispatcher) OnExecutionStart(callID, toolName string) (string, bool) {
	if IsInternal(toolName) {
		return "", false
	}
	display := d.registry.DisplayName(toolName)

	d.mu.Lock()
	d.pending[callID] = display
	d.mu.Unlock()

	c := d.registry.Classify(toolName)
	d.logger.Debug("tool started",
		"tool", toolName, "call_id", callID, "origin", c.Origin.String())
	if d.sink != nil {
		d.sink.ToolStarted(display)
	}
	return display, true
}

// OnExecutionComplete pairs a completion with its start. A completion with
// no matching start is a no-op; duplicate or out-of-order runtime events
// must not fail the turn.
func (d *Dispatcher) OnExecutionComplete(callID string) (string, bool) {
	d.mu.Lock()
	display, ok := d.pending[callID]
	if ok {
		delete(d.pending, callID)
	}
	d.mu.Unlock()
	if !ok {
		d.logger.Debug("completion for unknown call", "call_id", callID)
		return "", false
	}

	d.logger.Debug("tool ended", "call_id", callID)
	if d.sink != nil {
		d.sink.ToolEnded(display)
	}
	return display, true
}

// PendingCount reports outstanding started calls.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Drain discards all pending calls at turn teardown.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) > 0 {
		d.logger.Debug("draining unfinished tool calls", "count", len(d.pending))
	}
	d.pending = make(map[string]string)
}

// ABOUTME: Package documentation for the chat orchestrator.
// ABOUTME: Describes the turn pipeline and its failure behavior.

// Package chat drives conversational turns.
//
// The Orchestrator owns the turn pipeline: build the context preamble, set
// the channel's permission context, resolve the runtime session, issue the
// turn, and route stream events to the tool dispatcher, the memory
// executor, and the surface's status sink. Both sides of the exchange are
// recorded once the stream completes. Turns on one channel are serialized
// by a per-channel mutex; channels never block each other.
//
// A failed resolution or turn invalidates the channel's session so the next
// turn starts clean, and the error is returned to the surface. Categorize
// folds those errors into a small stable set of user-facing categories.
package chat

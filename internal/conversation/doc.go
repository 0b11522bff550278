// ABOUTME: Package documentation for conversation history and assembly.
// ABOUTME: Explains history recording and the turn preamble.

// Package conversation keeps per-channel history and builds turn context.
//
// The Service records both sides of every exchange into the store's
// bounded per-channel ring once a turn completes. Writes run on a detached
// short-deadline context so a cancelled turn cannot abort them, and
// failures are logged, never surfaced, because losing one history row
// matters less than losing the turn.
//
// The Assembler composes the preamble placed in front of each turn: who is
// speaking and when, the recent exchange with the familiar's own messages
// labeled, and remembered facts (shared first, then the user's). It also
// decides whether the conversation is ongoing, using a 30-minute
// inactivity threshold backed by a per-channel last-interaction cache, so
// the prompt layer can suppress greetings mid-conversation.
package conversation

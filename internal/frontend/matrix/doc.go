// ABOUTME: Package documentation for the Matrix chat frontend.
// ABOUTME: Explains sync lifecycle, encryption, and reaction approvals.

// Package matrix connects the familiar to Matrix rooms.
//
// A Bridge owns one mautrix client. Run verifies the access token,
// initializes end-to-end encryption, and then syncs until the context
// ends, reconnecting after transient failures. Each inbound text
// message from an allowed user in an allowed room becomes one
// orchestrator turn; replies are rendered from Markdown to HTML and
// split when they exceed the room-friendly length.
//
// The bridge is also an approval prompter. Permission prompts are sent
// as room messages pre-seeded with the approve and deny reactions, so
// the requesting user answers with a single tap. Once decided, the
// prompt message is edited in place to show the verdict.
//
// Encryption state lives in a per-account SQLite database under the
// daemon's data directory. If the homeserver reports a different device
// id than the stored one, the database is reset and keys are
// re-established, optionally cross-signed via the configured recovery
// key.
package matrix

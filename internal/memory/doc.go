// ABOUTME: Package documentation for the memory service.
// ABOUTME: Covers scoping rules, local tools, and prompt rendering.

// Package memory manages the persistent facts a familiar knows.
//
// Facts are key/value pairs scoped either globally or to one user, with
// uniqueness on (key, scope, username). Keys are normalized (lowercased,
// trimmed) so different phrasings address the same fact. The store, not
// this package, enforces the retention bounds: values truncate at a fixed
// length and each scope bucket holds a bounded number of entries with
// least-recently-written eviction.
//
// The Service also owns the remember/forget local tools: when those calls
// appear on a turn's event stream, HandleToolCall persists or deletes the
// fact on behalf of the requesting user. Tool-path failures are logged and
// swallowed so a lost write never fails the conversation.
//
// RenderSection turns a bucket into the "- key: value" block the context
// assembler puts in front of each turn, within a firm character budget.
package memory

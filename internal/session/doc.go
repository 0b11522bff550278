// Package session tracks live model-runtime sessions per channel.
//
// The registry keeps one handle per channel and resolves requests with a
// resume-or-recreate policy: a cache hit is returned directly, a persisted
// active record is probed and resumed when the runtime still knows it, and
// otherwise a fresh session is created under a new id and persisted. A
// per-channel lock serializes resolve and invalidate, so concurrent turns
// on one channel never race a second session into existence.
package session

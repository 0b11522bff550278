// Package runtime is the HTTP client for the model runtime's session API.
//
// Sessions are created under caller-chosen ids with PUT, probed with GET,
// and destroyed with DELETE. Turns are issued with POST and stream their
// events back as Server-Sent Events until a done or error frame. Permission
// requests surfaced mid-turn are answered through a separate POST so the
// decision can arrive while the turn stream is still open.
package runtime

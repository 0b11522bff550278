// ABOUTME: Package documentation for the permission approval gate.
// ABOUTME: Explains decision states and the prompt-and-answer flow.

// Package approval holds tool calls that need a human decision.
//
// A Gate sits between the agent runtime and a chat frontend. When the
// runtime raises a permission request, Request sends a prompt through
// the configured Prompter and blocks the turn until the requesting user
// answers, the gate times out, or the turn is abandoned. Every path
// produces a Decision; anything but DecisionApproved means the tool
// call must not run.
//
// Only the user the request was raised for may answer it. Answers from
// anyone else are rejected with ErrWrongResponder, and a request that
// arrives with no recorded channel context is denied outright with
// DecisionDeniedNoContext.
//
// Prompt delivery is best effort: if the prompt cannot be sent the
// request is denied immediately, and failures to edit an already-sent
// prompt into its decided state are logged and dropped.
package approval

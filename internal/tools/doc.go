// ABOUTME: Package documentation for tool classification and dispatch.
// ABOUTME: Describes the registry/dispatcher split and the pending map.

// Package tools classifies runtime tool calls and narrates their progress.
//
// A Registry is built once from configuration: it knows the runtime's
// builtin tool vocabulary and which remote provider owns which tool name.
// Classification is pure lookup; names nobody claims fall into an unlabeled
// remote bucket instead of failing.
//
// A Dispatcher is created per turn from the Registry. It pairs
// tool-execution-start and tool-execution-complete events by call id,
// renders display names, and pushes started/ended transitions to a
// StatusSink so the chat surface can show activity. Internal runtime
// bookkeeping calls are filtered before they reach either the sink or the
// pending map. All methods are synchronous and never block.
package tools

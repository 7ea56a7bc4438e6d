// Package broker implements the OAuth connection broker: it opens a third-party
// consent flow, correlates its asynchronous outcome back to the attempt that
// requested it, and completes deferred token exchanges.
//
// The pieces, leaves first:
//
//   - EndpointResolver: ordered candidate endpoints with a synthesized fallback.
//   - PopupManager: opens a window with centered geometry, exposes liveness.
//   - MessageBridge: first-writer-wins race between bus messages and the liveness poll.
//   - ExtractOutcomeFromLocation: redirect handoff into the same Resolution shape.
//   - DeferredCodeClient: completion via code_id or persisted state.
//   - Machine: per-attempt state machine and the per-platform live-attempt registry.
package broker

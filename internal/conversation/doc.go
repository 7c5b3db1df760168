// Package conversation is the owner-scoped entry point for threads.
//
// # Service
//
// SubmitUserTurn follows one rule: record first, then act. The user item is
// appended before the assistant reply starts, so the turn survives a failed
// upstream. Retries carrying the same client message id are dropped within
// the dedupe window.
//
// Threads belong to the identity that created them. A thread of another owner
// behaves exactly like a missing one.
//
// # Publishing
//
// PublishingStore wraps the store shared by the service and the bridge. Every
// appended item, user or assistant, is announced to:
//
//   - EventBroadcaster: in-process fan-out per thread, used by the events SSE endpoint
//   - ItemPublisher: optional external sink such as NATS
//
// Slow broadcaster subscribers miss items rather than block appends.
package conversation

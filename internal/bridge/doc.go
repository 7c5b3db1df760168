// Package bridge produces an assistant reply for a thread by streaming the
// upstream workflow and translating its deltas into thread events.
//
// Run loads the recent history, sends the newest user text upstream and
// forwards events on a bounded channel in the order they are produced. The
// completed reply is appended to the thread before message_completed is
// forwarded, so a client that sees completion can read the item back. Errors
// end the stream with a single stream_error and nothing is persisted.
//
// An idle timer guards the upstream. Under HeartbeatReset every frame counts
// as liveness; under HeartbeatIgnore only text does.
package bridge

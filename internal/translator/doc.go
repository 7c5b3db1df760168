// Package translator converts upstream deltas into the ordered events a
// client renders while an assistant reply streams in.
//
// A Translator moves Idle -> Streaming -> Completed, or to Failed from any
// non-terminal state. message_started is emitted lazily with the first
// non-empty text. A stream that ends without text completes with a fallback
// reply so every user turn gets exactly one assistant item.
package translator

// Package store persists endobot threads and their items.
//
// # Architecture
//
// Store is the single interface the rest of the service depends on. Two
// implementations exist:
//
//   - MemoryStore: process-local maps, used for development and tests
//   - SQLiteStore: modernc.org/sqlite in WAL mode, used in production
//
// # Data Model
//
//   - Thread: one conversation, owned by a session identity
//   - Item: one user or assistant entry, with a seq contiguous from 1
//   - Page: a window of items plus an optional NextCursor
//
// # Sequencing
//
// Append assigns seq under a per-thread lock. Appends on different threads
// never block each other in MemoryStore. SQLite serializes all writers but the
// unique (thread_id, seq) index guarantees no gaps or duplicates.
//
// # Paging
//
// LoadItems walks a thread in asc or desc order. Cursors encode the thread id
// and the seq of the last returned item, so a cursor stays valid while new
// items are appended and is rejected for any other thread.
//
// # Error Handling
//
//   - ErrThreadNotFound: Append or GetThread on a missing thread
//   - ErrInvalidArgument: bad limit, order, cursor or item
//
// LoadItems on a thread that does not exist returns an empty page.
package store

// Package gateway wires endobot's components and serves its HTTP API.
//
// # Overview
//
// New builds every component from the configuration:
//
//	store (sqlite | memory)
//	  └─ conversation.PublishingStore ── metrics, EventBroadcaster, NATS publisher
//	       ├─ bridge.Bridge ── upstream.Client
//	       └─ conversation.Service ── dedupe.Cache
//
// The NATS publisher and the prompt library are only created when their
// URLs are set. When NATS is enabled, items appended on other instances are
// relayed into the local broadcaster so item streams see them too.
//
// # HTTP API
//
// Routes are mounted on a chi router in router.go:
//
//   - GET /health - Liveness check
//   - GET /health/ready - Store reachable and upstream workflow configured
//   - GET /verify - {"ok": true}
//   - GET /metrics - Prometheus exposition (path configurable)
//   - POST /api/create-session - Exchange a workflow id for a client secret
//   - POST /api/threads - Create a thread
//   - GET /api/threads - List the caller's threads
//   - GET /api/threads/{id} - Get one thread
//   - POST /api/threads/{id}/messages - Submit a turn, reply streams as SSE
//   - GET /api/threads/{id}/items - Page items (after, limit, order)
//   - GET /api/threads/{id}/events - SSE of items appended from now on
//   - GET /api/threads/{id}/transcript - HTML transcript
//   - GET /api/prompts/tree - Prompt library categories
//   - GET /api/prompts/{id}/content - Live prompt text
//
// Everything under /api runs behind auth.Middleware: bearer JWTs when
// auth.jwt_secret is set, the session cookie otherwise. Threads of other
// callers are reported as not found.
//
// # Reply Stream
//
// POST /api/threads/{id}/messages answers with:
//
//	event: thread
//	data: {"thread": {...}, "user_item": {...}}
//
//	event: message_started
//	data: {"type":"message_started","item_id":"..."}
//
//	event: text_delta
//	data: {"type":"text_delta","item_id":"...","text":"Olá"}
//
//	event: message_completed
//	data: {"type":"message_completed","item_id":"...","text":"Olá, tudo bem?"}
//
// A failed reply ends with a stream_error event instead. Errors before the
// stream starts are JSON: {"error": "..."}.
//
// # Lifecycle
//
// Run listens on server.http_addr and blocks until its context is canceled,
// then shuts down within server.shutdown_timeout and closes every component.
package gateway

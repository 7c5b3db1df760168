// Package upstream talks to the workflow execution API.
//
// Reader parses the server-sent event stream a streaming run returns. Frames
// are reduced to four delta kinds:
//
//   - DeltaText: a JSON object with a string "delta" field
//   - DeltaHeartbeat: an SSE comment line
//   - DeltaDone: the literal payload [DONE]
//   - DeltaMalformed: any other data payload, counted and skipped
//
// Client opens streaming runs (Stream), blocking runs (Complete) and chat
// sessions (CreateSession). Non-2xx responses surface as *StatusError, which
// wraps ErrTransport together with network and read failures.
package upstream

// Package notify publishes appended thread items to NATS and relays items
// published by other gateway instances back into the local broadcaster.
package notify

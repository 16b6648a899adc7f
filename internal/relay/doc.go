// Package relay owns session orchestration concerns.
//
// Ownership boundary:
// - role lifecycle (idle -> server or client, mutually exclusive)
// - inbound envelope queueing and single-tick dispatch
// - handler registration per frame type
// - lifecycle event fan-out to subscribers
//
// Transport callbacks only enqueue; handlers run on the tick goroutine, one
// envelope at a time, so handler code never needs its own locking against
// other handlers.
//
// Relay does not own framing or socket lifecycles.
package relay

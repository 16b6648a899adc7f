// Package transport owns the raw socket boundary: the TCP listener with its
// live connection set, the outbound TCP client, and the per-connection
// receive and write loops.
//
// Ownership boundary: transport goroutines never run application logic.
// Event callbacks fire on I/O goroutines and must only enqueue; dispatch
// belongs to the relay drain tick. Per connection there is exactly one
// receive loop and one write loop; sends from any goroutine are serialized
// through the connection's queue.
package transport

// Package reassembly recovers framed envelopes from the arbitrarily chunked
// byte deliveries of a stream transport.
//
// Ownership boundary: a Reassembler is confined to the goroutine that feeds
// it. Receive loops own one Reassembler per socket; emitted envelopes cross
// the goroutine boundary through the owner's queue, never through shared
// reassembly state.
package reassembly

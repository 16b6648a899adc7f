package reassembly

import (
	"fmt"

	"github.com/danmuck/lanrelay/internal/protocol/frame"
)

// endpointState tracks one remote endpoint's position in the byte stream.
// Exactly one of three states holds at any time: awaiting a header
// (hdrRead == 0, body == nil), reading a partial header (hdrRead in 1..4),
// or reading a body (body != nil).
type endpointState struct {
	hdr      [frame.HeaderLen]byte
	hdrRead  int
	typ      byte
	body     []byte
	bodyRead int
}

func (st *endpointState) reset() {
	st.hdrRead = 0
	st.body = nil
	st.bodyRead = 0
}

// Reassembler turns per-endpoint byte chunks back into discrete envelopes.
// Endpoint state is created lazily on first bytes from a new remote address
// and lives as long as the Reassembler; it is never dropped, which is
// acceptable for long-lived connections and a known leak for churny ones.
type Reassembler struct {
	limits frame.Limits
	emit   func(frame.Envelope)
	states map[string]*endpointState
}

// New returns a Reassembler that hands each completed envelope to emit, in
// the order the envelope's bytes arrived.
func New(limits frame.Limits, emit func(frame.Envelope)) *Reassembler {
	return &Reassembler{
		limits: limits,
		emit:   emit,
		states: make(map[string]*endpointState),
	}
}

// Feed consumes one received chunk from sender, left to right. A chunk may
// contain zero, one, or many complete envelopes and may end mid-header or
// mid-body; partial state carries over to the next Feed.
//
// A declared payload length above the configured limit is malformed wire
// data: the endpoint resets to awaiting-header, the remainder of the chunk
// is dropped, and the error is returned. The connection is the caller's to
// keep or close.
func (r *Reassembler) Feed(sender string, chunk []byte) error {
	st := r.states[sender]
	if st == nil {
		st = &endpointState{}
		r.states[sender] = st
	}
	for len(chunk) > 0 {
		switch {
		case st.body != nil:
			n := copy(st.body[st.bodyRead:], chunk)
			st.bodyRead += n
			chunk = chunk[n:]
			if st.bodyRead == len(st.body) {
				r.emit(frame.DecodePayload(sender, st.typ, st.body))
				st.body = nil
				st.bodyRead = 0
			}
		case st.hdrRead > 0:
			n := copy(st.hdr[st.hdrRead:], chunk)
			st.hdrRead += n
			chunk = chunk[n:]
			if st.hdrRead == frame.HeaderLen {
				st.hdrRead = 0
				if err := r.beginBody(st, sender, st.hdr); err != nil {
					return err
				}
			}
		default:
			// Fast path: decode straight from the chunk when the full
			// header is already available, no header buffer needed.
			if len(chunk) >= frame.HeaderLen {
				var hdr [frame.HeaderLen]byte
				copy(hdr[:], chunk[:frame.HeaderLen])
				chunk = chunk[frame.HeaderLen:]
				if err := r.beginBody(st, sender, hdr); err != nil {
					return err
				}
				continue
			}
			st.hdrRead = copy(st.hdr[:], chunk)
			chunk = nil
		}
	}
	return nil
}

// beginBody decodes a completed header and either emits a zero-length
// envelope immediately or allocates the exact body buffer and enters the
// reading-body state.
func (r *Reassembler) beginBody(st *endpointState, sender string, hdr [frame.HeaderLen]byte) error {
	payloadLen, typ := frame.DecodeHeader(hdr)
	if payloadLen > r.limits.MaxPayloadBytes {
		st.reset()
		return fmt.Errorf("reassembly: endpoint %s declared %d byte payload: %w", sender, payloadLen, frame.ErrPayloadTooLarge)
	}
	if payloadLen == 0 {
		r.emit(frame.DecodePayload(sender, typ, nil))
		return nil
	}
	st.typ = typ
	st.body = make([]byte, payloadLen)
	st.bodyRead = 0
	return nil
}

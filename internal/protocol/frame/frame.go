package frame

import (
	"encoding/binary"
	"errors"
	"io"
)

// HeaderLen is the fixed wire header size: a 4-byte little-endian payload
// length followed by a 1-byte message type. The layout is load-bearing for
// interoperability and must not grow.
const HeaderLen = 5

const (
	// TypeWorldAnchor is the reserved binary payload kind carrying the
	// shared world-anchor blob.
	TypeWorldAnchor byte = 0

	// SelfDescribingBase splits the type space: types at or above it carry
	// self-describing (JSON) payloads, types below it carry opaque binary.
	SelfDescribingBase byte = 128
)

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrShortBody       = errors.New("frame: body shorter than declared length")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Envelope is one typed, length-framed message unit.
type Envelope struct {
	Type    byte
	Payload []byte
	Sender  string // remote address, populated on receipt only
}

// Limits constrains decode memory use. A declared payload length above
// MaxPayloadBytes is malformed wire data, not a valid envelope.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 16 * 1024 * 1024,
	}
}

// IsSelfDescribing reports whether typ denotes a self-describing payload.
func IsSelfDescribing(typ byte) bool {
	return typ >= SelfDescribingBase
}

// Encode serializes env into a single contiguous buffer: header then payload,
// 5+len(payload) bytes total. It never fails for payloads that fit in uint32;
// larger payloads are a caller contract violation.
func Encode(env Envelope) []byte {
	buf := make([]byte, HeaderLen+len(env.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(env.Payload)))
	buf[4] = env.Type
	copy(buf[HeaderLen:], env.Payload)
	return buf
}

// EncodeTo writes the framed envelope to w as one contiguous write so the
// header and payload cannot interleave with other writers.
func EncodeTo(w io.Writer, env Envelope) error {
	_, err := w.Write(Encode(env))
	return err
}

// DecodeHeader decodes the fixed 5-byte header. Pure, no side effects.
func DecodeHeader(b [HeaderLen]byte) (payloadLen uint32, typ byte) {
	return binary.LittleEndian.Uint32(b[0:4]), b[4]
}

// Decode parses a header-prefixed buffer into an Envelope. The payload is
// copied out of raw so callers may reuse their read buffer.
func Decode(sender string, raw []byte) (Envelope, error) {
	if len(raw) < HeaderLen {
		return Envelope{}, ErrShortHeader
	}
	var hdr [HeaderLen]byte
	copy(hdr[:], raw[:HeaderLen])
	payloadLen, typ := DecodeHeader(hdr)
	body := raw[HeaderLen:]
	if uint64(len(body)) < uint64(payloadLen) {
		return Envelope{}, ErrShortBody
	}
	payload := make([]byte, payloadLen)
	copy(payload, body[:payloadLen])
	return Envelope{Type: typ, Payload: payload, Sender: sender}, nil
}

// DecodePayload wraps an already-reassembled payload whose header was
// stripped upstream. The payload is used as-is, not copied.
func DecodePayload(sender string, typ byte, payload []byte) Envelope {
	return Envelope{Type: typ, Payload: payload, Sender: sender}
}

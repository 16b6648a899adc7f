package reassembly

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/danmuck/lanrelay/internal/protocol/frame"
)

func collect(limits frame.Limits) (*Reassembler, *[]frame.Envelope) {
	var got []frame.Envelope
	r := New(limits, func(env frame.Envelope) {
		got = append(got, env)
	})
	return r, &got
}

func stream(envs []frame.Envelope) []byte {
	var buf bytes.Buffer
	for _, env := range envs {
		buf.Write(frame.Encode(env))
	}
	return buf.Bytes()
}

func checkEmitted(t *testing.T, got []frame.Envelope, want []frame.Envelope) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("emitted %d envelopes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Type != want[i].Type {
			t.Fatalf("envelope %d type: got=%d want=%d", i, got[i].Type, want[i].Type)
		}
		if !bytes.Equal(got[i].Payload, want[i].Payload) {
			t.Fatalf("envelope %d payload mismatch", i)
		}
	}
}

func TestFeedOneChunkManyEnvelopes(t *testing.T) {
	want := []frame.Envelope{
		{Type: 1, Payload: []byte("first")},
		{Type: 200, Payload: []byte(`{"k":"v"}`)},
		{Type: 3, Payload: nil},
		{Type: 255, Payload: bytes.Repeat([]byte{9}, 4096)},
	}
	r, got := collect(frame.DefaultLimits())
	if err := r.Feed("peer", stream(want)); err != nil {
		t.Fatalf("feed: %v", err)
	}
	checkEmitted(t, *got, want)
}

func TestFeedOneByteChunks(t *testing.T) {
	want := []frame.Envelope{
		{Type: 10, Payload: []byte("abc")},
		{Type: 128, Payload: []byte("defgh")},
		{Type: 0, Payload: nil},
	}
	r, got := collect(frame.DefaultLimits())
	raw := stream(want)
	for i := range raw {
		if err := r.Feed("peer", raw[i:i+1]); err != nil {
			t.Fatalf("feed byte %d: %v", i, err)
		}
	}
	checkEmitted(t, *got, want)
}

func TestFeedEverySplitPoint(t *testing.T) {
	want := []frame.Envelope{{Type: 42, Payload: []byte("payload-bytes")}}
	raw := stream(want)
	for split := 1; split < len(raw); split++ {
		r, got := collect(frame.DefaultLimits())
		if err := r.Feed("peer", raw[:split]); err != nil {
			t.Fatalf("split %d first feed: %v", split, err)
		}
		if err := r.Feed("peer", raw[split:]); err != nil {
			t.Fatalf("split %d second feed: %v", split, err)
		}
		checkEmitted(t, *got, want)
	}
}

func TestFeedRandomSplits(t *testing.T) {
	want := []frame.Envelope{
		{Type: 1, Payload: bytes.Repeat([]byte{1}, 300)},
		{Type: 2, Payload: nil},
		{Type: 130, Payload: []byte(`{"cmd":"move"}`)},
		{Type: 3, Payload: bytes.Repeat([]byte{3}, 77)},
		{Type: 4, Payload: []byte("x")},
	}
	raw := stream(want)
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		r, got := collect(frame.DefaultLimits())
		rest := raw
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			if err := r.Feed("peer", rest[:n]); err != nil {
				t.Fatalf("trial %d feed: %v", trial, err)
			}
			rest = rest[n:]
		}
		checkEmitted(t, *got, want)
	}
}

func TestPartialHeaderResumption(t *testing.T) {
	want := []frame.Envelope{{Type: 200, Payload: []byte("abc")}}
	raw := stream(want)
	r, got := collect(frame.DefaultLimits())
	if err := r.Feed("peer", raw[:3]); err != nil {
		t.Fatalf("feed header prefix: %v", err)
	}
	if len(*got) != 0 {
		t.Fatalf("emitted before header complete")
	}
	if err := r.Feed("peer", raw[3:]); err != nil {
		t.Fatalf("feed remainder: %v", err)
	}
	checkEmitted(t, *got, want)
}

func TestZeroLengthPayloadEmitsOnHeader(t *testing.T) {
	r, got := collect(frame.DefaultLimits())
	if err := r.Feed("peer", frame.Encode(frame.Envelope{Type: 17})); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(*got) != 1 {
		t.Fatalf("emitted %d envelopes, want 1", len(*got))
	}
	if (*got)[0].Type != 17 || len((*got)[0].Payload) != 0 {
		t.Fatalf("unexpected envelope: %+v", (*got)[0])
	}
}

func TestChunkEndsMidBody(t *testing.T) {
	want := []frame.Envelope{{Type: 5, Payload: bytes.Repeat([]byte{5}, 64)}}
	raw := stream(want)
	r, got := collect(frame.DefaultLimits())
	if err := r.Feed("peer", raw[:frame.HeaderLen+10]); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(*got) != 0 {
		t.Fatalf("emitted before body complete")
	}
	if err := r.Feed("peer", raw[frame.HeaderLen+10:]); err != nil {
		t.Fatalf("feed: %v", err)
	}
	checkEmitted(t, *got, want)
}

func TestOversizedLengthResetsEndpoint(t *testing.T) {
	limits := frame.Limits{MaxPayloadBytes: 1024}
	r, got := collect(limits)

	bad := frame.Encode(frame.Envelope{Type: 1, Payload: bytes.Repeat([]byte{1}, 2048)})
	// Trailing valid envelope in the same chunk must be dropped with the
	// remainder, not parsed.
	var chunk []byte
	chunk = append(chunk, bad[:frame.HeaderLen]...)
	chunk = append(chunk, frame.Encode(frame.Envelope{Type: 2, Payload: []byte("late")})...)
	err := r.Feed("peer", chunk)
	if !errors.Is(err, frame.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if len(*got) != 0 {
		t.Fatalf("emitted %d envelopes from poisoned chunk", len(*got))
	}

	// The endpoint is back to awaiting-header: a fresh envelope parses.
	want := []frame.Envelope{{Type: 3, Payload: []byte("recovered")}}
	if err := r.Feed("peer", stream(want)); err != nil {
		t.Fatalf("feed after reset: %v", err)
	}
	checkEmitted(t, *got, want)
}

func TestEndpointsReassembleIndependently(t *testing.T) {
	wantA := []frame.Envelope{{Type: 1, Payload: []byte("from-a")}}
	wantB := []frame.Envelope{{Type: 2, Payload: []byte("from-b")}}
	rawA := stream(wantA)
	rawB := stream(wantB)

	var got []frame.Envelope
	r := New(frame.DefaultLimits(), func(env frame.Envelope) { got = append(got, env) })

	// Interleave partial deliveries from two endpoints.
	if err := r.Feed("a", rawA[:4]); err != nil {
		t.Fatalf("feed a: %v", err)
	}
	if err := r.Feed("b", rawB[:7]); err != nil {
		t.Fatalf("feed b: %v", err)
	}
	if err := r.Feed("a", rawA[4:]); err != nil {
		t.Fatalf("feed a: %v", err)
	}
	if err := r.Feed("b", rawB[7:]); err != nil {
		t.Fatalf("feed b: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("emitted %d envelopes, want 2", len(got))
	}
	if got[0].Sender != "a" || !bytes.Equal(got[0].Payload, wantA[0].Payload) {
		t.Fatalf("first emission: %+v", got[0])
	}
	if got[1].Sender != "b" || !bytes.Equal(got[1].Payload, wantB[0].Payload) {
		t.Fatalf("second emission: %+v", got[1])
	}
}

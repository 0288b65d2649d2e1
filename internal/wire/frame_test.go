package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		typ     Type
		flags   uint8
		payload []byte
	}{
		{"empty payload", PUB, 0, nil},
		{"small payload", SUB, 0, []byte(`["weather"]`)},
		{"unknown type still decodes", Type(0x7F), 1, []byte("x")},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			encoded, err := Encode(c.typ, c.flags, c.payload)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(encoded) != HeaderSize+len(c.payload) {
				t.Fatalf("encoded length = %d, want %d", len(encoded), HeaderSize+len(c.payload))
			}

			frame, consumed, ok := Decode(encoded)
			if !ok {
				t.Fatalf("Decode reported incomplete frame")
			}
			if consumed != HeaderSize+len(c.payload) {
				t.Fatalf("consumed = %d, want %d", consumed, HeaderSize+len(c.payload))
			}
			if frame.Type != c.typ || frame.Flags != c.flags {
				t.Fatalf("got type=%v flags=%v, want type=%v flags=%v", frame.Type, frame.Flags, c.typ, c.flags)
			}
			if !bytes.Equal(frame.Payload, c.payload) && !(len(frame.Payload) == 0 && len(c.payload) == 0) {
				t.Fatalf("payload mismatch: got %v want %v", frame.Payload, c.payload)
			}
		})
	}
}

func TestDecodeNeedsMoreData(t *testing.T) {
	full, _ := Encode(PUB, 0, []byte("hello"))

	for i := 0; i < len(full); i++ {
		if _, _, ok := Decode(full[:i]); ok {
			t.Fatalf("Decode on %d/%d bytes unexpectedly reported complete", i, len(full))
		}
	}
	if _, _, ok := Decode(full); !ok {
		t.Fatalf("Decode on full frame reported incomplete")
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(PUB, 0, make([]byte, MaxPayload+1))
	if err != ErrPayloadTooLarge {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestDecodeStreamRecoversFramesInOrder(t *testing.T) {
	want := []Frame{
		{Type: CONN, Flags: 0, Payload: []byte("alice")},
		{Type: PUB, Flags: 0, Payload: []byte("abc")},
		{Type: SUB, Flags: 0, Payload: []byte(`["weather"]`)},
	}

	var stream []byte
	for _, f := range want {
		enc, err := Encode(f.Type, f.Flags, f.Payload)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		stream = append(stream, enc...)
	}

	var got []Frame
	for len(stream) > 0 {
		frame, consumed, ok := Decode(stream)
		if !ok {
			t.Fatalf("Decode reported incomplete mid-stream")
		}
		got = append(got, frame)
		stream = stream[consumed:]
	}

	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Type != want[i].Type || !bytes.Equal(got[i].Payload, want[i].Payload) {
			t.Fatalf("frame %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
	if len(stream) != 0 {
		t.Fatalf("residue bytes after decoding all frames: %d", len(stream))
	}
}

func TestAccumulatorNext(t *testing.T) {
	enc1, _ := Encode(CONNACK, 0, nil)
	enc2, _ := Encode(PUB, 0, []byte("payload"))

	r := &chunkedReader{chunks: [][]byte{enc1[:2], enc1[2:], enc2}}
	acc := NewAccumulator(r)

	f1, err := acc.Next()
	if err != nil || f1.Type != CONNACK {
		t.Fatalf("first frame: %v %v", f1, err)
	}
	f2, err := acc.Next()
	if err != nil || f2.Type != PUB || string(f2.Payload) != "payload" {
		t.Fatalf("second frame: %v %v", f2, err)
	}
}

// chunkedReader replays a fixed sequence of reads, simulating partial
// TCP deliveries.
type chunkedReader struct {
	chunks [][]byte
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

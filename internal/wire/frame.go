package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed header length: type(1) + flags(1) + length(2).
const HeaderSize = 4

// MaxPayload is the largest payload a single frame can carry; the length
// field is an unsigned 16-bit big-endian integer.
const MaxPayload = 65535

// ErrPayloadTooLarge is returned by Encode when the payload exceeds MaxPayload.
var ErrPayloadTooLarge = errors.New("wire: payload exceeds 65535 bytes")

// Frame is one decoded TinyMQ packet.
type Frame struct {
	Type    Type
	Flags   uint8
	Payload []byte
}

// Encode serializes a frame as header + payload.
func Encode(t Type, flags uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = uint8(t)
	buf[1] = flags
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode attempts to parse a single frame from the front of buf.
//
// It returns the parsed frame and the number of bytes to drop from the
// front of buf, or ok=false if buf does not yet hold a complete frame.
// A type byte outside the closed enumeration still yields a frame (with
// Known()==false) so the caller can skip it instead of getting stuck.
func Decode(buf []byte) (frame Frame, consumed int, ok bool) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, false
	}
	payloadLen := int(binary.BigEndian.Uint16(buf[2:4]))
	total := HeaderSize + payloadLen
	if len(buf) < total {
		return Frame{}, 0, false
	}
	payload := make([]byte, payloadLen)
	copy(payload, buf[HeaderSize:total])
	return Frame{
		Type:    Type(buf[0]),
		Flags:   buf[1],
		Payload: payload,
	}, total, true
}

// String renders a frame for debug logging.
func (f Frame) String() string {
	return fmt.Sprintf("%s(flags=%#02x, %dB)", f.Type, f.Flags, len(f.Payload))
}

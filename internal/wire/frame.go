// Package wire implements the length-delimited frame codec used on the
// daemon's control socket: a 4-byte big-endian length prefix followed by a
// payload whose first byte distinguishes a JSON message from a binary
// PTY-output frame.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Kind identifies which of the two payload shapes a frame carries.
type Kind byte

const (
	// KindJSON marks a UTF-8 JSON payload; its first byte is always '{'.
	KindJSON Kind = '{'
	// KindPTY marks a binary PTY-output payload: prompt id (4 bytes,
	// big-endian) followed by raw terminal bytes.
	KindPTY Kind = 0x01
)

// MaxPayloadSize bounds a single frame's payload to guard against a
// malicious or corrupt length prefix forcing an unbounded allocation.
const MaxPayloadSize = 64 << 20 // 64 MiB

// ErrFrameTooLarge is returned by Decode when the length prefix exceeds
// MaxPayloadSize.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum payload size")

// ErrEmptyPayload is returned when a frame's payload has no bytes to carry
// a kind discriminator.
var ErrEmptyPayload = errors.New("wire: empty frame payload")

// ErrUnknownKind is returned when a payload's first byte is neither '{' nor
// the PTY frame marker.
var ErrUnknownKind = errors.New("wire: unrecognized frame kind")

// JSONFrame encodes payload as a length-prefixed JSON frame and returns the
// encoded bytes. payload must already be valid JSON beginning with '{'.
func JSONFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 || payload[0] != byte(KindJSON) {
		return nil, fmt.Errorf("wire: JSON payload must begin with '{', got %q", firstByte(payload))
	}
	return encode(payload), nil
}

// PTYFrame encodes a binary PTY-output frame for promptID carrying data.
func PTYFrame(promptID uint32, data []byte) []byte {
	payload := make([]byte, 1+4+len(data))
	payload[0] = byte(KindPTY)
	binary.BigEndian.PutUint32(payload[1:5], promptID)
	copy(payload[5:], data)
	return encode(payload)
}

// encode prepends the 4-byte big-endian length prefix.
func encode(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload))) //nolint:gosec // guarded by MaxPayloadSize on decode
	copy(out[4:], payload)
	return out
}

// WriteJSON writes a JSON frame directly to w.
func WriteJSON(w io.Writer, payload []byte) error {
	f, err := JSONFrame(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(f)
	return err
}

// WritePTY writes a binary PTY frame directly to w.
func WritePTY(w io.Writer, promptID uint32, data []byte) error {
	_, err := w.Write(PTYFrame(promptID, data))
	return err
}

// Frame is a single decoded frame: its kind and its payload with the
// length prefix stripped. For KindJSON, Payload is the raw JSON bytes.
// For KindPTY, PromptID and Data are populated and Payload is the full
// post-length payload (kind byte, prompt id, and PTY bytes).
type Frame struct {
	Kind     Kind
	Payload  []byte
	PromptID uint32
	Data     []byte
}

// Decode reads exactly one frame from r.
func Decode(r *bufio.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxPayloadSize {
		return Frame{}, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	return decodePayload(payload)
}

func decodePayload(payload []byte) (Frame, error) {
	if len(payload) == 0 {
		return Frame{}, ErrEmptyPayload
	}
	switch Kind(payload[0]) {
	case KindJSON:
		return Frame{Kind: KindJSON, Payload: payload}, nil
	case KindPTY:
		if len(payload) < 5 {
			return Frame{}, fmt.Errorf("wire: PTY frame too short: %d bytes", len(payload))
		}
		return Frame{
			Kind:     KindPTY,
			Payload:  payload,
			PromptID: binary.BigEndian.Uint32(payload[1:5]),
			Data:     payload[5:],
		}, nil
	default:
		return Frame{}, ErrUnknownKind
	}
}

func firstByte(b []byte) string {
	if len(b) == 0 {
		return "<empty>"
	}
	return string(b[0])
}

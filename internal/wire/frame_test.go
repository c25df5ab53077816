package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestJSONFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"Ping"}`)
	encoded, err := JSONFrame(payload)
	require.NoError(t, err)

	f, err := Decode(bufio.NewReader(bytes.NewReader(encoded)))
	require.NoError(t, err)
	assert.Equal(t, KindJSON, f.Kind)
	assert.Equal(t, payload, f.Payload)
}

func TestPTYFrameRoundTrip(t *testing.T) {
	data := []byte("hello from the pty\r\n")
	encoded := PTYFrame(42, data)

	f, err := Decode(bufio.NewReader(bytes.NewReader(encoded)))
	require.NoError(t, err)
	assert.Equal(t, KindPTY, f.Kind)
	assert.Equal(t, uint32(42), f.PromptID)
	assert.Equal(t, data, f.Data)
}

func TestJSONFrameRejectsNonObjectPayload(t *testing.T) {
	_, err := JSONFrame([]byte("not json"))
	assert.Error(t, err)
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	lenBuf[0] = 0xFF
	lenBuf[1] = 0xFF
	lenBuf[2] = 0xFF
	lenBuf[3] = 0xFF
	buf.Write(lenBuf[:])

	_, err := Decode(bufio.NewReader(&buf))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, []byte(`{"a":1}`)))
	require.NoError(t, WritePTY(&buf, 7, []byte("xy")))
	require.NoError(t, WriteJSON(&buf, []byte(`{"b":2}`)))

	r := bufio.NewReader(&buf)

	f1, err := Decode(r)
	require.NoError(t, err)
	assert.Equal(t, KindJSON, f1.Kind)

	f2, err := Decode(r)
	require.NoError(t, err)
	assert.Equal(t, KindPTY, f2.Kind)
	assert.Equal(t, uint32(7), f2.PromptID)

	f3, err := Decode(r)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"b":2}`), f3.Payload)
}

// TestFrameRoundTripProperty exercises the PTY half of testable property 7:
// decoding an encoded PTY frame yields KindPTY and reproduces its prompt id
// and byte sequence exactly.
func TestFrameRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		promptID := rapid.Uint32().Draw(rt, "promptID")
		data := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(rt, "data")

		encoded := PTYFrame(promptID, data)
		f, err := Decode(bufio.NewReader(bytes.NewReader(encoded)))
		require.NoError(rt, err)
		require.Equal(rt, KindPTY, f.Kind)
		require.Equal(rt, promptID, f.PromptID)
		require.Equal(rt, data, f.Data)
	})
}

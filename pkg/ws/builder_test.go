// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTextFrame(t *testing.T) {
	b := NewFrameBuilder(false, 0)
	frame, err := b.BuildTextFrame("Hello")
	require.NoError(t, err)
	assert.Equal(t, helloFrame, frame)
}

func TestBuildControlFrames(t *testing.T) {
	b := NewFrameBuilder(false, 0)

	frame, err := b.BuildPingFrame(nil)
	require.NoError(t, err)
	assert.Equal(t, pingFrame, frame)

	frame, err = b.BuildPongFrame(nil)
	require.NoError(t, err)
	assert.Equal(t, pongFrame, frame)

	frame, err = b.BuildCloseFrame(CloseNormal, "bye")
	require.NoError(t, err)
	assert.Equal(t, closeFrame, frame)
}

func TestBuildMinimalLengthEncodings(t *testing.T) {
	b := NewFrameBuilder(false, 0)

	frame, err := b.BuildBinaryFrame(bytes.Repeat([]byte{0x01}, 125))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x82, 125}, frame[:2])
	assert.Len(t, frame, 2+125)

	frame, err = b.BuildBinaryFrame(bytes.Repeat([]byte{0x02}, 126))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x82, 0x7E, 0x00, 0x7E}, frame[:4])
	assert.Len(t, frame, 4+126)

	frame, err = b.BuildBinaryFrame(bytes.Repeat([]byte{0x03}, 65535))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x82, 0x7E, 0xFF, 0xFF}, frame[:4])

	frame, err = b.BuildBinaryFrame(bytes.Repeat([]byte{0x04}, 65536))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x82, 0x7F, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00}, frame[:10])
	assert.Len(t, frame, 10+65536)
}

func TestBuildMaskedRoundTrip(t *testing.T) {
	b := NewFrameBuilder(true, 0)
	frame, err := b.BuildTextFrame("Hello")
	require.NoError(t, err)
	require.Len(t, frame, 11)
	assert.Equal(t, byte(0x85), frame[1])

	// Masked payload bytes must differ from the clear text for any
	// non-zero key; parsing restores them either way.
	f := parseOne(t, ParserConfig{RequireMasking: true}, frame)
	assert.True(t, f.Masked)
	assert.Equal(t, []byte("Hello"), f.Payload)
}

func TestBuildFreshMaskKeyPerFrame(t *testing.T) {
	b := NewFrameBuilder(true, 0)
	keys := make(map[[4]byte]bool)
	for i := 0; i < 8; i++ {
		frame, err := b.BuildTextFrame("x")
		require.NoError(t, err)
		var key [4]byte
		copy(key[:], frame[2:6])
		keys[key] = true
	}
	assert.Greater(t, len(keys), 1)
}

func TestBuildRejectsInvalidFrames(t *testing.T) {
	b := NewFrameBuilder(false, 0)

	_, err := b.BuildFrame(0x5, nil, true)
	assert.ErrorIs(t, err, ErrInvalidOpcode)

	_, err = b.BuildFrame(OpPing, nil, false)
	assert.ErrorIs(t, err, ErrProtocolViolation)

	_, err = b.BuildPingFrame(bytes.Repeat([]byte{0x01}, 126))
	assert.ErrorIs(t, err, ErrProtocolViolation)

	_, err = b.BuildCompressedFrame(OpPing, nil, true)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestBuildFrameSizeLimit(t *testing.T) {
	b := NewFrameBuilder(false, 4)
	_, err := b.BuildTextFrame("Hello")
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = b.BuildTextFrame("Hell")
	assert.NoError(t, err)
}

func TestBuildCloseReasonTruncated(t *testing.T) {
	b := NewFrameBuilder(false, 0)
	long := string(bytes.Repeat([]byte{'r'}, 500))
	frame, err := b.BuildCloseFrame(CloseInternalError, long)
	require.NoError(t, err)

	f := parseOne(t, ParserConfig{}, frame)
	assert.Len(t, f.Payload, 125)
}

func TestBuildCompressedFrameSetsRSV1(t *testing.T) {
	b := NewFrameBuilder(false, 0)
	frame, err := b.BuildCompressedFrame(OpText, []byte{0x7B}, true)
	require.NoError(t, err)
	assert.Equal(t, byte(0xC1), frame[0])
}

func TestBuildParseRoundTrip(t *testing.T) {
	b := NewFrameBuilder(false, 0)
	payloads := [][]byte{
		nil,
		[]byte("a"),
		bytes.Repeat([]byte{0x55}, 125),
		bytes.Repeat([]byte{0x55}, 126),
		bytes.Repeat([]byte{0x55}, 65536),
	}
	for _, payload := range payloads {
		frame, err := b.BuildBinaryFrame(payload)
		require.NoError(t, err)

		f := parseOne(t, ParserConfig{}, frame)
		assert.Equal(t, OpBinary, f.Opcode)
		assert.Equal(t, len(payload), len(f.Payload))
		if len(payload) > 0 {
			assert.Equal(t, payload, f.Payload)
		}

		// Rebuilding the parsed frame reproduces the original bytes.
		again, err := b.BuildFrame(f.Opcode, f.Payload, f.Fin)
		require.NoError(t, err)
		assert.Equal(t, frame, again)
	}
}

func TestFragmentMessage(t *testing.T) {
	frames, err := FragmentMessage(OpText, []byte("HelloWorld"), 4, false)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	p := NewFrameParser(ParserConfig{})
	var parsed []Frame
	for _, raw := range frames {
		n, err := p.Parse(raw)
		require.NoError(t, err)
		require.Equal(t, len(raw), n)
		f, ok := p.TakeFrame()
		require.True(t, ok)
		parsed = append(parsed, f)
	}

	assert.Equal(t, OpText, parsed[0].Opcode)
	assert.False(t, parsed[0].Fin)
	assert.Equal(t, OpContinuation, parsed[1].Opcode)
	assert.False(t, parsed[1].Fin)
	assert.Equal(t, OpContinuation, parsed[2].Opcode)
	assert.True(t, parsed[2].Fin)

	msg, err := ReassembleMessage(parsed)
	require.NoError(t, err)
	assert.Equal(t, []byte("HelloWorld"), msg.Payload)
}

func TestFragmentMessageSingleFrame(t *testing.T) {
	frames, err := FragmentMessage(OpBinary, []byte("abc"), 10, false)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	f := parseOne(t, ParserConfig{}, frames[0])
	assert.True(t, f.Fin)
	assert.Equal(t, OpBinary, f.Opcode)
	assert.Equal(t, []byte("abc"), f.Payload)
}

func TestFragmentMessageErrors(t *testing.T) {
	_, err := FragmentMessage(OpPing, []byte("x"), 4, false)
	assert.ErrorIs(t, err, ErrProtocolViolation)

	_, err = FragmentMessage(OpText, []byte("x"), 0, false)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestFragmentMessageMasked(t *testing.T) {
	frames, err := FragmentMessage(OpText, []byte("HelloWorld"), 3, true)
	require.NoError(t, err)
	require.Len(t, frames, 4)

	p := NewFrameParser(ParserConfig{RequireMasking: true})
	var joined bytes.Buffer
	for _, raw := range frames {
		_, err := p.Parse(raw)
		require.NoError(t, err)
		f, ok := p.TakeFrame()
		require.True(t, ok)
		joined.Write(f.Payload)
	}
	assert.Equal(t, "HelloWorld", joined.String())
}

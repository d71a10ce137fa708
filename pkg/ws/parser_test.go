// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOne(t *testing.T, cfg ParserConfig, data []byte) Frame {
	t.Helper()
	p := NewFrameParser(cfg)
	n, err := p.Parse(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.True(t, p.HasFrame())
	f, ok := p.TakeFrame()
	require.True(t, ok)
	return f
}

func TestParseUnmaskedText(t *testing.T) {
	f := parseOne(t, ParserConfig{}, helloFrame)
	assert.True(t, f.Fin)
	assert.False(t, f.RSV1)
	assert.False(t, f.RSV2)
	assert.False(t, f.RSV3)
	assert.Equal(t, OpText, f.Opcode)
	assert.False(t, f.Masked)
	assert.Equal(t, []byte("Hello"), f.Payload)
}

func TestParseMaskedText(t *testing.T) {
	f := parseOne(t, ParserConfig{}, maskedHelloFrame)
	assert.True(t, f.Fin)
	assert.Equal(t, OpText, f.Opcode)
	assert.True(t, f.Masked)
	assert.Equal(t, [4]byte{0x37, 0xfa, 0x21, 0x3d}, f.MaskKey)
	assert.Equal(t, []byte("Hello"), f.Payload)
}

func TestParseControlFrames(t *testing.T) {
	ping := parseOne(t, ParserConfig{}, pingFrame)
	assert.Equal(t, OpPing, ping.Opcode)
	assert.True(t, ping.Fin)
	assert.Empty(t, ping.Payload)

	pong := parseOne(t, ParserConfig{}, pongFrame)
	assert.Equal(t, OpPong, pong.Opcode)

	cl := parseOne(t, ParserConfig{}, closeFrame)
	assert.Equal(t, OpClose, cl.Opcode)
	code, reason, err := ParseClosePayload(cl.Payload)
	require.NoError(t, err)
	assert.Equal(t, CloseNormal, code)
	assert.Equal(t, "bye", reason)
}

func TestParseByteAtATime(t *testing.T) {
	p := NewFrameParser(ParserConfig{})
	for i, b := range maskedHelloFrame {
		n, err := p.Parse([]byte{b})
		require.NoError(t, err, "byte %d", i)
		require.Equal(t, 1, n, "byte %d", i)
		if i < len(maskedHelloFrame)-1 {
			require.False(t, p.HasFrame(), "byte %d", i)
		}
	}
	require.True(t, p.HasFrame())
	f, ok := p.TakeFrame()
	require.True(t, ok)
	assert.Equal(t, []byte("Hello"), f.Payload)
}

func TestParseStopsAtFrameBoundary(t *testing.T) {
	stream := append(append([]byte{}, helloFrame...), pingFrame...)

	p := NewFrameParser(ParserConfig{})
	n, err := p.Parse(stream)
	require.NoError(t, err)
	assert.Equal(t, len(helloFrame), n)
	require.True(t, p.HasFrame())

	f, _ := p.TakeFrame()
	assert.Equal(t, OpText, f.Opcode)

	n2, err := p.Parse(stream[n:])
	require.NoError(t, err)
	assert.Equal(t, len(pingFrame), n2)
	f, _ = p.TakeFrame()
	assert.Equal(t, OpPing, f.Opcode)
}

func TestParseExtended16BitLength(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 300)
	frame := append([]byte{0x82, 0x7E, 0x01, 0x2C}, payload...)

	f := parseOne(t, ParserConfig{}, frame)
	assert.Equal(t, OpBinary, f.Opcode)
	assert.Equal(t, payload, f.Payload)
}

func TestParseExtended64BitLength(t *testing.T) {
	payload := bytes.Repeat([]byte{0xCD}, 65536)
	frame := append([]byte{0x82, 0x7F, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00}, payload...)

	f := parseOne(t, ParserConfig{}, frame)
	assert.Equal(t, OpBinary, f.Opcode)
	assert.Len(t, f.Payload, 65536)
}

func TestParseMinimalEncodingBoundaries(t *testing.T) {
	// 125 fits the 7-bit form, 126 needs the 16-bit form, 65536 the 64-bit.
	p125 := bytes.Repeat([]byte{0x01}, 125)
	f := parseOne(t, ParserConfig{}, append([]byte{0x82, 125}, p125...))
	assert.Len(t, f.Payload, 125)

	p126 := bytes.Repeat([]byte{0x02}, 126)
	f = parseOne(t, ParserConfig{}, append([]byte{0x82, 0x7E, 0x00, 0x7E}, p126...))
	assert.Len(t, f.Payload, 126)
}

func TestParseRejectsNonMinimal16Bit(t *testing.T) {
	p := NewFrameParser(ParserConfig{})
	_, err := p.Parse([]byte{0x81, 0x7E, 0x00, 0x7D})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestParseRejectsNonMinimal64Bit(t *testing.T) {
	p := NewFrameParser(ParserConfig{})
	_, err := p.Parse([]byte{0x81, 0x7F, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestParseRejectsLengthMSB(t *testing.T) {
	p := NewFrameParser(ParserConfig{})
	_, err := p.Parse([]byte{0x81, 0x7F, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestParseRejectsInvalidOpcode(t *testing.T) {
	p := NewFrameParser(ParserConfig{})
	_, err := p.Parse([]byte{0x83, 0x00})
	assert.ErrorIs(t, err, ErrInvalidOpcode)
}

func TestParseRejectsReservedBits(t *testing.T) {
	for _, b0 := range []byte{0xC1, 0xA1, 0x91} {
		p := NewFrameParser(ParserConfig{})
		_, err := p.Parse([]byte{b0, 0x00})
		assert.ErrorIs(t, err, ErrProtocolViolation, "first byte 0x%x", b0)
	}
}

func TestParseAllowsRSV1WhenConfigured(t *testing.T) {
	f := parseOne(t, ParserConfig{AllowRSV1: true}, []byte{0xC2, 0x01, 0x7B})
	assert.True(t, f.RSV1)
	assert.Equal(t, OpBinary, f.Opcode)

	// RSV1 stays forbidden on control frames even when allowed on data.
	p := NewFrameParser(ParserConfig{AllowRSV1: true})
	_, err := p.Parse([]byte{0xC9, 0x00})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestParseRejectsFragmentedControl(t *testing.T) {
	p := NewFrameParser(ParserConfig{})
	_, err := p.Parse([]byte{0x09, 0x00})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestParseRejectsOversizedControl(t *testing.T) {
	p := NewFrameParser(ParserConfig{})
	_, err := p.Parse([]byte{0x88, 0x7E})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestParseRequireMasking(t *testing.T) {
	p := NewFrameParser(ParserConfig{RequireMasking: true})
	_, err := p.Parse(helloFrame)
	assert.ErrorIs(t, err, ErrInvalidMask)

	f := parseOne(t, ParserConfig{RequireMasking: true}, maskedHelloFrame)
	assert.Equal(t, []byte("Hello"), f.Payload)
}

func TestParseFrameSizeLimit(t *testing.T) {
	p := NewFrameParser(ParserConfig{MaxFrameSize: 4})
	_, err := p.Parse(helloFrame)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	// The limit is checked before any payload is buffered.
	p = NewFrameParser(ParserConfig{MaxFrameSize: 4})
	n, err := p.Parse(helloFrame[:2])
	assert.Error(t, err)
	assert.Equal(t, 2, n)
}

func TestParseInvalidUTF8Text(t *testing.T) {
	p := NewFrameParser(ParserConfig{})
	_, err := p.Parse([]byte{0x81, 0x02, 0xFF, 0xFE})
	assert.ErrorIs(t, err, ErrInvalidUTF8)

	f := parseOne(t, ParserConfig{SkipUTF8Validation: true}, []byte{0x81, 0x02, 0xFF, 0xFE})
	assert.Equal(t, []byte{0xFF, 0xFE}, f.Payload)

	// Binary frames carry arbitrary bytes regardless.
	f = parseOne(t, ParserConfig{}, []byte{0x82, 0x02, 0xFF, 0xFE})
	assert.Equal(t, []byte{0xFF, 0xFE}, f.Payload)
}

func TestParseErrorIsTerminal(t *testing.T) {
	p := NewFrameParser(ParserConfig{})
	_, err := p.Parse([]byte{0x83, 0x00})
	require.ErrorIs(t, err, ErrInvalidOpcode)

	n, err := p.Parse(helloFrame)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrInvalidOpcode)

	// Reset clears the terminal error and the parser works again.
	p.Reset()
	n, err = p.Parse(helloFrame)
	require.NoError(t, err)
	assert.Equal(t, len(helloFrame), n)
	f, ok := p.TakeFrame()
	require.True(t, ok)
	assert.Equal(t, []byte("Hello"), f.Payload)
}

func TestParseZeroLengthPayload(t *testing.T) {
	f := parseOne(t, ParserConfig{}, []byte{0x81, 0x00})
	assert.Equal(t, OpText, f.Opcode)
	assert.Empty(t, f.Payload)
}

func TestTakeFrameWithoutFrame(t *testing.T) {
	p := NewFrameParser(ParserConfig{})
	_, ok := p.TakeFrame()
	assert.False(t, ok)

	_, err := p.Parse(helloFrame[:3])
	require.NoError(t, err)
	_, ok = p.TakeFrame()
	assert.False(t, ok)
}

func TestBytesNeeded(t *testing.T) {
	p := NewFrameParser(ParserConfig{})
	assert.Equal(t, 2, p.BytesNeeded())

	_, err := p.Parse(helloFrame[:2])
	require.NoError(t, err)
	assert.Equal(t, 5, p.BytesNeeded())

	_, err = p.Parse(helloFrame[2:4])
	require.NoError(t, err)
	assert.Equal(t, 3, p.BytesNeeded())

	_, err = p.Parse(helloFrame[4:])
	require.NoError(t, err)
	assert.Equal(t, 0, p.BytesNeeded())
	assert.True(t, p.HasFrame())
}

func TestResetMidFrame(t *testing.T) {
	p := NewFrameParser(ParserConfig{})
	_, err := p.Parse(maskedHelloFrame[:6])
	require.NoError(t, err)
	require.False(t, p.HasFrame())

	p.Reset()
	assert.Equal(t, 2, p.BytesNeeded())

	f := parseOne(t, ParserConfig{}, helloFrame)
	assert.Equal(t, []byte("Hello"), f.Payload)
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"encoding/binary"
	"fmt"
)

// FrameBuilder serializes frames to wire format. A builder configured with
// masking generates a fresh mask key per frame, as clients must.
type FrameBuilder struct {
	maskFrames   bool
	maxFrameSize uint64
}

// NewFrameBuilder returns a builder. maxFrameSize bounds the payload of a
// single frame; zero means no limit.
func NewFrameBuilder(maskFrames bool, maxFrameSize uint64) *FrameBuilder {
	return &FrameBuilder{
		maskFrames:   maskFrames,
		maxFrameSize: maxFrameSize,
	}
}

// BuildFrame serializes one frame with the given opcode and payload. The
// payload is not modified; masking works on a copy.
func (b *FrameBuilder) BuildFrame(op Opcode, payload []byte, fin bool) ([]byte, error) {
	return b.build(op, payload, fin, false)
}

// BuildTextFrame serializes a final text frame.
func (b *FrameBuilder) BuildTextFrame(text string) ([]byte, error) {
	return b.build(OpText, []byte(text), true, false)
}

// BuildBinaryFrame serializes a final binary frame.
func (b *FrameBuilder) BuildBinaryFrame(payload []byte) ([]byte, error) {
	return b.build(OpBinary, payload, true, false)
}

// BuildCloseFrame serializes a close frame carrying the status code and
// reason. The reason is truncated to keep the payload within the control
// frame limit.
func (b *FrameBuilder) BuildCloseFrame(code CloseCode, reason string) ([]byte, error) {
	return b.build(OpClose, BuildClosePayload(code, reason), true, false)
}

// BuildPingFrame serializes a ping frame.
func (b *FrameBuilder) BuildPingFrame(payload []byte) ([]byte, error) {
	return b.build(OpPing, payload, true, false)
}

// BuildPongFrame serializes a pong frame. The payload should echo the ping
// being answered.
func (b *FrameBuilder) BuildPongFrame(payload []byte) ([]byte, error) {
	return b.build(OpPong, payload, true, false)
}

// BuildContinuationFrame serializes a continuation fragment.
func (b *FrameBuilder) BuildContinuationFrame(payload []byte, fin bool) ([]byte, error) {
	return b.build(OpContinuation, payload, fin, false)
}

// BuildCompressedFrame serializes a data frame with RSV1 set, marking the
// payload as compressed by a negotiated extension.
func (b *FrameBuilder) BuildCompressedFrame(op Opcode, payload []byte, fin bool) ([]byte, error) {
	if !op.IsData() && op != OpContinuation {
		return nil, fmt.Errorf("%w: compression on %s frame", ErrProtocolViolation, op)
	}
	return b.build(op, payload, fin, true)
}

func (b *FrameBuilder) build(op Opcode, payload []byte, fin, rsv1 bool) ([]byte, error) {
	if !op.IsValid() {
		return nil, fmt.Errorf("%w: 0x%x", ErrInvalidOpcode, byte(op))
	}
	if op.IsControl() {
		if !fin {
			return nil, fmt.Errorf("%w: fragmented control frame", ErrProtocolViolation)
		}
		if len(payload) > maxControlPayload {
			return nil, fmt.Errorf("%w: control payload %d bytes", ErrProtocolViolation, len(payload))
		}
	}
	if b.maxFrameSize > 0 && uint64(len(payload)) > b.maxFrameSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), b.maxFrameSize)
	}

	var key [4]byte
	if b.maskFrames {
		k, err := NewMaskKey()
		if err != nil {
			return nil, err
		}
		key = k
	}

	frame := make([]byte, 0, FrameOverhead(len(payload), b.maskFrames)+len(payload))
	frame = appendHeader(frame, op, fin, rsv1, b.maskFrames, key, uint64(len(payload)))
	if b.maskFrames {
		masked := make([]byte, len(payload))
		copy(masked, payload)
		maskBytes(masked, key)
		frame = append(frame, masked...)
	} else {
		frame = append(frame, payload...)
	}
	return frame, nil
}

// appendHeader writes the two mandatory header bytes, the minimal extended
// length encoding and the mask key.
func appendHeader(dst []byte, op Opcode, fin, rsv1, masked bool, key [4]byte, n uint64) []byte {
	b0 := byte(op)
	if fin {
		b0 |= 0x80
	}
	if rsv1 {
		b0 |= 0x40
	}
	dst = append(dst, b0)

	var b1 byte
	if masked {
		b1 = 0x80
	}
	switch {
	case n <= maxControlPayload:
		dst = append(dst, b1|byte(n))
	case n <= 65535:
		dst = append(dst, b1|126)
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(n))
		dst = append(dst, ext[:]...)
	default:
		dst = append(dst, b1|127)
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], n)
		dst = append(dst, ext[:]...)
	}

	if masked {
		dst = append(dst, key[:]...)
	}
	return dst
}

// FragmentMessage splits a data message into wire-ready fragments of at
// most maxFragment payload bytes each. The first fragment carries op, the
// rest are continuations, and only the last has the fin bit set. Messages
// that fit in one fragment yield a single final frame.
func FragmentMessage(op Opcode, payload []byte, maxFragment int, mask bool) ([][]byte, error) {
	if !op.IsData() {
		return nil, fmt.Errorf("%w: cannot fragment %s frame", ErrProtocolViolation, op)
	}
	if maxFragment <= 0 {
		return nil, fmt.Errorf("%w: fragment size %d", ErrInvalidLength, maxFragment)
	}

	b := NewFrameBuilder(mask, 0)
	if len(payload) <= maxFragment {
		frame, err := b.BuildFrame(op, payload, true)
		if err != nil {
			return nil, err
		}
		return [][]byte{frame}, nil
	}

	var frames [][]byte
	for off := 0; off < len(payload); off += maxFragment {
		end := off + maxFragment
		if end > len(payload) {
			end = len(payload)
		}
		fragOp := OpContinuation
		if off == 0 {
			fragOp = op
		}
		frame, err := b.BuildFrame(fragOp, payload[off:end], end == len(payload))
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

type parseState int

const (
	stateHeader parseState = iota
	stateExtendedLength
	stateMask
	statePayload
	stateComplete
)

func (s parseState) String() string {
	switch s {
	case stateHeader:
		return "header"
	case stateExtendedLength:
		return "extended_length"
	case stateMask:
		return "mask"
	case statePayload:
		return "payload"
	case stateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ParserConfig configures a FrameParser. The zero value accepts unmasked
// frames, validates text payloads and applies no frame size limit.
type ParserConfig struct {
	// MaxFrameSize rejects frames whose declared payload length exceeds
	// the limit. Zero means no limit.
	MaxFrameSize uint64

	// RequireMasking rejects unmasked frames. Servers must set this for
	// client-facing connections per RFC 6455 section 5.1.
	RequireMasking bool

	// SkipUTF8Validation disables the UTF-8 check on text payloads.
	SkipUTF8Validation bool

	// AllowRSV1 accepts the RSV1 bit on data frames. Set when a
	// compression extension has been negotiated.
	AllowRSV1 bool
}

// FrameParser is an incremental WebSocket frame parser. It consumes input
// in arbitrary chunks, buffers partial stages internally and exposes one
// complete frame at a time.
//
// The parser is not safe for concurrent use.
type FrameParser struct {
	cfg ParserConfig

	state parseState
	buf   []byte
	need  int
	err   error

	frame      Frame
	payloadLen uint64
	extBytes   int
}

// NewFrameParser returns a parser in the initial header state.
func NewFrameParser(cfg ParserConfig) *FrameParser {
	p := &FrameParser{cfg: cfg}
	p.Reset()
	return p
}

// Parse consumes bytes from data and returns how many were used. It stops
// consuming once a frame completes; the caller takes the frame and presents
// the remaining bytes again. A parse error is terminal: the same error is
// returned until Reset is called.
func (p *FrameParser) Parse(data []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}

	consumed := 0
	for p.state != stateComplete {
		missing := p.need - len(p.buf)
		if missing > 0 {
			take := len(data) - consumed
			if take == 0 {
				return consumed, nil
			}
			if take > missing {
				take = missing
			}
			p.buf = append(p.buf, data[consumed:consumed+take]...)
			consumed += take
			if take < missing {
				return consumed, nil
			}
		}
		if err := p.advance(); err != nil {
			p.err = err
			return consumed, err
		}
	}
	return consumed, nil
}

// HasFrame reports whether a complete frame is ready to be taken.
func (p *FrameParser) HasFrame() bool {
	return p.state == stateComplete
}

// TakeFrame returns the completed frame and resets the parser for the next
// one. It returns false if no frame is ready.
func (p *FrameParser) TakeFrame() (Frame, bool) {
	if p.state != stateComplete {
		return Frame{}, false
	}
	f := p.frame
	p.Reset()
	return f, true
}

// Reset returns the parser to the initial header state, discarding any
// partial frame and clearing a terminal error.
func (p *FrameParser) Reset() {
	p.state = stateHeader
	p.buf = p.buf[:0]
	p.need = 2
	p.err = nil
	p.frame = Frame{}
	p.payloadLen = 0
	p.extBytes = 0
}

// BytesNeeded returns how many more bytes the current stage requires. It
// returns zero when a frame is complete.
func (p *FrameParser) BytesNeeded() int {
	if p.state == stateComplete {
		return 0
	}
	return p.need - len(p.buf)
}

// advance runs the transition for a stage whose bytes are fully buffered.
func (p *FrameParser) advance() error {
	switch p.state {
	case stateHeader:
		return p.parseHeader()
	case stateExtendedLength:
		return p.parseExtendedLength()
	case stateMask:
		copy(p.frame.MaskKey[:], p.buf)
		return p.startPayload()
	case statePayload:
		return p.finishPayload()
	default:
		return fmt.Errorf("%w: parse in state %s", ErrProtocolViolation, p.state)
	}
}

func (p *FrameParser) parseHeader() error {
	b0, b1 := p.buf[0], p.buf[1]

	p.frame.Fin = b0&0x80 != 0
	p.frame.RSV1 = b0&0x40 != 0
	p.frame.RSV2 = b0&0x20 != 0
	p.frame.RSV3 = b0&0x10 != 0
	p.frame.Opcode = Opcode(b0 & 0x0F)
	p.frame.Masked = b1&0x80 != 0
	length := uint64(b1 & 0x7F)

	if !p.frame.Opcode.IsValid() {
		return fmt.Errorf("%w: 0x%x", ErrInvalidOpcode, byte(p.frame.Opcode))
	}
	rsv1OK := p.cfg.AllowRSV1 && !p.frame.Opcode.IsControl()
	if (p.frame.RSV1 && !rsv1OK) || p.frame.RSV2 || p.frame.RSV3 {
		return fmt.Errorf("%w: reserved bits set", ErrProtocolViolation)
	}
	if p.cfg.RequireMasking && !p.frame.Masked {
		return ErrInvalidMask
	}
	if p.frame.Opcode.IsControl() {
		if !p.frame.Fin {
			return fmt.Errorf("%w: fragmented control frame", ErrProtocolViolation)
		}
		if length > maxControlPayload {
			return fmt.Errorf("%w: control payload %d bytes", ErrProtocolViolation, length)
		}
	}

	switch length {
	case 126:
		p.extBytes = 2
	case 127:
		p.extBytes = 8
	default:
		p.payloadLen = length
		return p.afterLength()
	}
	p.state = stateExtendedLength
	p.buf = p.buf[:0]
	p.need = p.extBytes
	return nil
}

func (p *FrameParser) parseExtendedLength() error {
	switch p.extBytes {
	case 2:
		v := uint64(binary.BigEndian.Uint16(p.buf))
		// Minimal encoding rule: lengths under 126 must use the 7-bit form.
		if v < 126 {
			return fmt.Errorf("%w: non-minimal 16-bit length %d", ErrProtocolViolation, v)
		}
		p.payloadLen = v
	case 8:
		v := binary.BigEndian.Uint64(p.buf)
		if v&(1<<63) != 0 {
			return fmt.Errorf("%w: most significant bit set", ErrInvalidLength)
		}
		if v < 65536 {
			return fmt.Errorf("%w: non-minimal 64-bit length %d", ErrProtocolViolation, v)
		}
		p.payloadLen = v
	}
	return p.afterLength()
}

// afterLength runs once the payload length is known, before any payload
// bytes are buffered. Oversized frames are rejected here so their payload
// is never accumulated.
func (p *FrameParser) afterLength() error {
	if p.cfg.MaxFrameSize > 0 && p.payloadLen > p.cfg.MaxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, p.payloadLen, p.cfg.MaxFrameSize)
	}
	if p.payloadLen > math.MaxInt32 {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, p.payloadLen)
	}
	if p.frame.Masked {
		p.state = stateMask
		p.buf = p.buf[:0]
		p.need = 4
		return nil
	}
	return p.startPayload()
}

func (p *FrameParser) startPayload() error {
	if p.payloadLen == 0 {
		p.frame.Payload = nil
		return p.complete()
	}
	p.state = statePayload
	p.buf = p.buf[:0]
	p.need = int(p.payloadLen)
	return nil
}

func (p *FrameParser) finishPayload() error {
	payload := make([]byte, len(p.buf))
	copy(payload, p.buf)
	if p.frame.Masked {
		maskBytes(payload, p.frame.MaskKey)
	}
	p.frame.Payload = payload
	return p.complete()
}

func (p *FrameParser) complete() error {
	if p.frame.Opcode == OpText && !p.cfg.SkipUTF8Validation && !utf8.Valid(p.frame.Payload) {
		return ErrInvalidUTF8
	}
	p.state = stateComplete
	p.buf = p.buf[:0]
	p.need = 0
	return nil
}

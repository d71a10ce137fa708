// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"
)

// Frame parsing and validation errors. All of them are terminal for the
// frame being processed; the parser must be reset before further use.
var (
	// ErrInvalidOpcode indicates an unknown or reserved opcode.
	ErrInvalidOpcode = errors.New("ws: invalid opcode")

	// ErrInvalidLength indicates a malformed payload length encoding.
	ErrInvalidLength = errors.New("ws: invalid payload length")

	// ErrInvalidMask indicates a missing mask on a connection that requires
	// client masking.
	ErrInvalidMask = errors.New("ws: missing frame mask")

	// ErrProtocolViolation indicates a frame that violates RFC 6455 framing
	// rules (reserved bits, fragmented control frames, oversized control
	// payloads, non-minimal length encodings).
	ErrProtocolViolation = errors.New("ws: protocol violation")

	// ErrFrameTooLarge indicates a frame payload above the configured limit.
	ErrFrameTooLarge = errors.New("ws: frame exceeds size limit")

	// ErrMessageTooLarge indicates a fragmented message above the configured
	// limit.
	ErrMessageTooLarge = errors.New("ws: message exceeds size limit")

	// ErrInvalidUTF8 indicates a text payload that is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("ws: invalid utf-8 in text payload")

	// ErrInvalidFragment indicates a continuation frame without a preceding
	// fragment, or a new data frame while a fragmented message is pending.
	ErrInvalidFragment = errors.New("ws: invalid fragment sequence")

	// ErrBadHandshake indicates an upgrade request that does not satisfy the
	// RFC 6455 opening handshake.
	ErrBadHandshake = errors.New("ws: bad handshake request")
)

// Opcode identifies the frame type per RFC 6455 section 5.2.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether the opcode is a control opcode. Control opcodes
// have the high bit of the 4-bit opcode field set.
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

// IsData reports whether the opcode carries application data.
func (op Opcode) IsData() bool {
	return op == OpText || op == OpBinary
}

// IsValid reports whether the opcode is one of the six defined opcodes.
// All other values are reserved and must be rejected.
func (op Opcode) IsValid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	default:
		return false
	}
}

// String returns a human-readable opcode name.
func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("invalid(0x%x)", byte(op))
	}
}

// CloseCode is a close frame status code per RFC 6455 section 7.4.
type CloseCode uint16

const (
	CloseNormal            CloseCode = 1000
	CloseGoingAway         CloseCode = 1001
	CloseProtocolError     CloseCode = 1002
	CloseUnsupportedData   CloseCode = 1003
	CloseNoStatus          CloseCode = 1005
	CloseAbnormal          CloseCode = 1006
	CloseInvalidData       CloseCode = 1007
	ClosePolicyViolation   CloseCode = 1008
	CloseTooLarge          CloseCode = 1009
	CloseExtensionRequired CloseCode = 1010
	CloseInternalError     CloseCode = 1011
)

// IsValid reports whether the code may appear on the wire in a close frame.
// 1005 and 1006 are reserved for local reporting and must never be sent.
func (c CloseCode) IsValid() bool {
	return (c >= 1000 && c <= 1003) ||
		(c >= 1007 && c <= 1011) ||
		(c >= 3000 && c <= 4999)
}

// Frame is one WebSocket protocol unit.
//
// MaskKey holds the four masking bytes in wire order. The payload of a
// parsed frame is already unmasked; Masked records whether the peer sent
// it masked.
type Frame struct {
	Fin    bool
	RSV1   bool
	RSV2   bool
	RSV3   bool
	Opcode Opcode

	Masked  bool
	MaskKey [4]byte

	Payload []byte
}

// IsControl reports whether the frame is a control frame.
func (f *Frame) IsControl() bool {
	return f.Opcode.IsControl()
}

// String returns a compact frame description for logging.
func (f *Frame) String() string {
	return fmt.Sprintf("%s fin=%t masked=%t len=%d", f.Opcode, f.Fin, f.Masked, len(f.Payload))
}

// LogValue implements slog.LogValuer so frames can be logged as structured
// attributes without dumping payload bytes.
func (f *Frame) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("opcode", f.Opcode.String()),
		slog.Bool("fin", f.Fin),
		slog.Bool("masked", f.Masked),
		slog.Int("payload_bytes", len(f.Payload)),
	)
}

// Validate checks a complete frame against the framing rules: the opcode
// must be known, reserved bits must be clear, control frames must be final
// with payloads of at most 125 bytes, and text payloads must be valid UTF-8.
func (f *Frame) Validate() error {
	if !f.Opcode.IsValid() {
		return ErrInvalidOpcode
	}
	if f.RSV1 || f.RSV2 || f.RSV3 {
		return fmt.Errorf("%w: reserved bits set", ErrProtocolViolation)
	}
	if f.Opcode.IsControl() {
		if !f.Fin {
			return fmt.Errorf("%w: fragmented control frame", ErrProtocolViolation)
		}
		if len(f.Payload) > maxControlPayload {
			return fmt.Errorf("%w: control payload %d bytes", ErrProtocolViolation, len(f.Payload))
		}
	}
	if f.Opcode == OpText && !utf8.Valid(f.Payload) {
		return ErrInvalidUTF8
	}
	return nil
}

const (
	// maxControlPayload is the RFC 6455 limit for control frame payloads.
	maxControlPayload = 125

	// maxCloseReason bounds the close reason so code plus reason fit in a
	// control payload.
	maxCloseReason = 123
)

// NewMaskKey returns four masking bytes from an unpredictable source.
// Predictable masks enable the cache-poisoning attacks masking exists to
// prevent, so the key always comes from crypto/rand.
func NewMaskKey() ([4]byte, error) {
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("ws: mask key generation: %w", err)
	}
	return key, nil
}

// maskBytes XORs p in place with the mask key cycling every four bytes.
// Masking is an involution: applying it twice restores the input.
func maskBytes(p []byte, key [4]byte) {
	for i := range p {
		p[i] ^= key[i%4]
	}
}

// ParseClosePayload decodes a close frame payload into a status code and
// reason. An empty payload means no status was sent and yields
// CloseNoStatus. A one-byte payload is malformed. The reason must be valid
// UTF-8.
func ParseClosePayload(payload []byte) (CloseCode, string, error) {
	if len(payload) == 0 {
		return CloseNoStatus, "", nil
	}
	if len(payload) == 1 {
		return 0, "", fmt.Errorf("%w: one-byte close payload", ErrProtocolViolation)
	}
	code := CloseCode(binary.BigEndian.Uint16(payload[:2]))
	reason := payload[2:]
	if !utf8.Valid(reason) {
		return 0, "", ErrInvalidUTF8
	}
	return code, string(reason), nil
}

// BuildClosePayload encodes a status code and reason into a close frame
// payload. The reason is truncated so the payload fits in a control frame.
func BuildClosePayload(code CloseCode, reason string) []byte {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload[:2], uint16(code))
	copy(payload[2:], reason)
	return payload
}

// FrameOverhead returns the number of header bytes a frame with the given
// payload length carries on the wire: two mandatory bytes, the extended
// length bytes chosen by the minimal encoding rule, and the mask key.
func FrameOverhead(payloadLen int, masked bool) int {
	overhead := 2
	switch {
	case payloadLen > 65535:
		overhead += 8
	case payloadLen > maxControlPayload:
		overhead += 2
	}
	if masked {
		overhead += 4
	}
	return overhead
}

// ValidateFragmentSequence reports whether next may extend the pending
// fragment sequence: the first fragment of a message must not be a
// continuation, and every later fragment must be one.
func ValidateFragmentSequence(pending []Frame, next Frame) bool {
	if len(pending) == 0 {
		return next.Opcode != OpContinuation
	}
	return next.Opcode == OpContinuation
}

// ReassembleMessage concatenates a complete fragment sequence into one
// synthetic frame carrying the first fragment's opcode. The result is
// final and unmasked; RSV1 is carried over from the first fragment so a
// negotiated compression extension can still be applied.
func ReassembleMessage(frames []Frame) (Frame, error) {
	if len(frames) == 0 {
		return Frame{}, fmt.Errorf("%w: empty fragment list", ErrInvalidFragment)
	}
	if frames[0].Opcode == OpContinuation {
		return Frame{}, fmt.Errorf("%w: first fragment is a continuation", ErrInvalidFragment)
	}
	var total int
	for i, f := range frames {
		if i > 0 && f.Opcode != OpContinuation {
			return Frame{}, fmt.Errorf("%w: non-continuation fragment at %d", ErrInvalidFragment, i)
		}
		last := i == len(frames)-1
		if f.Fin != last {
			return Frame{}, fmt.Errorf("%w: fin on fragment %d of %d", ErrInvalidFragment, i, len(frames))
		}
		total += len(f.Payload)
	}

	payload := make([]byte, 0, total)
	for _, f := range frames {
		payload = append(payload, f.Payload...)
	}
	return Frame{
		Fin:     true,
		RSV1:    frames[0].RSV1,
		Opcode:  frames[0].Opcode,
		Payload: payload,
	}, nil
}

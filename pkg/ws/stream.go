// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ws

import "fmt"

// DefaultMaxMessageSize bounds a reassembled message when no limit is
// configured.
const DefaultMaxMessageSize = 1 << 20

// StreamConfig configures a StreamProcessor.
type StreamConfig struct {
	// Parser configures the underlying frame parser.
	Parser ParserConfig

	// MaxMessageSize bounds the total payload of a fragmented message.
	// Zero applies DefaultMaxMessageSize.
	MaxMessageSize uint64

	// DisableReassembly emits fragments as they arrive instead of
	// accumulating them into complete messages.
	DisableReassembly bool
}

// StreamProcessor feeds a byte stream through a frame parser and handles
// fragmentation. With reassembly enabled (the default) it accumulates
// fragment sequences and emits one synthetic frame per complete message;
// control frames pass through between fragments. With reassembly disabled
// every parsed frame is emitted as is.
//
// The processor is not safe for concurrent use.
type StreamProcessor struct {
	parser *FrameParser
	cfg    StreamConfig

	fragments    []Frame
	fragmentSize uint64
}

// NewStreamProcessor returns a processor over a fresh frame parser.
func NewStreamProcessor(cfg StreamConfig) *StreamProcessor {
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	return &StreamProcessor{
		parser: NewFrameParser(cfg.Parser),
		cfg:    cfg,
	}
}

// Process consumes a chunk of stream data and returns the frames completed
// by it. On error the frames completed before the failure are returned
// alongside it; pending fragments are discarded and the processor must be
// reset before further use.
func (s *StreamProcessor) Process(data []byte) ([]Frame, error) {
	var out []Frame
	off := 0
	for off < len(data) {
		n, err := s.parser.Parse(data[off:])
		off += n
		if err != nil {
			s.clearFragments()
			return out, err
		}
		if !s.parser.HasFrame() {
			if n == 0 {
				break
			}
			continue
		}
		frame, _ := s.parser.TakeFrame()
		emitted, err := s.handleFrame(frame)
		if err != nil {
			return out, err
		}
		if emitted != nil {
			out = append(out, *emitted)
		}
	}
	return out, nil
}

// handleFrame routes a parsed frame through reassembly. It returns the
// frame to emit, or nil while a fragmented message is still accumulating.
func (s *StreamProcessor) handleFrame(f Frame) (*Frame, error) {
	if s.cfg.DisableReassembly || f.Opcode.IsControl() {
		return &f, nil
	}
	// Unfragmented data passes straight through, but only outside a
	// fragment sequence; data frames must not interleave with one.
	if f.Opcode != OpContinuation && f.Fin && len(s.fragments) == 0 {
		return &f, nil
	}

	if !ValidateFragmentSequence(s.fragments, f) {
		s.clearFragments()
		return nil, fmt.Errorf("%w: %s after %d pending fragments", ErrInvalidFragment, f.Opcode, len(s.fragments))
	}
	s.fragmentSize += uint64(len(f.Payload))
	if s.fragmentSize > s.cfg.MaxMessageSize {
		s.clearFragments()
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, s.fragmentSize, s.cfg.MaxMessageSize)
	}
	s.fragments = append(s.fragments, f)

	if !f.Fin {
		return nil, nil
	}
	msg, err := ReassembleMessage(s.fragments)
	s.clearFragments()
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// PendingFragments returns the number of fragments accumulated for the
// message in progress.
func (s *StreamProcessor) PendingFragments() int {
	return len(s.fragments)
}

// Reset discards the partial frame, pending fragments and any terminal
// parser error.
func (s *StreamProcessor) Reset() {
	s.parser.Reset()
	s.clearFragments()
}

func (s *StreamProcessor) clearFragments() {
	s.fragments = nil
	s.fragmentSize = 0
}

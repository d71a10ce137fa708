// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ws implements the WebSocket wire protocol from RFC 6455: frame
// parsing, frame construction, fragmentation handling and the opening
// handshake. It operates on bytes and leaves connection ownership to the
// caller, so the same engine serves endpoint servers, proxies and tests.
//
// # Frame Parser
//
// FrameParser is an incremental state machine over the frame layout:
//
//	header -> extended length -> mask key -> payload -> complete
//
// Input arrives in arbitrary chunks; the parser buffers exactly what the
// current stage needs and reports how many bytes each call consumed.
// Callers loop until HasFrame reports a complete frame, take it with
// TakeFrame and present any unconsumed bytes again:
//
//	n, err := p.Parse(data)
//	if err != nil { ... }
//	if p.HasFrame() {
//		frame, _ := p.TakeFrame()
//		// data[n:] belongs to the next frame
//	}
//
// Validation is strict: unknown opcodes, reserved bits, fragmented or
// oversized control frames and non-minimal length encodings are all
// rejected. Masked payloads are unmasked during parsing and text payloads
// are checked for valid UTF-8 unless disabled.
//
// # Frame Builder
//
// FrameBuilder produces wire-ready frames with minimal length encodings.
// A masking builder draws a fresh key from crypto/rand per frame, as
// client endpoints must. FragmentMessage splits large messages into a
// fragment train and ReassembleMessage restores one.
//
// # Stream Processing
//
// StreamProcessor combines parser and reassembly for a whole connection:
// fed raw stream chunks, it emits complete messages, passes control
// frames through between fragments and enforces a total message size
// limit across a fragment train.
//
// # Handshake and Extensions
//
// ValidateUpgrade, ComputeAcceptKey and BuildUpgradeResponse implement
// the server side of the opening handshake. Deflater and Inflater
// implement permessage-deflate (RFC 7692) without context takeover; a
// reassembled message carrying RSV1 from its first fragment is restored
// with Inflater.Decompress.
package ws

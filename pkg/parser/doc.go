// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package parser defines the interface for protocol-specific request processing.
//
// # Architecture Overview
//
// Parsers are the core protocol-handling components in mWire. They sit between
// the transport layer (the TCP server) and the business logic layer (handlers),
// decoding protocol bytes into requests or frames, extracting credentials, and
// authorizing operations before a response is generated.
//
// # Parser Interface
//
// The Parser interface has a single method:
//
//	Parse(ctx context.Context, r io.Reader, w io.Writer, dir Direction, h handler.Handler, hctx *handler.Context) error
//
// The server calls this method in a loop for the lifetime of a connection.
// Unlike a proxy, mWire terminates the protocol itself: r and w refer to the
// same client connection, and the parser writes the responses it generates.
//
// # Connection Flow
//
//	1. Read bytes from the client (r io.Reader)
//	2. Accumulate until one unit is complete (a request, or a batch of frames)
//	3. Extract credentials into the handler context
//	4. Call handler.Auth* methods to authorize
//	5. Generate and write the response (w io.Writer)
//	6. Call handler.On* notification methods
//
// # Direction
//
// The Direction type labels traffic for logging and metrics:
//   - Upstream: client to engine (requests, frames received)
//   - Downstream: engine to client (responses, frames sent)
//
// The server always invokes Parse with Upstream; parsers use Downstream when
// recording the responses they emit.
//
// # Protocol-Specific Parsers
//
// Each endpoint protocol has its own parser implementation:
//   - parser/rest: HTTP request parsing and routing
//   - parser/websocket: upgrade handshake and frame processing
//
// # Example
//
//	type PingParser struct{}
//
//	func (p *PingParser) Parse(ctx context.Context, r io.Reader, w io.Writer, dir parser.Direction, h handler.Handler, hctx *handler.Context) error {
//		buf := make([]byte, 512)
//		n, err := r.Read(buf)
//		if err != nil {
//			return err
//		}
//
//		if err := h.AuthPublish(ctx, hctx, &hctx.ClientID, &buf); err != nil {
//			return err
//		}
//
//		_, err = w.Write(buf[:n])
//		return err
//	}
package parser

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"context"
	"io"

	"github.com/absmach/mwire/pkg/handler"
)

// Direction indicates the direction of traffic flow.
type Direction int

const (
	// Upstream represents bytes flowing from the client to the engine.
	Upstream Direction = iota

	// Downstream represents bytes flowing from the engine to the client.
	Downstream
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Upstream:
		return "upstream"
	case Downstream:
		return "downstream"
	default:
		return "unknown"
	}
}

// Parser handles protocol-specific processing for one connection.
// Implementations are responsible for:
//  1. Reading protocol bytes from the reader
//  2. Extracting credentials and updating the handler context
//  3. Calling appropriate handler methods (AuthRequest, AuthUpgrade, etc.)
//  4. Generating responses
//  5. Writing responses to the writer
//
// Parse is called in a loop for the lifetime of the connection. It should:
// - Read one unit of input from r (a request, or a chunk of frames)
// - Process and authorize it
// - Write any responses to w
// - Return an error to close the connection
// - Return io.EOF for clean connection closure
type Parser interface {
	// Parse reads from r, processes one unit of input, and writes any
	// responses to w. Both r and w refer to the same client connection.
	// The handler h is called for authorization and notifications.
	// The handler context hctx carries connection metadata and is updated
	// with request-specific credentials.
	//
	// Returns nil if input was processed and the connection stays open.
	// Returns io.EOF for clean connection closure.
	// Returns other errors for abnormal termination.
	Parse(ctx context.Context, r io.Reader, w io.Writer, dir Direction, h handler.Handler, hctx *handler.Context) error
}

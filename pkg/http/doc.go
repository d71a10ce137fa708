// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package http implements a self-contained HTTP/1.1 request codec for
// endpoint servers that own the raw connection.
//
// The standard library server model does not fit here: connections are
// accepted and read by the TCP server layer, and the same byte stream may
// stop being HTTP mid-connection after a WebSocket upgrade. This package
// therefore parses requests from raw buffers and leaves socket ownership
// to the caller.
//
// # Parsing Model
//
// ParseRequest parses one complete request from a buffer: request line,
// header block terminated by a blank line, and a body of exactly
// Content-Length bytes. Both CRLF and bare LF line endings are accepted.
// Header names are restricted to alphanumerics, '-' and '_', values may
// not contain control bytes other than tab, and hard limits apply to the
// header block, header count, URI and body sizes.
//
// Connection wraps ParseRequest for use on a stream. It accumulates
// chunks, finds the header terminator, reads the declared body length and
// emits one request at a time, keeping pipelined bytes buffered for the
// next call:
//
//	conn := http.NewConnection()
//	for {
//		req, err := conn.Feed(chunk)
//		if err != nil { ... }     // malformed, close the connection
//		if req == nil { break }   // need more bytes
//		handle(req)
//	}
//
// # Header Semantics
//
// Headers are stored lowercased and repeated names keep the last value.
// KeepAlive combines an explicit Connection header with the version
// default: HTTP/1.1 and later are persistent unless told otherwise,
// HTTP/1.0 is not unless asked to be.
//
// # Responses
//
// Response builds wire-ready responses. Serialization stamps
// Content-Length, Date and Server unless already present and emits
// headers in sorted order, which keeps output stable across runs.
package http

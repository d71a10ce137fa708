// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package rest implements the HTTP endpoint parser for mWire.
//
// # Overview
//
// The REST parser terminates HTTP/1.x connections itself: bytes read from the
// client are accumulated into requests, authorized, matched against the
// router, and answered with responses the parser generates. There is no
// upstream server behind it.
//
// # Authentication Sources
//
// The parser extracts credentials from multiple sources (in order of
// precedence):
//
//  1. HTTP Basic Auth header:
//     Authorization: Basic base64(username:password)
//
//  2. Authorization query parameter:
//     /path?authorization=token123
//
//  3. Authorization header (Bearer token):
//     Authorization: Bearer token123
//
// # Request Flow
//
//	1. Client bytes are fed into the session's request accumulator
//	2. For each completed request:
//	   - Rate limit check (429 with X-RateLimit headers when exceeded)
//	   - Credentials extracted into the handler context
//	   - handler.AuthRequest() may veto (403) or rewrite path and body
//	   - Router lookup (404 on miss), then the route handler runs
//	   - Response decorated with X-API-Version, X-Request-ID and
//	     rate limit headers, then written back
//	   - handler.OnRequest() notified with the final status
//	3. Keep-alive requests leave the connection open; a close response
//	   ends it
//
// # Error Responses
//
// Unparseable input is answered with 400 and the connection is closed, since
// request framing can no longer be trusted. Route handler errors become 500
// responses without closing the connection.
package rest

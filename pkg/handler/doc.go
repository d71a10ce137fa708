// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler provides the core interface that links protocol parsers to business logic.
//
// # Architecture Overview
//
// The Handler interface serves as the bridge between protocol-specific parsers and
// application-level authorization and event handling. When a parser (REST, WebSocket,
// or a subprotocol inspector) extracts authentication credentials or operations from
// the stream, it calls the corresponding Handler methods.
//
// # Data Flow
//
//	Client → Server (accepts) → Parser (extracts) → Handler (authorizes) → Response
//	Parser (parses frames/requests) → Handler (notifies) → Metrics/Audit
//
// # Handler Methods
//
// Authorization methods (Auth*) are called before an action takes effect:
//   - AuthConnect: Verifies a connection at accept time
//   - AuthUpgrade: Authorizes a WebSocket upgrade and filters subprotocols
//   - AuthRequest: Authorizes a REST request and may rewrite path or body
//   - AuthPublish: Authorizes a publish carried inside a subprotocol
//   - AuthSubscribe: Authorizes a subscription carried inside a subprotocol
//
// Notification methods (On*) are called after successful operations:
//   - OnConnect: Notifies successful connection
//   - OnMessage: Notifies a complete WebSocket data message
//   - OnRequest: Notifies a routed REST request with its response status
//   - OnDisconnect: Notifies disconnection
//
// # Context
//
// The Context struct carries session metadata across all handler calls:
//   - SessionID: Unique identifier for this connection/session
//   - Username, Password: Extracted credentials
//   - ClientID: Protocol-specific client identifier
//   - RemoteAddr: Client's network address
//   - Protocol: Endpoint protocol name (http, ws)
//   - Subprotocol: Negotiated WebSocket subprotocol, if any
//   - Cert: Client certificate for TLS connections
//
// # Implementation
//
// Applications implement the Handler interface to integrate mWire with their
// authorization systems. The NoopHandler provides a pass-through implementation
// for testing or when no authorization is needed.
//
// # Example
//
//	type MyHandler struct {
//		authService AuthService
//	}
//
//	func (h *MyHandler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
//		return h.authService.Authenticate(hctx.RemoteAddr)
//	}
//
//	func (h *MyHandler) AuthRequest(ctx context.Context, hctx *handler.Context, method string, path *string, body *[]byte) error {
//		return h.authService.AuthorizeRequest(hctx.Username, method, *path)
//	}
package handler

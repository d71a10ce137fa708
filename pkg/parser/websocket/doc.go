// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package websocket implements the WebSocket protocol parser for mWire.
//
// # Overview
//
// The parser terminates WebSocket connections itself. It owns both phases of
// a connection's life: the HTTP/1.1 upgrade handshake, and the frame stream
// that follows. There is no upstream WebSocket server behind it.
//
// # Connection Flow
//
//	1. Client sends an HTTP upgrade request
//	2. Parser validates the request (RFC 6455 section 4.2.1)
//	3. Handler authorizes the upgrade via AuthUpgrade
//	4. Parser negotiates subprotocol and permessage-deflate
//	5. Parser writes the 101 Switching Protocols response
//	6. Frames are parsed, reassembled, and dispatched
//
// Bytes that arrive in the same read as the tail of the handshake are not
// lost: the parser drains the request accumulator and runs them through the
// frame processor immediately.
//
// # Frame Handling
//
//   - Ping frames are answered with a pong echoing the payload
//   - Pong frames are accepted and ignored
//   - Close frames are echoed and end the connection with io.EOF
//   - Text and binary messages (reassembled from fragments) are dispatched
//     to the subprotocol inspector and the handler
//
// Protocol violations (bad RSV bits, unmasked frames when masking is
// required, fragmented control frames, invalid UTF-8, oversized messages)
// close the connection with the matching RFC 6455 close code:
//
//	1002 protocol error
//	1007 invalid payload data
//	1008 policy violation (subprotocol inspection rejected the message)
//	1009 message too big
//
// # Subprotocols
//
// When the client offers subprotocols (Sec-WebSocket-Protocol), the parser
// consults its subprotocol registry. The first offered name with a
// registered inspector wins; every data message on such a connection is then
// inspected before the handler sees it. Connections without a negotiated
// subprotocol skip inspection.
//
// Common use cases:
//   - MQTT over WebSocket (packet-level authorization)
//   - CoAP over WebSocket
//
// # Compression
//
// With EnableDeflate set, the parser accepts the client's
// permessage-deflate offer (RFC 7692) without context takeover. Compressed
// messages are inflated before inspection and dispatch; echoed messages are
// deflated again on the way out.
//
// # Authentication
//
// The upgrade itself is authorized through AuthUpgrade, which sees the
// request path and the offered subprotocols. Message-level authorization
// happens inside the subprotocol inspectors, for example the credentials in
// an MQTT CONNECT packet.
package websocket

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"crypto/x509"
)

// Context contains connection metadata and credentials extracted from the
// transport and from protocol payloads. It is passed to Handler methods to
// provide auth context.
type Context struct {
	// SessionID is a unique identifier for this connection/session
	SessionID string

	// Username extracted from auth material (subprotocol connect packets,
	// HTTP basic auth, etc.)
	Username string

	// Password extracted from auth material (raw bytes, not hashed)
	Password []byte

	// ClientID extracted from protocol-specific connect packets (e.g., MQTT
	// client ID carried over WebSocket)
	ClientID string

	// RemoteAddr is the client's network address
	RemoteAddr string

	// Protocol indicates the endpoint protocol (http, ws)
	Protocol string

	// Subprotocol is the negotiated WebSocket subprotocol, if any
	Subprotocol string

	// Cert is the client's TLS certificate (if using mTLS)
	Cert *x509.Certificate
}

// Handler defines authorization and notification callbacks for endpoint
// events. Protocol parsers call these methods at appropriate points in the
// connection lifecycle.
//
// Authorization methods (AuthConnect, AuthUpgrade, AuthRequest, AuthPublish,
// AuthSubscribe) are called BEFORE the action takes effect. They can:
// - Return an error to reject the action
// - Modify mutable parameters (path, body, topic, topics) via pointers
// - Update the handler context
//
// Notification methods (OnConnect, OnMessage, OnRequest, OnDisconnect) are
// called AFTER successful actions for audit logging, metrics, or
// post-processing. Errors from these methods are logged but don't prevent
// the action.
type Handler interface {
	// AuthConnect authorizes a client connection attempt.
	// Called when a TCP connection is accepted, before any bytes are parsed.
	// Return an error to reject the connection.
	AuthConnect(ctx context.Context, hctx *Context) error

	// AuthUpgrade authorizes a WebSocket upgrade request.
	// The offered subprotocol list can be filtered via its pointer before
	// negotiation picks one.
	// Return an error to reject the upgrade with 403.
	AuthUpgrade(ctx context.Context, hctx *Context, path string, subprotocols *[]string) error

	// AuthRequest authorizes a REST request after parsing and before
	// routing. The path and body can be rewritten via their pointers.
	// Return an error to reject the request with 403.
	AuthRequest(ctx context.Context, hctx *Context, method string, path *string, body *[]byte) error

	// AuthPublish authorizes a publish/write operation carried inside a
	// WebSocket subprotocol (MQTT PUBLISH, CoAP POST/PUT).
	// The topic and payload can be modified via their pointers.
	// Return an error to reject the publish.
	AuthPublish(ctx context.Context, hctx *Context, topic *string, payload *[]byte) error

	// AuthSubscribe authorizes a subscription operation carried inside a
	// WebSocket subprotocol (MQTT SUBSCRIBE, CoAP GET with Observe).
	// The topics list can be modified via the pointer to filter subscriptions.
	// Return an error to reject the subscription.
	AuthSubscribe(ctx context.Context, hctx *Context, topics *[]string) error

	// OnConnect is called after a successful connection is established.
	// This is a notification hook for audit logging or metrics.
	OnConnect(ctx context.Context, hctx *Context) error

	// OnMessage is called for each complete WebSocket data message after
	// reassembly. binary distinguishes binary from text messages.
	// Note: payload is an immutable copy (not a pointer).
	OnMessage(ctx context.Context, hctx *Context, binary bool, payload []byte) error

	// OnRequest is called after a REST request has been routed and its
	// response produced, with the response status.
	OnRequest(ctx context.Context, hctx *Context, method, path string, status int) error

	// OnDisconnect is called when a client disconnects (gracefully or due
	// to error). This is a notification hook for cleanup, audit logging,
	// or metrics.
	OnDisconnect(ctx context.Context, hctx *Context) error
}

// NoopHandler is a Handler implementation that allows all operations.
// Useful for testing or when no authorization is needed.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) AuthConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) AuthUpgrade(ctx context.Context, hctx *Context, path string, subprotocols *[]string) error {
	return nil
}

func (h *NoopHandler) AuthRequest(ctx context.Context, hctx *Context, method string, path *string, body *[]byte) error {
	return nil
}

func (h *NoopHandler) AuthPublish(ctx context.Context, hctx *Context, topic *string, payload *[]byte) error {
	return nil
}

func (h *NoopHandler) AuthSubscribe(ctx context.Context, hctx *Context, topics *[]string) error {
	return nil
}

func (h *NoopHandler) OnConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnMessage(ctx context.Context, hctx *Context, binary bool, payload []byte) error {
	return nil
}

func (h *NoopHandler) OnRequest(ctx context.Context, hctx *Context, method, path string, status int) error {
	return nil
}

func (h *NoopHandler) OnDisconnect(ctx context.Context, hctx *Context) error {
	return nil
}

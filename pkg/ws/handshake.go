// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"

	mhttp "github.com/absmach/mwire/pkg/http"
)

// acceptGUID is the fixed GUID appended to the client key when computing
// the accept token, per RFC 6455 section 1.3.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ComputeAcceptKey derives the Sec-WebSocket-Accept value for a client
// Sec-WebSocket-Key.
func ComputeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ValidateUpgrade checks that req is a well-formed WebSocket opening
// handshake and returns the client key. The request must be a GET with
// Upgrade: websocket, a Connection header containing the upgrade token,
// protocol version 13 and a non-empty key.
func ValidateUpgrade(req *mhttp.Request) (string, error) {
	if req.Method != mhttp.MethodGet {
		return "", fmt.Errorf("%w: method %s", ErrBadHandshake, req.Method)
	}
	if !strings.EqualFold(req.Headers.Get("Upgrade"), "websocket") {
		return "", fmt.Errorf("%w: upgrade header %q", ErrBadHandshake, req.Headers.Get("Upgrade"))
	}
	if !headerContainsToken(req.Headers.Get("Connection"), "upgrade") {
		return "", fmt.Errorf("%w: connection header %q", ErrBadHandshake, req.Headers.Get("Connection"))
	}
	if v := req.Headers.Get("Sec-WebSocket-Version"); v != "13" {
		return "", fmt.Errorf("%w: version %q", ErrBadHandshake, v)
	}
	key := req.Headers.Get("Sec-WebSocket-Key")
	if key == "" {
		return "", fmt.Errorf("%w: missing key", ErrBadHandshake)
	}
	return key, nil
}

// BuildUpgradeResponse returns the 101 response accepting a handshake.
// subprotocol and extensions are echoed when non-empty.
func BuildUpgradeResponse(key, subprotocol string, extensions []string) *mhttp.Response {
	resp := mhttp.NewResponse(101)
	resp.Headers.Set("Upgrade", "websocket")
	resp.Headers.Set("Connection", "Upgrade")
	resp.Headers.Set("Sec-WebSocket-Accept", ComputeAcceptKey(key))
	if subprotocol != "" {
		resp.Headers.Set("Sec-WebSocket-Protocol", subprotocol)
	}
	if len(extensions) > 0 {
		resp.Headers.Set("Sec-WebSocket-Extensions", strings.Join(extensions, ", "))
	}
	return resp
}

// Subprotocols returns the subprotocols offered by the client in
// preference order.
func Subprotocols(req *mhttp.Request) []string {
	raw := req.Headers.Get("Sec-WebSocket-Protocol")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// headerContainsToken reports whether a comma-separated header value
// contains token, compared case insensitively.
func headerContainsToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"strings"
	"testing"

	mhttp "github.com/absmach/mwire/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upgradeRequest(t *testing.T, mutate func(headers map[string]string)) *mhttp.Request {
	t.Helper()
	headers := map[string]string{
		"Host":                  "server.example.com",
		"Upgrade":               "websocket",
		"Connection":            "Upgrade",
		"Sec-WebSocket-Key":     "dGhlIHNhbXBsZSBub25jZQ==",
		"Sec-WebSocket-Version": "13",
	}
	if mutate != nil {
		mutate(headers)
	}

	var sb strings.Builder
	sb.WriteString("GET /chat HTTP/1.1\r\n")
	for name, value := range headers {
		if value == "" {
			continue
		}
		sb.WriteString(name + ": " + value + "\r\n")
	}
	sb.WriteString("\r\n")

	req, err := mhttp.ParseRequest([]byte(sb.String()))
	require.NoError(t, err)
	return req
}

func TestComputeAcceptKey(t *testing.T) {
	// Worked example from RFC 6455 section 1.3.
	accept := ComputeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", accept)
}

func TestValidateUpgrade(t *testing.T) {
	key, err := ValidateUpgrade(upgradeRequest(t, nil))
	require.NoError(t, err)
	assert.Equal(t, "dGhlIHNhbXBsZSBub25jZQ==", key)
}

func TestValidateUpgradeConnectionTokenList(t *testing.T) {
	req := upgradeRequest(t, func(h map[string]string) {
		h["Connection"] = "keep-alive, Upgrade"
	})
	_, err := ValidateUpgrade(req)
	assert.NoError(t, err)
}

func TestValidateUpgradeRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h map[string]string)
	}{
		{"missing upgrade header", func(h map[string]string) { h["Upgrade"] = "" }},
		{"wrong upgrade value", func(h map[string]string) { h["Upgrade"] = "h2c" }},
		{"missing connection token", func(h map[string]string) { h["Connection"] = "keep-alive" }},
		{"wrong version", func(h map[string]string) { h["Sec-WebSocket-Version"] = "8" }},
		{"missing key", func(h map[string]string) { h["Sec-WebSocket-Key"] = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateUpgrade(upgradeRequest(t, tc.mutate))
			assert.ErrorIs(t, err, ErrBadHandshake)
		})
	}
}

func TestValidateUpgradeRejectsNonGET(t *testing.T) {
	raw := "POST /chat HTTP/1.1\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Content-Length: 0\r\n\r\n"
	req, err := mhttp.ParseRequest([]byte(raw))
	require.NoError(t, err)

	_, err = ValidateUpgrade(req)
	assert.ErrorIs(t, err, ErrBadHandshake)
}

func TestBuildUpgradeResponse(t *testing.T) {
	resp := BuildUpgradeResponse("dGhlIHNhbXBsZSBub25jZQ==", "mqtt", nil)
	raw := string(resp.Bytes())

	assert.True(t, strings.HasPrefix(raw, "HTTP/1.1 101 Switching Protocols\r\n"))
	assert.Contains(t, raw, "Sec-Websocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n")
	assert.Contains(t, raw, "Upgrade: websocket\r\n")
	assert.Contains(t, raw, "Connection: Upgrade\r\n")
	assert.Contains(t, raw, "Sec-Websocket-Protocol: mqtt\r\n")
	assert.NotContains(t, raw, "Sec-Websocket-Extensions")
}

func TestBuildUpgradeResponseWithExtensions(t *testing.T) {
	resp := BuildUpgradeResponse("dGhlIHNhbXBsZSBub25jZQ==", "", DeflateResponseParams())
	raw := string(resp.Bytes())

	assert.Contains(t, raw, "Sec-Websocket-Extensions: permessage-deflate; server_no_context_takeover; client_no_context_takeover\r\n")
	assert.NotContains(t, raw, "Sec-Websocket-Protocol")
}

func TestSubprotocols(t *testing.T) {
	req := upgradeRequest(t, func(h map[string]string) {
		h["Sec-WebSocket-Protocol"] = "mqtt, coap , chat"
	})
	assert.Equal(t, []string{"mqtt", "coap", "chat"}, Subprotocols(req))

	assert.Nil(t, Subprotocols(upgradeRequest(t, nil)))
}

func TestOffersDeflate(t *testing.T) {
	req := upgradeRequest(t, func(h map[string]string) {
		h["Sec-WebSocket-Extensions"] = "permessage-deflate; client_max_window_bits"
	})
	assert.True(t, OffersDeflate(req))

	req = upgradeRequest(t, func(h map[string]string) {
		h["Sec-WebSocket-Extensions"] = "x-webkit-deflate-frame"
	})
	assert.False(t, OffersDeflate(req))

	assert.False(t, OffersDeflate(upgradeRequest(t, nil)))
}

func TestDeflateRoundTrip(t *testing.T) {
	d, err := NewDeflater(6)
	require.NoError(t, err)
	inf := NewInflater(0)

	payload := []byte(strings.Repeat("compress me ", 100))
	compressed, err := d.Compress(payload)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(payload))

	restored, err := inf.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}

func TestDeflatePerMessageIndependence(t *testing.T) {
	d, err := NewDeflater(6)
	require.NoError(t, err)
	inf := NewInflater(0)

	// Without context takeover each message decompresses on its own.
	first, err := d.Compress([]byte("first message"))
	require.NoError(t, err)
	second, err := d.Compress([]byte("second message"))
	require.NoError(t, err)

	restored, err := inf.Decompress(second)
	require.NoError(t, err)
	assert.Equal(t, []byte("second message"), restored)

	restored, err = inf.Decompress(first)
	require.NoError(t, err)
	assert.Equal(t, []byte("first message"), restored)
}

func TestInflateSizeLimit(t *testing.T) {
	d, err := NewDeflater(6)
	require.NoError(t, err)

	compressed, err := d.Compress(make([]byte, 4096))
	require.NoError(t, err)

	inf := NewInflater(1024)
	_, err = inf.Decompress(compressed)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestCompressedFrameRoundTrip(t *testing.T) {
	d, err := NewDeflater(6)
	require.NoError(t, err)
	inf := NewInflater(0)

	payload := []byte(strings.Repeat("frame payload ", 50))
	compressed, err := d.Compress(payload)
	require.NoError(t, err)

	b := NewFrameBuilder(false, 0)
	frame, err := b.BuildCompressedFrame(OpBinary, compressed, true)
	require.NoError(t, err)

	f := parseOne(t, ParserConfig{AllowRSV1: true}, frame)
	require.True(t, f.RSV1)

	restored, err := inf.Decompress(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/absmach/mwire/pkg/handler"
	"github.com/absmach/mwire/pkg/parser"
	"github.com/absmach/mwire/pkg/session"
	"github.com/absmach/mwire/pkg/subproto"
	"github.com/absmach/mwire/pkg/ws"
	"github.com/klauspost/compress/flate"
)

type mockHandler struct {
	handler.NoopHandler

	upgradeErr  error
	upgraded    bool
	lastPath    string
	lastOffered []string
	connected   bool
	messages    [][]byte
	binaries    []bool
}

func (m *mockHandler) AuthUpgrade(ctx context.Context, hctx *handler.Context, path string, subprotocols *[]string) error {
	m.upgraded = true
	m.lastPath = path
	m.lastOffered = append([]string(nil), (*subprotocols)...)
	return m.upgradeErr
}

func (m *mockHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	m.connected = true
	return nil
}

func (m *mockHandler) OnMessage(ctx context.Context, hctx *handler.Context, binary bool, payload []byte) error {
	m.messages = append(m.messages, append([]byte(nil), payload...))
	m.binaries = append(m.binaries, binary)
	return nil
}

type recordingInspector struct {
	name     string
	err      error
	payloads [][]byte
}

func (r *recordingInspector) Name() string { return r.name }

func (r *recordingInspector) Inspect(ctx context.Context, h handler.Handler, hctx *handler.Context, payload []byte) error {
	r.payloads = append(r.payloads, append([]byte(nil), payload...))
	return r.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestParser(cfg Config) *Parser {
	cfg.Logger = quietLogger()
	cfg.Sessions = session.NewStore(cfg.Logger, 0)
	return New(cfg)
}

func testContext() *handler.Context {
	return &handler.Context{SessionID: "test-session", RemoteAddr: "127.0.0.1:9999"}
}

// upgradeRequest builds a minimal RFC 6455 handshake using the sample nonce
// from the RFC, whose accept key is s3pPLMBiTxaQ9kYGzzhZRbK+xOo=.
func upgradeRequest(path string, extra ...string) []byte {
	lines := []string{
		"GET " + path + " HTTP/1.1",
		"Host: localhost",
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==",
		"Sec-WebSocket-Version: 13",
	}
	lines = append(lines, extra...)
	return []byte(strings.Join(lines, "\r\n") + "\r\n\r\n")
}

func parseInto(t *testing.T, p *Parser, h handler.Handler, hctx *handler.Context, data []byte) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := p.Parse(context.Background(), bytes.NewReader(data), &out, parser.Upstream, h, hctx)
	return out.String(), err
}

func mustUpgrade(t *testing.T, p *Parser, h handler.Handler, hctx *handler.Context, extra ...string) {
	t.Helper()
	out, err := parseInto(t, p, h, hctx, upgradeRequest("/ws", extra...))
	if err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}
	if !strings.Contains(out, "HTTP/1.1 101 Switching Protocols") {
		t.Fatalf("expected 101 response, got %q", out)
	}
}

func mustBuild(t *testing.T, frame []byte, err error) []byte {
	t.Helper()
	if err != nil {
		t.Fatalf("building frame: %v", err)
	}
	return frame
}

func TestUpgrade(t *testing.T) {
	p := newTestParser(Config{})
	mock := &mockHandler{}
	hctx := testContext()

	out, err := parseInto(t, p, mock, hctx, upgradeRequest("/ws"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "HTTP/1.1 101 Switching Protocols") {
		t.Errorf("expected 101 response, got %q", out)
	}
	if !strings.Contains(out, "Sec-Websocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=") {
		t.Errorf("expected accept key in response, got %q", out)
	}
	if !mock.upgraded {
		t.Error("expected AuthUpgrade to be called")
	}
	if mock.lastPath != "/ws" {
		t.Errorf("expected path /ws, got %q", mock.lastPath)
	}
	if !mock.connected {
		t.Error("expected OnConnect to be called")
	}
	if hctx.Protocol != "websocket" {
		t.Errorf("expected protocol websocket, got %q", hctx.Protocol)
	}
}

func TestUpgradeBadHandshake(t *testing.T) {
	p := newTestParser(Config{})
	mock := &mockHandler{}

	req := []byte("GET /ws HTTP/1.1\r\nHost: localhost\r\n\r\n")
	out, err := parseInto(t, p, mock, testContext(), req)
	if err == nil {
		t.Fatal("expected error for missing upgrade headers")
	}
	if !strings.Contains(out, "HTTP/1.1 400 Bad Request") {
		t.Errorf("expected 400 response, got %q", out)
	}
	if !strings.Contains(out, "Connection: close") {
		t.Errorf("expected connection close, got %q", out)
	}
	if mock.connected {
		t.Error("OnConnect must not fire on a failed handshake")
	}
}

func TestUpgradeAuthRejected(t *testing.T) {
	p := newTestParser(Config{})
	mock := &mockHandler{upgradeErr: errors.New("not allowed")}

	out, err := parseInto(t, p, mock, testContext(), upgradeRequest("/ws"))
	if err == nil {
		t.Fatal("expected error when AuthUpgrade rejects")
	}
	if !strings.Contains(out, "HTTP/1.1 403 Forbidden") {
		t.Errorf("expected 403 response, got %q", out)
	}
}

func TestPartialHandshake(t *testing.T) {
	p := newTestParser(Config{})
	mock := &mockHandler{}
	hctx := testContext()

	full := upgradeRequest("/ws")
	out, err := parseInto(t, p, mock, hctx, full[:20])
	if err != nil {
		t.Fatalf("unexpected error on partial request: %v", err)
	}
	if out != "" {
		t.Errorf("expected no response yet, got %q", out)
	}

	out, err = parseInto(t, p, mock, hctx, full[20:])
	if err != nil {
		t.Fatalf("unexpected error on completion: %v", err)
	}
	if !strings.Contains(out, "HTTP/1.1 101 Switching Protocols") {
		t.Errorf("expected 101 response, got %q", out)
	}
}

func TestSubprotocolNegotiation(t *testing.T) {
	ins := &recordingInspector{name: "mqtt"}
	reg := subproto.NewRegistry()
	reg.Register(ins)

	p := newTestParser(Config{Subprotocols: reg})
	mock := &mockHandler{}
	hctx := testContext()

	out, err := parseInto(t, p, mock, hctx, upgradeRequest("/ws", "Sec-WebSocket-Protocol: chat, mqtt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Sec-Websocket-Protocol: mqtt") {
		t.Errorf("expected negotiated subprotocol in response, got %q", out)
	}
	if hctx.Subprotocol != "mqtt" {
		t.Errorf("expected subprotocol mqtt, got %q", hctx.Subprotocol)
	}
	if len(mock.lastOffered) != 2 || mock.lastOffered[0] != "chat" || mock.lastOffered[1] != "mqtt" {
		t.Errorf("expected offered [chat mqtt], got %v", mock.lastOffered)
	}

	client := ws.NewFrameBuilder(true, 0)
	frame := mustBuild(t, client.BuildTextFrame("inspected"))
	if _, err := parseInto(t, p, mock, hctx, frame); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ins.payloads) != 1 || string(ins.payloads[0]) != "inspected" {
		t.Errorf("expected inspector to see the message, got %v", ins.payloads)
	}
}

func TestFramesBehindHandshake(t *testing.T) {
	p := newTestParser(Config{})
	mock := &mockHandler{}

	client := ws.NewFrameBuilder(true, 0)
	frame := mustBuild(t, client.BuildTextFrame("hello"))
	data := append(upgradeRequest("/ws"), frame...)

	out, err := parseInto(t, p, mock, testContext(), data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "HTTP/1.1 101 Switching Protocols") {
		t.Errorf("expected 101 response, got %q", out)
	}
	if len(mock.messages) != 1 || string(mock.messages[0]) != "hello" {
		t.Errorf("expected trailing frame to be processed, got %v", mock.messages)
	}
}

func TestPingPong(t *testing.T) {
	p := newTestParser(Config{})
	mock := &mockHandler{}
	hctx := testContext()
	mustUpgrade(t, p, mock, hctx)

	client := ws.NewFrameBuilder(true, 0)
	ping := mustBuild(t, client.BuildPingFrame([]byte("ping me")))

	out, err := parseInto(t, p, mock, hctx, ping)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	server := ws.NewFrameBuilder(false, 0)
	expected := mustBuild(t, server.BuildPongFrame([]byte("ping me")))
	if out != string(expected) {
		t.Errorf("expected pong %x, got %x", expected, out)
	}
}

func TestMessageDispatch(t *testing.T) {
	p := newTestParser(Config{})
	mock := &mockHandler{}
	hctx := testContext()
	mustUpgrade(t, p, mock, hctx)

	client := ws.NewFrameBuilder(true, 0)
	data := mustBuild(t, client.BuildTextFrame("first"))
	data = append(data, mustBuild(t, client.BuildBinaryFrame([]byte{0x01, 0x02}))...)

	if _, err := parseInto(t, p, mock, hctx, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(mock.messages))
	}
	if string(mock.messages[0]) != "first" || mock.binaries[0] {
		t.Errorf("expected text message first, got %q binary=%v", mock.messages[0], mock.binaries[0])
	}
	if !bytes.Equal(mock.messages[1], []byte{0x01, 0x02}) || !mock.binaries[1] {
		t.Errorf("expected binary message second, got %q binary=%v", mock.messages[1], mock.binaries[1])
	}
}

func TestEcho(t *testing.T) {
	p := newTestParser(Config{Echo: true})
	mock := &mockHandler{}
	hctx := testContext()
	mustUpgrade(t, p, mock, hctx)

	client := ws.NewFrameBuilder(true, 0)
	frame := mustBuild(t, client.BuildTextFrame("hello"))

	out, err := parseInto(t, p, mock, hctx, frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	server := ws.NewFrameBuilder(false, 0)
	expected := mustBuild(t, server.BuildTextFrame("hello"))
	if out != string(expected) {
		t.Errorf("expected echo %x, got %x", expected, out)
	}
}

func TestFragmentedMessage(t *testing.T) {
	p := newTestParser(Config{})
	mock := &mockHandler{}
	hctx := testContext()
	mustUpgrade(t, p, mock, hctx)

	client := ws.NewFrameBuilder(true, 0)
	data := mustBuild(t, client.BuildFrame(ws.OpText, []byte("hel"), false))
	data = append(data, mustBuild(t, client.BuildContinuationFrame([]byte("lo"), true))...)

	if _, err := parseInto(t, p, mock, hctx, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.messages) != 1 || string(mock.messages[0]) != "hello" {
		t.Errorf("expected reassembled message hello, got %v", mock.messages)
	}
}

func TestCloseEcho(t *testing.T) {
	p := newTestParser(Config{})
	mock := &mockHandler{}
	hctx := testContext()
	mustUpgrade(t, p, mock, hctx)

	client := ws.NewFrameBuilder(true, 0)
	frame := mustBuild(t, client.BuildCloseFrame(ws.CloseNormal, "bye"))

	out, err := parseInto(t, p, mock, hctx, frame)
	if err != io.EOF {
		t.Fatalf("expected io.EOF after close, got %v", err)
	}

	server := ws.NewFrameBuilder(false, 0)
	expected := mustBuild(t, server.BuildCloseFrame(ws.CloseNormal, ""))
	if out != string(expected) {
		t.Errorf("expected close echo %x, got %x", expected, out)
	}
}

func TestCloseNoStatus(t *testing.T) {
	p := newTestParser(Config{})
	mock := &mockHandler{}
	hctx := testContext()
	mustUpgrade(t, p, mock, hctx)

	client := ws.NewFrameBuilder(true, 0)
	frame := mustBuild(t, client.BuildFrame(ws.OpClose, nil, true))

	out, err := parseInto(t, p, mock, hctx, frame)
	if err != io.EOF {
		t.Fatalf("expected io.EOF after close, got %v", err)
	}
	// The reserved 1005 code never goes on the wire; the echo is an empty
	// close frame.
	if out != string([]byte{0x88, 0x00}) {
		t.Errorf("expected empty close frame, got %x", out)
	}
}

func TestInvalidCloseCode(t *testing.T) {
	p := newTestParser(Config{})
	mock := &mockHandler{}
	hctx := testContext()
	mustUpgrade(t, p, mock, hctx)

	client := ws.NewFrameBuilder(true, 0)
	frame := mustBuild(t, client.BuildCloseFrame(ws.CloseCode(1004), ""))

	out, err := parseInto(t, p, mock, hctx, frame)
	if err == nil || err == io.EOF {
		t.Fatalf("expected protocol error, got %v", err)
	}

	server := ws.NewFrameBuilder(false, 0)
	expected := mustBuild(t, server.BuildCloseFrame(ws.CloseProtocolError, "invalid close code"))
	if out != string(expected) {
		t.Errorf("expected close %x, got %x", expected, out)
	}
}

func TestUnmaskedFrameRejected(t *testing.T) {
	p := newTestParser(Config{RequireMasking: true})
	mock := &mockHandler{}
	hctx := testContext()
	mustUpgrade(t, p, mock, hctx)

	unmasked := ws.NewFrameBuilder(false, 0)
	frame := mustBuild(t, unmasked.BuildTextFrame("sneaky"))

	out, err := parseInto(t, p, mock, hctx, frame)
	if err == nil {
		t.Fatal("expected error for unmasked client frame")
	}

	server := ws.NewFrameBuilder(false, 0)
	expected := mustBuild(t, server.BuildCloseFrame(ws.CloseProtocolError, "protocol error"))
	if out != string(expected) {
		t.Errorf("expected close %x, got %x", expected, out)
	}
	if len(mock.messages) != 0 {
		t.Errorf("expected no messages dispatched, got %v", mock.messages)
	}
}

func TestMessageTooLarge(t *testing.T) {
	p := newTestParser(Config{MaxMessageSize: 16})
	mock := &mockHandler{}
	hctx := testContext()
	mustUpgrade(t, p, mock, hctx)

	client := ws.NewFrameBuilder(true, 0)
	data := mustBuild(t, client.BuildFrame(ws.OpText, bytes.Repeat([]byte("a"), 10), false))
	data = append(data, mustBuild(t, client.BuildContinuationFrame(bytes.Repeat([]byte("b"), 10), true))...)

	out, err := parseInto(t, p, mock, hctx, data)
	if err == nil {
		t.Fatal("expected error for oversized message")
	}

	server := ws.NewFrameBuilder(false, 0)
	expected := mustBuild(t, server.BuildCloseFrame(ws.CloseTooLarge, "message too large"))
	if out != string(expected) {
		t.Errorf("expected close %x, got %x", expected, out)
	}
}

func TestDeflate(t *testing.T) {
	p := newTestParser(Config{EnableDeflate: true, Echo: true})
	mock := &mockHandler{}
	hctx := testContext()

	out, err := parseInto(t, p, mock, hctx, upgradeRequest("/ws",
		"Sec-WebSocket-Extensions: permessage-deflate; client_max_window_bits"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "permessage-deflate") {
		t.Errorf("expected deflate accepted in response, got %q", out)
	}

	deflater, err := ws.NewDeflater(flate.DefaultCompression)
	if err != nil {
		t.Fatalf("deflater: %v", err)
	}
	compressed, err := deflater.Compress([]byte("hello world"))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	client := ws.NewFrameBuilder(true, 0)
	frame := mustBuild(t, client.BuildCompressedFrame(ws.OpText, compressed, true))

	out, err = parseInto(t, p, mock, hctx, frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.messages) != 1 || string(mock.messages[0]) != "hello world" {
		t.Errorf("expected inflated message, got %v", mock.messages)
	}
	// The echo is compressed again: FIN and RSV1 set on a text frame.
	if len(out) == 0 || out[0] != 0xC1 {
		t.Errorf("expected compressed echo frame, got %x", out)
	}
}

func TestInspectorRejection(t *testing.T) {
	ins := &recordingInspector{name: "mqtt", err: errors.New("denied")}
	reg := subproto.NewRegistry()
	reg.Register(ins)

	p := newTestParser(Config{Subprotocols: reg})
	mock := &mockHandler{}
	hctx := testContext()
	mustUpgrade(t, p, mock, hctx, "Sec-WebSocket-Protocol: mqtt")

	client := ws.NewFrameBuilder(true, 0)
	frame := mustBuild(t, client.BuildTextFrame("forbidden payload"))

	out, err := parseInto(t, p, mock, hctx, frame)
	if err == nil {
		t.Fatal("expected error when inspector rejects")
	}

	server := ws.NewFrameBuilder(false, 0)
	expected := mustBuild(t, server.BuildCloseFrame(ws.ClosePolicyViolation, "policy violation"))
	if out != string(expected) {
		t.Errorf("expected close %x, got %x", expected, out)
	}
	if len(mock.messages) != 0 {
		t.Errorf("expected no dispatch after rejection, got %v", mock.messages)
	}
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"

	errs "github.com/absmach/mwire/pkg/errors"
	"github.com/absmach/mwire/pkg/handler"
	mhttp "github.com/absmach/mwire/pkg/http"
	"github.com/absmach/mwire/pkg/metrics"
	"github.com/absmach/mwire/pkg/parser"
	"github.com/absmach/mwire/pkg/pool"
	"github.com/absmach/mwire/pkg/session"
	"github.com/absmach/mwire/pkg/subproto"
	"github.com/absmach/mwire/pkg/ws"
	"github.com/klauspost/compress/flate"
)

// Config holds WebSocket parser configuration.
type Config struct {
	// Sessions tracks per-connection handshake and frame state.
	Sessions *session.Store

	// Subprotocols negotiates and inspects application subprotocols.
	// Nil skips negotiation entirely.
	Subprotocols *subproto.Registry

	// Metrics records frame and message metrics. Nil disables
	// instrumentation.
	Metrics *metrics.Metrics

	// Buffers supplies read buffers for the connection loop.
	Buffers *pool.BufferPool

	// Logger for connection-level events.
	Logger *slog.Logger

	// MaxFrameSize caps a single frame's payload. Zero means no cap.
	MaxFrameSize uint64

	// MaxMessageSize caps a reassembled message. Zero applies the
	// stream processor's default.
	MaxMessageSize uint64

	// RequireMasking rejects unmasked client frames. Servers facing
	// browsers should set this per RFC 6455.
	RequireMasking bool

	// SkipUTF8Validation disables text payload validation.
	SkipUTF8Validation bool

	// EnableDeflate negotiates permessage-deflate when offered.
	EnableDeflate bool

	// Echo sends every data message back to the client after inspection.
	Echo bool
}

// Parser terminates WebSocket connections: it performs the upgrade
// handshake, then processes frames, answering pings and close frames and
// dispatching complete messages to subprotocol inspectors and the handler.
type Parser struct {
	config  Config
	builder *ws.FrameBuilder
}

var _ parser.Parser = (*Parser)(nil)

// New creates a WebSocket parser with the given configuration.
func New(cfg Config) *Parser {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewStore(cfg.Logger, 0)
	}
	if cfg.Buffers == nil {
		cfg.Buffers = pool.New(0)
	}
	return &Parser{
		config: cfg,
		// Server frames are never masked.
		builder: ws.NewFrameBuilder(false, 0),
	}
}

// Parse reads available bytes from r and advances the connection through its
// phases: the HTTP upgrade handshake first, frame processing afterwards.
// Bytes that arrive behind the handshake in the same read are processed as
// frames immediately.
func (p *Parser) Parse(ctx context.Context, r io.Reader, w io.Writer, dir parser.Direction, h handler.Handler, hctx *handler.Context) error {
	sess, _, err := p.config.Sessions.GetOrCreate(hctx.SessionID, hctx.RemoteAddr)
	if err != nil {
		return err
	}

	buf := p.config.Buffers.Get()
	defer p.config.Buffers.Put(buf)

	n, rerr := r.Read(*buf)
	if n == 0 && rerr != nil {
		return rerr
	}
	sess.UpdateActivity()

	data := (*buf)[:n]
	if !sess.Upgraded {
		if err := p.handshake(ctx, w, sess, data, h, hctx); err != nil {
			return err
		}
		if !sess.Upgraded {
			// Upgrade request still incomplete.
			return rerr
		}
		// Frames may have arrived right behind the handshake.
		data = sess.HTTP.Drain()
		if len(data) == 0 {
			return rerr
		}
	}

	if err := p.processFrames(ctx, w, sess, data, h, hctx); err != nil {
		return err
	}
	return rerr
}

// handshake feeds bytes into the session's request accumulator and, once the
// upgrade request is complete, validates it, authorizes it, negotiates
// subprotocol and extensions, and writes the 101 response.
func (p *Parser) handshake(ctx context.Context, w io.Writer, sess *session.Session, data []byte, h handler.Handler, hctx *handler.Context) error {
	req, err := sess.HTTP.Feed(data)
	if err != nil {
		return p.rejectHandshake(w, 400, "malformed request", err, hctx)
	}
	if req == nil {
		return nil
	}

	key, err := ws.ValidateUpgrade(req)
	if err != nil {
		return p.rejectHandshake(w, 400, "bad websocket handshake", err, hctx)
	}

	if p.config.Metrics != nil {
		p.config.Metrics.AuthAttempts.WithLabelValues("websocket", "upgrade").Inc()
	}

	offered := ws.Subprotocols(req)
	if err := h.AuthUpgrade(ctx, hctx, req.Path, &offered); err != nil {
		if p.config.Metrics != nil {
			p.config.Metrics.AuthFailures.WithLabelValues("websocket", "upgrade", "denied").Inc()
		}
		return p.rejectHandshake(w, 403, "forbidden", err, hctx)
	}

	var selected string
	if p.config.Subprotocols != nil {
		if name, ok := p.config.Subprotocols.Negotiate(offered); ok {
			selected = name
		}
	}

	var extensions []string
	if p.config.EnableDeflate && ws.OffersDeflate(req) {
		if d, derr := ws.NewDeflater(flate.DefaultCompression); derr != nil {
			p.config.Logger.Error("deflate initialization failed",
				slog.String("error", derr.Error()))
		} else {
			sess.Deflater = d
			sess.Inflater = ws.NewInflater(p.config.MaxMessageSize)
			extensions = ws.DeflateResponseParams()
		}
	}

	sess.Stream = ws.NewStreamProcessor(ws.StreamConfig{
		Parser: ws.ParserConfig{
			MaxFrameSize:       p.config.MaxFrameSize,
			RequireMasking:     p.config.RequireMasking,
			SkipUTF8Validation: p.config.SkipUTF8Validation,
			AllowRSV1:          sess.Inflater != nil,
		},
		MaxMessageSize: p.config.MaxMessageSize,
	})

	resp := ws.BuildUpgradeResponse(key, selected, extensions)
	if _, err := w.Write(resp.Bytes()); err != nil {
		return errs.New("handshake", "websocket", hctx.SessionID, hctx.RemoteAddr, err)
	}

	sess.Upgraded = true
	sess.Subprotocol = selected
	hctx.Protocol = "websocket"
	hctx.Subprotocol = selected

	p.config.Logger.Debug("websocket connection upgraded",
		slog.String("remote", hctx.RemoteAddr),
		slog.String("path", req.Path),
		slog.String("subprotocol", selected))

	if err := h.OnConnect(ctx, hctx); err != nil {
		p.config.Logger.Error("connection notification error",
			slog.String("error", err.Error()))
	}

	return nil
}

// rejectHandshake answers a failed upgrade with an HTTP error and terminates
// the connection.
func (p *Parser) rejectHandshake(w io.Writer, status int, message string, cause error, hctx *handler.Context) error {
	p.config.Logger.Debug("websocket handshake rejected",
		slog.String("remote", hctx.RemoteAddr),
		slog.Int("status", status),
		slog.String("error", cause.Error()))
	if p.config.Metrics != nil {
		p.config.Metrics.ConnectionErrors.WithLabelValues("websocket", "endpoint", "bad_handshake").Inc()
	}

	resp := mhttp.ErrorResponse(status, message)
	resp.Headers.Set("connection", "close")
	if _, werr := w.Write(resp.Bytes()); werr != nil {
		return errs.New("handshake", "websocket", hctx.SessionID, hctx.RemoteAddr, werr)
	}
	return errs.New("handshake", "websocket", hctx.SessionID, hctx.RemoteAddr, cause)
}

// processFrames runs the chunk through the session's stream processor and
// dispatches everything it produces. Frames parsed before a protocol
// violation are still served; the violation then closes the connection.
func (p *Parser) processFrames(ctx context.Context, w io.Writer, sess *session.Session, data []byte, h handler.Handler, hctx *handler.Context) error {
	frames, perr := sess.Stream.Process(data)
	for _, f := range frames {
		if err := p.handleFrame(ctx, w, sess, f, h, hctx); err != nil {
			return err
		}
	}

	if perr != nil {
		code, reason := closeCodeFor(perr)
		return p.closeWithError(w, code, reason, perr, hctx)
	}
	return nil
}

func (p *Parser) handleFrame(ctx context.Context, w io.Writer, sess *session.Session, f ws.Frame, h handler.Handler, hctx *handler.Context) error {
	p.countFrame(f.Opcode.String(), "upstream")

	switch f.Opcode {
	case ws.OpPing:
		pong, err := p.builder.BuildPongFrame(f.Payload)
		if err != nil {
			return errs.New("frames", "websocket", hctx.SessionID, hctx.RemoteAddr, err)
		}
		if _, err := w.Write(pong); err != nil {
			return errs.New("frames", "websocket", hctx.SessionID, hctx.RemoteAddr, err)
		}
		p.countFrame("pong", "downstream")
		return nil

	case ws.OpPong:
		// Unsolicited pongs are permitted and ignored.
		return nil

	case ws.OpClose:
		return p.handleClose(w, f, hctx)

	case ws.OpText, ws.OpBinary:
		return p.handleMessage(ctx, w, sess, f, h, hctx)

	default:
		return nil
	}
}

// handleClose echoes the close and reports a clean connection end.
func (p *Parser) handleClose(w io.Writer, f ws.Frame, hctx *handler.Context) error {
	code, reason, err := ws.ParseClosePayload(f.Payload)
	if err != nil {
		return p.closeWithError(w, ws.CloseProtocolError, "invalid close payload", err, hctx)
	}
	if code != ws.CloseNoStatus && !code.IsValid() {
		return p.closeWithError(w, ws.CloseProtocolError, "invalid close code", ws.ErrProtocolViolation, hctx)
	}

	p.config.Logger.Debug("close frame received",
		slog.String("session", hctx.SessionID),
		slog.Int("code", int(code)),
		slog.String("reason", reason))

	var echo []byte
	var berr error
	if code == ws.CloseNoStatus {
		// 1005 is reserved and must never be sent on the wire; answer
		// with an empty close instead.
		echo, berr = p.builder.BuildFrame(ws.OpClose, nil, true)
	} else {
		echo, berr = p.builder.BuildCloseFrame(code, "")
	}
	if berr == nil {
		if _, werr := w.Write(echo); werr != nil {
			return werr
		}
		p.countFrame("close", "downstream")
	}
	return io.EOF
}

// handleMessage runs a complete data message through decompression,
// subprotocol inspection, and the handler, echoing it back when configured.
func (p *Parser) handleMessage(ctx context.Context, w io.Writer, sess *session.Session, f ws.Frame, h handler.Handler, hctx *handler.Context) error {
	payload := f.Payload
	if f.RSV1 && sess.Inflater != nil {
		decompressed, err := sess.Inflater.Decompress(payload)
		if err != nil {
			if errors.Is(err, ws.ErrMessageTooLarge) {
				return p.closeWithError(w, ws.CloseTooLarge, "message too large", err, hctx)
			}
			return p.closeWithError(w, ws.CloseInvalidData, "invalid compressed data", err, hctx)
		}
		payload = decompressed
	}

	binary := f.Opcode == ws.OpBinary
	msgType := "text"
	if binary {
		msgType = "binary"
	}
	if p.config.Metrics != nil {
		p.config.Metrics.WebSocketMessages.WithLabelValues(msgType, "upstream").Inc()
	}

	if sess.Subprotocol != "" && p.config.Subprotocols != nil {
		if ins, ok := p.config.Subprotocols.Lookup(sess.Subprotocol); ok {
			if err := ins.Inspect(ctx, h, hctx, payload); err != nil {
				if p.config.Metrics != nil {
					p.config.Metrics.SubprotocolMessages.WithLabelValues(sess.Subprotocol, "rejected").Inc()
				}
				return p.closeWithError(w, ws.ClosePolicyViolation, "policy violation", err, hctx)
			}
			if p.config.Metrics != nil {
				p.config.Metrics.SubprotocolMessages.WithLabelValues(sess.Subprotocol, "ok").Inc()
			}
		}
	}

	if err := h.OnMessage(ctx, hctx, binary, payload); err != nil {
		p.config.Logger.Error("message notification error",
			slog.String("error", err.Error()))
	}

	if p.config.Echo {
		if err := p.echo(w, sess, f.Opcode, payload); err != nil {
			return errs.New("frames", "websocket", hctx.SessionID, hctx.RemoteAddr, err)
		}
		if p.config.Metrics != nil {
			p.config.Metrics.WebSocketMessages.WithLabelValues(msgType, "downstream").Inc()
		}
		p.countFrame(msgType, "downstream")
	}

	return nil
}

// echo sends the message back, compressed when the session negotiated
// permessage-deflate.
func (p *Parser) echo(w io.Writer, sess *session.Session, op ws.Opcode, payload []byte) error {
	var frame []byte
	var err error
	if sess.Deflater != nil {
		compressed, cerr := sess.Deflater.Compress(payload)
		if cerr != nil {
			return cerr
		}
		frame, err = p.builder.BuildCompressedFrame(op, compressed, true)
	} else {
		frame, err = p.builder.BuildFrame(op, payload, true)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// closeWithError sends a close frame best effort and reports the violation.
func (p *Parser) closeWithError(w io.Writer, code ws.CloseCode, reason string, cause error, hctx *handler.Context) error {
	p.config.Logger.Debug("closing websocket connection",
		slog.String("session", hctx.SessionID),
		slog.Int("code", int(code)),
		slog.String("error", cause.Error()))
	if p.config.Metrics != nil {
		p.config.Metrics.ConnectionErrors.WithLabelValues("websocket", "endpoint", "protocol_error").Inc()
	}

	if frame, err := p.builder.BuildCloseFrame(code, reason); err == nil {
		_, _ = w.Write(frame)
		p.countFrame("close", "downstream")
	}
	return errs.New("frames", "websocket", hctx.SessionID, hctx.RemoteAddr, cause)
}

func (p *Parser) countFrame(frameType, direction string) {
	if p.config.Metrics != nil {
		p.config.Metrics.WebSocketFrames.WithLabelValues(frameType, direction).Inc()
	}
}

// closeCodeFor maps a stream processing error to the close code sent to the
// peer.
func closeCodeFor(err error) (ws.CloseCode, string) {
	switch {
	case errors.Is(err, ws.ErrMessageTooLarge), errors.Is(err, ws.ErrFrameTooLarge):
		return ws.CloseTooLarge, "message too large"
	case errors.Is(err, ws.ErrInvalidUTF8):
		return ws.CloseInvalidData, "invalid utf-8"
	default:
		return ws.CloseProtocolError, "protocol error"
	}
}

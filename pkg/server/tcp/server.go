// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/absmach/mwire/pkg/handler"
	"github.com/absmach/mwire/pkg/parser"
	"github.com/absmach/mwire/pkg/session"
	"github.com/google/uuid"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TLSConfig is optional TLS configuration for the listener
	TLSConfig *tls.Config

	// ShutdownTimeout is the maximum time to wait for active connections to drain
	// during graceful shutdown. After this timeout, remaining connections are
	// forcefully closed.
	ShutdownTimeout time.Duration

	// MaxConnections caps concurrent connections. Zero means unlimited.
	// Connections over the cap are closed immediately after accept.
	MaxConnections int

	// TCPKeepAlive enables TCP keep-alive probes with the given period.
	TCPKeepAlive time.Duration

	// DisableNoDelay turns Nagle's algorithm back on. The default keeps
	// TCP_NODELAY set, which suits small latency-sensitive frames.
	DisableNoDelay bool

	// ReadTimeout bounds each read from the connection. Zero falls back to
	// IdleTimeout, and with both zero reads never time out.
	ReadTimeout time.Duration

	// WriteTimeout bounds each write burst to the connection.
	WriteTimeout time.Duration

	// IdleTimeout reaps sessions with no activity. It requires Sessions.
	IdleTimeout time.Duration

	// Protocol labels connections before a parser refines it (http, ws).
	Protocol string

	// Sessions tracks per-connection state shared with the parser. When
	// set, the server creates the session at accept and removes it on
	// disconnect.
	Sessions *session.Store

	// Logger for server events
	Logger *slog.Logger
}

// Server is a protocol-agnostic TCP server that accepts connections and
// feeds them to a pluggable parser which terminates the protocol.
type Server struct {
	config   Config
	parser   parser.Parser
	handler  handler.Handler
	connSem  chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	listener net.Listener
}

// New creates a new TCP server with the given configuration, parser, and handler.
func New(cfg Config, p parser.Parser, h handler.Handler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "tcp"
	}

	s := &Server{
		config:  cfg,
		parser:  p,
		handler: h,
	}
	if cfg.MaxConnections > 0 {
		s.connSem = make(chan struct{}, cfg.MaxConnections)
	}
	return s
}

// Listen starts the TCP server and blocks until the context is cancelled.
// It implements graceful shutdown with connection draining.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	// Wrap with TLS if configured
	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
		s.config.Logger.Info("TLS enabled", slog.String("address", s.config.Address))
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.config.Logger.Info("TCP server started",
		slog.String("address", listener.Addr().String()),
		slog.String("protocol", s.config.Protocol))

	// Create a separate context for active connections
	// This allows us to control when to forcefully close connections
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	// Reap idle sessions in the background.
	if s.config.Sessions != nil && s.config.IdleTimeout > 0 {
		go s.config.Sessions.Cleanup(connCtx, s.config.IdleTimeout, s.handler)
	}

	// Accept loop
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					// Expected error during shutdown
					return
				default:
					s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
					continue
				}
			}

			if s.connSem != nil {
				select {
				case s.connSem <- struct{}{}:
				default:
					s.config.Logger.Warn("connection limit reached, rejecting",
						slog.String("remote", conn.RemoteAddr().String()))
					conn.Close()
					continue
				}
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if s.connSem != nil {
					defer func() { <-s.connSem }()
				}
				if err := s.handleConn(connCtx, conn); err != nil && !errors.Is(err, io.EOF) {
					s.config.Logger.Debug("connection handler error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	// Close the listener to stop accepting new connections
	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	// Wait for accept loop to finish
	<-acceptDone

	// Wait for active connections to drain with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed gracefully")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
		// Cancel context to force close remaining connections
		connCancel()
		// Give a little more time for forced closure
		select {
		case <-done:
			return ErrShutdownTimeout
		case <-time.After(1 * time.Second):
			return ErrShutdownTimeout
		}
	}
}

// Addr returns the bound listener address, or nil before Listen binds it.
// Useful with port 0 in tests.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConn processes a single client connection by:
// 1. Completing the TLS handshake when the listener is TLS
// 2. Creating the session and handler context
// 3. Authorizing the connection through AuthConnect
// 4. Running the parse loop until the connection ends
func (s *Server) handleConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	s.tuneConn(conn)

	// Extract client certificate if using TLS
	var cert *x509.Certificate
	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			return fmt.Errorf("TLS handshake failed: %w", err)
		}
		state := tlsConn.ConnectionState()
		if len(state.PeerCertificates) > 0 {
			cert = state.PeerCertificates[0]
		}
	}

	sessionID := uuid.New().String()

	// Create handler context
	hctx := &handler.Context{
		SessionID:  sessionID,
		RemoteAddr: conn.RemoteAddr().String(),
		Protocol:   s.config.Protocol,
		Cert:       cert,
	}

	// Share the session's context with the parser so credentials it
	// extracts are visible on disconnect.
	if s.config.Sessions != nil {
		sess, _, err := s.config.Sessions.GetOrCreate(sessionID, hctx.RemoteAddr)
		if err != nil {
			return err
		}
		defer s.config.Sessions.Remove(sessionID)
		sess.Context.Protocol = hctx.Protocol
		sess.Context.Cert = cert
		hctx = sess.Context
	}

	if err := s.handler.AuthConnect(ctx, hctx); err != nil {
		s.config.Logger.Debug("connection rejected",
			slog.String("remote", hctx.RemoteAddr),
			slog.String("error", err.Error()))
		return err
	}

	s.config.Logger.Debug("connection established",
		slog.String("session", sessionID),
		slog.String("client", hctx.RemoteAddr))

	err := s.serve(ctx, conn, hctx)

	// Notify disconnect
	if derr := s.handler.OnDisconnect(context.Background(), hctx); derr != nil {
		s.config.Logger.Error("disconnect handler error",
			slog.String("session", sessionID),
			slog.String("error", derr.Error()))
	}

	s.config.Logger.Debug("connection closed",
		slog.String("session", sessionID))

	return err
}

// serve runs the parse loop until an error, a clean close, or context
// cancellation. Both sides of the parser are the client connection.
func (s *Server) serve(ctx context.Context, conn net.Conn, hctx *handler.Context) error {
	readTimeout := s.config.ReadTimeout
	if readTimeout == 0 {
		readTimeout = s.config.IdleTimeout
	}

	for {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if readTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
				return err
			}
		}
		if s.config.WriteTimeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
				return err
			}
		}

		// Parse one unit of input
		if err := s.parser.Parse(ctx, conn, conn, parser.Upstream, s.handler, hctx); err != nil {
			return err
		}
	}
}

// tuneConn applies TCP socket options to the accepted connection.
func (s *Server) tuneConn(conn net.Conn) {
	if tlsConn, ok := conn.(*tls.Conn); ok {
		conn = tlsConn.NetConn()
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}

	if s.config.TCPKeepAlive > 0 {
		if err := tcpConn.SetKeepAlive(true); err == nil {
			_ = tcpConn.SetKeepAlivePeriod(s.config.TCPKeepAlive)
		}
	}
	if s.config.DisableNoDelay {
		_ = tcpConn.SetNoDelay(false)
	}
}

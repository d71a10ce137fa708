// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements a protocol-agnostic TCP server for mWire.
//
// # Overview
//
// The TCP server accepts connections and hands them to a pluggable parser
// that terminates the protocol. It supports TLS, connection limits, socket
// tuning, idle reaping, and graceful shutdown.
//
// # Architecture
//
//	┌─────────┐         ┌─────────┐
//	│ Client  │ ←─TCP─→ │  Server │
//	└─────────┘         └─────────┘
//	                         ↓
//	                    ┌─────────┐
//	                    │ Parser  │
//	                    └─────────┘
//	                         ↓
//	                    ┌─────────┐
//	                    │ Handler │
//	                    └─────────┘
//
// # Connection Flow
//
//  1. Client connects to server
//  2. Server accepts connection and applies socket options
//  3. TLS handshake completes (when the listener is TLS)
//  4. Server creates the session and handler context
//  5. Handler authorizes the connection via AuthConnect
//  6. Parse loop runs until the connection ends
//  7. Server calls handler.OnDisconnect() and removes the session
//
// # Parse Loop
//
// Each connection runs a single loop. The parser reads from and writes to
// the same client connection; there is no backend leg:
//
//	for {
//	  parser.Parse(ctx, conn, conn, Upstream, handler, hctx)
//	}
//
// Read and write deadlines are refreshed before every iteration when
// ReadTimeout or WriteTimeout are configured. A parser returning io.EOF ends
// the loop cleanly; any other error ends it with logging.
//
// # Connection Limits
//
// MaxConnections bounds concurrent connections with a semaphore. Accepted
// connections over the cap are closed immediately and logged.
//
// # Graceful Shutdown
//
// When context is canceled:
//
//  1. Server stops accepting new connections
//  2. Server waits for existing connections (with timeout)
//  3. After ShutdownTimeout, forcefully closes remaining connections
//  4. Returns ErrShutdownTimeout if timeout exceeded
//
// Connection tracking uses sync.WaitGroup:
//
//	server.wg.Add(1)
//	go server.handleConn(...)
//	defer server.wg.Done()
//
// # TLS Support
//
// Optional TLS termination:
//
//	tlsConfig := &tls.Config{
//		Certificates: []tls.Certificate{cert},
//	}
//	cfg := tcp.Config{
//		Address:   ":8443",
//		TLSConfig: tlsConfig,
//	}
//
// With mutual TLS the client's certificate lands in hctx.Cert before
// AuthConnect runs, so handlers can authorize on certificate identity.
//
// # Sessions
//
// With Sessions configured, the server creates a session at accept and
// shares its handler context with the parser. Credentials a parser extracts
// mid-connection are then visible in OnDisconnect. IdleTimeout starts a
// background sweep that reaps sessions without recent activity.
//
// # Error Handling
//
//   - Connection errors: Logged and connection closed
//   - Parser errors: Logged, connection closed, OnDisconnect called
//   - AuthConnect rejection: Connection closed before any read
//   - Shutdown timeout: Returns ErrShutdownTimeout
//
// # Example
//
//	p := rest.New(rest.Config{Router: rt})
//	handler := &MyHandler{}
//
//	cfg := tcp.Config{
//		Address:         ":8080",
//		Protocol:        "http",
//		ShutdownTimeout: 30 * time.Second,
//	}
//
//	server := tcp.New(cfg, p, handler)
//	if err := server.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp

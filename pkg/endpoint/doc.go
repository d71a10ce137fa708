// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package endpoint provides high-level coordinators that wire together
// servers, parsers, and handlers.
//
// # Overview
//
// Endpoint coordinators are convenience wrappers that combine the three core
// components:
//  1. Server (TCP transport)
//  2. Parser (protocol termination)
//  3. Handler (business logic)
//
// # Architecture
//
//	Application
//	     ↓
//	┌─────────────┐
//	│  Endpoint   │  (Coordinator)
//	│ - REST      │
//	│ - WS        │
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│   Server    │  (Transport)
//	│ - TCP       │
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│   Parser    │  (Protocol)
//	│ - REST      │
//	│ - WebSocket │
//	└─────────────┘
//	     ↓
//	┌─────────────┐
//	│   Handler   │  (Business Logic)
//	└─────────────┘
//
// # Available Endpoints
//
//   - REST: routed HTTP/1.1 over TCP
//   - WS: WebSocket frames over TCP, with optional subprotocol inspection
//
// # Usage Pattern
//
//  1. Create handler implementation
//  2. Build a route table or subprotocol registry
//  3. Create endpoint config
//  4. Start endpoint
//
// Example:
//
//	handler := &MyHandler{}
//
//	rt := router.New()
//	rt.AddRoute("GET", "/api/devices/{id}", getDevice)
//
//	cfg := endpoint.RESTConfig{
//		Host:            "0.0.0.0",
//		Port:            "8080",
//		ShutdownTimeout: 30 * time.Second,
//	}
//
//	restEndpoint, err := endpoint.NewREST(cfg, rt, handler)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ctx := context.Background()
//	if err := restEndpoint.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Multiple Endpoints
//
// Run multiple endpoints simultaneously:
//
//	g, ctx := errgroup.WithContext(context.Background())
//
//	g.Go(func() error {
//		return restEndpoint.Listen(ctx)
//	})
//
//	g.Go(func() error {
//		return wsEndpoint.Listen(ctx)
//	})
//
//	if err := g.Wait(); err != nil {
//		log.Fatal(err)
//	}
//
// # Graceful Shutdown
//
// All endpoints support context-based graceful shutdown:
//
//	ctx, cancel := context.WithCancel(context.Background())
//
//	go func() {
//		<-sigterm
//		cancel()
//	}()
//
//	if err := restEndpoint.Listen(ctx); err != nil {
//		log.Printf("shutdown: %v", err)
//	}
//
// # TLS Termination
//
// Endpoints terminate TLS when configured:
//
//	cert, _ := tls.LoadX509KeyPair("cert.pem", "key.pem")
//	tlsConfig := &tls.Config{
//		Certificates: []tls.Certificate{cert},
//	}
//
//	cfg := endpoint.WSConfig{
//		Host:      "0.0.0.0",
//		Port:      "8443",
//		TLSConfig: tlsConfig,
//	}
//
// With ClientAuth set to RequireAndVerifyClientCert, the client certificate
// is available in handler.Context.Cert during AuthConnect.
//
// # Handler Integration
//
// The same handler can serve both endpoints:
//
//	handler := &UnifiedHandler{
//		authService: authSvc,
//	}
//
//	restEndpoint, _ := endpoint.NewREST(restCfg, rt, handler)
//	wsEndpoint, _ := endpoint.NewWS(wsCfg, registry, handler)
//
// The handler.Context.Protocol field distinguishes protocol types.
package endpoint

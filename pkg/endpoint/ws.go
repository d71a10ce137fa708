// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/absmach/mwire/pkg/handler"
	"github.com/absmach/mwire/pkg/metrics"
	"github.com/absmach/mwire/pkg/parser/websocket"
	"github.com/absmach/mwire/pkg/pool"
	"github.com/absmach/mwire/pkg/server/tcp"
	"github.com/absmach/mwire/pkg/session"
	"github.com/absmach/mwire/pkg/subproto"
)

// WSConfig holds configuration for the WebSocket endpoint.
type WSConfig struct {
	Host            string
	Port            string
	TLSConfig       *tls.Config
	ShutdownTimeout time.Duration
	MaxConnections  int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration

	// MaxFrameSize caps a single frame's payload. Zero means no cap.
	MaxFrameSize uint64

	// MaxMessageSize caps a reassembled message. Zero applies the frame
	// engine's default.
	MaxMessageSize uint64

	// EnableDeflate negotiates permessage-deflate when clients offer it.
	EnableDeflate bool

	// Echo sends every data message back to the client after inspection.
	Echo bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// WS coordinates the TCP server and the WebSocket parser into a frame
// endpoint.
type WS struct {
	server   *tcp.Server
	sessions *session.Store
}

// NewWS creates a WebSocket endpoint. registry may be nil when no
// subprotocols are served.
func NewWS(cfg WSConfig, registry *subproto.Registry, h handler.Handler) (*WS, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	sessions := session.NewStore(cfg.Logger, 0)
	buffers := pool.New(0)

	p := websocket.New(websocket.Config{
		Sessions:       sessions,
		Subprotocols:   registry,
		Metrics:        cfg.Metrics,
		Buffers:        buffers,
		Logger:         cfg.Logger,
		MaxFrameSize:   cfg.MaxFrameSize,
		MaxMessageSize: cfg.MaxMessageSize,
		// Clients must mask; RFC 6455 section 5.1.
		RequireMasking: true,
		EnableDeflate:  cfg.EnableDeflate,
		Echo:           cfg.Echo,
	})

	serverCfg := tcp.Config{
		Address:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		TLSConfig:       cfg.TLSConfig,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxConnections:  cfg.MaxConnections,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		Protocol:        "ws",
		Sessions:        sessions,
		Logger:          cfg.Logger,
	}

	return &WS{
		server:   tcp.New(serverCfg, p, h),
		sessions: sessions,
	}, nil
}

// Listen starts the WebSocket endpoint and blocks until context is cancelled.
func (e *WS) Listen(ctx context.Context) error {
	return e.server.Listen(ctx)
}

// Addr returns the bound listener address, or nil before Listen binds it.
func (e *WS) Addr() net.Addr {
	return e.server.Addr()
}

// Sessions returns the endpoint's session store.
func (e *WS) Sessions() *session.Store {
	return e.sessions
}

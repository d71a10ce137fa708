// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/absmach/mwire/pkg/handler"
	"github.com/absmach/mwire/pkg/metrics"
	"github.com/absmach/mwire/pkg/parser/rest"
	"github.com/absmach/mwire/pkg/pool"
	"github.com/absmach/mwire/pkg/ratelimit"
	"github.com/absmach/mwire/pkg/router"
	"github.com/absmach/mwire/pkg/server/tcp"
	"github.com/absmach/mwire/pkg/session"
)

// RESTConfig holds configuration for the REST endpoint.
type RESTConfig struct {
	Host            string
	Port            string
	TLSConfig       *tls.Config
	ShutdownTimeout time.Duration
	MaxConnections  int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration

	// RateLimit refills each client's bucket at this many requests per
	// second. Zero disables rate limiting.
	RateLimit int64

	// RateBurst is the bucket capacity. Zero defaults to RateLimit.
	RateBurst int64

	// APIVersion is reported in the x-api-version response header.
	APIVersion string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// REST coordinates the TCP server and the REST parser into a routed HTTP
// endpoint.
type REST struct {
	server   *tcp.Server
	sessions *session.Store
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
}

// NewREST creates a REST endpoint serving the given route table.
func NewREST(cfg RESTConfig, rt *router.Router, h handler.Handler) (*REST, error) {
	if rt == nil {
		return nil, errors.New("router is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	sessions := session.NewStore(cfg.Logger, 0)
	buffers := pool.New(0)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst == 0 {
			burst = cfg.RateLimit
		}
		limiter = ratelimit.NewLimiter(burst, cfg.RateLimit, 0)
	}

	p := rest.New(rest.Config{
		Router:     rt,
		Sessions:   sessions,
		Limiter:    limiter,
		Metrics:    cfg.Metrics,
		Buffers:    buffers,
		APIVersion: cfg.APIVersion,
		Logger:     cfg.Logger,
	})

	serverCfg := tcp.Config{
		Address:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		TLSConfig:       cfg.TLSConfig,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxConnections:  cfg.MaxConnections,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		Protocol:        "http",
		Sessions:        sessions,
		Logger:          cfg.Logger,
	}

	return &REST{
		server:   tcp.New(serverCfg, p, h),
		sessions: sessions,
		limiter:  limiter,
		logger:   cfg.Logger,
	}, nil
}

// Listen starts the REST endpoint and blocks until context is cancelled.
func (e *REST) Listen(ctx context.Context) error {
	if e.limiter != nil {
		defer e.limiter.Close()
	}
	return e.server.Listen(ctx)
}

// Addr returns the bound listener address, or nil before Listen binds it.
func (e *REST) Addr() net.Addr {
	return e.server.Addr()
}

// Sessions returns the endpoint's session store.
func (e *REST) Sessions() *session.Store {
	return e.sessions
}

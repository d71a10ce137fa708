// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/mwire"
	"github.com/absmach/mwire/examples/simple"
	"github.com/absmach/mwire/pkg/endpoint"
	mhttp "github.com/absmach/mwire/pkg/http"
	"github.com/absmach/mwire/pkg/router"
	"github.com/absmach/mwire/pkg/subproto"
	"github.com/absmach/mwire/pkg/subproto/coap"
	"github.com/absmach/mwire/pkg/subproto/mqtt"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const (
	httpWithoutTLS = "MWIRE_HTTP_WITHOUT_TLS_"
	httpWithTLS    = "MWIRE_HTTP_WITH_TLS_"
	httpWithmTLS   = "MWIRE_HTTP_WITH_MTLS_"

	wsWithoutTLS = "MWIRE_WS_WITHOUT_TLS_"
	wsWithTLS    = "MWIRE_WS_WITH_TLS_"
	wsWithmTLS   = "MWIRE_WS_WITH_MTLS_"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	logger := slog.New(logHandler)

	// Create handler
	handler := simple.New(logger)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file found, using environment variables")
	}

	// Route table shared by all REST endpoints
	rt, err := newRouter()
	if err != nil {
		logger.Error(fmt.Sprintf("failed to build route table: %s", err))
		os.Exit(1)
	}

	// Subprotocol inspectors shared by all WebSocket endpoints
	registry := subproto.NewRegistry()
	registry.Register(mqtt.New())
	registry.Register(coap.New())

	// Start REST endpoints
	if err := startRESTEndpoint(g, ctx, httpWithoutTLS, rt, handler, logger); err != nil {
		logger.Warn("HTTP without TLS endpoint not started", slog.String("error", err.Error()))
	}

	if err := startRESTEndpoint(g, ctx, httpWithTLS, rt, handler, logger); err != nil {
		logger.Warn("HTTP with TLS endpoint not started", slog.String("error", err.Error()))
	}

	if err := startRESTEndpoint(g, ctx, httpWithmTLS, rt, handler, logger); err != nil {
		logger.Warn("HTTP with mTLS endpoint not started", slog.String("error", err.Error()))
	}

	// Start WebSocket endpoints
	if err := startWSEndpoint(g, ctx, wsWithoutTLS, registry, handler, logger); err != nil {
		logger.Warn("WebSocket without TLS endpoint not started", slog.String("error", err.Error()))
	}

	if err := startWSEndpoint(g, ctx, wsWithTLS, registry, handler, logger); err != nil {
		logger.Warn("WebSocket with TLS endpoint not started", slog.String("error", err.Error()))
	}

	if err := startWSEndpoint(g, ctx, wsWithmTLS, registry, handler, logger); err != nil {
		logger.Warn("WebSocket with mTLS endpoint not started", slog.String("error", err.Error()))
	}

	// Signal handler
	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("mWire service terminated with error: %s", err))
	} else {
		logger.Info("mWire service stopped")
	}
}

// newRouter builds the demo route table served by every REST endpoint.
func newRouter() (*router.Router, error) {
	rt := router.New()

	if _, err := rt.AddRoute("GET", "/api/status", func(ctx context.Context, req *mhttp.Request, params router.Params) (*mhttp.Response, error) {
		return mhttp.JSONResponse(200, []byte(`{"status":"ok"}`)), nil
	}); err != nil {
		return nil, err
	}

	if _, err := rt.AddRoute("GET", "/api/routes", func(ctx context.Context, req *mhttp.Request, params router.Params) (*mhttp.Response, error) {
		body, err := json.Marshal(rt.Routes())
		if err != nil {
			return nil, err
		}
		return mhttp.JSONResponse(200, body), nil
	}); err != nil {
		return nil, err
	}

	if _, err := rt.AddRoute("POST", "/api/echo", func(ctx context.Context, req *mhttp.Request, params router.Params) (*mhttp.Response, error) {
		resp := mhttp.NewResponse(200)
		if ct := req.Headers.Get("content-type"); ct != "" {
			resp.Headers.Set("content-type", ct)
		}
		resp.Body = req.Body
		return resp, nil
	}); err != nil {
		return nil, err
	}

	if _, err := rt.AddRoute("GET", "/api/devices/{id}", func(ctx context.Context, req *mhttp.Request, params router.Params) (*mhttp.Response, error) {
		body, err := json.Marshal(map[string]string{"id": params["id"]})
		if err != nil {
			return nil, err
		}
		return mhttp.JSONResponse(200, body), nil
	}); err != nil {
		return nil, err
	}

	return rt, nil
}

func startRESTEndpoint(g *errgroup.Group, ctx context.Context, envPrefix string, rt *router.Router, handler *simple.Handler, logger *slog.Logger) error {
	cfg, err := mwire.NewConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		return err
	}

	// Skip if port is not configured
	if cfg.Port == "" {
		return fmt.Errorf("port not configured")
	}

	restCfg := endpoint.RESTConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		TLSConfig:       cfg.TLSConfig,
		ShutdownTimeout: 30 * time.Second,
		MaxConnections:  cfg.MaxConnections,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		RateLimit:       cfg.RateLimit,
		RateBurst:       cfg.RateBurst,
		APIVersion:      cfg.APIVersion,
		Logger:          logger,
	}

	rest, err := endpoint.NewREST(restCfg, rt, handler)
	if err != nil {
		return err
	}

	g.Go(func() error {
		return rest.Listen(ctx)
	})

	logger.Info("REST endpoint started", slog.String("prefix", envPrefix))
	return nil
}

func startWSEndpoint(g *errgroup.Group, ctx context.Context, envPrefix string, registry *subproto.Registry, handler *simple.Handler, logger *slog.Logger) error {
	cfg, err := mwire.NewConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		return err
	}

	// Skip if port is not configured
	if cfg.Port == "" {
		return fmt.Errorf("port not configured")
	}

	wsCfg := endpoint.WSConfig{
		Host:            cfg.Host,
		Port:            cfg.Port,
		TLSConfig:       cfg.TLSConfig,
		ShutdownTimeout: 30 * time.Second,
		MaxConnections:  cfg.MaxConnections,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		MaxFrameSize:    cfg.MaxFrameSize,
		MaxMessageSize:  cfg.MaxMessageSize,
		EnableDeflate:   cfg.EnableDeflate,
		Echo:            cfg.Echo,
		Logger:          logger,
	}

	ws, err := endpoint.NewWS(wsCfg, registry, handler)
	if err != nil {
		return err
	}

	g.Go(func() error {
		return ws.Listen(ctx)
	})

	logger.Info("WebSocket endpoint started", slog.String("prefix", envPrefix))
	return nil
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGABRT)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}

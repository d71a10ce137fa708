// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main provides a production-ready mWire deployment example
// with metrics, health checks, circuit breakers, and rate limiting.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/absmach/mwire/examples/simple"
	"github.com/absmach/mwire/pkg/breaker"
	"github.com/absmach/mwire/pkg/endpoint"
	"github.com/absmach/mwire/pkg/health"
	mhttp "github.com/absmach/mwire/pkg/http"
	"github.com/absmach/mwire/pkg/metrics"
	"github.com/absmach/mwire/pkg/ratelimit"
	"github.com/absmach/mwire/pkg/router"
	"github.com/absmach/mwire/pkg/subproto"
	"github.com/absmach/mwire/pkg/subproto/coap"
	"github.com/absmach/mwire/pkg/subproto/mqtt"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Config holds the application configuration.
type Config struct {
	// Observability
	MetricsPort int    `env:"METRICS_PORT"  envDefault:"9090"`
	HealthPort  int    `env:"HEALTH_PORT"   envDefault:"9091"`
	LogLevel    string `env:"LOG_LEVEL"     envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT"    envDefault:"json"`

	// Resource Limits
	MaxConnections int `env:"MAX_CONNECTIONS"  envDefault:"10000"`
	MaxGoroutines  int `env:"MAX_GOROUTINES"   envDefault:"50000"`

	// Circuit Breaker
	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES"   envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT"  envDefault:"60s"`
	BreakerTimeout      time.Duration `env:"BREAKER_TIMEOUT"        envDefault:"30s"`

	// Rate Limiting
	RateLimitCapacity  int64 `env:"RATE_LIMIT_CAPACITY"   envDefault:"100"`
	RateLimitRefill    int64 `env:"RATE_LIMIT_REFILL"     envDefault:"10"`
	GlobalRateCapacity int64 `env:"GLOBAL_RATE_CAPACITY"  envDefault:"10000"`
	GlobalRateRefill   int64 `env:"GLOBAL_RATE_REFILL"    envDefault:"1000"`
	RequestRateLimit   int64 `env:"REQUEST_RATE_LIMIT"    envDefault:"50"`
	RequestRateBurst   int64 `env:"REQUEST_RATE_BURST"    envDefault:"100"`

	// Timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT"      envDefault:"60s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT"     envDefault:"60s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT"      envDefault:"300s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"  envDefault:"30s"`

	// Endpoints
	HTTPAddress string `env:"HTTP_ADDRESS"  envDefault:":8080"`
	WSAddress   string `env:"WS_ADDRESS"    envDefault:":8081"`
	APIVersion  string `env:"API_VERSION"   envDefault:"1.0"`

	// WebSocket
	WSMaxFrameSize   uint64 `env:"WS_MAX_FRAME_SIZE"    envDefault:"1048576"`
	WSMaxMessageSize uint64 `env:"WS_MAX_MESSAGE_SIZE"  envDefault:"16777216"`
	WSEnableDeflate  bool   `env:"WS_ENABLE_DEFLATE"    envDefault:"true"`
	WSEcho           bool   `env:"WS_ECHO"              envDefault:"true"`
}

func main() {
	// Load configuration
	cfg := Config{}
	if err := godotenv.Load(); err != nil {
		// .env file is optional
	}
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting mWire in production mode",
		slog.Int("max_connections", cfg.MaxConnections),
		slog.Int("max_goroutines", cfg.MaxGoroutines))

	// Create metrics
	m := metrics.New("mwire")

	// Start metrics server
	go startMetricsServer(cfg.MetricsPort, logger)

	// Create health checker
	healthChecker := health.NewChecker(10 * time.Second)

	// Add health checks
	healthChecker.Register("goroutines", func(ctx context.Context) error {
		count := runtime.NumGoroutine()
		if count > cfg.MaxGoroutines {
			return fmt.Errorf("too many goroutines: %d > %d", count, cfg.MaxGoroutines)
		}
		// Update metric
		m.GoroutinesActive.WithLabelValues("all").Set(float64(count))
		return nil
	})

	healthChecker.Register("memory", func(ctx context.Context) error {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		m.MemoryAllocated.WithLabelValues("heap").Set(float64(stats.HeapAlloc))
		m.MemoryAllocated.WithLabelValues("sys").Set(float64(stats.Sys))
		return nil
	})

	// Start health server
	go startHealthServer(cfg.HealthPort, healthChecker, logger)

	// Create rate limiters
	perClientLimiter := ratelimit.NewLimiter(cfg.RateLimitCapacity, cfg.RateLimitRefill, 10000)
	globalLimiter := ratelimit.NewTokenBucket(cfg.GlobalRateCapacity, cfg.GlobalRateRefill)

	// Create circuit breaker guarding the authorization handler
	cb := breaker.New(breaker.Config{
		Name:             "auth",
		MaxFailures:      cfg.BreakerMaxFailures,
		ResetTimeout:     cfg.BreakerResetTimeout,
		SuccessThreshold: 2,
		Timeout:          cfg.BreakerTimeout,
	})

	// Monitor circuit breaker state changes
	cb.OnStateChange(func(from, to breaker.State) {
		logger.Warn("Circuit breaker state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()))
		m.CircuitBreakerState.WithLabelValues(cb.Name()).Set(float64(to))
		if to == breaker.StateOpen {
			m.CircuitBreakerTrips.WithLabelValues(cb.Name()).Inc()
		}
	})

	// Build the handler chain: metrics around rate limiting around the
	// breaker-guarded base handler.
	baseHandler := simple.New(logger)
	breakerHandler := &BreakerHandler{
		handler: baseHandler,
		breaker: cb,
		logger:  logger,
	}
	rateLimitedHandler := &RateLimitedHandler{
		handler:          breakerHandler,
		perClientLimiter: perClientLimiter,
		globalLimiter:    globalLimiter,
		metrics:          m,
		logger:           logger,
	}
	instrumentedHandler := &InstrumentedHandler{
		handler: rateLimitedHandler,
		metrics: m,
		logger:  logger,
	}

	// Build the route table
	rt, err := newRouter()
	if err != nil {
		logger.Error("Failed to build route table", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Register subprotocol inspectors
	registry := subproto.NewRegistry()
	registry.Register(mqtt.New())
	registry.Register(coap.New())

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	// Configure REST endpoint
	httpHost, httpPort := splitAddress(cfg.HTTPAddress, "8080")
	restCfg := endpoint.RESTConfig{
		Host:            httpHost,
		Port:            httpPort,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxConnections:  cfg.MaxConnections,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		RateLimit:       cfg.RequestRateLimit,
		RateBurst:       cfg.RequestRateBurst,
		APIVersion:      cfg.APIVersion,
		Logger:          logger,
		Metrics:         m,
	}

	restEndpoint, err := endpoint.NewREST(restCfg, rt, instrumentedHandler)
	if err != nil {
		logger.Error("Failed to create REST endpoint", slog.String("error", err.Error()))
	} else {
		healthChecker.Register("http_sessions", func(ctx context.Context) error {
			count := restEndpoint.Sessions().Count()
			logger.Debug("HTTP session count", slog.Int("sessions", count))
			return nil
		})
		g.Go(func() error {
			logger.Info("Starting REST endpoint",
				slog.String("address", net.JoinHostPort(httpHost, httpPort)))
			return restEndpoint.Listen(ctx)
		})
	}

	// Configure WebSocket endpoint
	wsHost, wsPort := splitAddress(cfg.WSAddress, "8081")
	wsCfg := endpoint.WSConfig{
		Host:            wsHost,
		Port:            wsPort,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxConnections:  cfg.MaxConnections,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		MaxFrameSize:    cfg.WSMaxFrameSize,
		MaxMessageSize:  cfg.WSMaxMessageSize,
		EnableDeflate:   cfg.WSEnableDeflate,
		Echo:            cfg.WSEcho,
		Logger:          logger,
		Metrics:         m,
	}

	wsEndpoint, err := endpoint.NewWS(wsCfg, registry, instrumentedHandler)
	if err != nil {
		logger.Error("Failed to create WebSocket endpoint", slog.String("error", err.Error()))
	} else {
		healthChecker.Register("ws_sessions", func(ctx context.Context) error {
			count := wsEndpoint.Sessions().Count()
			logger.Debug("WebSocket session count", slog.Int("sessions", count))
			return nil
		})
		g.Go(func() error {
			logger.Info("Starting WebSocket endpoint",
				slog.String("address", net.JoinHostPort(wsHost, wsPort)))
			return wsEndpoint.Listen(ctx)
		})
	}

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	// Wait for shutdown signal
	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	// Cancel context to stop all servers
	cancel()

	// Wait for all goroutines with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan error)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Shutdown error", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Graceful shutdown completed")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded, forcing exit")
		os.Exit(1)
	}
}

// newRouter builds the route table served by the REST endpoint.
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

	return rt, nil
}

// splitAddress splits addr into host and port, tolerating bare ":port"
// values and falling back to defaultPort.
func splitAddress(addr, defaultPort string) (string, string) {
	if addr == "" {
		return "", defaultPort
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		return host, port
	}
	if addr[0] == ':' {
		return "", addr[1:]
	}
	return addr, defaultPort
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// startMetricsServer starts the Prometheus metrics HTTP server.
func startMetricsServer(port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting metrics server", slog.String("address", addr))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics server error", slog.String("error", err.Error()))
	}
}

// startHealthServer starts the health check HTTP server.
func startHealthServer(port int, checker *health.Checker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting health server", slog.String("address", addr))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Health server error", slog.String("error", err.Error()))
	}
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/absmach/mwire/pkg/breaker"
	"github.com/absmach/mwire/pkg/handler"
	"github.com/absmach/mwire/pkg/metrics"
	"github.com/absmach/mwire/pkg/ratelimit"
)

// RateLimitedHandler wraps a handler with connection rate limiting. Request
// rate limiting happens inside the REST parser, so only AuthConnect is
// checked here.
type RateLimitedHandler struct {
	handler          handler.Handler
	perClientLimiter *ratelimit.Limiter
	globalLimiter    *ratelimit.TokenBucket
	metrics          *metrics.Metrics
	logger           *slog.Logger
}

// AuthConnect implements handler.Handler with rate limiting.
func (h *RateLimitedHandler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
	// Check global rate limit
	if !h.globalLimiter.Allow() {
		h.metrics.RateLimitedRequests.WithLabelValues(hctx.Protocol, "global").Inc()
		h.logger.Warn("Global rate limit exceeded",
			slog.String("remote", hctx.RemoteAddr),
			slog.String("protocol", hctx.Protocol))
		return ratelimit.ErrRateLimitExceeded
	}

	// Check per-client rate limit
	clientID := hctx.RemoteAddr
	if hctx.ClientID != "" {
		clientID = hctx.ClientID
	}

	if !h.perClientLimiter.Allow(clientID) {
		h.metrics.RateLimitedRequests.WithLabelValues(hctx.Protocol, "per_client").Inc()
		h.logger.Warn("Per-client rate limit exceeded",
			slog.String("client", clientID),
			slog.String("protocol", hctx.Protocol))
		return ratelimit.ErrRateLimitExceeded
	}

	return h.handler.AuthConnect(ctx, hctx)
}

// AuthUpgrade implements handler.Handler.
func (h *RateLimitedHandler) AuthUpgrade(ctx context.Context, hctx *handler.Context, path string, subprotocols *[]string) error {
	return h.handler.AuthUpgrade(ctx, hctx, path, subprotocols)
}

// AuthRequest implements handler.Handler.
func (h *RateLimitedHandler) AuthRequest(ctx context.Context, hctx *handler.Context, method string, path *string, body *[]byte) error {
	return h.handler.AuthRequest(ctx, hctx, method, path, body)
}

// AuthPublish implements handler.Handler.
func (h *RateLimitedHandler) AuthPublish(ctx context.Context, hctx *handler.Context, topic *string, payload *[]byte) error {
	// Could add payload size rate limiting here
	return h.handler.AuthPublish(ctx, hctx, topic, payload)
}

// AuthSubscribe implements handler.Handler.
func (h *RateLimitedHandler) AuthSubscribe(ctx context.Context, hctx *handler.Context, topics *[]string) error {
	return h.handler.AuthSubscribe(ctx, hctx, topics)
}

// OnConnect implements handler.Handler.
func (h *RateLimitedHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	return h.handler.OnConnect(ctx, hctx)
}

// OnMessage implements handler.Handler.
func (h *RateLimitedHandler) OnMessage(ctx context.Context, hctx *handler.Context, binary bool, payload []byte) error {
	return h.handler.OnMessage(ctx, hctx, binary, payload)
}

// OnRequest implements handler.Handler.
func (h *RateLimitedHandler) OnRequest(ctx context.Context, hctx *handler.Context, method, path string, status int) error {
	return h.handler.OnRequest(ctx, hctx, method, path, status)
}

// OnDisconnect implements handler.Handler.
func (h *RateLimitedHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	return h.handler.OnDisconnect(ctx, hctx)
}

// BreakerHandler routes authorization callbacks through a circuit breaker.
// When the wrapped handler's auth backend keeps failing, the breaker opens
// and connections are rejected immediately instead of piling up.
type BreakerHandler struct {
	handler handler.Handler
	breaker *breaker.CircuitBreaker
	logger  *slog.Logger
}

func (h *BreakerHandler) guard(ctx context.Context, hctx *handler.Context, fn func(context.Context) error) error {
	err := h.breaker.CallContext(ctx, fn)
	if errors.Is(err, breaker.ErrCircuitOpen) {
		h.logger.Warn("Rejected by open circuit breaker",
			slog.String("breaker", h.breaker.Name()),
			slog.String("remote", hctx.RemoteAddr),
			slog.String("protocol", hctx.Protocol))
	}
	return err
}

// AuthConnect implements handler.Handler through the circuit breaker.
func (h *BreakerHandler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
	return h.guard(ctx, hctx, func(ctx context.Context) error {
		return h.handler.AuthConnect(ctx, hctx)
	})
}

// AuthUpgrade implements handler.Handler through the circuit breaker.
func (h *BreakerHandler) AuthUpgrade(ctx context.Context, hctx *handler.Context, path string, subprotocols *[]string) error {
	return h.guard(ctx, hctx, func(ctx context.Context) error {
		return h.handler.AuthUpgrade(ctx, hctx, path, subprotocols)
	})
}

// AuthRequest implements handler.Handler through the circuit breaker.
func (h *BreakerHandler) AuthRequest(ctx context.Context, hctx *handler.Context, method string, path *string, body *[]byte) error {
	return h.guard(ctx, hctx, func(ctx context.Context) error {
		return h.handler.AuthRequest(ctx, hctx, method, path, body)
	})
}

// AuthPublish implements handler.Handler through the circuit breaker.
func (h *BreakerHandler) AuthPublish(ctx context.Context, hctx *handler.Context, topic *string, payload *[]byte) error {
	return h.guard(ctx, hctx, func(ctx context.Context) error {
		return h.handler.AuthPublish(ctx, hctx, topic, payload)
	})
}

// AuthSubscribe implements handler.Handler through the circuit breaker.
func (h *BreakerHandler) AuthSubscribe(ctx context.Context, hctx *handler.Context, topics *[]string) error {
	return h.guard(ctx, hctx, func(ctx context.Context) error {
		return h.handler.AuthSubscribe(ctx, hctx, topics)
	})
}

// OnConnect implements handler.Handler.
func (h *BreakerHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	return h.handler.OnConnect(ctx, hctx)
}

// OnMessage implements handler.Handler.
func (h *BreakerHandler) OnMessage(ctx context.Context, hctx *handler.Context, binary bool, payload []byte) error {
	return h.handler.OnMessage(ctx, hctx, binary, payload)
}

// OnRequest implements handler.Handler.
func (h *BreakerHandler) OnRequest(ctx context.Context, hctx *handler.Context, method, path string, status int) error {
	return h.handler.OnRequest(ctx, hctx, method, path, status)
}

// OnDisconnect implements handler.Handler.
func (h *BreakerHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	return h.handler.OnDisconnect(ctx, hctx)
}

// InstrumentedHandler wraps a handler with metrics instrumentation for the
// connection lifecycle. Request, upgrade, and message metrics are recorded
// by the parsers.
type InstrumentedHandler struct {
	handler handler.Handler
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// AuthConnect implements handler.Handler with metrics.
func (h *InstrumentedHandler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
	start := time.Now()
	h.metrics.AuthAttempts.WithLabelValues(hctx.Protocol, "connect").Inc()

	err := h.handler.AuthConnect(ctx, hctx)

	if err != nil {
		h.metrics.AuthFailures.WithLabelValues(hctx.Protocol, "connect", "unauthorized").Inc()
	}

	duration := time.Since(start).Seconds()
	h.metrics.RequestDuration.WithLabelValues(hctx.Protocol, "connect").Observe(duration)

	return err
}

// AuthUpgrade implements handler.Handler. Upgrade attempts are counted by
// the websocket parser.
func (h *InstrumentedHandler) AuthUpgrade(ctx context.Context, hctx *handler.Context, path string, subprotocols *[]string) error {
	return h.handler.AuthUpgrade(ctx, hctx, path, subprotocols)
}

// AuthRequest implements handler.Handler. Request attempts are counted by
// the REST parser.
func (h *InstrumentedHandler) AuthRequest(ctx context.Context, hctx *handler.Context, method string, path *string, body *[]byte) error {
	return h.handler.AuthRequest(ctx, hctx, method, path, body)
}

// AuthPublish implements handler.Handler with metrics.
func (h *InstrumentedHandler) AuthPublish(ctx context.Context, hctx *handler.Context, topic *string, payload *[]byte) error {
	start := time.Now()
	h.metrics.AuthAttempts.WithLabelValues(hctx.Protocol, "publish").Inc()

	if payload != nil {
		h.metrics.RequestSize.WithLabelValues(hctx.Protocol).Observe(float64(len(*payload)))
	}

	err := h.handler.AuthPublish(ctx, hctx, topic, payload)

	if err != nil {
		h.metrics.AuthFailures.WithLabelValues(hctx.Protocol, "publish", "unauthorized").Inc()
	}

	duration := time.Since(start).Seconds()
	h.metrics.RequestDuration.WithLabelValues(hctx.Protocol, "publish").Observe(duration)

	status := "success"
	if err != nil {
		status = "error"
	}
	h.metrics.RequestsTotal.WithLabelValues(hctx.Protocol, "publish", status).Inc()

	return err
}

// AuthSubscribe implements handler.Handler with metrics.
func (h *InstrumentedHandler) AuthSubscribe(ctx context.Context, hctx *handler.Context, topics *[]string) error {
	start := time.Now()
	h.metrics.AuthAttempts.WithLabelValues(hctx.Protocol, "subscribe").Inc()

	err := h.handler.AuthSubscribe(ctx, hctx, topics)

	if err != nil {
		h.metrics.AuthFailures.WithLabelValues(hctx.Protocol, "subscribe", "unauthorized").Inc()
	}

	duration := time.Since(start).Seconds()
	h.metrics.RequestDuration.WithLabelValues(hctx.Protocol, "subscribe").Observe(duration)

	status := "success"
	if err != nil {
		status = "error"
	}
	h.metrics.RequestsTotal.WithLabelValues(hctx.Protocol, "subscribe", status).Inc()

	return err
}

// OnConnect implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	h.metrics.ActiveConnections.WithLabelValues(hctx.Protocol, "client").Inc()
	h.metrics.TotalConnections.WithLabelValues(hctx.Protocol, "client", "accepted").Inc()

	return h.handler.OnConnect(ctx, hctx)
}

// OnMessage implements handler.Handler. Message counts are recorded by the
// websocket parser.
func (h *InstrumentedHandler) OnMessage(ctx context.Context, hctx *handler.Context, binary bool, payload []byte) error {
	return h.handler.OnMessage(ctx, hctx, binary, payload)
}

// OnRequest implements handler.Handler. Request counts are recorded by the
// REST parser.
func (h *InstrumentedHandler) OnRequest(ctx context.Context, hctx *handler.Context, method, path string, status int) error {
	return h.handler.OnRequest(ctx, hctx, method, path, status)
}

// OnDisconnect implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	h.metrics.ActiveConnections.WithLabelValues(hctx.Protocol, "client").Dec()

	return h.handler.OnDisconnect(ctx, hctx)
}

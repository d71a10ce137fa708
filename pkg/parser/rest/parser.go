// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/absmach/mwire/pkg/errors"
	"github.com/absmach/mwire/pkg/handler"
	mhttp "github.com/absmach/mwire/pkg/http"
	"github.com/absmach/mwire/pkg/metrics"
	"github.com/absmach/mwire/pkg/parser"
	"github.com/absmach/mwire/pkg/pool"
	"github.com/absmach/mwire/pkg/ratelimit"
	"github.com/absmach/mwire/pkg/router"
	"github.com/absmach/mwire/pkg/session"
	"github.com/google/uuid"
)

// DefaultAPIVersion is reported in the X-API-Version response header.
const DefaultAPIVersion = "1.0"

// Config holds REST parser configuration.
type Config struct {
	// Router maps request paths to handlers. A nil router rejects every
	// request with 404.
	Router *router.Router

	// Sessions tracks per-connection request accumulators.
	Sessions *session.Store

	// Limiter applies per-client rate limits. Nil disables limiting.
	Limiter *ratelimit.Limiter

	// Metrics records request metrics. Nil disables instrumentation.
	Metrics *metrics.Metrics

	// Buffers supplies read buffers for the connection loop.
	Buffers *pool.BufferPool

	// APIVersion is reported in the X-API-Version header.
	APIVersion string

	// Logger for request-level events.
	Logger *slog.Logger
}

// Parser terminates HTTP connections: it accumulates requests, authorizes
// them, routes them, and writes the generated responses back to the client.
type Parser struct {
	config Config
}

var _ parser.Parser = (*Parser)(nil)

// New creates a REST parser with the given configuration.
func New(cfg Config) *Parser {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Router == nil {
		cfg.Router = router.New()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewStore(cfg.Logger, 0)
	}
	if cfg.Buffers == nil {
		cfg.Buffers = pool.New(0)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	return &Parser{config: cfg}
}

// Parse reads available bytes from r and serves every complete request they
// finish. Pipelined requests arriving in one read are served in order.
func (p *Parser) Parse(ctx context.Context, r io.Reader, w io.Writer, dir parser.Direction, h handler.Handler, hctx *handler.Context) error {
	sess, _, err := p.config.Sessions.GetOrCreate(hctx.SessionID, hctx.RemoteAddr)
	if err != nil {
		return err
	}

	hctx.Protocol = "http"

	buf := p.config.Buffers.Get()
	defer p.config.Buffers.Put(buf)

	n, rerr := r.Read(*buf)
	if n == 0 && rerr != nil {
		return rerr
	}
	sess.UpdateActivity()

	data := (*buf)[:n]
	for {
		req, err := sess.HTTP.Feed(data)
		if err != nil {
			return p.rejectMalformed(w, h, hctx, err)
		}
		if req == nil {
			break
		}
		if err := p.serveRequest(ctx, w, req, h, hctx); err != nil {
			return err
		}
		// Drain any pipelined requests already buffered.
		data = nil
	}

	return rerr
}

// rejectMalformed answers an unparseable request with 400 and closes the
// connection. Parse errors are terminal for the accumulator.
func (p *Parser) rejectMalformed(w io.Writer, h handler.Handler, hctx *handler.Context, err error) error {
	p.config.Logger.Debug("malformed request",
		slog.String("remote", hctx.RemoteAddr),
		slog.String("error", err.Error()))
	if p.config.Metrics != nil {
		p.config.Metrics.ConnectionErrors.WithLabelValues("http", "endpoint", "parse_error").Inc()
	}

	resp := mhttp.ErrorResponse(400, "malformed request")
	resp.Headers.Set("connection", "close")
	if _, werr := w.Write(resp.Bytes()); werr != nil {
		return errors.New("write", "http", hctx.SessionID, hctx.RemoteAddr, werr)
	}
	return errors.New("parse", "http", hctx.SessionID, hctx.RemoteAddr, err)
}

func (p *Parser) serveRequest(ctx context.Context, w io.Writer, req *mhttp.Request, h handler.Handler, hctx *handler.Context) error {
	start := time.Now()
	method := string(req.Method)

	if p.config.Limiter != nil && !p.config.Limiter.Allow(limiterKey(hctx)) {
		if p.config.Metrics != nil {
			p.config.Metrics.RateLimitedRequests.WithLabelValues("http", "client").Inc()
		}
		p.config.Logger.Debug("request rate limited",
			slog.String("client", limiterKey(hctx)),
			slog.String("path", req.Path))

		resp := mhttp.ErrorResponse(429, "rate limit exceeded")
		resp.Headers.Set("retry-after", "1")
		resp.Headers.Set("x-ratelimit-remaining", "0")
		resp.Headers.Set("x-ratelimit-reset", "1")
		return p.writeResponse(ctx, w, req, resp, "", h, hctx, start)
	}

	if username, password := extractAuth(req); username != "" || password != "" {
		hctx.Username = username
		hctx.Password = []byte(password)
	}

	if p.config.Metrics != nil {
		p.config.Metrics.AuthAttempts.WithLabelValues("http", "request").Inc()
	}

	path := req.Path
	body := req.Body
	if err := h.AuthRequest(ctx, hctx, method, &path, &body); err != nil {
		if p.config.Metrics != nil {
			p.config.Metrics.AuthFailures.WithLabelValues("http", "request", "denied").Inc()
		}
		p.config.Logger.Debug("request authorization failed",
			slog.String("remote", hctx.RemoteAddr),
			slog.String("method", method),
			slog.String("path", req.Path),
			slog.String("error", err.Error()))
		return p.writeResponse(ctx, w, req, mhttp.ErrorResponse(403, "forbidden"), "", h, hctx, start)
	}
	req.Path = path
	req.Body = body

	match, ok := p.config.Router.Find(method, req.Path)
	if !ok {
		return p.writeResponse(ctx, w, req, mhttp.ErrorResponse(404, "not found"), "", h, hctx, start)
	}

	if p.config.Metrics != nil {
		p.config.Metrics.RouteMatches.WithLabelValues(method, match.Route.Pattern).Inc()
	}

	resp, err := match.Route.Handler(ctx, req, match.Params)
	if err != nil {
		p.config.Logger.Error("route handler error",
			slog.String("method", method),
			slog.String("pattern", match.Route.Pattern),
			slog.String("error", err.Error()))
		resp = mhttp.ErrorResponse(500, "internal server error")
	} else if resp == nil {
		resp = mhttp.NewResponse(204)
	}

	return p.writeResponse(ctx, w, req, resp, match.Route.Pattern, h, hctx, start)
}

// writeResponse decorates the response with engine headers, writes it, and
// records metrics and notifications. It returns io.EOF when the response
// closes the connection.
func (p *Parser) writeResponse(ctx context.Context, w io.Writer, req *mhttp.Request, resp *mhttp.Response, pattern string, h handler.Handler, hctx *handler.Context, start time.Time) error {
	method := string(req.Method)

	resp.Headers.Set("x-api-version", p.config.APIVersion)
	resp.Headers.Set("x-request-id", uuid.NewString())
	if p.config.Limiter != nil && !resp.Headers.Has("x-ratelimit-remaining") {
		remaining := p.config.Limiter.Available(limiterKey(hctx))
		resp.Headers.Set("x-ratelimit-remaining", strconv.FormatInt(remaining, 10))
		resp.Headers.Set("x-ratelimit-reset", "1")
	}
	if req.KeepAlive {
		resp.Headers.Set("connection", "keep-alive")
	} else {
		resp.Headers.Set("connection", "close")
	}

	payload := resp.Bytes()
	if _, err := w.Write(payload); err != nil {
		return errors.New("write", "http", hctx.SessionID, hctx.RemoteAddr, err)
	}

	if pattern == "" {
		pattern = "unmatched"
	}
	if p.config.Metrics != nil {
		status := strconv.Itoa(resp.Status)
		p.config.Metrics.HTTPRequests.WithLabelValues(method, pattern, status).Inc()
		p.config.Metrics.RequestsTotal.WithLabelValues("http", method, status).Inc()
		p.config.Metrics.RequestDuration.WithLabelValues("http", method).Observe(time.Since(start).Seconds())
		p.config.Metrics.RequestSize.WithLabelValues("http").Observe(float64(len(req.Body)))
		p.config.Metrics.ResponseSize.WithLabelValues("http").Observe(float64(len(payload)))
	}

	if err := h.OnRequest(ctx, hctx, method, req.Path, resp.Status); err != nil {
		p.config.Logger.Error("request notification error",
			slog.String("error", err.Error()))
	}

	if !req.KeepAlive {
		return io.EOF
	}
	return nil
}

// limiterKey identifies the client for rate limiting purposes.
func limiterKey(hctx *handler.Context) string {
	if hctx.ClientID != "" {
		return hctx.ClientID
	}
	return hctx.RemoteAddr
}

// extractAuth pulls credentials from the request. It tries multiple sources
// in order:
// 1. Basic Authentication header
// 2. "authorization" query parameter
// 3. Authorization header (Bearer token, etc.)
func extractAuth(req *mhttp.Request) (username, password string) {
	auth := req.Headers.Get("authorization")

	if strings.HasPrefix(auth, "Basic ") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
		if err == nil {
			if user, pass, ok := strings.Cut(string(decoded), ":"); ok {
				return user, pass
			}
		}
	}

	if q := queryValue(req.RawQuery, "authorization"); q != "" {
		return "", q
	}

	if auth != "" {
		return "", auth
	}

	return "", ""
}

// queryValue returns the first value for key in a raw query string.
func queryValue(rawQuery, key string) string {
	for _, pair := range strings.Split(rawQuery, "&") {
		k, v, _ := strings.Cut(pair, "=")
		if k == key {
			return mhttp.PercentDecode(v)
		}
	}
	return ""
}

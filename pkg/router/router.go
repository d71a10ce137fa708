// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	mhttp "github.com/absmach/mwire/pkg/http"
)

var (
	// ErrInvalidPattern indicates a route pattern that fails validation.
	ErrInvalidPattern = errors.New("router: invalid route pattern")

	// ErrPatternCompile indicates a pattern that survived validation but
	// produced an uncompilable expression.
	ErrPatternCompile = errors.New("router: pattern compilation failed")

	// ErrInvalidMethod indicates a method outside the REST verb set.
	ErrInvalidMethod = errors.New("router: invalid route method")

	// ErrNilHandler indicates a route registered without a handler.
	ErrNilHandler = errors.New("router: nil handler")

	// ErrUnknownMiddleware indicates a middleware name with no registration.
	ErrUnknownMiddleware = errors.New("router: unknown middleware")
)

// restMethods is the verb set routes may register under.
var restMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"DELETE":  true,
	"PATCH":   true,
	"HEAD":    true,
	"OPTIONS": true,
}

// Params holds the path parameters captured for a matched route.
type Params map[string]string

// HandlerFunc processes a matched request and produces a response.
type HandlerFunc func(ctx context.Context, req *mhttp.Request, params Params) (*mhttp.Response, error)

// Middleware wraps a handler with additional behavior.
type Middleware func(HandlerFunc) HandlerFunc

// Route is a registered pattern. Fields are read-only once the route is
// stored; hit counting uses atomics so matching can run under a read lock.
type Route struct {
	ID         uint64
	Method     string
	Pattern    string
	ParamNames []string
	Handler    HandlerFunc

	matcher *regexp.Regexp
	hits    atomic.Uint64
}

// Match is the result of a successful route lookup.
type Match struct {
	Route  *Route
	Params Params
}

// RouteInfo is a read-only snapshot of a registered route.
type RouteInfo struct {
	ID         uint64
	Method     string
	Pattern    string
	ParamNames []string
	Hits       uint64
}

// Router maps method and path pairs to handlers. Routes are matched in
// insertion order and the first match wins, so more specific patterns
// must be registered before catch-alls.
//
// All methods are safe for concurrent use.
type Router struct {
	mu         sync.RWMutex
	routes     []*Route
	nextID     uint64
	middleware map[string]Middleware
}

// New returns an empty router. Route IDs start at one and are never
// reused, even after Clear.
func New() *Router {
	return &Router{
		nextID:     1,
		middleware: make(map[string]Middleware),
	}
}

// AddRoute registers a handler for a method and pattern and returns the
// route ID. The pattern is normalized before storage. Registration is
// atomic: on error the router is unchanged.
func (r *Router) AddRoute(method, pattern string, h HandlerFunc) (uint64, error) {
	if !restMethods[method] {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	if h == nil {
		return 0, fmt.Errorf("%w: %s %s", ErrNilHandler, method, pattern)
	}

	normalized := NormalizePattern(pattern)
	matcher, params, err := compilePattern(normalized)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	route := &Route{
		ID:         r.nextID,
		Method:     method,
		Pattern:    normalized,
		ParamNames: params,
		Handler:    h,
		matcher:    matcher,
	}
	r.nextID++
	r.routes = append(r.routes, route)
	return route.ID, nil
}

// Find returns the first route whose method and pattern match, along with
// the captured path parameters.
func (r *Router) Find(method, path string) (*Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, route := range r.routes {
		if route.Method != method {
			continue
		}
		groups := route.matcher.FindStringSubmatch(path)
		if groups == nil {
			continue
		}
		route.hits.Add(1)

		params := make(Params, len(route.ParamNames))
		for i, name := range route.ParamNames {
			params[name] = groups[i+1]
		}
		return &Match{Route: route, Params: params}, true
	}
	return nil, false
}

// RemoveRoute deletes the route with the given ID. It reports whether a
// route was removed.
func (r *Router) RemoveRoute(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, route := range r.routes {
		if route.ID == id {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveRouteByPattern deletes the first route registered for the method
// and pattern. The pattern is normalized before comparison.
func (r *Router) RemoveRouteByPattern(method, pattern string) bool {
	normalized := NormalizePattern(pattern)

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, route := range r.routes {
		if route.Method == method && route.Pattern == normalized {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes all routes. The ID counter is not reset, so IDs from
// before the clear stay retired.
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = nil
}

// Len returns the number of registered routes.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Routes returns a snapshot of all routes in registration order.
func (r *Router) Routes() []RouteInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RouteInfo, 0, len(r.routes))
	for _, route := range r.routes {
		out = append(out, RouteInfo{
			ID:         route.ID,
			Method:     route.Method,
			Pattern:    route.Pattern,
			ParamNames: route.ParamNames,
			Hits:       route.hits.Load(),
		})
	}
	return out
}

// Use registers a named middleware for later composition with Apply.
func (r *Router) Use(name string, mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware[name] = mw
}

// Apply wraps h with the named middleware, outermost first, so the first
// name runs first on the way in.
func (r *Router) Apply(h HandlerFunc, names ...string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(names) - 1; i >= 0; i-- {
		mw, ok := r.middleware[names[i]]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMiddleware, names[i])
		}
		h = mw(h)
	}
	return h, nil
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package router maps REST method and path pairs to handlers using
// ordered pattern matching.
//
// Patterns are plain paths with optional parameter segments:
//
//	r := router.New()
//	r.AddRoute("GET", "/users/{id}", getUser)
//	r.AddRoute("GET", "/users/{id:int}/posts/{post}", getPost)
//	r.AddRoute("GET", "/static/*", serveStatic)
//
//	if m, ok := r.Find("GET", "/users/42"); ok {
//		m.Route.Handler(ctx, req, m.Params) // m.Params["id"] == "42"
//	}
//
// Parameters capture one path segment; the int, uuid and alpha type
// constraints narrow what a segment accepts, {name?} makes the segment
// optional and * matches across slashes. Patterns are normalized before
// storage (one trailing slash stripped) and matching tolerates a trailing
// slash on the path.
//
// Matching walks routes in registration order and the first hit wins.
// Register literal routes before parameter routes that would shadow them.
// Route IDs grow monotonically and are never reused, so a stale ID can
// never remove a route it did not create.
package router

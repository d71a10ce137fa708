// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ServerName is the Server header value stamped on generated responses.
const ServerName = "mwire/1.0"

// httpTimeFormat is the RFC 1123 date layout with an explicit GMT zone.
const httpTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Response is an HTTP/1.1 response under construction.
type Response struct {
	Status  int
	Headers Headers
	Body    []byte
}

// NewResponse returns an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{
		Status:  status,
		Headers: make(Headers),
	}
}

// TextResponse returns a plain text response.
func TextResponse(status int, body string) *Response {
	r := NewResponse(status)
	r.Headers.Set("Content-Type", "text/plain; charset=utf-8")
	r.Body = []byte(body)
	return r
}

// JSONResponse returns a response carrying a JSON body.
func JSONResponse(status int, body []byte) *Response {
	r := NewResponse(status)
	r.Headers.Set("Content-Type", "application/json")
	r.Body = body
	return r
}

// ErrorResponse returns an HTML error page for the given status.
func ErrorResponse(status int, message string) *Response {
	r := NewResponse(status)
	r.Headers.Set("Content-Type", "text/html; charset=utf-8")
	r.Body = []byte(fmt.Sprintf(
		"<html><head><title>%d %s</title></head><body><h1>%d %s</h1><p>%s</p></body></html>",
		status, StatusText(status), status, StatusText(status), message,
	))
	return r
}

// RedirectResponse returns a redirect to location.
func RedirectResponse(status int, location string) *Response {
	r := NewResponse(status)
	r.Headers.Set("Location", location)
	return r
}

// Bytes serializes the response. Content-Length, Date and Server headers
// are filled in unless already set, and headers are emitted in sorted
// order so output is deterministic.
func (r *Response) Bytes() []byte {
	// 1xx and 204 responses carry no body and must not advertise one.
	if !r.Headers.Has("Content-Length") && r.Status >= 200 && r.Status != 204 {
		r.Headers.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	if !r.Headers.Has("Date") {
		r.Headers.Set("Date", time.Now().UTC().Format(httpTimeFormat))
	}
	if !r.Headers.Has("Server") {
		r.Headers.Set("Server", ServerName)
	}

	names := make([]string, 0, len(r.Headers))
	for name := range r.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.1 %d %s\r\n", r.Status, StatusText(r.Status))
	for _, name := range names {
		fmt.Fprintf(&sb, "%s: %s\r\n", canonicalHeaderName(name), r.Headers[name])
	}
	sb.WriteString("\r\n")

	out := make([]byte, 0, sb.Len()+len(r.Body))
	out = append(out, sb.String()...)
	out = append(out, r.Body...)
	return out
}

// canonicalHeaderName restores Header-Case from the lowercased storage
// form by capitalizing the first letter of every dash-separated part.
func canonicalHeaderName(name string) string {
	parts := strings.Split(name, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}

// StatusText returns the reason phrase for a status code.
func StatusText(status int) string {
	switch status {
	case 100:
		return "Continue"
	case 101:
		return "Switching Protocols"
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 409:
		return "Conflict"
	case 413:
		return "Payload Too Large"
	case 414:
		return "URI Too Long"
	case 415:
		return "Unsupported Media Type"
	case 426:
		return "Upgrade Required"
	case 429:
		return "Too Many Requests"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Parsing limits. Requests exceeding any of them are rejected outright.
const (
	MaxHeaderSize        = 8192
	MaxBodySize          = 1 << 20
	MaxHeaderCount       = 100
	MaxHeaderNameLength  = 100
	MaxHeaderValueLength = 4096
	MaxURILength         = 4096
)

// Request parsing errors.
var (
	ErrInvalidRequestLine    = errors.New("http: invalid request line")
	ErrInvalidMethod         = errors.New("http: invalid method")
	ErrInvalidVersion        = errors.New("http: invalid version")
	ErrInvalidHeader         = errors.New("http: invalid header")
	ErrHeaderTooLarge        = errors.New("http: header block exceeds size limit")
	ErrTooManyHeaders        = errors.New("http: too many headers")
	ErrURITooLong            = errors.New("http: uri exceeds size limit")
	ErrBodyTooLarge          = errors.New("http: body exceeds size limit")
	ErrContentLengthMismatch = errors.New("http: content-length does not match body")
	ErrIncompleteHeaders     = errors.New("http: header block not terminated")
)

// Method is an HTTP request method. Methods are case sensitive; lowercase
// variants are rejected.
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
	MethodPatch   Method = "PATCH"
	MethodTrace   Method = "TRACE"
	MethodConnect Method = "CONNECT"
)

// IsValid reports whether m is one of the nine recognized methods.
func (m Method) IsValid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodHead,
		MethodOptions, MethodPatch, MethodTrace, MethodConnect:
		return true
	default:
		return false
	}
}

// Version is the HTTP protocol version of a request.
type Version int

const (
	VersionUnknown Version = iota
	Version10
	Version11
	Version20
)

// String returns the version in request line form.
func (v Version) String() string {
	switch v {
	case Version10:
		return "HTTP/1.0"
	case Version11:
		return "HTTP/1.1"
	case Version20:
		return "HTTP/2.0"
	default:
		return "HTTP/unknown"
	}
}

func parseVersion(s string) Version {
	switch s {
	case "HTTP/1.0":
		return Version10
	case "HTTP/1.1":
		return Version11
	case "HTTP/2.0":
		return Version20
	default:
		return VersionUnknown
	}
}

// Headers is a set of request or response headers. Names are stored
// lowercased, so lookups are case insensitive. Repeated headers keep the
// last value.
type Headers map[string]string

// Get returns the value for name, or an empty string when absent.
func (h Headers) Get(name string) string {
	return h[strings.ToLower(name)]
}

// Set stores value under the lowercased name.
func (h Headers) Set(name, value string) {
	h[strings.ToLower(name)] = value
}

// Has reports whether name is present.
func (h Headers) Has(name string) bool {
	_, ok := h[strings.ToLower(name)]
	return ok
}

// Request is a parsed HTTP/1.x request.
type Request struct {
	Method   Method
	URI      string
	Path     string
	RawQuery string
	Version  Version
	Headers  Headers
	Body     []byte

	// ContentLength is the declared Content-Length, or -1 when the header
	// is absent.
	ContentLength int

	// KeepAlive reports whether the connection should stay open after the
	// response, combining the Connection header with the version default.
	KeepAlive bool
}

// ParseRequest parses one complete request from data. The buffer must hold
// the full head and, when Content-Length is present, exactly that many body
// bytes. Incremental delivery is handled by Connection.
func ParseRequest(data []byte) (*Request, error) {
	head, bodyStart, err := splitHead(data)
	if err != nil {
		return nil, err
	}
	if bodyStart > MaxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, bodyStart)
	}
	if len(head) == 0 {
		return nil, ErrInvalidRequestLine
	}
	if len(head)-1 > MaxHeaderCount {
		return nil, fmt.Errorf("%w: %d", ErrTooManyHeaders, len(head)-1)
	}

	req := &Request{
		Headers:       make(Headers),
		ContentLength: -1,
	}
	if err := parseRequestLine(head[0], req); err != nil {
		return nil, err
	}
	for _, line := range head[1:] {
		name, value, err := parseHeaderLine(line)
		if err != nil {
			return nil, err
		}
		req.Headers.Set(name, value)
	}

	req.Body = append([]byte(nil), data[bodyStart:]...)
	if cl, ok := req.Headers["content-length"]; ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: content-length %q", ErrInvalidHeader, cl)
		}
		if n > MaxBodySize {
			return nil, fmt.Errorf("%w: declared %d bytes", ErrBodyTooLarge, n)
		}
		if n != len(req.Body) {
			return nil, fmt.Errorf("%w: declared %d, got %d", ErrContentLengthMismatch, n, len(req.Body))
		}
		req.ContentLength = n
	} else if len(req.Body) > MaxBodySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(req.Body))
	}

	req.KeepAlive = keepAlive(req.Headers, req.Version)
	return req, nil
}

// splitHead cuts data at the blank line ending the header block. It
// returns the head lines with line endings stripped and the body offset.
// Both CRLF and bare LF line endings are accepted.
func splitHead(data []byte) ([]string, int, error) {
	var head []string
	start := 0
	for start < len(data) {
		nl := bytes.IndexByte(data[start:], '\n')
		if nl < 0 {
			break
		}
		line := data[start : start+nl]
		start += nl + 1
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) == 0 {
			return head, start, nil
		}
		head = append(head, string(line))
	}
	return nil, 0, ErrIncompleteHeaders
}

func parseRequestLine(line string, req *Request) error {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return fmt.Errorf("%w: %q", ErrInvalidRequestLine, line)
	}

	method := Method(fields[0])
	if !method.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, fields[0])
	}
	req.Method = method

	uri := fields[1]
	if len(uri) > MaxURILength {
		return fmt.Errorf("%w: %d bytes", ErrURITooLong, len(uri))
	}
	req.URI = uri
	if qi := strings.IndexByte(uri, '?'); qi >= 0 {
		req.Path = PercentDecode(uri[:qi])
		req.RawQuery = uri[qi+1:]
	} else {
		req.Path = PercentDecode(uri)
	}

	req.Version = parseVersion(fields[2])
	if req.Version == VersionUnknown {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, fields[2])
	}
	return nil
}

func parseHeaderLine(line string) (string, string, error) {
	ci := strings.IndexByte(line, ':')
	if ci < 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidHeader, line)
	}
	name := strings.TrimSpace(line[:ci])
	value := strings.TrimSpace(line[ci+1:])

	if len(name) == 0 || len(name) > MaxHeaderNameLength {
		return "", "", fmt.Errorf("%w: name length %d", ErrInvalidHeader, len(name))
	}
	for i := 0; i < len(name); i++ {
		if !isHeaderNameByte(name[i]) {
			return "", "", fmt.Errorf("%w: name %q", ErrInvalidHeader, name)
		}
	}
	if len(value) > MaxHeaderValueLength {
		return "", "", fmt.Errorf("%w: value length %d", ErrInvalidHeader, len(value))
	}
	for i := 0; i < len(value); i++ {
		if c := value[i]; (c < 0x20 && c != '\t') || c == 0x7F {
			return "", "", fmt.Errorf("%w: control byte in value of %q", ErrInvalidHeader, name)
		}
	}
	return name, value, nil
}

func isHeaderNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '-' || c == '_'
}

// keepAlive resolves connection persistence: explicit close and keep-alive
// tokens win, any other value falls back to the version default, where
// HTTP/1.1 and later are persistent.
func keepAlive(h Headers, v Version) bool {
	switch conn := h["connection"]; {
	case strings.EqualFold(conn, "close"):
		return false
	case strings.EqualFold(conn, "keep-alive"):
		return true
	}
	return v >= Version11
}

// PercentDecode decodes percent-encoded bytes and plus-as-space in s.
// Malformed escapes are kept literally rather than rejected, so partially
// encoded paths still resolve.
func PercentDecode(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		switch c := s[i]; {
		case c == '%' && i+2 < len(s) && isHexByte(s[i+1]) && isHexByte(s[i+2]):
			sb.WriteByte(hexValue(s[i+1])<<4 | hexValue(s[i+2]))
			i += 3
		case c == '+':
			sb.WriteByte(' ')
			i++
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}

func isHexByte(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func hexValue(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Connection accumulates stream data and extracts complete requests from
// it. It tracks where the header block ends and how many body bytes the
// declared Content-Length still requires, so requests split across reads
// and pipelined back to back both parse correctly.
//
// A Connection is not safe for concurrent use.
type Connection struct {
	// MaxHeaderSize and MaxBodySize override the package limits when set.
	MaxHeaderSize int
	MaxBodySize   int

	buf       []byte
	headerEnd int
	bodyNeed  int
}

// NewConnection returns an accumulator using the package limits.
func NewConnection() *Connection {
	return &Connection{
		MaxHeaderSize: MaxHeaderSize,
		MaxBodySize:   MaxBodySize,
		headerEnd:     -1,
	}
}

// Feed appends data to the buffer and attempts to extract one request.
// It returns (nil, nil) while the buffered bytes do not yet form a
// complete request. Call with an empty chunk to drain pipelined requests
// already buffered. Errors are terminal for the connection.
func (c *Connection) Feed(data []byte) (*Request, error) {
	c.buf = append(c.buf, data...)

	if c.headerEnd < 0 {
		end := findHeaderEnd(c.buf)
		if end < 0 {
			if len(c.buf) > c.MaxHeaderSize {
				return nil, fmt.Errorf("%w: %d bytes without terminator", ErrHeaderTooLarge, len(c.buf))
			}
			return nil, nil
		}
		if end > c.MaxHeaderSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, end)
		}
		need, err := scanContentLength(c.buf[:end])
		if err != nil {
			return nil, err
		}
		if need > c.MaxBodySize {
			return nil, fmt.Errorf("%w: declared %d bytes", ErrBodyTooLarge, need)
		}
		c.headerEnd = end
		c.bodyNeed = need
	}

	total := c.headerEnd + c.bodyNeed
	if len(c.buf) < total {
		return nil, nil
	}

	req, err := ParseRequest(c.buf[:total])

	rest := c.buf[total:]
	c.buf = append(make([]byte, 0, len(rest)), rest...)
	c.headerEnd = -1
	c.bodyNeed = 0
	return req, err
}

// Buffered returns the number of bytes held for the next request.
func (c *Connection) Buffered() int {
	return len(c.buf)
}

// Drain returns all buffered bytes and resets the accumulator. It is used
// when the connection stops speaking HTTP, such as after a WebSocket
// upgrade, and the remaining bytes belong to the new protocol.
func (c *Connection) Drain() []byte {
	out := c.buf
	c.buf = nil
	c.headerEnd = -1
	c.bodyNeed = 0
	return out
}

// Reset discards all buffered data and parser position.
func (c *Connection) Reset() {
	c.buf = c.buf[:0]
	c.headerEnd = -1
	c.bodyNeed = 0
}

// findHeaderEnd returns the offset just past the blank line terminating
// the header block, or -1 when no terminator is buffered yet.
func findHeaderEnd(buf []byte) int {
	start := 0
	for start < len(buf) {
		nl := bytes.IndexByte(buf[start:], '\n')
		if nl < 0 {
			return -1
		}
		line := buf[start : start+nl]
		start += nl + 1
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) == 0 {
			return start
		}
	}
	return -1
}

// scanContentLength extracts the Content-Length value from a raw header
// block without a full parse, so body completeness can be judged before
// the request is handed to ParseRequest.
func scanContentLength(head []byte) (int, error) {
	for _, line := range bytes.Split(head, []byte("\n")) {
		ci := bytes.IndexByte(line, ':')
		if ci < 0 {
			continue
		}
		name := strings.TrimSpace(string(line[:ci]))
		if !strings.EqualFold(name, "Content-Length") {
			continue
		}
		value := strings.TrimSpace(string(line[ci+1:]))
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: content-length %q", ErrInvalidHeader, value)
		}
		return n, nil
	}
	return 0, nil
}

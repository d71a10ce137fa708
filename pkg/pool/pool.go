// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package pool provides reusable read buffers for connection loops.
package pool

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the buffer size used when none is configured.
const DefaultBufferSize = 8192

// BufferPool hands out fixed-size byte buffers for socket reads. Buffers are
// recycled through a sync.Pool, so a Put buffer must not be used afterwards.
type BufferPool struct {
	size int
	pool *sync.Pool
	gets atomic.Uint64
	puts atomic.Uint64
}

// New creates a buffer pool handing out buffers of the given size.
// A size of zero or less falls back to DefaultBufferSize.
func New(size int) *BufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &BufferPool{
		size: size,
		pool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

// Get returns a buffer of the pool's size, recycled when one is available.
func (p *BufferPool) Get() *[]byte {
	p.gets.Add(1)
	buf := p.pool.Get().(*[]byte)
	*buf = (*buf)[:p.size]
	return buf
}

// Put returns a buffer to the pool. Buffers smaller than the pool's size
// are dropped.
func (p *BufferPool) Put(buf *[]byte) {
	if buf == nil || cap(*buf) < p.size {
		return
	}
	*buf = (*buf)[:p.size]
	p.puts.Add(1)
	p.pool.Put(buf)
}

// Size returns the length of buffers handed out by Get.
func (p *BufferPool) Size() int {
	return p.size
}

// Stats returns the number of Get and Put calls served so far.
func (p *BufferPool) Stats() (gets, puts uint64) {
	return p.gets.Load(), p.puts.Load()
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package subproto routes application payloads carried over negotiated
// WebSocket subprotocols to protocol-aware inspectors.
package subproto

import (
	"context"
	"sort"
	"sync"

	"github.com/absmach/mwire/pkg/handler"
)

// Inspector examines complete WebSocket messages for one subprotocol,
// extracting credentials and authorizing operations through the handler.
type Inspector interface {
	// Name returns the Sec-WebSocket-Protocol token this inspector serves.
	Name() string

	// Inspect examines one complete message payload. Returning an error
	// rejects the message; the connection is closed with a policy
	// violation.
	Inspect(ctx context.Context, h handler.Handler, hctx *handler.Context, payload []byte) error
}

// Registry holds inspectors keyed by subprotocol name.
type Registry struct {
	mu         sync.RWMutex
	inspectors map[string]Inspector
}

// NewRegistry creates an empty inspector registry.
func NewRegistry() *Registry {
	return &Registry{
		inspectors: make(map[string]Inspector),
	}
}

// Register adds an inspector under its own name, replacing any previous
// registration for that name.
func (r *Registry) Register(ins Inspector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inspectors[ins.Name()] = ins
}

// Lookup returns the inspector registered for the given subprotocol name.
func (r *Registry) Lookup(name string) (Inspector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ins, ok := r.inspectors[name]
	return ins, ok
}

// Names returns the registered subprotocol names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.inspectors))
	for name := range r.inspectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Negotiate picks the first client-offered subprotocol that has a registered
// inspector, preserving the client's preference order. It returns false when
// nothing matches; the handshake then completes without a subprotocol.
func (r *Registry) Negotiate(offered []string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range offered {
		if _, ok := r.inspectors[name]; ok {
			return name, true
		}
	}
	return "", false
}

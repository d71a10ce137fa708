// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package session tracks per-connection protocol state shared between the
// transport layer and the protocol parsers.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/mwire/pkg/errors"
	"github.com/absmach/mwire/pkg/handler"
	mhttp "github.com/absmach/mwire/pkg/http"
	"github.com/absmach/mwire/pkg/ws"
)

// Session holds the protocol state for one client connection. The transport
// creates it at accept time; parsers look it up through the handler context's
// SessionID and mutate it as the connection moves through its phases.
type Session struct {
	// ID is the unique identifier for this session.
	ID string

	// RemoteAddr is the client's network address.
	RemoteAddr string

	// StartedAt is when the connection was accepted.
	StartedAt time.Time

	// HTTP accumulates request bytes until a full head and body arrive.
	HTTP *mhttp.Connection

	// Stream reassembles WebSocket frames after the upgrade. It stays nil
	// until the WebSocket parser installs one.
	Stream *ws.StreamProcessor

	// Upgraded reports whether the HTTP upgrade handshake completed.
	Upgraded bool

	// Subprotocol is the negotiated Sec-WebSocket-Protocol token, if any.
	Subprotocol string

	// Deflater and Inflater hold per-message compression state when
	// permessage-deflate was negotiated.
	Deflater *ws.Deflater
	Inflater *ws.Inflater

	// Context is the handler context for this session.
	Context *handler.Context

	// LastActivity tracks the last time bytes moved on this session.
	LastActivity time.Time

	// mu protects LastActivity updates.
	mu sync.Mutex
}

// UpdateActivity updates the last activity timestamp for this session.
func (s *Session) UpdateActivity() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// GetLastActivity returns the last activity timestamp.
func (s *Session) GetLastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastActivity
}

// Store manages active sessions keyed by session ID.
type Store struct {
	sessions    map[string]*Session
	mu          sync.RWMutex
	logger      *slog.Logger
	maxSessions int
}

// NewStore creates a session store. A maxSessions of zero means no limit.
func NewStore(logger *slog.Logger, maxSessions int) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions:    make(map[string]*Session),
		logger:      logger,
		maxSessions: maxSessions,
	}
}

// GetOrCreate gets an existing session or creates a new one for the given ID.
// The second return value reports whether a new session was created.
func (st *Store) GetOrCreate(id, remoteAddr string) (*Session, bool, error) {
	// Try to get an existing session (read lock).
	st.mu.RLock()
	if sess, ok := st.sessions[id]; ok {
		st.mu.RUnlock()
		sess.UpdateActivity()
		return sess, false, nil
	}
	st.mu.RUnlock()

	// Create a new session (write lock).
	st.mu.Lock()
	defer st.mu.Unlock()

	// Double-check in case another goroutine created it.
	if sess, ok := st.sessions[id]; ok {
		sess.UpdateActivity()
		return sess, false, nil
	}

	if st.maxSessions > 0 && len(st.sessions) >= st.maxSessions {
		return nil, false, fmt.Errorf("%w (%d)", errors.ErrSessionLimitReached, st.maxSessions)
	}

	now := time.Now()
	sess := &Session{
		ID:           id,
		RemoteAddr:   remoteAddr,
		StartedAt:    now,
		LastActivity: now,
		HTTP:         mhttp.NewConnection(),
		Context: &handler.Context{
			SessionID:  id,
			RemoteAddr: remoteAddr,
		},
	}
	st.sessions[id] = sess

	st.logger.Debug("new session created",
		slog.String("session", id),
		slog.String("client", remoteAddr))

	return sess, true, nil
}

// Get returns an existing session by ID.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[id]
	return sess, ok
}

// Remove removes a session from the store.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Count returns the number of active sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Cleanup removes idle sessions periodically until the context is cancelled.
// Should be called in a background goroutine.
func (st *Store) Cleanup(ctx context.Context, timeout time.Duration, h handler.Handler) {
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep(timeout, h)
		}
	}
}

// Sweep removes sessions that have been idle longer than the timeout,
// notifying the handler of each disconnect. It returns the number of
// sessions removed.
func (st *Store) Sweep(timeout time.Duration, h handler.Handler) int {
	now := time.Now()
	var toRemove []string

	st.mu.RLock()
	for id, sess := range st.sessions {
		if now.Sub(sess.GetLastActivity()) > timeout {
			toRemove = append(toRemove, id)
		}
	}
	st.mu.RUnlock()

	if len(toRemove) == 0 {
		return 0
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for _, id := range toRemove {
		sess, ok := st.sessions[id]
		if !ok {
			continue
		}
		st.logger.Debug("session timeout",
			slog.String("session", sess.ID),
			slog.String("client", sess.RemoteAddr))

		if h != nil {
			if err := h.OnDisconnect(context.Background(), sess.Context); err != nil {
				st.logger.Error("disconnect handler error",
					slog.String("session", sess.ID),
					slog.String("error", err.Error()))
			}
		}

		delete(st.sessions, id)
		removed++
	}

	return removed
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coap inspects CoAP messages carried over the "coap" WebSocket
// subprotocol.
package coap

import (
	"context"
	"fmt"
	"strings"

	"github.com/absmach/mwire/pkg/handler"
	"github.com/absmach/mwire/pkg/subproto"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp/coder"
)

// Inspector decodes CoAP messages from complete WebSocket messages and
// drives the handler's authorization callbacks. Each WebSocket message is
// expected to carry exactly one CoAP message.
type Inspector struct{}

var _ subproto.Inspector = (*Inspector)(nil)

// New creates a CoAP inspector.
func New() *Inspector {
	return &Inspector{}
}

// Name returns the subprotocol token this inspector serves.
func (i *Inspector) Name() string {
	return "coap"
}

// Inspect decodes the CoAP message and authorizes the operation it carries.
// POST and PUT are treated as publishes, GET with Observe 0 as a subscribe.
func (i *Inspector) Inspect(ctx context.Context, h handler.Handler, hctx *handler.Context, payload []byte) error {
	msg := pool.NewMessage(ctx)
	defer msg.Reset()

	if _, err := msg.UnmarshalWithDecoder(coder.DefaultCoder, payload); err != nil {
		return fmt.Errorf("malformed coap message: %w", err)
	}

	// Credentials travel in the URI-Query options: ?auth=<key>.
	if key := authQuery(msg); key != "" {
		hctx.Password = []byte(key)
	}

	path, err := msg.Options().Path()
	if err != nil {
		path = "/"
	}

	if err := h.AuthConnect(ctx, hctx); err != nil {
		return fmt.Errorf("connection authorization failed: %w", err)
	}

	switch msg.Code() {
	case codes.POST, codes.PUT:
		body, err := msg.ReadBody()
		if err != nil {
			body = nil
		}
		if err := h.AuthPublish(ctx, hctx, &path, &body); err != nil {
			return fmt.Errorf("publish authorization failed: %w", err)
		}

	case codes.GET:
		obs, err := msg.Options().Observe()
		if err == nil && obs == 0 {
			topics := []string{path}
			if err := h.AuthSubscribe(ctx, hctx, &topics); err != nil {
				return fmt.Errorf("subscribe authorization failed: %w", err)
			}
		}
	}

	return nil
}

func authQuery(msg *pool.Message) string {
	queries, err := msg.Options().Queries()
	if err != nil {
		return ""
	}

	for _, query := range queries {
		if strings.HasPrefix(query, "auth=") {
			return strings.TrimPrefix(query, "auth=")
		}
	}
	return ""
}

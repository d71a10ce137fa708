// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt inspects MQTT control packets carried over the "mqtt"
// WebSocket subprotocol.
package mqtt

import (
	"bytes"
	"context"
	"fmt"

	"github.com/absmach/mwire/pkg/handler"
	"github.com/absmach/mwire/pkg/subproto"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Inspector decodes MQTT control packets from complete WebSocket messages
// and drives the handler's authorization callbacks. Inspection never
// rewrites the payload; messages either pass or the connection is closed.
type Inspector struct{}

var _ subproto.Inspector = (*Inspector)(nil)

// New creates an MQTT inspector.
func New() *Inspector {
	return &Inspector{}
}

// Name returns the subprotocol token this inspector serves.
func (i *Inspector) Name() string {
	return "mqtt"
}

// Inspect decodes every MQTT control packet in the message payload. A
// WebSocket message may carry several packets back to back.
func (i *Inspector) Inspect(ctx context.Context, h handler.Handler, hctx *handler.Context, payload []byte) error {
	r := bytes.NewReader(payload)
	for r.Len() > 0 {
		pkt, err := packets.ReadPacket(r)
		if err != nil {
			return fmt.Errorf("malformed mqtt packet: %w", err)
		}
		if err := i.inspectPacket(ctx, pkt, h, hctx); err != nil {
			return err
		}
	}
	return nil
}

func (i *Inspector) inspectPacket(ctx context.Context, pkt packets.ControlPacket, h handler.Handler, hctx *handler.Context) error {
	switch packet := pkt.(type) {
	case *packets.ConnectPacket:
		return i.inspectConnect(ctx, packet, h, hctx)

	case *packets.PublishPacket:
		return i.inspectPublish(ctx, packet, h, hctx)

	case *packets.SubscribePacket:
		return i.inspectSubscribe(ctx, packet, h, hctx)

	default:
		// PINGREQ, acks and the rest carry nothing to authorize.
		return nil
	}
}

// inspectConnect extracts credentials from a CONNECT packet and re-runs
// connection authorization with them.
func (i *Inspector) inspectConnect(ctx context.Context, packet *packets.ConnectPacket, h handler.Handler, hctx *handler.Context) error {
	hctx.ClientID = packet.ClientIdentifier
	hctx.Username = packet.Username
	hctx.Password = packet.Password

	if err := h.AuthConnect(ctx, hctx); err != nil {
		return fmt.Errorf("connection authorization failed: %w", err)
	}
	return nil
}

func (i *Inspector) inspectPublish(ctx context.Context, packet *packets.PublishPacket, h handler.Handler, hctx *handler.Context) error {
	topic := packet.TopicName
	payload := packet.Payload

	if err := h.AuthPublish(ctx, hctx, &topic, &payload); err != nil {
		return fmt.Errorf("publish authorization failed: %w", err)
	}
	return nil
}

func (i *Inspector) inspectSubscribe(ctx context.Context, packet *packets.SubscribePacket, h handler.Handler, hctx *handler.Context) error {
	topics := make([]string, len(packet.Topics))
	copy(topics, packet.Topics)

	if err := h.AuthSubscribe(ctx, hctx, &topics); err != nil {
		return fmt.Errorf("subscribe authorization failed: %w", err)
	}
	return nil
}

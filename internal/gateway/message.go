// Package gateway connects the chat transport to the intake service: a
// websocket bridge for a chat-automation sidecar and an HTTP webhook.
package gateway

import (
	"context"
	"strings"

	"github.com/ashureev/rocky/internal/intake"
)

// Sink accepts normalized inbound messages, typically by queueing them.
type Sink func(ctx context.Context, msg intake.Message) error

// InboundEvent is the transport payload of one chat message.
type InboundEvent struct {
	SenderID string  `json:"sender_id"`
	Body     *string `json:"body"`
	IsGroup  bool    `json:"is_group"`
}

// Message normalizes the event. Sender ids like "5491122334455@c.us" keep only
// the part before '@', and a missing body becomes empty text.
func (e InboundEvent) Message() intake.Message {
	msg := intake.Message{
		UserID:  NormalizeSender(e.SenderID),
		IsGroup: e.IsGroup,
	}
	if e.Body != nil {
		msg.Text = *e.Body
	}
	return msg
}

// NormalizeSender strips the transport suffix from a sender id.
func NormalizeSender(id string) string {
	id = strings.TrimSpace(id)
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	return id
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// ErrNotConnected is returned by Send while no bridge client is attached.
var ErrNotConnected = errors.New("bridge not connected")

const writeTimeout = 10 * time.Second

// frame is the JSON envelope exchanged with the bridge client.
type frame struct {
	Type     string  `json:"type"`
	SenderID string  `json:"sender_id,omitempty"`
	Body     *string `json:"body,omitempty"`
	IsGroup  bool    `json:"is_group,omitempty"`
	TargetID string  `json:"target_id,omitempty"`
	Text     string  `json:"text,omitempty"`
}

type bridgeConn struct {
	id string
	ws *websocket.Conn
}

// Bridge holds the single active websocket to the chat-automation client.
// Inbound "message" frames go to the sink; Send writes "send" frames back.
type Bridge struct {
	sink   Sink
	logger *slog.Logger

	mu   sync.RWMutex
	conn *bridgeConn
}

// NewBridge creates a bridge delivering inbound messages to sink.
func NewBridge(sink Sink, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{sink: sink, logger: logger}
}

// Connected reports whether a bridge client is attached.
func (b *Bridge) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil
}

// Send delivers text to targetID through the active connection.
func (b *Bridge) Send(ctx context.Context, targetID, text string) error {
	b.mu.RLock()
	c := b.conn
	b.mu.RUnlock()
	if c == nil {
		return ErrNotConnected
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, c.ws, frame{Type: "send", TargetID: targetID, Text: text}); err != nil {
		return fmt.Errorf("write send frame: %w", err)
	}
	return nil
}

// ServeHTTP upgrades the request and serves the connection until it closes.
// A new connection replaces the previous one.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The bridge client is a server-side process authenticated by bearer token.
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		b.logger.Error("Failed to accept bridge websocket", "error", err)
		return
	}
	c := &bridgeConn{id: uuid.NewString(), ws: ws}
	log := b.logger.With("conn_id", c.id)

	b.attach(c, log)
	defer b.detach(c)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "bridge closed"); closeErr != nil {
			log.Debug("Failed to close bridge websocket", "error", closeErr)
		}
	}()

	log.Info("Bridge connected", "remote", r.RemoteAddr)
	b.readLoop(r.Context(), c, log)
	log.Info("Bridge disconnected")
}

func (b *Bridge) attach(c *bridgeConn, log *slog.Logger) {
	b.mu.Lock()
	prev := b.conn
	b.conn = c
	b.mu.Unlock()

	if prev != nil {
		log.Warn("Replacing active bridge connection", "previous_conn_id", prev.id)
		_ = prev.ws.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
	}
}

func (b *Bridge) detach(c *bridgeConn) {
	b.mu.Lock()
	if b.conn == c {
		b.conn = nil
	}
	b.mu.Unlock()
}

func (b *Bridge) readLoop(ctx context.Context, c *bridgeConn, log *slog.Logger) {
	for {
		var f frame
		if err := wsjson.Read(ctx, c.ws, &f); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				log.Debug("Bridge closed by peer", "error", err)
			} else {
				log.Warn("Bridge read error", "error", err)
			}
			return
		}

		switch f.Type {
		case "message":
			ev := InboundEvent{SenderID: f.SenderID, Body: f.Body, IsGroup: f.IsGroup}
			if err := b.sink(ctx, ev.Message()); err != nil {
				log.Warn("Failed to queue inbound message", "error", err)
			}
		case "ping":
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			if err := wsjson.Write(writeCtx, c.ws, frame{Type: "pong"}); err != nil {
				log.Debug("Failed to send pong", "error", err)
			}
			cancel()
		default:
			log.Debug("Ignoring bridge frame", "type", f.Type)
		}
	}
}

// Close disconnects the active client, if any.
func (b *Bridge) Close() {
	b.mu.Lock()
	c := b.conn
	b.conn = nil
	b.mu.Unlock()
	if c != nil {
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

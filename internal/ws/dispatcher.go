package ws

import (
	"context"
	"log"
	"time"

	"github.com/parley/chat-server/internal/metrics"
	"github.com/parley/chat-server/internal/protocol"
	"github.com/parley/chat-server/internal/ratelimit"
)

// MessageHandler is the callback signature for handling a parsed client
// event. The msg parameter is the concrete struct returned by
// protocol.ParseClientMessage (e.g., protocol.SendMessageMsg).
type MessageHandler func(conn *Connection, msg interface{})

// throttledTypes are the event types subject to the per-connection message
// rate limit. Cheap bookkeeping events (typing, read receipts) are exempt.
var throttledTypes = map[string]ratelimit.Rule{
	protocol.TypeSendMessage:    ratelimit.RuleMessage,
	protocol.TypePrivateMessage: ratelimit.RuleMessage,
	protocol.TypeSendFile:       ratelimit.RuleUpload,
}

// MessageDispatcher routes incoming WebSocket events to registered handlers
// based on the event type. It handles the built-in ping/pong keepalive
// internally, applies per-connection rate limits, and sends structured error
// responses for malformed or unsupported events.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	limiter  *ratelimit.Limiter // optional
	server   *Server
}

// NewMessageDispatcher creates a MessageDispatcher. The server reference is
// used to send responses back to clients; it may be set later with
// SetServer, since NewServer requires the Dispatch callback. The limiter may
// be nil to disable message throttling.
func NewMessageDispatcher(server *Server, limiter *ratelimit.Limiter) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		limiter:  limiter,
		server:   server,
	}
}

// SetServer assigns the Server reference on the dispatcher.
func (d *MessageDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register associates a MessageHandler with an event type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed event, handles ping internally, applies rate limits, and
// routes all other types to the registered handler. Parse errors and
// unregistered types result in an error event sent back to the client.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	started := time.Now()
	defer func() {
		metrics.EventLatency.Observe(time.Since(started).Seconds())
	}()

	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dispatch parse error conn=%s: %v", conn.ID, err)
		d.sendError(conn, "parse_error", "invalid message format")
		return
	}

	// Built-in ping handler: respond immediately without requiring
	// registration.
	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	if rule, ok := throttledTypes[msgType]; ok && d.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		allowed, _ := d.limiter.Allow(ctx, conn.ID, rule)
		cancel()
		if !allowed {
			d.sendRateLimited(conn, rule)
			return
		}
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: unsupported event type=%q conn=%s", msgType, conn.ID)
		d.sendError(conn, "unsupported_type", "unsupported event type")
		return
	}

	handler(conn, msg)
}

// sendError sends a structured error event back to the client. Errors during
// construction or transmission are logged but not propagated.
func (d *MessageDispatcher) sendError(conn *Connection, code string, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("ws: failed to build error event conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send error event conn=%s: %v", conn.ID, err)
	}
}

// sendRateLimited tells the client it exceeded a rate limit and when to retry.
func (d *MessageDispatcher) sendRateLimited(conn *Connection, rule ratelimit.Rule) {
	data, err := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: int(rule.Window.Seconds()),
	})
	if err != nil {
		log.Printf("ws: failed to build rate_limited event conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send rate_limited event conn=%s: %v", conn.ID, err)
	}
}

// sendPong responds to a client ping with a pong event and refreshes the
// connection's LastPing timestamp.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.LastPing = time.Now()

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		log.Printf("ws: failed to build pong event conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send pong event conn=%s: %v", conn.ID, err)
	}
}

// Package coordinator implements the room messaging engine. The Coordinator
// owns every piece of mutable chat state (connection registry, room
// directory, message logs, typing sets, unread counters) and is the only
// component allowed to mutate it. Each inbound event runs as one atomic unit
// under a single mutex: validate, mutate, then emit outbound events through
// the Notifier.
package coordinator

import (
	"log"
	"sync"

	"github.com/parley/chat-server/internal/auth"
	"github.com/parley/chat-server/internal/history"
	"github.com/parley/chat-server/internal/metrics"
	"github.com/parley/chat-server/internal/presence"
	"github.com/parley/chat-server/internal/protocol"
	"github.com/parley/chat-server/internal/registry"
	"github.com/parley/chat-server/internal/unread"
)

// Notifier delivers outbound events. Notify targets a single connection;
// NotifyAll targets every live connection, authenticated or not. Both are
// best-effort: delivery failures are the transport's problem, not the
// coordinator's.
type Notifier interface {
	Notify(connID, event string, payload interface{})
	NotifyAll(event string, payload interface{})
}

// Tap receives a copy of every room broadcast for out-of-process consumers
// (moderation, analytics). Implementations must not block.
type Tap interface {
	RoomEvent(room, event string, payload interface{})
}

// Coordinator orchestrates the chat stores in response to inbound events.
type Coordinator struct {
	mu       sync.Mutex
	conns    *registry.Connections
	rooms    *registry.Rooms
	history  *history.Store
	presence *presence.Tracker
	unread   *unread.Tracker
	tokens   *auth.Manager
	notifier Notifier
	tap      Tap
}

// New creates a Coordinator with freshly initialized stores. The tap may be
// nil.
func New(tokens *auth.Manager, notifier Notifier, tap Tap) *Coordinator {
	return &Coordinator{
		conns:    registry.NewConnections(),
		rooms:    registry.NewRooms(),
		history:  history.NewStore(),
		presence: presence.NewTracker(),
		unread:   unread.NewTracker(),
		tokens:   tokens,
		notifier: notifier,
		tap:      tap,
	}
}

type messagesPayload struct {
	Messages []*history.Message `json:"messages"`
	Total    int                `json:"total"`
}

type searchPayload struct {
	Messages []*history.Message `json:"messages"`
}

// ---------------------------------------------------------------------------
// Event handlers
// ---------------------------------------------------------------------------

// Authenticate resolves the caller's identity from a username or a bearer
// token, registers the connection, joins it to the default room, and
// announces the new member to everyone. A connection that is already
// registered is rejected rather than overwritten.
//
// Token verification runs before the state lock is taken: it is the external
// auth boundary and must not serialize other handlers.
func (c *Coordinator) Authenticate(connID, username, token string) {
	var name string
	switch {
	case token != "":
		verified, err := c.tokens.Verify(token)
		if err != nil {
			c.notifier.Notify(connID, protocol.TypeAuthResult, protocol.AuthResultMsg{
				Success: false, Error: "invalid token",
			})
			return
		}
		name = verified
	case username != "":
		name = username
	default:
		c.notifier.Notify(connID, protocol.TypeAuthResult, protocol.AuthResultMsg{
			Success: false, Error: "no username or token",
		})
		return
	}

	issued, err := c.tokens.Issue(name)
	if err != nil {
		log.Printf("coordinator: token issue failed for %q: %v", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conns.Register(connID, registry.Identity{Name: name, ConnID: connID}); err != nil {
		c.notifier.Notify(connID, protocol.TypeAuthResult, protocol.AuthResultMsg{
			Success: false, Error: "already authenticated",
		})
		return
	}

	metrics.UsersOnline.Set(float64(len(c.conns.Users())))

	c.notifier.NotifyAll(protocol.TypeUserList, protocol.UserListMsg{Users: c.userEntries(c.conns.Users())})
	c.notifier.NotifyAll(protocol.TypeUserJoined, protocol.UserPresenceMsg{Username: name, ID: connID})
	c.notifier.Notify(connID, protocol.TypeAuthResult, protocol.AuthResultMsg{
		Success: true, ID: connID, Token: issued,
	})

	log.Printf("coordinator: authenticated conn=%s user=%q", connID, name)
}

// JoinRoom adds the caller to a room, creating the room on first reference,
// and pushes the room's updated member list to its members.
func (c *Coordinator) JoinRoom(connID, room string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.requireIdentity(connID); !ok {
		return
	}
	if room == "" {
		c.sendError(connID, "bad_request", "room is required")
		return
	}

	c.ensureRoom(room)
	c.conns.AddRoom(connID, room)

	c.notifier.Notify(connID, protocol.TypeRoomJoined, protocol.RoomJoinedMsg{Room: room})
	c.broadcastRoomUserList(room)
}

// LeaveRoom removes the caller from a room and pushes the updated member
// list to the remaining members.
func (c *Coordinator) LeaveRoom(connID, room string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.requireIdentity(connID); !ok {
		return
	}

	c.conns.RemoveRoom(connID, room)
	c.broadcastRoomUserList(room)
}

// SendMessage appends a text message to the room's log, broadcasts it to the
// room's members in append order, bumps every other member's unread counter,
// and acknowledges delivery to the sender.
func (c *Coordinator) SendMessage(connID, room, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ident, ok := c.requireIdentity(connID)
	if !ok {
		return
	}
	if err := history.ValidateBody(body); err != nil {
		c.sendError(connID, "invalid_message", err.Error())
		return
	}
	if room == "" {
		room = registry.DefaultRoom
	}
	c.ensureRoom(room)

	msg := c.history.NewMessage(ident.Name, connID, room, body)
	c.history.Append(room, msg)

	members := c.conns.MembersOf(room)
	c.broadcastToMembers(members, room, protocol.TypeReceiveMessage, msg)

	memberIDs := make([]string, len(members))
	for i, m := range members {
		memberIDs[i] = m.ConnID
	}
	for id := range c.unread.IncrementForRoomExcept(room, connID, memberIDs) {
		c.notifier.Notify(id, protocol.TypeUnreadCounts, protocol.UnreadCountsMsg{Counts: c.unread.Counts(id)})
	}

	c.notifier.Notify(connID, protocol.TypeMessageSent, protocol.MessageSentMsg{Delivered: true, ID: msg.ID})
	metrics.MessagesTotal.WithLabelValues("room").Inc()
}

// SendPrivateMessage delivers a direct message to the target connection and
// echoes it to the sender. Private messages are never stored in a room log,
// so they are invisible to get_messages and search_messages.
func (c *Coordinator) SendPrivateMessage(connID, to, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ident, ok := c.requireIdentity(connID)
	if !ok {
		return
	}
	if err := history.ValidateBody(body); err != nil {
		c.sendError(connID, "invalid_message", err.Error())
		return
	}

	msg := c.history.NewPrivateMessage(ident.Name, connID, body)
	c.notifier.Notify(to, protocol.TypePrivateMessage, msg)
	if to != connID {
		c.notifier.Notify(connID, protocol.TypePrivateMessage, msg)
	}
	c.notifier.Notify(connID, protocol.TypeMessageSent, protocol.MessageSentMsg{Delivered: true, ID: msg.ID})
	metrics.MessagesTotal.WithLabelValues("private").Inc()
}

// SetTyping toggles the caller's typing indicator for a room and broadcasts
// the updated typer name list to the room.
func (c *Coordinator) SetTyping(connID, room string, isTyping bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ident, ok := c.requireIdentity(connID)
	if !ok {
		return
	}
	if room == "" {
		room = registry.DefaultRoom
	}

	typers := c.presence.SetTyping(room, connID, ident.Name, isTyping)
	members := c.conns.MembersOf(room)
	c.broadcastToMembers(members, room, protocol.TypeTypingUsers, protocol.TypingUsersMsg{Room: room, Users: typers})
}

// ReadMessage records a read receipt. If the receipt is new, the room is
// told and the reader's unread counter for the room resets to zero.
// Re-reading is a silent no-op, as is a receipt for an evicted message.
func (c *Coordinator) ReadMessage(connID, room string, messageID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.requireIdentity(connID); !ok {
		return
	}
	if room == "" {
		room = registry.DefaultRoom
	}

	changed, err := c.history.MarkRead(room, messageID, connID)
	if err != nil || !changed {
		return
	}

	members := c.conns.MembersOf(room)
	c.broadcastToMembers(members, room, protocol.TypeMessageRead, protocol.MessageReadMsg{MessageID: messageID, UserID: connID})

	c.unread.Reset(connID, room)
	c.notifier.Notify(connID, protocol.TypeUnreadCounts, protocol.UnreadCountsMsg{Counts: c.unread.Counts(connID)})
}

// ReactMessage bumps the tally for one reaction kind and broadcasts the new
// count to the room. An unknown message id is reported back to the caller.
func (c *Coordinator) ReactMessage(connID, room string, messageID int64, reaction string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.requireIdentity(connID); !ok {
		return
	}
	if room == "" {
		room = registry.DefaultRoom
	}

	count, err := c.history.React(room, messageID, reaction)
	if err != nil {
		c.sendError(connID, "message_not_found", "message not found")
		return
	}

	members := c.conns.MembersOf(room)
	c.broadcastToMembers(members, room, protocol.TypeMessageReaction, protocol.MessageReactionMsg{
		MessageID: messageID, Reaction: reaction, Count: count,
	})
}

// SendFile appends a file message referencing an already uploaded attachment
// and broadcasts it to the room. The upload itself happens before this call,
// outside the coordinator lock.
func (c *Coordinator) SendFile(connID, room string, file *history.FileRef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ident, ok := c.requireIdentity(connID)
	if !ok {
		return
	}
	if file == nil {
		c.sendError(connID, "invalid_message", "file reference is required")
		return
	}
	if room == "" {
		room = registry.DefaultRoom
	}
	c.ensureRoom(room)

	msg := c.history.NewFileMessage(ident.Name, connID, room, file)
	c.history.Append(room, msg)

	members := c.conns.MembersOf(room)
	c.broadcastToMembers(members, room, protocol.TypeReceiveMessage, msg)

	c.notifier.Notify(connID, protocol.TypeMessageSent, protocol.MessageSentMsg{Delivered: true, ID: msg.ID})
	metrics.MessagesTotal.WithLabelValues("file").Inc()
}

// GetMessages returns one page of room history to the caller. Response only;
// nothing is broadcast.
func (c *Coordinator) GetMessages(connID, room string, page, pageSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.requireIdentity(connID); !ok {
		return
	}
	if room == "" {
		room = registry.DefaultRoom
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	msgs, total := c.history.Paginate(room, page, pageSize)
	c.notifier.Notify(connID, protocol.TypeMessages, messagesPayload{Messages: msgs, Total: total})
}

// SearchMessages returns the room's messages whose body contains the query
// as a case-sensitive substring. Response only.
func (c *Coordinator) SearchMessages(connID, room, query string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.requireIdentity(connID); !ok {
		return
	}
	if room == "" {
		room = registry.DefaultRoom
	}

	found := c.history.Search(room, query)
	c.notifier.Notify(connID, protocol.TypeSearchResults, searchPayload{Messages: found})
}

// AckMessage broadcasts a best-effort delivery acknowledgment to the room.
// Nothing is recorded; delivered is already true at message creation.
func (c *Coordinator) AckMessage(connID, room string, messageID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.requireIdentity(connID); !ok {
		return
	}
	if room == "" {
		room = registry.DefaultRoom
	}

	members := c.conns.MembersOf(room)
	c.broadcastToMembers(members, room, protocol.TypeMessageAck, protocol.MessageAckMsg{MessageID: messageID, UserID: connID})
}

// Disconnect reverses the connection's entire footprint: registry entry,
// typing sets, and unread counters. It is idempotent and best-effort; an
// unknown connection cleans up silently. Everyone is told the member left.
func (c *Coordinator) Disconnect(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.presence.ClearConnection(connID)
	c.unread.ClearConnection(connID)

	ident, err := c.conns.Unregister(connID)
	if err != nil {
		return // never registered, or already cleaned up
	}

	metrics.UsersOnline.Set(float64(len(c.conns.Users())))

	c.notifier.NotifyAll(protocol.TypeUserLeft, protocol.UserPresenceMsg{Username: ident.Name, ID: connID})
	c.notifier.NotifyAll(protocol.TypeUserList, protocol.UserListMsg{Users: c.userEntries(c.conns.Users())})

	log.Printf("coordinator: disconnected conn=%s user=%q", connID, ident.Name)
}

// ---------------------------------------------------------------------------
// Read-side queries (REST API, transport)
// ---------------------------------------------------------------------------

// IsAuthenticated reports whether the connection has completed
// authentication. The transport uses it to gate expensive work (file
// uploads) before handing the event to the coordinator.
func (c *Coordinator) IsAuthenticated(connID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.conns.Get(connID)
	return ok
}

// Rooms returns the known room names in creation order.
func (c *Coordinator) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms.List()
}

// Users returns the current user list.
func (c *Coordinator) Users() []registry.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns.Users()
}

// Messages returns one page of a room's history plus the total log length.
func (c *Coordinator) Messages(room string, page, pageSize int) ([]*history.Message, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return c.history.Paginate(room, page, pageSize)
}

// ---------------------------------------------------------------------------
// Internal helpers (callers hold c.mu)
// ---------------------------------------------------------------------------

// requireIdentity resolves the caller's identity, sending a not_authenticated
// error when the connection never completed authentication.
func (c *Coordinator) requireIdentity(connID string) (registry.Identity, bool) {
	ident, ok := c.conns.Get(connID)
	if !ok {
		c.sendError(connID, "not_authenticated", "authenticate first")
		return registry.Identity{}, false
	}
	return ident, true
}

func (c *Coordinator) ensureRoom(room string) {
	c.rooms.Ensure(room)
	metrics.RoomsTotal.Set(float64(len(c.rooms.List())))
}

// broadcastToMembers fans an event out to the given room members and mirrors
// it to the tap.
func (c *Coordinator) broadcastToMembers(members []registry.Identity, room, event string, payload interface{}) {
	for _, m := range members {
		c.notifier.Notify(m.ConnID, event, payload)
	}
	if c.tap != nil {
		c.tap.RoomEvent(room, event, payload)
	}
}

// broadcastRoomUserList pushes the room-scoped member list to the room.
func (c *Coordinator) broadcastRoomUserList(room string) {
	payload := protocol.UserListMsg{Users: c.userEntries(c.conns.UsersInRoom(room))}
	c.broadcastToMembers(c.conns.MembersOf(room), room, protocol.TypeUserList, payload)
}

func (c *Coordinator) userEntries(users []registry.User) []protocol.UserEntry {
	entries := make([]protocol.UserEntry, len(users))
	for i, u := range users {
		entries[i] = protocol.UserEntry{Username: u.Username, ID: u.ID, Online: u.Online, Rooms: u.Rooms}
	}
	return entries
}

func (c *Coordinator) sendError(connID, code, message string) {
	c.notifier.Notify(connID, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

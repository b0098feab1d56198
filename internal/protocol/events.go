// Package protocol defines the WebSocket event types and structures exchanged
// between chat clients and the server. All events are serialized as JSON and
// follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeAuthenticate   = "authenticate"
	TypeJoinRoom       = "join_room"
	TypeLeaveRoom      = "leave_room"
	TypeSendMessage    = "send_message"
	TypePrivateMessage = "private_message"
	TypeTyping         = "typing"
	TypeReadMessage    = "read_message"
	TypeReactMessage   = "react_message"
	TypeSendFile       = "send_file"
	TypeGetMessages    = "get_messages"
	TypeSearchMessages = "search_messages"
	TypeAckMessage     = "ack_message"
	TypePing           = "ping"
)

// Server -> Client event types.
const (
	TypeAuthResult      = "auth_result"
	TypeRoomJoined      = "room_joined"
	TypeUserList        = "user_list"
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeReceiveMessage  = "receive_message"
	TypeTypingUsers     = "typing_users"
	TypeUnreadCounts    = "unread_counts"
	TypeMessageRead     = "message_read"
	TypeMessageReaction = "message_reaction"
	TypeMessageAck      = "message_ack"
	TypeMessageSent     = "message_sent"
	TypeMessages        = "messages"
	TypeSearchResults   = "search_results"
	TypeRateLimited     = "rate_limited"
	TypeError           = "error"
	TypePong            = "pong"
)

// ---------------------------------------------------------------------------
// Envelope, used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// AuthenticateMsg carries either a username for first-time authentication or
// a previously issued bearer token. Exactly one of the two is required.
type AuthenticateMsg struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`
}

// JoinRoomMsg is sent by the client to join a room. Unknown rooms are created
// on first reference.
type JoinRoomMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// LeaveRoomMsg is sent by the client to leave a room.
type LeaveRoomMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// SendMessageMsg is a text message addressed to a room. An empty room means
// the default room.
type SendMessageMsg struct {
	Type    string `json:"type"`
	Room    string `json:"room,omitempty"`
	Message string `json:"message"`
}

// PrivateMessageMsg is a direct message to a single connection.
type PrivateMessageMsg struct {
	Type    string `json:"type"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// TypingMsg toggles the sender's typing indicator for a room.
type TypingMsg struct {
	Type     string `json:"type"`
	Room     string `json:"room,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// ReadMessageMsg records a read receipt for a message in a room.
type ReadMessageMsg struct {
	Type      string `json:"type"`
	Room      string `json:"room,omitempty"`
	MessageID int64  `json:"messageId"`
}

// ReactMessageMsg adds a reaction of the given kind to a message.
type ReactMessageMsg struct {
	Type      string `json:"type"`
	Room      string `json:"room,omitempty"`
	MessageID int64  `json:"messageId"`
	Reaction  string `json:"reaction"`
}

// SendFileMsg shares a file with a room. The payload is base64-encoded; the
// server stores it and broadcasts a URL reference instead of the raw bytes.
type SendFileMsg struct {
	Type     string `json:"type"`
	Room     string `json:"room,omitempty"`
	File     string `json:"file"`
	Filename string `json:"filename"`
	FileType string `json:"fileType"`
}

// GetMessagesMsg requests a page of room history. Pages count backwards from
// the newest message: page 1 is the most recent pageSize messages.
type GetMessagesMsg struct {
	Type     string `json:"type"`
	Room     string `json:"room,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"pageSize,omitempty"`
}

// SearchMessagesMsg requests a case-sensitive substring search over a room's
// history.
type SearchMessagesMsg struct {
	Type  string `json:"type"`
	Room  string `json:"room,omitempty"`
	Query string `json:"query"`
}

// AckMessageMsg is a best-effort delivery acknowledgment for a message.
type AckMessageMsg struct {
	Type      string `json:"type"`
	Room      string `json:"room,omitempty"`
	MessageID int64  `json:"messageId"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// AuthResultMsg is the server's response to an authenticate event. On success
// it carries the connection id and a freshly issued token the client can use
// to re-authenticate after a reconnect.
type AuthResultMsg struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RoomJoinedMsg confirms a join_room request to the caller.
type RoomJoinedMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// UserEntry is one element of a user_list event.
type UserEntry struct {
	Username string   `json:"username"`
	ID       string   `json:"id"`
	Online   bool     `json:"online"`
	Rooms    []string `json:"rooms"`
}

// UserListMsg carries the current member list, either global or scoped to a
// room.
type UserListMsg struct {
	Type  string      `json:"type"`
	Users []UserEntry `json:"users"`
}

// UserPresenceMsg announces a user joining or leaving, used for both the
// user_joined and user_left event types.
type UserPresenceMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	ID       string `json:"id"`
}

// TypingUsersMsg carries the names of everyone currently typing in a room.
type TypingUsersMsg struct {
	Type  string   `json:"type"`
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

// UnreadCountsMsg carries a connection's per-room unread counters.
type UnreadCountsMsg struct {
	Type   string         `json:"type"`
	Counts map[string]int `json:"counts"`
}

// MessageReadMsg announces a read receipt to a room.
type MessageReadMsg struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
	UserID    string `json:"userId"`
}

// MessageReactionMsg announces the new tally for one reaction kind.
type MessageReactionMsg struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
	Reaction  string `json:"reaction"`
	Count     int    `json:"count"`
}

// MessageAckMsg announces a delivery acknowledgment to a room.
type MessageAckMsg struct {
	Type      string `json:"type"`
	MessageID int64  `json:"messageId"`
	UserID    string `json:"userId"`
}

// MessageSentMsg acknowledges a send_message, private_message, or send_file
// request back to the sender.
type MessageSentMsg struct {
	Type      string `json:"type"`
	Delivered bool   `json:"delivered"`
	ID        int64  `json:"id"`
}

// RateLimitedMsg is sent when the client has exceeded a rate limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retryAfter"`
}

// ErrorMsg communicates an error condition to the client.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client event.
// It returns the event type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only event types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuthenticate:
		var m AuthenticateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveRoom:
		var m LeaveRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePrivateMessage:
		var m PrivateMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReadMessage:
		var m ReadMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReactMessage:
		var m ReactMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendFile:
		var m SendFileMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetMessages:
		var m GetMessagesMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSearchMessages:
		var m SearchMessagesMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAckMessage:
		var m AckMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server event.
// The msgType is injected into the payload under the "type" key. The payload
// is marshaled to JSON, the type field is set, and the final bytes returned.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server event: %w", err)
	}
	return out, nil
}

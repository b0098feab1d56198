// Package registry tracks authenticated connections, their identities, and
// their room memberships, along with the directory of known rooms. It is the
// authoritative answer to "who is connected and where".
package registry

import "errors"

// DefaultRoom is the room every connection joins at registration time.
const DefaultRoom = "global"

var (
	// ErrAlreadyRegistered is returned when a connection authenticates twice
	// without an intervening unregister.
	ErrAlreadyRegistered = errors.New("registry: connection already registered")

	// ErrNotFound is returned when the referenced connection is not registered.
	ErrNotFound = errors.New("registry: connection not found")
)

// Identity is the authenticated name bound to a connection. It is resolved
// once at authentication time and immutable for the connection's lifetime.
type Identity struct {
	Name   string
	ConnID string
}

// User is the externally visible view of a registered connection, as carried
// by user_list events and the REST user listing.
type User struct {
	Username string   `json:"username"`
	ID       string   `json:"id"`
	Online   bool     `json:"online"`
	Rooms    []string `json:"rooms"`
}

type member struct {
	identity Identity
	rooms    []string // join order, DefaultRoom first
}

func (m *member) inRoom(room string) bool {
	for _, r := range m.rooms {
		if r == room {
			return true
		}
	}
	return false
}

// Connections maps connection ids to identities and room memberships.
//
// It is not goroutine-safe: the coordinator owns it exclusively and
// serializes all access.
type Connections struct {
	members map[string]*member
	order   []string // registration order, for stable user lists
}

// NewConnections creates an empty connection registry.
func NewConnections() *Connections {
	return &Connections{members: make(map[string]*member)}
}

// Register inserts a new entry for the connection with membership seeded to
// the default room. It fails with ErrAlreadyRegistered if the connection is
// already present.
func (c *Connections) Register(connID string, identity Identity) error {
	if _, ok := c.members[connID]; ok {
		return ErrAlreadyRegistered
	}
	c.members[connID] = &member{
		identity: identity,
		rooms:    []string{DefaultRoom},
	}
	c.order = append(c.order, connID)
	return nil
}

// Unregister removes the connection's entry and returns its identity for
// downstream cleanup. It fails with ErrNotFound if the connection was never
// registered.
func (c *Connections) Unregister(connID string) (Identity, error) {
	m, ok := c.members[connID]
	if !ok {
		return Identity{}, ErrNotFound
	}
	delete(c.members, connID)
	for i, id := range c.order {
		if id == connID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return m.identity, nil
}

// Get returns the identity for a registered connection.
func (c *Connections) Get(connID string) (Identity, bool) {
	m, ok := c.members[connID]
	if !ok {
		return Identity{}, false
	}
	return m.identity, true
}

// AddRoom adds a room to the connection's membership set. Adding a room the
// connection is already in is a no-op, as is referencing an unknown
// connection.
func (c *Connections) AddRoom(connID, room string) {
	m, ok := c.members[connID]
	if !ok || m.inRoom(room) {
		return
	}
	m.rooms = append(m.rooms, room)
}

// RemoveRoom removes a room from the connection's membership set. Removing a
// room the connection is not in is a no-op.
func (c *Connections) RemoveRoom(connID, room string) {
	m, ok := c.members[connID]
	if !ok {
		return
	}
	for i, r := range m.rooms {
		if r == room {
			m.rooms = append(m.rooms[:i], m.rooms[i+1:]...)
			return
		}
	}
}

// InRoom reports whether the connection is currently a member of the room.
func (c *Connections) InRoom(connID, room string) bool {
	m, ok := c.members[connID]
	return ok && m.inRoom(room)
}

// MembersOf returns the identities of every registered connection whose
// membership set contains the room, in registration order.
func (c *Connections) MembersOf(room string) []Identity {
	ids := make([]Identity, 0)
	for _, connID := range c.order {
		if m := c.members[connID]; m != nil && m.inRoom(room) {
			ids = append(ids, m.identity)
		}
	}
	return ids
}

// Users returns the user_list view of all registered connections, in
// registration order.
func (c *Connections) Users() []User {
	users := make([]User, 0, len(c.order))
	for _, connID := range c.order {
		users = append(users, c.userView(connID))
	}
	return users
}

// UsersInRoom returns the user_list view restricted to members of the room.
func (c *Connections) UsersInRoom(room string) []User {
	users := make([]User, 0)
	for _, connID := range c.order {
		if m := c.members[connID]; m != nil && m.inRoom(room) {
			users = append(users, c.userView(connID))
		}
	}
	return users
}

func (c *Connections) userView(connID string) User {
	m := c.members[connID]
	rooms := make([]string, len(m.rooms))
	copy(rooms, m.rooms)
	return User{
		Username: m.identity.Name,
		ID:       connID,
		Online:   true,
		Rooms:    rooms,
	}
}

// Rooms is the directory of known room names. Rooms are created on first
// reference and never deleted.
//
// Like Connections it relies on the coordinator for serialization.
type Rooms struct {
	names []string // creation order
	seen  map[string]struct{}
}

// NewRooms creates a room directory seeded with the default room.
func NewRooms() *Rooms {
	r := &Rooms{seen: make(map[string]struct{})}
	r.Ensure(DefaultRoom)
	return r
}

// Ensure adds the room to the directory if it is not already known. It is
// idempotent.
func (r *Rooms) Ensure(room string) {
	if _, ok := r.seen[room]; ok {
		return
	}
	r.seen[room] = struct{}{}
	r.names = append(r.names, room)
}

// List returns the known room names in creation order.
func (r *Rooms) List() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

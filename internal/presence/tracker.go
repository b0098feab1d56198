// Package presence tracks which connections are currently typing in each
// room.
package presence

import "sort"

// Tracker holds the per-room typing sets, mapping connection ids to the
// typer's display name.
//
// It is not goroutine-safe: the coordinator owns it exclusively and
// serializes all access.
type Tracker struct {
	typing map[string]map[string]string // room -> connID -> name
}

// NewTracker creates an empty presence tracker.
func NewTracker() *Tracker {
	return &Tracker{typing: make(map[string]map[string]string)}
}

// SetTyping records or clears the connection's typing state for the room and
// returns the updated set of typer names for broadcast. Stopping when not
// typing is a no-op.
func (t *Tracker) SetTyping(room, connID, name string, isTyping bool) []string {
	set, ok := t.typing[room]
	if !ok {
		set = make(map[string]string)
		t.typing[room] = set
	}
	if isTyping {
		set[connID] = name
	} else {
		delete(set, connID)
	}
	return t.Typers(room)
}

// Typers returns the names currently typing in the room, sorted for stable
// broadcast payloads.
func (t *Tracker) Typers(room string) []string {
	names := make([]string, 0, len(t.typing[room]))
	for _, name := range t.typing[room] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClearConnection removes the connection from every room's typing set. It is
// invoked on disconnect.
func (t *Tracker) ClearConnection(connID string) {
	for _, set := range t.typing {
		delete(set, connID)
	}
}

// Package unread maintains per-connection, per-room unread message counters.
// A counter is incremented whenever a room message is broadcast to a member
// other than the sender, and reset to zero by that member's read receipt.
package unread

// Tracker holds the unread counters.
//
// It is not goroutine-safe: the coordinator owns it exclusively and
// serializes all access.
type Tracker struct {
	counts map[string]map[string]int // connID -> room -> count
}

// NewTracker creates an empty unread tracker.
func NewTracker() *Tracker {
	return &Tracker{counts: make(map[string]map[string]int)}
}

// IncrementForRoomExcept increments the room counter of every member
// connection except the excluded one (the sender). It returns the new
// counter value per changed connection so the caller can notify exactly the
// affected members.
func (t *Tracker) IncrementForRoomExcept(room, excludedConnID string, members []string) map[string]int {
	changed := make(map[string]int)
	for _, connID := range members {
		if connID == excludedConnID {
			continue
		}
		rooms, ok := t.counts[connID]
		if !ok {
			rooms = make(map[string]int)
			t.counts[connID] = rooms
		}
		rooms[room]++
		changed[connID] = rooms[room]
	}
	return changed
}

// Reset sets the connection's counter for the room back to zero.
func (t *Tracker) Reset(connID, room string) {
	if rooms, ok := t.counts[connID]; ok {
		rooms[room] = 0
	}
}

// Counts returns a copy of the connection's per-room counters, suitable for
// an unread_counts payload. The copy is never nil.
func (t *Tracker) Counts(connID string) map[string]int {
	out := make(map[string]int)
	for room, n := range t.counts[connID] {
		out[room] = n
	}
	return out
}

// ClearConnection drops all counters for the connection. It is invoked on
// disconnect.
func (t *Tracker) ClearConnection(connID string) {
	delete(t.counts, connID)
}

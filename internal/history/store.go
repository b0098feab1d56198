// Package history keeps the per-room bounded message log. Each room retains
// the most recent MaxRoomMessages messages in a ring buffer; older entries
// are evicted in FIFO order. The log is also the home of per-message read
// receipts and reaction tallies.
package history

import (
	"errors"
	"strings"
	"time"
)

// MaxRoomMessages is the number of recent messages retained per room.
const MaxRoomMessages = 100

// ErrMessageNotFound is returned when a room/id pair does not resolve to a
// stored message.
var ErrMessageNotFound = errors.New("history: message not found")

// FileRef describes a stored file attachment. The URL points at the file
// ingestion backend; the raw bytes are never kept in the log.
type FileRef struct {
	Filename    string `json:"filename"`
	ContentType string `json:"type"`
	URL         string `json:"url"`
}

// Message is a single chat message. Read receipts and reaction tallies are
// mutated in place on the stored record.
type Message struct {
	ID        int64          `json:"id"`
	Sender    string         `json:"sender"`
	SenderID  string         `json:"senderId"`
	Room      string         `json:"room,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Body      string         `json:"message,omitempty"`
	File      *FileRef       `json:"file,omitempty"`
	IsFile    bool           `json:"isFile,omitempty"`
	IsPrivate bool           `json:"isPrivate,omitempty"`
	Reactions map[string]int `json:"reactions"`
	ReadBy    []string       `json:"readBy"`
	Delivered bool           `json:"delivered"`
}

// readBy reports whether the connection already has a read receipt on the
// message.
func (m *Message) readBy(connID string) bool {
	for _, id := range m.ReadBy {
		if id == connID {
			return true
		}
	}
	return false
}

// roomLog is a fixed-size circular buffer of messages for one room.
type roomLog struct {
	items [MaxRoomMessages]*Message
	pos   int
	count int
}

func (l *roomLog) append(msg *Message) {
	l.items[l.pos] = msg
	l.pos = (l.pos + 1) % MaxRoomMessages
	if l.count < MaxRoomMessages {
		l.count++
	}
}

// all returns the log contents in chronological order (oldest first).
func (l *roomLog) all() []*Message {
	out := make([]*Message, l.count)
	start := (l.pos - l.count + MaxRoomMessages) % MaxRoomMessages
	for i := 0; i < l.count; i++ {
		out[i] = l.items[(start+i)%MaxRoomMessages]
	}
	return out
}

// Store owns the per-room logs and the process-wide message id sequence.
//
// It is not goroutine-safe: the coordinator owns it exclusively and
// serializes all access.
type Store struct {
	logs   map[string]*roomLog
	nextID int64
}

// NewStore creates an empty message store.
func NewStore() *Store {
	return &Store{logs: make(map[string]*roomLog)}
}

// newMessage allocates a message with the next id in the sequence and the
// creation-time invariants applied: delivered is true, reactions start empty,
// and the sender's connection id is the first read receipt.
func (s *Store) newMessage(sender, senderID string) *Message {
	s.nextID++
	return &Message{
		ID:        s.nextID,
		Sender:    sender,
		SenderID:  senderID,
		Timestamp: time.Now().UTC(),
		Reactions: make(map[string]int),
		ReadBy:    []string{senderID},
		Delivered: true,
	}
}

// NewMessage builds a room text message. The message is not stored until
// Append is called.
func (s *Store) NewMessage(sender, senderID, room, body string) *Message {
	msg := s.newMessage(sender, senderID)
	msg.Room = room
	msg.Body = body
	return msg
}

// NewFileMessage builds a room file message referencing an uploaded file.
func (s *Store) NewFileMessage(sender, senderID, room string, file *FileRef) *Message {
	msg := s.newMessage(sender, senderID)
	msg.Room = room
	msg.File = file
	msg.IsFile = true
	return msg
}

// NewPrivateMessage builds a direct message. Private messages draw ids from
// the same sequence but are never appended to a room log.
func (s *Store) NewPrivateMessage(sender, senderID, body string) *Message {
	msg := s.newMessage(sender, senderID)
	msg.Body = body
	msg.IsPrivate = true
	return msg
}

// Append pushes a message onto the room's log, evicting the oldest entry
// once the log holds MaxRoomMessages.
func (s *Store) Append(room string, msg *Message) {
	l, ok := s.logs[room]
	if !ok {
		l = &roomLog{}
		s.logs[room] = l
	}
	l.append(msg)
}

// Paginate returns one page of the room's log in chronological order, plus
// the total log length. Pages count backwards from the newest message: page 1
// is the most recent pageSize messages. Page/pageSize combinations that fall
// entirely before the start of the log yield an empty slice.
func (s *Store) Paginate(room string, page, pageSize int) ([]*Message, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}

	l, ok := s.logs[room]
	if !ok {
		return []*Message{}, 0
	}

	msgs := l.all()
	total := len(msgs)

	start := total - page*pageSize
	if start < 0 {
		start = 0
	}
	end := total - (page-1)*pageSize
	if start >= end {
		return []*Message{}, total
	}
	return msgs[start:end], total
}

// Search returns all non-file messages in the room whose body contains query
// as a literal, case-sensitive substring, in log order.
func (s *Store) Search(room, query string) []*Message {
	found := make([]*Message, 0)
	l, ok := s.logs[room]
	if !ok {
		return found
	}
	for _, msg := range l.all() {
		if msg.IsFile {
			continue
		}
		if strings.Contains(msg.Body, query) {
			found = append(found, msg)
		}
	}
	return found
}

// FindByID returns the stored message with the given id, or
// ErrMessageNotFound if the room or id does not resolve.
func (s *Store) FindByID(room string, id int64) (*Message, error) {
	l, ok := s.logs[room]
	if !ok {
		return nil, ErrMessageNotFound
	}
	for _, msg := range l.all() {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, ErrMessageNotFound
}

// MarkRead adds the connection to the message's read-by set. It is
// idempotent: the returned bool reports whether the set actually changed.
func (s *Store) MarkRead(room string, id int64, connID string) (bool, error) {
	msg, err := s.FindByID(room, id)
	if err != nil {
		return false, err
	}
	if msg.readBy(connID) {
		return false, nil
	}
	msg.ReadBy = append(msg.ReadBy, connID)
	return true, nil
}

// React increments the tally for one reaction kind on a message and returns
// the new count. Tallies only ever accumulate; there is no removal.
func (s *Store) React(room string, id int64, reaction string) (int, error) {
	msg, err := s.FindByID(room, id)
	if err != nil {
		return 0, err
	}
	msg.Reactions[reaction]++
	return msg.Reactions[reaction], nil
}

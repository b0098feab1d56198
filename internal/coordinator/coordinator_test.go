package coordinator

import (
	"testing"

	"github.com/parley/chat-server/internal/auth"
	"github.com/parley/chat-server/internal/history"
	"github.com/parley/chat-server/internal/protocol"
	"github.com/parley/chat-server/internal/registry"
)

// recorded is one outbound event captured by the fake notifier. ConnID is
// empty for broadcasts.
type recorded struct {
	ConnID  string
	Event   string
	Payload interface{}
}

type fakeNotifier struct {
	events []recorded
}

func (f *fakeNotifier) Notify(connID, event string, payload interface{}) {
	f.events = append(f.events, recorded{ConnID: connID, Event: event, Payload: payload})
}

func (f *fakeNotifier) NotifyAll(event string, payload interface{}) {
	f.events = append(f.events, recorded{Event: event, Payload: payload})
}

func (f *fakeNotifier) reset() { f.events = nil }

// find returns the first recorded event matching the connection and type.
func (f *fakeNotifier) find(connID, event string) (recorded, bool) {
	for _, r := range f.events {
		if r.ConnID == connID && r.Event == event {
			return r, true
		}
	}
	return recorded{}, false
}

func (f *fakeNotifier) count(connID, event string) int {
	n := 0
	for _, r := range f.events {
		if r.ConnID == connID && r.Event == event {
			n++
		}
	}
	return n
}

func newTestCoordinator() (*Coordinator, *fakeNotifier) {
	n := &fakeNotifier{}
	return New(auth.NewManager("test-secret"), n, nil), n
}

func authUser(t *testing.T, c *Coordinator, n *fakeNotifier, connID, name string) {
	t.Helper()
	c.Authenticate(connID, name, "")
	r, ok := n.find(connID, protocol.TypeAuthResult)
	if !ok {
		t.Fatalf("no auth_result for %s", connID)
	}
	if res := r.Payload.(protocol.AuthResultMsg); !res.Success {
		t.Fatalf("authentication failed for %s: %s", connID, res.Error)
	}
}

func TestAuthenticateJoinsDefaultRoomAndIssuesToken(t *testing.T) {
	c, n := newTestCoordinator()

	c.Authenticate("conn-a", "alice", "")

	r, ok := n.find("conn-a", protocol.TypeAuthResult)
	if !ok {
		t.Fatal("expected auth_result")
	}
	res := r.Payload.(protocol.AuthResultMsg)
	if !res.Success || res.ID != "conn-a" || res.Token == "" {
		t.Fatalf("unexpected auth_result: %+v", res)
	}

	if _, ok := n.find("", protocol.TypeUserJoined); !ok {
		t.Error("expected user_joined broadcast")
	}
	list, ok := n.find("", protocol.TypeUserList)
	if !ok {
		t.Fatal("expected user_list broadcast")
	}
	users := list.Payload.(protocol.UserListMsg).Users
	if len(users) != 1 || users[0].Username != "alice" {
		t.Fatalf("unexpected user list: %+v", users)
	}
	if len(users[0].Rooms) != 1 || users[0].Rooms[0] != registry.DefaultRoom {
		t.Fatalf("expected default room membership, got %v", users[0].Rooms)
	}
}

func TestAuthenticateWithIssuedToken(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")

	token := func() string {
		r, _ := n.find("conn-a", protocol.TypeAuthResult)
		return r.Payload.(protocol.AuthResultMsg).Token
	}()
	n.reset()

	// Reconnect with the token only.
	c.Authenticate("conn-b", "", token)

	r, ok := n.find("conn-b", protocol.TypeAuthResult)
	if !ok {
		t.Fatal("expected auth_result")
	}
	if res := r.Payload.(protocol.AuthResultMsg); !res.Success {
		t.Fatalf("token authentication failed: %s", res.Error)
	}
	joined, _ := n.find("", protocol.TypeUserJoined)
	if joined.Payload.(protocol.UserPresenceMsg).Username != "alice" {
		t.Errorf("expected identity resolved from token, got %+v", joined.Payload)
	}
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	c, n := newTestCoordinator()

	c.Authenticate("conn-a", "", "bogus")

	r, _ := n.find("conn-a", protocol.TypeAuthResult)
	if res := r.Payload.(protocol.AuthResultMsg); res.Success {
		t.Fatal("expected failure for bad token")
	}
	if c.IsAuthenticated("conn-a") {
		t.Error("connection must not be registered after failed auth")
	}
}

func TestAuthenticateRejectsEmptyCredentials(t *testing.T) {
	c, n := newTestCoordinator()

	c.Authenticate("conn-a", "", "")

	r, ok := n.find("conn-a", protocol.TypeAuthResult)
	if !ok {
		t.Fatal("expected auth_result")
	}
	if res := r.Payload.(protocol.AuthResultMsg); res.Success {
		t.Fatal("expected failure without username or token")
	}
}

func TestAuthenticateTwiceRejected(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	n.reset()

	c.Authenticate("conn-a", "mallory", "")

	r, _ := n.find("conn-a", protocol.TypeAuthResult)
	res := r.Payload.(protocol.AuthResultMsg)
	if res.Success || res.Error != "already authenticated" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestUnauthenticatedEventsRejected(t *testing.T) {
	c, n := newTestCoordinator()

	c.SendMessage("conn-x", "", "hello")

	r, ok := n.find("conn-x", protocol.TypeError)
	if !ok {
		t.Fatal("expected error event")
	}
	if r.Payload.(protocol.ErrorMsg).Code != "not_authenticated" {
		t.Fatalf("unexpected error: %+v", r.Payload)
	}
}

func TestSendMessageBroadcastsAndBumpsUnread(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	authUser(t, c, n, "conn-b", "bob")
	n.reset()

	c.SendMessage("conn-a", "", "hello world")

	// Both default-room members receive the message.
	for _, connID := range []string{"conn-a", "conn-b"} {
		r, ok := n.find(connID, protocol.TypeReceiveMessage)
		if !ok {
			t.Fatalf("expected receive_message for %s", connID)
		}
		msg := r.Payload.(*history.Message)
		if msg.Body != "hello world" || msg.Sender != "alice" || msg.Room != registry.DefaultRoom {
			t.Fatalf("unexpected message: %+v", msg)
		}
	}

	// Only the non-sender gets an unread bump.
	r, ok := n.find("conn-b", protocol.TypeUnreadCounts)
	if !ok {
		t.Fatal("expected unread_counts for conn-b")
	}
	if counts := r.Payload.(protocol.UnreadCountsMsg).Counts; counts[registry.DefaultRoom] != 1 {
		t.Fatalf("expected unread 1, got %v", counts)
	}
	if _, ok := n.find("conn-a", protocol.TypeUnreadCounts); ok {
		t.Error("sender must not get an unread bump")
	}

	// Sender gets the delivery ack.
	ack, ok := n.find("conn-a", protocol.TypeMessageSent)
	if !ok {
		t.Fatal("expected message_sent ack")
	}
	if sent := ack.Payload.(protocol.MessageSentMsg); !sent.Delivered || sent.ID == 0 {
		t.Fatalf("unexpected ack: %+v", sent)
	}
}

func TestSendMessageRejectsInvalidBody(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	n.reset()

	c.SendMessage("conn-a", "", "")

	r, ok := n.find("conn-a", protocol.TypeError)
	if !ok {
		t.Fatal("expected error event")
	}
	if r.Payload.(protocol.ErrorMsg).Code != "invalid_message" {
		t.Fatalf("unexpected error: %+v", r.Payload)
	}
	if _, ok := n.find("conn-a", protocol.TypeMessageSent); ok {
		t.Error("invalid message must not be acknowledged")
	}
}

func TestRoomScopedDelivery(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	authUser(t, c, n, "conn-b", "bob")
	n.reset()

	c.JoinRoom("conn-a", "dev")
	if r, ok := n.find("conn-a", protocol.TypeRoomJoined); !ok {
		t.Fatal("expected room_joined")
	} else if r.Payload.(protocol.RoomJoinedMsg).Room != "dev" {
		t.Fatalf("unexpected room: %+v", r.Payload)
	}
	n.reset()

	c.SendMessage("conn-a", "dev", "dev only")

	if _, ok := n.find("conn-a", protocol.TypeReceiveMessage); !ok {
		t.Error("room member should receive the message")
	}
	if _, ok := n.find("conn-b", protocol.TypeReceiveMessage); ok {
		t.Error("non-member must not receive a room message")
	}
	if _, ok := n.find("conn-b", protocol.TypeUnreadCounts); ok {
		t.Error("non-member must not get an unread bump")
	}
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	authUser(t, c, n, "conn-b", "bob")
	c.JoinRoom("conn-a", "dev")
	c.JoinRoom("conn-b", "dev")
	c.LeaveRoom("conn-b", "dev")
	n.reset()

	c.SendMessage("conn-a", "dev", "after leave")

	if _, ok := n.find("conn-b", protocol.TypeReceiveMessage); ok {
		t.Error("departed member must not receive room messages")
	}
}

func TestReadMessageResetsUnreadAndBroadcasts(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	authUser(t, c, n, "conn-b", "bob")
	n.reset()

	c.SendMessage("conn-a", "", "hello")
	msgID := func() int64 {
		r, _ := n.find("conn-a", protocol.TypeMessageSent)
		return r.Payload.(protocol.MessageSentMsg).ID
	}()
	n.reset()

	c.ReadMessage("conn-b", "", msgID)

	r, ok := n.find("conn-a", protocol.TypeMessageRead)
	if !ok {
		t.Fatal("expected message_read broadcast to the room")
	}
	read := r.Payload.(protocol.MessageReadMsg)
	if read.MessageID != msgID || read.UserID != "conn-b" {
		t.Fatalf("unexpected receipt: %+v", read)
	}

	counts, ok := n.find("conn-b", protocol.TypeUnreadCounts)
	if !ok {
		t.Fatal("expected unread_counts after read")
	}
	if got := counts.Payload.(protocol.UnreadCountsMsg).Counts; got[registry.DefaultRoom] != 0 {
		t.Fatalf("expected counter reset, got %v", got)
	}

	// A second receipt for the same message is a silent no-op.
	n.reset()
	c.ReadMessage("conn-b", "", msgID)
	if len(n.events) != 0 {
		t.Fatalf("expected silence on re-read, got %+v", n.events)
	}
}

func TestReadMessageUnknownIDIsSilent(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	n.reset()

	c.ReadMessage("conn-a", "", 9999)

	if len(n.events) != 0 {
		t.Fatalf("expected no events, got %+v", n.events)
	}
}

func TestReactMessageBroadcastsTally(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	authUser(t, c, n, "conn-b", "bob")
	n.reset()

	c.SendMessage("conn-a", "", "react to me")
	msgID := func() int64 {
		r, _ := n.find("conn-a", protocol.TypeMessageSent)
		return r.Payload.(protocol.MessageSentMsg).ID
	}()
	n.reset()

	c.ReactMessage("conn-b", "", msgID, "👍")
	c.ReactMessage("conn-a", "", msgID, "👍")

	if got := n.count("conn-b", protocol.TypeMessageReaction); got != 2 {
		t.Fatalf("expected 2 reaction broadcasts, got %d", got)
	}
	// The second broadcast carries the accumulated tally.
	last := n.events[len(n.events)-1].Payload.(protocol.MessageReactionMsg)
	if last.Reaction != "👍" || last.Count != 2 {
		t.Fatalf("unexpected tally: %+v", last)
	}
}

func TestReactUnknownMessageReportsError(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	n.reset()

	c.ReactMessage("conn-a", "", 9999, "👍")

	r, ok := n.find("conn-a", protocol.TypeError)
	if !ok {
		t.Fatal("expected error event")
	}
	if r.Payload.(protocol.ErrorMsg).Code != "message_not_found" {
		t.Fatalf("unexpected error: %+v", r.Payload)
	}
}

func TestPrivateMessageDelivery(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	authUser(t, c, n, "conn-b", "bob")
	authUser(t, c, n, "conn-c", "carol")
	n.reset()

	c.SendPrivateMessage("conn-a", "conn-b", "psst")

	for _, connID := range []string{"conn-a", "conn-b"} {
		r, ok := n.find(connID, protocol.TypePrivateMessage)
		if !ok {
			t.Fatalf("expected private_message for %s", connID)
		}
		msg := r.Payload.(*history.Message)
		if msg.Body != "psst" || !msg.IsPrivate {
			t.Fatalf("unexpected message: %+v", msg)
		}
	}
	if _, ok := n.find("conn-c", protocol.TypePrivateMessage); ok {
		t.Error("third party must not see a private message")
	}
	if _, ok := n.find("conn-a", protocol.TypeMessageSent); !ok {
		t.Error("sender should get a delivery ack")
	}

	// Private traffic never lands in a room log.
	n.reset()
	c.GetMessages("conn-a", "", 1, 20)
	r, _ := n.find("conn-a", protocol.TypeMessages)
	if got := r.Payload.(messagesPayload); got.Total != 0 {
		t.Fatalf("expected empty room log, got total %d", got.Total)
	}
}

func TestTypingBroadcast(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	authUser(t, c, n, "conn-b", "bob")
	n.reset()

	c.SetTyping("conn-a", "", true)

	r, ok := n.find("conn-b", protocol.TypeTypingUsers)
	if !ok {
		t.Fatal("expected typing_users broadcast")
	}
	typing := r.Payload.(protocol.TypingUsersMsg)
	if len(typing.Users) != 1 || typing.Users[0] != "alice" {
		t.Fatalf("unexpected typers: %+v", typing)
	}

	n.reset()
	c.SetTyping("conn-a", "", false)
	r, _ = n.find("conn-b", protocol.TypeTypingUsers)
	if got := r.Payload.(protocol.TypingUsersMsg).Users; len(got) != 0 {
		t.Fatalf("expected empty typer set, got %v", got)
	}
}

func TestGetMessagesPagination(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	for i := 0; i < 30; i++ {
		c.SendMessage("conn-a", "", "message body")
	}
	n.reset()

	c.GetMessages("conn-a", "", 0, 0) // defaults: page 1, size 20

	r, ok := n.find("conn-a", protocol.TypeMessages)
	if !ok {
		t.Fatal("expected messages response")
	}
	got := r.Payload.(messagesPayload)
	if got.Total != 30 || len(got.Messages) != 20 {
		t.Fatalf("expected 20 of 30, got %d of %d", len(got.Messages), got.Total)
	}
}

func TestSearchMessages(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	c.SendMessage("conn-a", "", "the quick brown fox")
	c.SendMessage("conn-a", "", "something else")
	n.reset()

	c.SearchMessages("conn-a", "", "quick")

	r, ok := n.find("conn-a", protocol.TypeSearchResults)
	if !ok {
		t.Fatal("expected search_results")
	}
	got := r.Payload.(searchPayload)
	if len(got.Messages) != 1 || got.Messages[0].Body != "the quick brown fox" {
		t.Fatalf("unexpected results: %+v", got.Messages)
	}
}

func TestAckMessageBroadcasts(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	authUser(t, c, n, "conn-b", "bob")
	n.reset()

	c.AckMessage("conn-b", "", 42)

	r, ok := n.find("conn-a", protocol.TypeMessageAck)
	if !ok {
		t.Fatal("expected message_ack broadcast")
	}
	ack := r.Payload.(protocol.MessageAckMsg)
	if ack.MessageID != 42 || ack.UserID != "conn-b" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestSendFileBroadcastsWithoutUnreadBump(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	authUser(t, c, n, "conn-b", "bob")
	n.reset()

	file := &history.FileRef{Filename: "pic.png", ContentType: "image/png", URL: "http://files/pic.png"}
	c.SendFile("conn-a", "", file)

	r, ok := n.find("conn-b", protocol.TypeReceiveMessage)
	if !ok {
		t.Fatal("expected receive_message for the file")
	}
	msg := r.Payload.(*history.Message)
	if !msg.IsFile || msg.File == nil || msg.File.URL != "http://files/pic.png" {
		t.Fatalf("unexpected file message: %+v", msg)
	}
	if _, ok := n.find("conn-b", protocol.TypeUnreadCounts); ok {
		t.Error("file shares do not bump unread counters")
	}
}

func TestSendFileRequiresReference(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	n.reset()

	c.SendFile("conn-a", "", nil)

	r, ok := n.find("conn-a", protocol.TypeError)
	if !ok {
		t.Fatal("expected error event")
	}
	if r.Payload.(protocol.ErrorMsg).Code != "invalid_message" {
		t.Fatalf("unexpected error: %+v", r.Payload)
	}
}

func TestDisconnectCleansUpAndIsIdempotent(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")
	authUser(t, c, n, "conn-b", "bob")
	c.SetTyping("conn-a", "", true)
	c.SendMessage("conn-b", "", "build up unread for alice")
	n.reset()

	c.Disconnect("conn-a")

	left, ok := n.find("", protocol.TypeUserLeft)
	if !ok {
		t.Fatal("expected user_left broadcast")
	}
	if got := left.Payload.(protocol.UserPresenceMsg); got.Username != "alice" || got.ID != "conn-a" {
		t.Fatalf("unexpected user_left: %+v", got)
	}
	list, ok := n.find("", protocol.TypeUserList)
	if !ok {
		t.Fatal("expected user_list broadcast")
	}
	if users := list.Payload.(protocol.UserListMsg).Users; len(users) != 1 || users[0].Username != "bob" {
		t.Fatalf("unexpected user list: %+v", users)
	}
	if c.IsAuthenticated("conn-a") {
		t.Error("expected connection unregistered")
	}

	// Typing footprint is gone.
	n.reset()
	c.SetTyping("conn-b", "", false)
	r, _ := n.find("conn-b", protocol.TypeTypingUsers)
	if got := r.Payload.(protocol.TypingUsersMsg).Users; len(got) != 0 {
		t.Fatalf("expected no lingering typers, got %v", got)
	}

	// Second disconnect is silent.
	n.reset()
	c.Disconnect("conn-a")
	if len(n.events) != 0 {
		t.Fatalf("expected silence on repeat disconnect, got %+v", n.events)
	}
}

func TestRoomsDirectoryGrowsOnJoin(t *testing.T) {
	c, n := newTestCoordinator()
	authUser(t, c, n, "conn-a", "alice")

	c.JoinRoom("conn-a", "dev")
	c.JoinRoom("conn-a", "random")

	rooms := c.Rooms()
	if len(rooms) != 3 || rooms[0] != registry.DefaultRoom {
		t.Fatalf("unexpected rooms: %v", rooms)
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parley/chat-server/internal/auth"
	"github.com/parley/chat-server/internal/coordinator"
)

type nopNotifier struct{}

func (nopNotifier) Notify(connID, event string, payload interface{}) {}
func (nopNotifier) NotifyAll(event string, payload interface{})      {}

type fakeFileStore struct {
	saved    string
	failWith error
}

func (f *fakeFileStore) Save(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	if f.failWith != nil {
		return "", f.failWith
	}
	f.saved = filename
	return "http://files.test/" + filename, nil
}

func newTestHandler(t *testing.T) (*Handler, *coordinator.Coordinator, *fakeFileStore) {
	t.Helper()
	coord := coordinator.New(auth.NewManager("test-secret"), nopNotifier{}, nil)
	files := &fakeFileStore{}
	return NewHandler(coord, files), coord, files
}

func TestHandleRooms(t *testing.T) {
	h, coord, _ := newTestHandler(t)
	coord.Authenticate("conn-a", "alice", "")
	coord.JoinRoom("conn-a", "dev")

	rec := httptest.NewRecorder()
	h.handleRooms(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var rooms []string
	if err := json.Unmarshal(rec.Body.Bytes(), &rooms); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(rooms) != 2 || rooms[0] != "global" || rooms[1] != "dev" {
		t.Errorf("unexpected rooms: %v", rooms)
	}
}

func TestHandleUsers(t *testing.T) {
	h, coord, _ := newTestHandler(t)
	coord.Authenticate("conn-a", "alice", "")

	rec := httptest.NewRecorder()
	h.handleUsers(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	var users []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &users); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(users) != 1 || users[0]["username"] != "alice" {
		t.Errorf("unexpected users: %v", users)
	}
}

func TestHandleMessages(t *testing.T) {
	h, coord, _ := newTestHandler(t)
	coord.Authenticate("conn-a", "alice", "")
	for i := 0; i < 5; i++ {
		coord.SendMessage("conn-a", "", "hello")
	}

	rec := httptest.NewRecorder()
	h.handleMessages(rec, httptest.NewRequest(http.MethodGet, "/api/messages/global?page=1&pageSize=3", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Messages []json.RawMessage `json:"messages"`
		Total    int               `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Total != 5 || len(resp.Messages) != 3 {
		t.Errorf("expected 3 of 5, got %d of %d", len(resp.Messages), resp.Total)
	}
}

func TestHandleMessagesRequiresRoom(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.handleMessages(rec, httptest.NewRequest(http.MethodGet, "/api/messages/", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleUpload(t *testing.T) {
	h, _, files := newTestHandler(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "pic.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("not really a png"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.handleUpload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		URL      string `json:"url"`
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Filename != "pic.png" || resp.URL != "http://files.test/pic.png" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if files.saved != "pic.png" {
		t.Errorf("expected store to receive pic.png, got %q", files.saved)
	}
}

func TestHandleUploadRequiresFile(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
	rec := httptest.NewRecorder()
	h.handleUpload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMethodsEnforced(t *testing.T) {
	h, _, _ := newTestHandler(t)

	tests := []struct {
		method  string
		handler http.HandlerFunc
		target  string
	}{
		{http.MethodPost, h.handleRooms, "/api/rooms"},
		{http.MethodPost, h.handleUsers, "/api/users"},
		{http.MethodPost, h.handleMessages, "/api/messages/global"},
		{http.MethodGet, h.handleUpload, "/api/upload"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		tt.handler(rec, httptest.NewRequest(tt.method, tt.target, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tt.method, tt.target, rec.Code)
		}
	}
}

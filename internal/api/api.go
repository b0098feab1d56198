// Package api exposes the REST side of the chat server: room and user
// listings, paginated room history, and file upload. The handlers are
// read-only views over the coordinator's state, except for upload, which
// stores the file and returns a URL for a subsequent send_file event.
package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/parley/chat-server/internal/coordinator"
	"github.com/parley/chat-server/internal/upload"
)

// MaxUploadBytes caps the size of an uploaded file.
const MaxUploadBytes = 10 << 20 // 10 MiB

// Handler serves the REST API.
type Handler struct {
	coord *coordinator.Coordinator
	files upload.FileStore
}

// NewHandler creates a REST handler over the coordinator and file store.
func NewHandler(coord *coordinator.Coordinator, files upload.FileStore) *Handler {
	return &Handler{coord: coord, files: files}
}

// Register mounts the REST routes on the mux.
func (h *Handler) Register(register func(pattern string, handler http.Handler)) {
	register("/api/rooms", http.HandlerFunc(h.handleRooms))
	register("/api/users", http.HandlerFunc(h.handleUsers))
	register("/api/messages/", http.HandlerFunc(h.handleMessages))
	register("/api/upload", http.HandlerFunc(h.handleUpload))
}

// handleRooms returns the known room names in creation order.
func (h *Handler) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.coord.Rooms())
}

// handleUsers returns the current user list.
func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.coord.Users())
}

// handleMessages returns one page of a room's history. The room name is the
// trailing path segment: /api/messages/{room}?page=1&pageSize=20.
func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	room := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	if room == "" || strings.Contains(room, "/") {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", 20)

	msgs, total := h.coord.Messages(room, page, pageSize)
	writeJSON(w, struct {
		Messages interface{} `json:"messages"`
		Total    int         `json:"total"`
	}{msgs, total})
}

// handleUpload accepts a multipart file upload and returns the stored URL.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, `{"error":"no file uploaded"}`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, `{"error":"failed to read file"}`, http.StatusBadRequest)
		return
	}

	url, err := h.files.Save(r.Context(), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		log.Printf("api: upload failed filename=%q: %v", header.Filename, err)
		http.Error(w, `{"error":"upload failed"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, struct {
		URL      string `json:"url"`
		Filename string `json:"filename"`
	}{url, header.Filename})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

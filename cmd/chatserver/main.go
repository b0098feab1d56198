package main

import (
	"context"
	"encoding/base64"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parley/chat-server/internal/api"
	"github.com/parley/chat-server/internal/auth"
	"github.com/parley/chat-server/internal/coordinator"
	"github.com/parley/chat-server/internal/history"
	"github.com/parley/chat-server/internal/messaging"
	"github.com/parley/chat-server/internal/metrics"
	"github.com/parley/chat-server/internal/protocol"
	"github.com/parley/chat-server/internal/ratelimit"
	"github.com/parley/chat-server/internal/upload"
	"github.com/parley/chat-server/internal/ws"
)

// serverNotifier adapts the WebSocket server to the coordinator's Notifier
// interface: it serializes events and writes them to one or all connections.
type serverNotifier struct {
	server *ws.Server
}

func (n *serverNotifier) Notify(connID, event string, payload interface{}) {
	data, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		log.Printf("notify: failed to build %s event: %v", event, err)
		return
	}
	// Delivery failures are expected for connections mid-disconnect.
	_ = n.server.SendMessage(connID, data)
}

func (n *serverNotifier) NotifyAll(event string, payload interface{}) {
	data, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		log.Printf("notify: failed to build %s event: %v", event, err)
		return
	}
	n.server.Broadcast(data)
}

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "supersecret"
		log.Printf("JWT_SECRET not set, using development default")
	}
	tokens := auth.NewManager(jwtSecret)

	// --- Redis (optional, enables rate limiting) ---
	var limiter *ratelimit.Limiter
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to Redis at %s: %v", redisAddr, err)
		}
		limiter = ratelimit.NewLimiter(client)
	}

	// --- NATS (optional, mirrors room events for external consumers) ---
	var tap coordinator.Tap
	var natsTap *messaging.Tap
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = natsURL
		t, err := messaging.NewTap(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		natsTap = t
		tap = t
	}

	// --- File storage (MinIO when configured, inline data URLs otherwise) ---
	var files upload.FileStore = upload.InlineStore{}
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		minioConfig := upload.MinioConfig{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    os.Getenv("MINIO_BUCKET"),
			UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
		}
		if minioConfig.Bucket == "" {
			minioConfig.Bucket = "chat-uploads"
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := upload.NewMinioStore(ctx, minioConfig)
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to MinIO: %v", err)
		}
		files = store
	}

	log.Printf("chat server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  rate_limiting:   %v", limiter != nil)
	log.Printf("  nats_tap:        %v", natsTap != nil)

	dispatcher := ws.NewMessageDispatcher(nil, limiter)
	server := ws.NewServer(config, limiter, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	coord := coordinator.New(tokens, &serverNotifier{server: server}, tap)
	server.SetOnDisconnect(coord.Disconnect)

	// -----------------------------------------------------------------------
	// Event handlers
	// -----------------------------------------------------------------------

	dispatcher.Register(protocol.TypeAuthenticate, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.AuthenticateMsg)
		if !ok {
			return
		}
		coord.Authenticate(conn.ID, m.Username, m.Token)
	})

	dispatcher.Register(protocol.TypeJoinRoom, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.JoinRoomMsg)
		if !ok {
			return
		}
		coord.JoinRoom(conn.ID, m.Room)
	})

	dispatcher.Register(protocol.TypeLeaveRoom, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.LeaveRoomMsg)
		if !ok {
			return
		}
		coord.LeaveRoom(conn.ID, m.Room)
	})

	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		coord.SendMessage(conn.ID, m.Room, m.Message)
	})

	dispatcher.Register(protocol.TypePrivateMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.PrivateMessageMsg)
		if !ok {
			return
		}
		coord.SendPrivateMessage(conn.ID, m.To, m.Message)
	})

	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		coord.SetTyping(conn.ID, m.Room, m.IsTyping)
	})

	dispatcher.Register(protocol.TypeReadMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.ReadMessageMsg)
		if !ok {
			return
		}
		coord.ReadMessage(conn.ID, m.Room, m.MessageID)
	})

	dispatcher.Register(protocol.TypeReactMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.ReactMessageMsg)
		if !ok {
			return
		}
		coord.ReactMessage(conn.ID, m.Room, m.MessageID, m.Reaction)
	})

	// send_file uploads the payload before handing the event to the
	// coordinator, so no coordinator lock is held across the storage call.
	dispatcher.Register(protocol.TypeSendFile, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SendFileMsg)
		if !ok {
			return
		}
		if !coord.IsAuthenticated(conn.ID) {
			coord.SendFile(conn.ID, m.Room, nil) // reports not_authenticated
			return
		}

		payload := m.File
		// Tolerate data URLs from browser FileReader output.
		if i := strings.Index(payload, ";base64,"); i >= 0 {
			payload = payload[i+len(";base64,"):]
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			log.Printf("send_file: bad base64 from conn=%s: %v", conn.ID, err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		url, err := files.Save(ctx, m.Filename, m.FileType, data)
		cancel()
		if err != nil {
			log.Printf("send_file: upload failed conn=%s filename=%q: %v", conn.ID, m.Filename, err)
			return
		}

		coord.SendFile(conn.ID, m.Room, &history.FileRef{
			Filename:    m.Filename,
			ContentType: m.FileType,
			URL:         url,
		})
	})

	dispatcher.Register(protocol.TypeGetMessages, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.GetMessagesMsg)
		if !ok {
			return
		}
		coord.GetMessages(conn.ID, m.Room, m.Page, m.PageSize)
	})

	dispatcher.Register(protocol.TypeSearchMessages, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SearchMessagesMsg)
		if !ok {
			return
		}
		coord.SearchMessages(conn.ID, m.Room, m.Query)
	})

	dispatcher.Register(protocol.TypeAckMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.AckMessageMsg)
		if !ok {
			return
		}
		coord.AckMessage(conn.ID, m.Room, m.MessageID)
	})

	// REST API and metrics share the WebSocket server's mux.
	restHandler := api.NewHandler(coord, files)
	restHandler.Register(server.Handle)
	server.Handle("/metrics", metrics.Handler())

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if natsTap != nil {
			natsTap.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

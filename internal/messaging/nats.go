// Package messaging mirrors room broadcasts onto NATS subjects so that
// out-of-process consumers (moderation tooling, analytics) can observe chat
// traffic without touching the coordinator. Events for room R are published
// to "rooms.R"; delivery is best effort and never blocks an event handler.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectRooms is the subject prefix for mirrored room events.
const SubjectRooms = "rooms"

// tapQueueSize bounds the number of events waiting to be published. When the
// queue is full, new events are dropped rather than stalling the coordinator.
const tapQueueSize = 1024

// RoomEventPayload is the JSON document published for each mirrored event.
type RoomEventPayload struct {
	Room    string      `json:"room"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Ts      int64       `json:"ts"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "chat-server",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Tap publishes mirrored room events to NATS from a single background
// goroutine.
type Tap struct {
	conn  *nats.Conn
	queue chan RoomEventPayload
	done  chan struct{}
}

// NewTap connects to NATS and starts the publisher goroutine. It returns an
// error if the initial connection fails.
func NewTap(config NATSConfig) (*Tap, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("messaging: nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("messaging: nats reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}
	log.Printf("messaging: connected to %s", nc.ConnectedUrl())

	t := &Tap{
		conn:  nc,
		queue: make(chan RoomEventPayload, tapQueueSize),
		done:  make(chan struct{}),
	}
	go t.run()
	return t, nil
}

// RoomEvent enqueues an event for publication. It never blocks: when the
// queue is full the event is dropped.
func (t *Tap) RoomEvent(room, event string, payload interface{}) {
	select {
	case t.queue <- RoomEventPayload{Room: room, Event: event, Payload: payload, Ts: time.Now().Unix()}:
	default:
		log.Printf("messaging: tap queue full, dropping %s event for room=%s", event, room)
	}
}

// run drains the queue and publishes each event to rooms.<room>.
func (t *Tap) run() {
	for {
		select {
		case <-t.done:
			return
		case ev := <-t.queue:
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("messaging: marshal room event: %v", err)
				continue
			}
			if err := t.conn.Publish(SubjectRooms+"."+ev.Room, data); err != nil {
				log.Printf("messaging: publish room=%s: %v", ev.Room, err)
			}
		}
	}
}

// Close stops the publisher and drains the NATS connection.
func (t *Tap) Close() {
	close(t.done)
	if err := t.conn.Drain(); err != nil {
		log.Printf("messaging: connection drain: %v", err)
	}
	log.Printf("messaging: tap closed")
}

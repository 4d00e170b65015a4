package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"campusRobotDelivery/internal/events"
	"campusRobotDelivery/internal/logger"
)

const writeWait = 5 * time.Second

// Subscriber is satisfied by events.Bus.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// SnapshotSource provides the state sent to newly connected clients.
type SnapshotSource interface {
	Snapshot() Snapshot
}

// frame is what clients receive: the topic and the raw event payload.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Hub fans fleet events out to websocket clients.
type Hub struct {
	source SnapshotSource
	log    logrus.FieldLogger

	clients    map[*websocket.Conn]bool
	broadcast  chan frame
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.Mutex

	upgrader websocket.Upgrader
}

func NewHub(source SnapshotSource, log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logger.GetAppLogger()
	}
	return &Hub{
		source:     source,
		log:        log.WithField("component", "telemetry_hub"),
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan frame, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run serves register, unregister and broadcast until ctx is done, then
// closes every client. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				_ = conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			if h.source != nil {
				if data, err := json.Marshal(h.source.Snapshot()); err == nil {
					h.write(conn, frame{Type: "snapshot", Data: data})
				}
			}
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				_ = conn.Close()
			}
			h.mu.Unlock()
		case f := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				h.writeLocked(conn, f)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeLocked(conn, f)
}

func (h *Hub) writeLocked(conn *websocket.Conn, f frame) {
	if _, ok := h.clients[conn]; !ok {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(f); err != nil {
		h.log.WithError(err).Debug("ws write failed; dropping client")
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Forward relays the fleet topics from the bus into the hub until ctx is done.
func (h *Hub) Forward(ctx context.Context, sub Subscriber) error {
	for _, topic := range []string{events.TopicFleetTick, events.TopicFleetUpdated, events.TopicOrderStatusChanged} {
		msgs, err := sub.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		go h.relay(ctx, topic, msgs)
	}
	return nil
}

func (h *Hub) relay(ctx context.Context, topic string, msgs <-chan *message.Message) {
	for msg := range msgs {
		msg.Ack()
		select {
		case h.broadcast <- frame{Type: topic, Data: json.RawMessage(msg.Payload)}:
		case <-ctx.Done():
			return
		case <-h.done:
			return
		}
	}
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects. Incoming messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go h.readPump(conn)
}

func (h *Hub) readPump(conn *websocket.Conn) {
	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/backsoul/leadquiz/pkg/logger"
	"github.com/fasthttp/websocket"
)

// writeWait bounds one write so a stalled client cannot hold up the hub
const writeWait = 5 * time.Second

// OperatorsTopic carries alerts for logged-in dashboard users
const OperatorsTopic = "operators"

// SessionTopic carries timer and completion events of one session
func SessionTopic(sessionID string) string { return "session:" + sessionID }

// Client is the part of a websocket connection the hub writes to
type Client interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type subscription struct {
	topic  string
	client Client
}

type envelope struct {
	topic string
	data  []byte
}

// Hub fans messages out to the clients subscribed to a topic. All writes
// happen on the Run goroutine, so each connection has a single writer.
type Hub struct {
	topics     map[string]map[Client]bool
	broadcast  chan envelope
	register   chan subscription
	unregister chan subscription
	done       chan struct{}
	mutex      sync.RWMutex
	log        *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		topics:     make(map[string]map[Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan subscription),
		unregister: make(chan subscription),
		done:       make(chan struct{}),
		log:        log.With("component", "websocket_hub"),
	}
}

// Run serves the hub until ctx ends. It must be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for _, clients := range h.topics {
				for c := range clients {
					_ = c.Close()
				}
			}
			h.topics = make(map[string]map[Client]bool)
			h.mutex.Unlock()
			return

		case sub := <-h.register:
			h.mutex.Lock()
			clients, ok := h.topics[sub.topic]
			if !ok {
				clients = make(map[Client]bool)
				h.topics[sub.topic] = clients
			}
			clients[sub.client] = true
			n := len(clients)
			h.mutex.Unlock()
			h.log.Debug("websocket client connected", "topic", sub.topic, "clients", n)

		case sub := <-h.unregister:
			h.mutex.Lock()
			h.drop(sub.topic, sub.client)
			h.mutex.Unlock()
			h.log.Debug("websocket client disconnected", "topic", sub.topic)

		case msg := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.topics[msg.topic] {
				_ = c.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					h.log.Warn("error sending websocket message", "topic", msg.topic, "error", err)
					h.drop(msg.topic, c)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// drop must be called with the mutex held
func (h *Hub) drop(topic string, c Client) {
	clients, ok := h.topics[topic]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	_ = c.Close()
	if len(clients) == 0 {
		delete(h.topics, topic)
	}
}

// Register subscribes c to topic. Once the hub has stopped, c is closed instead.
func (h *Hub) Register(topic string, c Client) {
	select {
	case h.register <- subscription{topic: topic, client: c}:
	case <-h.done:
		_ = c.Close()
	}
}

// Unregister removes and closes c. It returns at once when the hub has stopped.
func (h *Hub) Unregister(topic string, c Client) {
	select {
	case h.unregister <- subscription{topic: topic, client: c}:
	case <-h.done:
	}
}

// Subscribers reports how many clients listen on topic
func (h *Hub) Subscribers(topic string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.topics[topic])
}

// Publish queues a message for topic. It never blocks: when the queue is
// full the message is dropped and logged.
func (h *Hub) Publish(topic, msgType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.log.Error("error serializing websocket message", "type", msgType, "error", err)
		return
	}
	select {
	case h.broadcast <- envelope{topic: topic, data: payload}:
	default:
		h.log.Warn("websocket queue full, dropping message", "topic", topic, "type", msgType)
	}
}

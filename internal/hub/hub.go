// Package hub fans call events out to connected displays and room tablets.
package hub

import (
	"context"
	"encoding/json"
	"expvar"
	"sync"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/rs/zerolog/log"
)

var (
	clientsConnected = expvar.NewInt("hub_clients")
	messagesDropped  = expvar.NewInt("hub_messages_dropped_total")
)

const sendBuffer = 16

// Subscription filters events by room. Room 0 receives every room.
type Subscription struct {
	Room int
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

func NewClient(id string) *Client {
	return &Client{ID: id, Send: make(chan []byte, sendBuffer)}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action string `json:"action"`
	Room   int    `json:"room"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	clientsConnected.Add(1)
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
	clientsConnected.Add(-1)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues payload for every client subscribed to room. A client
// whose buffer is full misses the message.
func (h *Hub) Broadcast(payload []byte, room int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Subscription.Room != 0 && client.Subscription.Room != room {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			messagesDropped.Add(1)
			log.Warn().Str("client_id", client.ID).Int("room", room).Msg("drop message for slow client")
		}
	}
}

// Publish pushes a call event to the connected clients.
func (h *Hub) Publish(_ context.Context, event models.CallEvent) error {
	payload, err := json.Marshal(models.EventEnvelope{Type: models.EventCall, Payload: event})
	if err != nil {
		return err
	}
	h.Broadcast(payload, event.Room)
	return nil
}

// Handle applies a client control message. It reports false for anything
// that is not a subscribe or unsubscribe request.
func (h *Hub) Handle(client *Client, data []byte) bool {
	msg, ok := ParseSubscribe(data)
	if !ok {
		return false
	}
	if msg.Action == "unsubscribe" || msg.Room < 0 {
		h.UpdateSubscription(client, Subscription{})
		return true
	}
	h.UpdateSubscription(client, Subscription{Room: msg.Room})
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}

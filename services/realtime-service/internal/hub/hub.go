// Package hub fans outbox events out to the connected dashboards of the users
// they concern.
package hub

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

const (
	TopicRequests      = "requests"
	TopicEquipment     = "equipment"
	TopicAnnouncements = "announcements"
)

// Subscription narrows what a client receives. No topics means everything.
type Subscription struct {
	Topics map[string]bool
}

func (s Subscription) Wants(topic string) bool {
	return len(s.Topics) == 0 || s.Topics[topic]
}

type Client struct {
	ID           string
	UserID       string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// Connected is the number of live clients.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendTo delivers payload to every client of the given users that wants
// topic. A nil users slice reaches everybody. It returns the number of clients
// the message was queued for; slow clients drop messages.
func (h *Hub) SendTo(users []string, topic string, payload []byte) int {
	var audience map[string]bool
	if users != nil {
		audience = make(map[string]bool, len(users))
		for _, id := range users {
			audience[id] = true
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, client := range h.clients {
		if audience != nil && !audience[client.UserID] {
			continue
		}
		if !client.Subscription.Wants(topic) {
			continue
		}
		select {
		case client.Send <- payload:
			sent++
		default:
			slog.Warn("drop realtime message", "client_id", client.ID, "user_id", client.UserID)
		}
	}
	return sent
}

// TopicFor groups event types the way dashboards refetch them.
func TopicFor(eventType string) string {
	switch {
	case strings.HasPrefix(eventType, "request."):
		return TopicRequests
	case strings.HasPrefix(eventType, "announcement."):
		return TopicAnnouncements
	default:
		return TopicEquipment
	}
}

// ParseSubscribe reports false for anything the socket should ignore,
// including a subscribe naming no known topic.
func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	if msg.Action == "subscribe" && len(msg.Subscription().Topics) == 0 {
		return SubscribeMessage{}, false
	}
	return msg, true
}

// Subscription builds the filter a subscribe message asks for. Unknown topics
// are ignored; unsubscribe resets to everything.
func (m SubscribeMessage) Subscription() Subscription {
	if m.Action != "subscribe" {
		return Subscription{}
	}
	topics := map[string]bool{}
	for _, topic := range m.Topics {
		switch topic {
		case TopicRequests, TopicEquipment, TopicAnnouncements:
			topics[topic] = true
		}
	}
	return Subscription{Topics: topics}
}

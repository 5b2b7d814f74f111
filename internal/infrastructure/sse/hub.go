package sse

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/execution-hub/commission-hub/internal/domain/notice"
)

// EventNegotiation is the SSE event name for negotiation notices.
const EventNegotiation = "negotiation"

const defaultBacklog = 50

// Hub manages SSE clients and implements notice.Sink.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*notice.SSEClient
	backlog map[string][]*notice.Notice
	keep    int
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*notice.SSEClient),
		backlog: make(map[string][]*notice.Notice),
		keep:    defaultBacklog,
	}
}

func (h *Hub) Register(client *notice.SSEClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Post records the notice in its conversation backlog and pushes it to every
// connected client addressed by user or group. Each client gets it at most once.
func (h *Hub) Post(ctx context.Context, n *notice.Notice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	msg := notice.NewSSEMessage(EventNegotiation, data)

	h.mu.Lock()
	items := append(h.backlog[n.ConversationKey], n)
	if len(items) > h.keep {
		items = items[len(items)-h.keep:]
	}
	h.backlog[n.ConversationKey] = items
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if addressed(c, n) {
			trySend(c, msg)
		}
	}
	return nil
}

// Recent returns up to limit of the latest notices in a conversation, oldest first.
func (h *Hub) Recent(conversationKey string, limit int) []*notice.Notice {
	h.mu.RLock()
	defer h.mu.RUnlock()
	items := h.backlog[conversationKey]
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	out := make([]*notice.Notice, len(items))
	copy(out, items)
	return out
}

func (h *Hub) SendToClient(clientID string, message *notice.SSEMessage) error {
	h.mu.RLock()
	c := h.clients[clientID]
	h.mu.RUnlock()
	if c == nil {
		return notice.ErrClientNotFound
	}
	if !trySend(c, message) {
		return notice.ErrChannelFull
	}
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func addressed(c *notice.SSEClient, n *notice.Notice) bool {
	if n.TargetUserID != nil && c.UserID != nil && *c.UserID == *n.TargetUserID {
		return true
	}
	if n.TargetGroup != nil {
		for _, g := range c.Groups {
			if g == *n.TargetGroup {
				return true
			}
		}
	}
	return false
}

func trySend(c *notice.SSEClient, msg *notice.SSEMessage) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}

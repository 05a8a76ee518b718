package notify

import (
	"context"
	"log"
	"sync"

	"github.com/Lllllllleong/conversionflow/internal/models"
	"github.com/gorilla/websocket"
)

// Hub pushes job notifications to connected websocket clients, keyed by the
// owning user. It implements Notifier; owners without an open connection
// simply miss the push, history stays queryable through the jobs API.
type Hub struct {
	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*websocket.Conn]struct{})}
}

// Register adds a connection for ownerID. The caller keeps ownership of the
// read side; the hub only writes.
func (h *Hub) Register(ownerID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[ownerID] == nil {
		h.conns[ownerID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[ownerID][conn] = struct{}{}
}

// Unregister removes and closes a connection.
func (h *Hub) Unregister(ownerID string, conn *websocket.Conn) {
	h.mu.Lock()
	if set, ok := h.conns[ownerID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, ownerID)
		}
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// Notify sends n to every open connection of ownerID. A dead connection is
// dropped from the hub.
func (h *Hub) Notify(ctx context.Context, ownerID string, n models.JobNotification) error {
	h.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(h.conns[ownerID]))
	for conn := range h.conns[ownerID] {
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	for _, conn := range targets {
		if err := conn.WriteJSON(n); err != nil {
			log.Printf("[Job: %s] Dropping dead websocket for owner %s: %v", n.JobID, ownerID, err)
			h.Unregister(ownerID, conn)
		}
	}
	return nil
}

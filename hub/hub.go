// Package hub is the connection registry: it tracks every attached client
// delivery channel while the dispatcher fans frames out to them. The lock is
// held only for map mutation and snapshotting, never across a write to a
// client.
package hub

import (
	"log/slog"
	"sync"

	"github.com/buchio/rpi-camera-streamer/domain"
)

type Hub struct {
	conns map[string]domain.Connection
	mu    sync.RWMutex
}

func New() *Hub {
	return &Hub{
		conns: make(map[string]domain.Connection),
	}
}

// Attach registers a new active connection. A connection attached before a
// dispatch cycle begins receives that cycle's frames; one attached mid-cycle
// receives the next cycle's at the latest.
func (h *Hub) Attach(conn domain.Connection) {
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	count := len(h.conns)
	h.mu.Unlock()

	slog.Info("client connected", "clientId", conn.ID(), "clients", count)
}

// Detach removes a connection from the registry. The connection's own
// transmit path finishes the Closing to Closed transition; the registry
// never drains a send queue itself. Detaching an unknown id is a no-op.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	_, exists := h.conns[id]
	if exists {
		delete(h.conns, id)
	}
	count := len(h.conns)
	h.mu.Unlock()

	if exists {
		slog.Info("client disconnected", "clientId", id, "clients", count)
	}
}

// Snapshot returns the attached connections as they were at the moment of
// the call. The returned slice is the caller's to iterate; attach and detach
// may proceed concurrently.
func (h *Hub) Snapshot() []domain.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]domain.Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Stats reports the number of attached clients.
func (h *Hub) Stats() (clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

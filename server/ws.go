package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/fleetward/fleetward/internal/updater"
)

const (
	writeWait      = 10 * time.Second
	eventQueueSize = 64
)

// eventHub fans orchestrator events out to connected websocket clients.
// Slow clients are dropped rather than allowed to stall the engine.
type eventHub struct {
	upgrader websocket.Upgrader
	events   chan updater.Event

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{
		upgrader: websocket.Upgrader{
			// the API binds to loopback; origin checks add nothing there
			CheckOrigin: func(*http.Request) bool { return true },
		},
		events:  make(chan updater.Event, eventQueueSize),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// broadcast enqueues an event without blocking the orchestrator. A full
// queue drops the oldest pending event.
func (h *eventHub) broadcast(event updater.Event) {
	select {
	case h.events <- event:
	default:
		select {
		case <-h.events:
		default:
		}
		select {
		case h.events <- event:
		default:
		}
	}
}

func (h *eventHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event := <-h.events:
			h.fanOut(event)
		}
	}
}

func (h *eventHub) fanOut(event updater.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			h.drop(conn)
			continue
		}
		if err := conn.WriteJSON(event); err != nil {
			log.Debugf("dropping slow event client: %v", err)
			h.drop(conn)
		}
	}
}

// drop must be called with h.mu held.
func (h *eventHub) drop(conn *websocket.Conn) {
	delete(h.clients, conn)
	if err := conn.Close(); err != nil {
		log.Debugf("error closing event client: %v", err)
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		h.drop(conn)
	}
}

// handleEvents upgrades the request and registers the client for events.
func (h *eventHub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	clients := len(h.clients)
	h.mu.Unlock()
	log.Debugf("event client connected, %d total", clients)

	// reader goroutine only exists to notice the peer going away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				h.drop(conn)
				h.mu.Unlock()
				return
			}
		}
	}()
}

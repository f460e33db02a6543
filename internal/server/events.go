package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Event types broadcast over the WebSocket feed.
const (
	EventMemoryStored    = "memory.stored"
	EventMemoryDuplicate = "memory.duplicate"
	EventMemoryUpdated   = "memory.updated"
	EventMemoryDeleted   = "memory.deleted"
	EventQueryAmbiguous  = "query.ambiguous"
)

// Event is one memory lifecycle notification.
type Event struct {
	Type      string `json:"type"`
	MemoryID  string `json:"memory_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Preview   string `json:"preview,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType, memoryID, preview string) Event {
	return Event{
		Type:      eventType,
		MemoryID:  memoryID,
		Preview:   preview,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// EventHub fans memory lifecycle events out to WebSocket subscribers. Slow
// subscribers are disconnected rather than allowed to back up the hub.
type EventHub struct {
	mu         sync.Mutex
	clients    map[chan []byte]bool
	broadcast  chan Event
	register   chan chan []byte
	unregister chan chan []byte
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewEventHub creates a hub; call Run in a goroutine to start it.
func NewEventHub() *EventHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHub{
		clients:    make(map[chan []byte]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan chan []byte),
		unregister: make(chan chan []byte),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *EventHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("event subscriber connected (total: %d)", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("event subscriber disconnected (total: %d)", count)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("ERROR: failed to marshal event: %v", err)
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- data:
				default:
					// Subscriber can't keep up, drop it.
					close(client)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts down the hub and disconnects every subscriber.
func (h *EventHub) Stop() {
	h.cancel()
	h.mu.Lock()
	for client := range h.clients {
		close(client)
	}
	h.clients = make(map[chan []byte]bool)
	h.mu.Unlock()
}

// Publish queues an event for broadcast. Drops the event when the queue is
// full rather than blocking a request handler.
func (h *EventHub) Publish(event Event) {
	select {
	case h.broadcast <- event:
	default:
		log.Println("WARNING: event broadcast queue full, dropping event")
	}
}

// handleWebSocket upgrades the connection and streams events until the
// client goes away.
func (h *EventHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	send := make(chan []byte, 64)
	select {
	case h.register <- send:
	case <-h.ctx.Done():
		return
	}
	defer func() {
		select {
		case h.unregister <- send:
		case <-h.ctx.Done():
		}
	}()

	for {
		select {
		case data, ok := <-send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-r.Context().Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Package websocket pushes engine updates to dashboard clients.
package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/sweeney/coldwatch/internal/alert"
	"github.com/sweeney/coldwatch/internal/logic"
	"github.com/sweeney/coldwatch/internal/monitor"
)

// Message is the envelope written to clients.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// UpdatePayload is the payload for engine updates.
type UpdatePayload struct {
	Reading    *ReadingPayload  `json:"reading,omitempty"`
	Status     logic.Status     `json:"status"`
	Thresholds logic.Thresholds `json:"thresholds"`
	Connected  bool             `json:"connected"`
	LastUpdate time.Time        `json:"lastUpdate"`
	Logs       []logic.LogEntry `json:"logs,omitempty"`
	Alert      *alert.Alert     `json:"alert,omitempty"`
}

// ReadingPayload is the current reading as sent to clients.
type ReadingPayload struct {
	EntryID     int64     `json:"entryId"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Gas         int       `json:"gas"`
	Timestamp   time.Time `json:"timestamp"`
}

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu    sync.RWMutex
	count int
}

// NewHub creates a Hub. Call Run to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.setCount(0)
			return

		case c := <-h.register:
			h.clients[c] = true
			h.setCount(len(h.clients))
			log.Printf("websocket: client registered: %s", c.conn.RemoteAddr())

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.setCount(len(h.clients))
				log.Printf("websocket: client unregistered: %s", c.conn.RemoteAddr())
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					log.Printf("websocket: client %s send buffer full, removing", c.conn.RemoteAddr())
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Broadcast sends a typed message to every client. It is dropped once the
// hub has stopped.
func (h *Hub) Broadcast(typ string, payload interface{}) {
	data, err := json.Marshal(Message{Type: typ, Payload: payload})
	if err != nil {
		log.Printf("websocket: marshal %s: %v", typ, err)
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

// BroadcastUpdate sends an engine update, typed by its kind.
func (h *Hub) BroadcastUpdate(u monitor.Update) {
	h.Broadcast(string(u.Kind), NewUpdatePayload(u))
}

// NewUpdatePayload converts an engine update for clients.
func NewUpdatePayload(u monitor.Update) UpdatePayload {
	p := UpdatePayload{
		Status:     u.Status,
		Thresholds: u.Thresholds,
		Connected:  u.Connected,
		LastUpdate: u.LastUpdate,
		Logs:       u.Logs,
	}
	if u.HasReading {
		p.Reading = &ReadingPayload{
			EntryID:     u.Reading.EntryID,
			Temperature: u.Reading.Temperature,
			Humidity:    u.Reading.Humidity,
			Gas:         u.Reading.Gas,
			Timestamp:   u.Reading.Timestamp,
		}
	}
	p.Alert = u.Alert
	return p
}

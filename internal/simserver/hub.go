package simserver

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/farebound/tripseats/internal/model"
)

// Hub fans seat events out to every websocket client watching a slot.
// Each client gets a buffered send queue drained by its own write
// goroutine; a client that cannot keep up is dropped rather than
// allowed to stall the broadcast.
type Hub struct {
	mu    sync.Mutex
	slots map[string]map[*hubClient]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{slots: make(map[string]map[*hubClient]struct{})}
}

type hubClient struct {
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
}

// Serve registers the connection under slotID and blocks until the
// client goes away.  Echo handlers call it after the upgrade.
func (h *Hub) Serve(slotID string, ws *websocket.Conn) {
	c := &hubClient{ws: ws, send: make(chan []byte, 32)}
	h.mu.Lock()
	if h.slots[slotID] == nil {
		h.slots[slotID] = make(map[*hubClient]struct{})
	}
	h.slots[slotID][c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()

	// Inbound frames are ignored; reading only detects the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(slotID, c)
}

// Broadcast sends one event to every client watching the slot.
func (h *Hub) Broadcast(slotID string, ev model.SeatEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Printf("hub: marshal event: %v", err)
		return
	}
	h.mu.Lock()
	var slow []*hubClient
	for c := range h.slots[slotID] {
		select {
		case c.send <- raw:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()
	for _, c := range slow {
		log.Printf("hub: dropping slow client on slot %s", slotID)
		h.drop(slotID, c)
	}
}

func (h *Hub) drop(slotID string, c *hubClient) {
	h.mu.Lock()
	if _, ok := h.slots[slotID][c]; ok {
		delete(h.slots[slotID], c)
	}
	h.mu.Unlock()
	c.once.Do(func() { close(c.send) })
}

func (c *hubClient) writePump() {
	for raw := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
			break
		}
	}
	_ = c.ws.Close()
}

package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/comanda-pos/api/internal/service"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Event is the websocket frame sent to subscribers.
type Event struct {
	Type       string          `json:"type"`
	Identifier string          `json:"identifier,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// roomEvent routes an encoded event to one establishment's room.
type roomEvent struct {
	EstablishmentID uuid.UUID
	Message         []byte
}

// Hub maintains the set of active clients and broadcasts messages to them.
// It implements service.EventPublisher.
type Hub struct {
	// Registered clients by establishment ID
	rooms map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *roomEvent

	// Closed when Run returns.
	done chan struct{}

	mu sync.RWMutex
}

var _ service.EventPublisher = (*Hub)(nil)

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *roomEvent, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is done, closing every
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for eid, clients := range h.rooms {
				for client := range clients {
					close(client.send)
				}
				delete(h.rooms, eid)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.establishmentID] == nil {
				h.rooms[client.establishmentID] = make(map[*Client]bool)
			}
			h.rooms[client.establishmentID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.rooms[event.EstablishmentID] {
				select {
				case client.send <- event.Message:
				default:
					// slow consumer
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// join registers c with the running hub. It returns false once the hub has
// stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// leave unregisters c. After shutdown it returns immediately.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.rooms[client.establishmentID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.establishmentID)
	}
}

// Publish encodes ev and queues it for the establishment's room. It never
// blocks: when the queue is full the event is dropped and logged.
func (h *Hub) Publish(ev service.Event) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("ws: encode payload")
		return
	}
	message, err := json.Marshal(Event{
		Type:       ev.Type,
		Identifier: ev.Identifier,
		Payload:    payload,
		OccurredAt: ev.OccurredAt,
	})
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("ws: encode event")
		return
	}

	select {
	case h.broadcast <- &roomEvent{EstablishmentID: ev.EstablishmentID, Message: message}:
	default:
		log.Warn().
			Str("type", ev.Type).
			Str("establishment_id", ev.EstablishmentID.String()).
			Msg("ws: broadcast queue full, event dropped")
	}
}

// Subscribers reports how many clients are connected for an establishment.
func (h *Hub) Subscribers(establishmentID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[establishmentID])
}

package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	model "github.com/worldchat/backend/internal/model/presence"
	presencestore "github.com/worldchat/backend/internal/store/presence"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
	hubBufferSize  = 256
)

// outgoingMessage is one frame of the presence feed.
type outgoingMessage struct {
	Type   string        `json:"type"` // snapshot | state | remove
	States []model.State `json:"states,omitempty"`
	State  *model.State  `json:"state,omitempty"`
	UserID string        `json:"userId,omitempty"`
}

// Hub fans presence store mutations out to websocket subscribers.
// Every subscriber owns a buffered send queue; a subscriber that stops
// draining is dropped so one slow client cannot stall the feed.
type Hub struct {
	store *presencestore.Store

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan outgoingMessage

	closeOnce sync.Once
}

// NewHub creates a hub over the presence store.
func NewHub(store *presencestore.Store) *Hub {
	return &Hub{store: store, subs: make(map[*subscriber]struct{})}
}

// Run drains store events and broadcasts diffs until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	events, cancel := h.store.Subscribe(hubBufferSize)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.broadcast(toMessage(ev))
		}
	}
}

func toMessage(ev presencestore.Event) outgoingMessage {
	switch ev.Type {
	case presencestore.EventRemove:
		return outgoingMessage{Type: "remove", UserID: ev.State.UserID}
	default:
		state := ev.State
		return outgoingMessage{Type: "state", State: &state}
	}
}

// attach registers a connection and queues the current snapshot as its
// first frame, so subscribers converge before diffs arrive.
func (h *Hub) attach(conn *websocket.Conn) *subscriber {
	sub := &subscriber{conn: conn, send: make(chan outgoingMessage, sendBufferSize)}
	sub.send <- outgoingMessage{Type: "snapshot", States: h.store.All()}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go sub.writePump()
	return sub
}

func (h *Hub) detach(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		sub.close()
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(msg outgoingMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.send <- msg:
		default:
			log.Printf("[presence] dropping slow subscriber")
			delete(h.subs, sub)
			sub.close()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		delete(h.subs, sub)
		sub.close()
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// writePump is the connection's single writer. It exits when the send
// queue closes, closing the connection and unblocking the read loop.
func (s *subscriber) writePump() {
	defer s.conn.Close()

	for msg := range s.send {
		if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return
		}
		if err := s.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

package presence

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	middlewarePkg "github.com/worldchat/backend/internal/middleware"
	model "github.com/worldchat/backend/internal/model/presence"
	presencestore "github.com/worldchat/backend/internal/store/presence"
	"github.com/worldchat/backend/pkg/utils"
)

const readWait = 60 * time.Second

// stateUpdate is the client's position report, over REST or websocket.
// The server stamps the time; any client-supplied timestamp is ignored.
type stateUpdate struct {
	Rotation model.Rotation `json:"rotation"`
	Position model.Position `json:"position"`
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handler exposes presence updates and the live feed.
type Handler struct {
	store    *presencestore.Store
	hub      *Hub
	upgrader websocket.Upgrader
}

// New creates the presence handler.
func New(store *presencestore.Store, hub *Hub) *Handler {
	return &Handler{
		store: store,
		hub:   hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the presence endpoints. All of them require an
// authenticated session.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/presence/state", h.handleUpdateState)
	r.Get("/presence/states", h.handleSnapshot)
	r.Get("/presence/ws", h.handleWebSocket)
}

func (h *Handler) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	sess, ok := middlewarePkg.SessionFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not logged in")
		return
	}

	var update stateUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.store.Upsert(sess.UserID, update.Rotation, update.Position)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if _, ok := middlewarePkg.SessionFrom(r.Context()); !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not logged in")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"states": h.store.All()})
}

// handleWebSocket serves the live presence feed. The subscriber gets a
// snapshot frame first, then state/remove diffs as the store changes.
// Inbound state frames are the user's own position updates; the client
// throttles them (~200ms) to bound call volume.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := middlewarePkg.SessionFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not logged in")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[presence] upgrade failed: %v", err)
		return
	}

	log.Printf("[presence] feed connected user=%s", sess.UserID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.hub.attach(conn)
	defer h.hub.detach(sub)

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	go h.pingLoop(ctx, conn)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[presence] read error user=%s: %v", sess.UserID, err)
			}
			break
		}

		conn.SetReadDeadline(time.Now().Add(readWait))

		if msg.Type != "state" {
			continue
		}

		var update stateUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			log.Printf("[presence] invalid state payload user=%s: %v", sess.UserID, err)
			continue
		}
		h.store.Upsert(sess.UserID, update.Rotation, update.Position)
	}

	// Explicit disconnect: the avatar leaves the world immediately
	// rather than lingering until the staleness sweep.
	h.store.Remove(sess.UserID)
	log.Printf("[presence] feed disconnected user=%s", sess.UserID)
}

// pingLoop keeps the connection alive. Control frames may be written
// concurrently with the writePump's data frames.
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

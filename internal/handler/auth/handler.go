package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	middlewarePkg "github.com/worldchat/backend/internal/middleware"
	"github.com/worldchat/backend/internal/service/session"
	presencestore "github.com/worldchat/backend/internal/store/presence"
	"github.com/worldchat/backend/pkg/utils"
)

// Handler exposes login/logout over HTTP.
type Handler struct {
	sessions *session.Service
	presence *presencestore.Store
}

// New creates the auth handler. Logout also evicts the caller's
// presence record so the avatar disappears immediately instead of
// waiting for the staleness sweep.
func New(sessions *session.Service, presence *presencestore.Store) *Handler {
	return &Handler{sessions: sessions, presence: presence}
}

// RegisterPublicRoutes mounts the unauthenticated endpoints.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
}

// RegisterRoutes mounts the endpoints requiring a session.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/logout", h.handleLogout)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.sessions.Login(payload.Username)
	if err != nil {
		if errors.Is(err, session.ErrUsernameRequired) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := middlewarePkg.SessionFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not logged in")
		return
	}

	h.sessions.Logout(sess.Token)
	h.presence.Remove(sess.UserID)
	w.WriteHeader(http.StatusNoContent)
}

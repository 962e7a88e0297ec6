package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	authHandler "github.com/worldchat/backend/internal/handler/auth"
	chatHandler "github.com/worldchat/backend/internal/handler/chat"
	presenceHandler "github.com/worldchat/backend/internal/handler/presence"
	middlewarePkg "github.com/worldchat/backend/internal/middleware"
	"github.com/worldchat/backend/internal/service/session"
	"github.com/worldchat/backend/internal/store/chatlog"
	presencestore "github.com/worldchat/backend/internal/store/presence"
)

// Deps collects the services the router wires to routes.
type Deps struct {
	Sessions    *session.Service
	Relay       chatHandler.Responder
	Transcriber chatHandler.Transcriber
	Turns       chatlog.Store
	Presence    *presencestore.Store
	Hub         *presenceHandler.Hub
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	auth := authHandler.New(deps.Sessions, deps.Presence)
	chat := chatHandler.New(deps.Relay, deps.Transcriber, deps.Turns)
	presence := presenceHandler.New(deps.Presence, deps.Hub)

	r.Route("/api", func(api chi.Router) {
		auth.RegisterPublicRoutes(api)

		api.Group(func(private chi.Router) {
			private.Use(middlewarePkg.Authenticate(deps.Sessions))
			auth.RegisterRoutes(private)
			chat.RegisterRoutes(private)
			presence.RegisterRoutes(private)
		})
	})

	return r
}

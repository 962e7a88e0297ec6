package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/worldchat/backend/internal/config"
	"github.com/worldchat/backend/internal/handler"
	presenceHandler "github.com/worldchat/backend/internal/handler/presence"
	"github.com/worldchat/backend/internal/service/relay"
	"github.com/worldchat/backend/internal/service/session"
	"github.com/worldchat/backend/internal/service/transcribe"
	"github.com/worldchat/backend/internal/store/chatlog"
	presencestore "github.com/worldchat/backend/internal/store/presence"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	turns, err := openTurnStore(cfg.Chat)
	if err != nil {
		log.Fatalf("failed to open chat log: %v", err)
	}
	defer turns.Close()

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Fatalf("failed to create chat model: %v", err)
	}

	relaySvc := relay.NewService(chatModel, turns, relay.Config{
		SystemPrompt: cfg.Chat.SystemPrompt,
		HistoryLimit: cfg.Chat.HistoryLimit,
		Timeout:      cfg.Chat.Timeout,
	})

	transcriber := transcribe.NewService(transcribe.Config{
		APIKey:  cfg.AI.APIKey,
		BaseURL: cfg.AI.BaseURL,
		Model:   cfg.AI.TranscribeModel,
	})

	sessions := session.NewService()
	states := presencestore.NewStore()

	reaper := presencestore.NewReaper(states, cfg.Presence.Tick, cfg.Presence.StaleAfter)
	go reaper.Run(ctx)

	hub := presenceHandler.NewHub(states)
	go hub.Run(ctx)

	router := handler.NewRouter(handler.Deps{
		Sessions:    sessions,
		Relay:       relaySvc,
		Transcriber: transcriber,
		Turns:       turns,
		Presence:    states,
		Hub:         hub,
	})

	startServer(ctx, cfg.Server, router)
}

func openTurnStore(cfg config.ChatConfig) (chatlog.Store, error) {
	if cfg.DataDir == "" {
		log.Println("CHAT_DATA_DIR not set, keeping conversation history in memory")
		return chatlog.NewMemoryStore(), nil
	}

	log.Printf("opening durable chat log at %s", cfg.DataDir)
	return chatlog.OpenPebble(cfg.DataDir)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("worldchat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

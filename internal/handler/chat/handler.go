package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	middlewarePkg "github.com/worldchat/backend/internal/middleware"
	"github.com/worldchat/backend/internal/service/relay"
	"github.com/worldchat/backend/internal/store/chatlog"
	"github.com/worldchat/backend/pkg/utils"
)

// Responder abstracts the completion relay so tests can substitute a
// fake upstream.
type Responder interface {
	Respond(ctx context.Context, userID, message string) (string, error)
	StreamRespond(ctx context.Context, userID, message string) (*schema.StreamReader[*schema.Message], error)
	FinishStream(ctx context.Context, userID, message, responseText string, streamErr error) string
}

// Transcriber abstracts the audio-to-text upstream.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, mimeType string) (string, error)
}

// Handler exposes the chat relay over HTTP.
type Handler struct {
	relay       Responder
	transcriber Transcriber
	turns       chatlog.Store
}

// New creates the chat handler.
func New(relaySvc Responder, transcriber Transcriber, turns chatlog.Store) *Handler {
	return &Handler{relay: relaySvc, transcriber: transcriber, turns: turns}
}

// RegisterRoutes mounts the chat endpoints. All of them require an
// authenticated session.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/message", h.handleMessage)
	r.Post("/chat/audio", h.handleAudio)
	r.Get("/chat/history", h.handleHistory)
	r.Delete("/chat/history", h.handleReset)
	r.Get("/chat/stream", h.handleStream)
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message := strings.TrimSpace(payload.Message)
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	sess, ok := middlewarePkg.SessionFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not logged in")
		return
	}

	response, err := h.relay.Respond(r.Context(), sess.UserID, message)
	if err != nil {
		h.respondRelayError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"response": response})
}

func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	sess, ok := middlewarePkg.SessionFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not logged in")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio payload")
		return
	}

	format := inferAudioFormat(header.Filename)
	text, err := h.transcriber.Transcribe(r.Context(), audio, "recording."+format, "audio/"+format)
	if err != nil {
		log.Printf("[chat] transcription error user=%s: %v", sess.UserID, err)
		utils.RespondError(w, http.StatusBadGateway, "transcription failed")
		return
	}

	if strings.TrimSpace(text) == "" {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"text": "", "response": ""})
		return
	}

	response, err := h.relay.Respond(r.Context(), sess.UserID, text)
	if err != nil {
		h.respondRelayError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"text": text, "response": response})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := middlewarePkg.SessionFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not logged in")
		return
	}

	turns, err := h.turns.History(r.Context(), sess.UserID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

// handleReset clears every user's turns. Development-facing: the world
// client calls it to wipe conversation state between play sessions.
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.turns.Reset(r.Context()); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to reset history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamResponse is one SSE chunk of a streamed completion.
type streamResponse struct {
	Event    string `json:"event"`
	Content  string `json:"content,omitempty"`
	Finished bool   `json:"finished,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	sess, ok := middlewarePkg.SessionFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not logged in")
		return
	}

	stream, err := h.relay.StreamRespond(r.Context(), sess.UserID, message)
	if err != nil {
		h.respondRelayError(w, err)
		return
	}
	defer stream.Close()

	utils.SetupSSEHeaders(w)
	utils.SendSSEChunk(w, flusher, streamResponse{Event: "start"})

	text, streamErr := drainStream(w, flusher, stream)
	final := h.relay.FinishStream(r.Context(), sess.UserID, message, text, streamErr)
	if streamErr != nil {
		utils.SendSSEChunk(w, flusher, streamResponse{Event: "error", Error: "completion interrupted"})
	}

	utils.SendSSEChunk(w, flusher, streamResponse{Event: "message", Content: final})
	utils.SendSSEChunk(w, flusher, streamResponse{Event: "end", Finished: true})
}

// drainStream forwards deltas as they arrive and returns the
// concatenated response text.
func drainStream(w http.ResponseWriter, flusher http.Flusher, stream *schema.StreamReader[*schema.Message]) (string, error) {
	chunks := make([]*schema.Message, 0, 8)

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			utils.SendSSEChunk(w, flusher, streamResponse{Event: "delta", Content: chunk.Content})
		}
	}

	if len(chunks) == 0 {
		return "", nil
	}

	merged, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", err
	}
	return merged.Content, nil
}

func (h *Handler) respondRelayError(w http.ResponseWriter, err error) {
	if errors.Is(err, relay.ErrUnauthenticated) {
		utils.RespondError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	log.Printf("[chat] relay error: %v", err)
	utils.RespondError(w, http.StatusInternalServerError, "chat relay failed")
}

// inferAudioFormat maps the uploaded filename to the format the
// transcription upstream expects.
func inferAudioFormat(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".mp3":
		return "mp3"
	case ".wav":
		return "wav"
	case ".webm":
		return "webm"
	case ".m4a":
		return "m4a"
	case ".ogg":
		return "ogg"
	default:
		return "webm"
	}
}

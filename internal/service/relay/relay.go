package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/worldchat/backend/internal/model/chat"
	"github.com/worldchat/backend/internal/store/chatlog"
)

// ErrUnauthenticated is returned when a caller has no user identity.
// It is the only failure the relay surfaces as a hard error; everything
// upstream degrades into a fallback response string instead.
var ErrUnauthenticated = errors.New("not logged in")

// Fallback strings substituted for upstream failures. They are
// persisted as the turn's response so the conversation window stays
// coherent: the model's failure becomes part of history rather than a
// silent gap.
const (
	TimeoutFallback  = "Sorry, I took too long to think of a reply. Ask me again?"
	UpstreamFallback = "Sorry, something went wrong while I was thinking. Ask me again?"
)

// Config tunes the relay.
type Config struct {
	// SystemPrompt is the fixed instruction describing the assistant
	// persona, prepended to every conversation window.
	SystemPrompt string
	// HistoryLimit bounds the conversation window by turn count. The
	// full log stays intact in the store.
	HistoryLimit int
	// Timeout bounds each upstream completion call.
	Timeout time.Duration
}

// Service mediates between the chat log and the external completion
// model: it reconstructs a bounded conversation window, calls the model
// under a deadline, and persists exactly one turn per call.
type Service struct {
	chatModel model.BaseChatModel
	turns     chatlog.Store
	cfg       Config

	// userLocks serializes Respond calls per user so interleaved
	// history reads cannot lose turns from the window.
	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewService wires the relay to a chat model and turn store.
func NewService(chatModel model.BaseChatModel, turns chatlog.Store, cfg Config) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 12
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Service{
		chatModel: chatModel,
		turns:     turns,
		cfg:       cfg,
		userLocks: make(map[string]*sync.Mutex),
	}
}

// Respond produces the assistant's reply to message for userID and
// appends the turn. Upstream timeouts and errors come back as fallback
// text, never as an error; only a missing identity or a store failure
// is fatal to the call.
func (s *Service) Respond(ctx context.Context, userID, message string) (string, error) {
	if userID == "" {
		return "", ErrUnauthenticated
	}

	unlock := s.lockUser(userID)
	defer unlock()

	history, err := s.turns.History(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	response, genErr := s.chatModel.Generate(callCtx, s.buildMessages(history, message))
	text := s.finalText(response, genErr)
	if genErr != nil {
		log.Printf("[relay] completion failed user=%s: %v", userID, genErr)
	}

	if _, err := s.turns.Append(ctx, userID, message, text); err != nil {
		return "", fmt.Errorf("append turn: %w", err)
	}
	return text, nil
}

// StreamRespond opens a streaming completion for message. The caller
// drains the stream and must finish with FinishStream so the turn is
// persisted exactly once, fallback included.
func (s *Service) StreamRespond(ctx context.Context, userID, message string) (*schema.StreamReader[*schema.Message], error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	history, err := s.turns.History(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	stream, err := s.chatModel.Stream(ctx, s.buildMessages(history, message))
	if err != nil {
		return nil, fmt.Errorf("open completion stream: %w", err)
	}
	return stream, nil
}

// FinishStream persists the outcome of a streaming completion and
// returns the final text. A stream that failed or produced nothing is
// recorded with the matching fallback string.
func (s *Service) FinishStream(ctx context.Context, userID, message, responseText string, streamErr error) string {
	text := responseText
	if streamErr != nil {
		log.Printf("[relay] stream failed user=%s: %v", userID, streamErr)
		text = fallbackFor(streamErr)
	}
	if strings.TrimSpace(text) == "" {
		text = UpstreamFallback
	}

	if _, err := s.turns.Append(ctx, userID, message, text); err != nil {
		log.Printf("[relay] append streamed turn failed user=%s: %v", userID, err)
	}
	return text
}

// buildMessages flattens the bounded history into alternating
// user/assistant pairs, oldest first, between the persona instruction
// and the new user message.
func (s *Service) buildMessages(history []chat.Turn, message string) []*schema.Message {
	start := 0
	if len(history) > s.cfg.HistoryLimit {
		start = len(history) - s.cfg.HistoryLimit
	}

	messages := make([]*schema.Message, 0, 2*(len(history)-start)+2)
	messages = append(messages, schema.SystemMessage(s.cfg.SystemPrompt))
	for _, turn := range history[start:] {
		messages = append(messages, schema.UserMessage(turn.Message))
		messages = append(messages, schema.AssistantMessage(turn.Response, nil))
	}
	return append(messages, schema.UserMessage(message))
}

func (s *Service) finalText(response *schema.Message, err error) string {
	if err != nil {
		return fallbackFor(err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return UpstreamFallback
	}
	return response.Content
}

// fallbackFor maps an upstream failure to its user-visible class.
func fallbackFor(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutFallback
	}
	return UpstreamFallback
}

func (s *Service) lockUser(userID string) func() {
	s.mu.Lock()
	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

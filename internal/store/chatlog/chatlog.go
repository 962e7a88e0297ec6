package chatlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/worldchat/backend/internal/model/chat"
)

// Store is the append-only per-user conversation log. Turns are never
// mutated; Reset is the single administrative escape hatch.
type Store interface {
	// Append assigns a server timestamp and inserts a new immutable turn.
	Append(ctx context.Context, userID, message, response string) (chat.Turn, error)
	// History returns all turns for userID in chronological order.
	History(ctx context.Context, userID string) ([]chat.Turn, error)
	// Reset clears all turns for all users.
	Reset(ctx context.Context) error
	Close() error
}

// MemoryStore implements Store with per-user slices, suitable for
// development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	turns  map[string][]chat.Turn
	lastTS map[string]time.Time
}

// NewMemoryStore returns an empty in-memory log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns:  make(map[string][]chat.Turn),
		lastTS: make(map[string]time.Time),
	}
}

// Append inserts a turn with a server-assigned timestamp. Timestamps
// are strictly monotonic per user even when two appends land inside the
// same clock reading.
func (s *MemoryStore) Append(_ context.Context, userID, message, response string) (chat.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := monotonicNow(s.lastTS[userID])
	s.lastTS[userID] = ts

	turn := chat.Turn{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		Response:  response,
		Timestamp: ts,
	}
	s.turns[userID] = append(s.turns[userID], turn)
	return turn, nil
}

// History returns a copy of the user's turns, oldest first.
func (s *MemoryStore) History(_ context.Context, userID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[userID]
	copied := make([]chat.Turn, len(turns))
	copy(copied, turns)
	return copied, nil
}

// Reset clears all turns for all users.
func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = make(map[string][]chat.Turn)
	s.lastTS = make(map[string]time.Time)
	return nil
}

// Close is a no-op for the memory driver.
func (s *MemoryStore) Close() error { return nil }

// monotonicNow returns the current UTC time, bumped past last when the
// clock has not advanced since the previous append for this user.
func monotonicNow(last time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	return now
}

package chatlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/worldchat/backend/internal/model/chat"
)

// turn keys sort by user then timestamp, so History is a prefix scan.
// Key format: turn:<userID>:<unix_nano_padded>-<seq>
const (
	turnKeyPrefix = "turn:"
	// turnKeyEnd is the exclusive upper bound of the turn namespace
	// (';' is ':'+1).
	turnKeyEnd = "turn;"
)

// PebbleStore implements Store on a local Pebble database so the
// conversation log survives restarts.
type PebbleStore struct {
	db *pebble.DB

	mu     sync.Mutex
	lastTS map[string]time.Time

	// seq breaks key collisions when two appends share a nanosecond.
	seq uint64
}

// OpenPebble opens (or creates) the database at path.
func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open chat log at %s: %w", path, err)
	}
	return &PebbleStore{db: db, lastTS: make(map[string]time.Time)}, nil
}

// Append inserts a turn under a sortable key with a server-assigned,
// per-user monotonic timestamp.
func (s *PebbleStore) Append(_ context.Context, userID, message, response string) (chat.Turn, error) {
	s.mu.Lock()
	ts := monotonicNow(s.lastTS[userID])
	s.lastTS[userID] = ts
	s.mu.Unlock()

	turn := chat.Turn{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		Response:  response,
		Timestamp: ts,
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return chat.Turn{}, fmt.Errorf("marshal turn: %w", err)
	}

	key := fmt.Sprintf("%s%s:%020d-%06d", turnKeyPrefix, userID, ts.UnixNano(), atomic.AddUint64(&s.seq, 1))
	if err := s.db.Set([]byte(key), data, pebble.Sync); err != nil {
		return chat.Turn{}, fmt.Errorf("append turn: %w", err)
	}
	return turn, nil
}

// History scans the user's key range in order, oldest first.
func (s *PebbleStore) History(_ context.Context, userID string) ([]chat.Turn, error) {
	prefix := []byte(turnKeyPrefix + userID + ":")

	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("open turn iterator: %w", err)
	}
	defer iter.Close()

	var turns []chat.Turn
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var turn chat.Turn
		if err := json.Unmarshal(iter.Value(), &turn); err != nil {
			return nil, fmt.Errorf("decode turn %q: %w", iter.Key(), err)
		}
		turns = append(turns, turn)
	}
	return turns, iter.Error()
}

// Reset drops the whole turn namespace.
func (s *PebbleStore) Reset(_ context.Context) error {
	s.mu.Lock()
	s.lastTS = make(map[string]time.Time)
	s.mu.Unlock()

	if err := s.db.DeleteRange([]byte(turnKeyPrefix), []byte(turnKeyEnd), pebble.Sync); err != nil {
		return fmt.Errorf("reset chat log: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *PebbleStore) Close() error { return s.db.Close() }

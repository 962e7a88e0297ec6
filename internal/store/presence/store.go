package presence

import (
	"log"
	"sync"
	"time"

	model "github.com/worldchat/backend/internal/model/presence"
)

// EventType discriminates store mutation events.
type EventType string

const (
	EventUpsert EventType = "state"
	EventRemove EventType = "remove"
)

// Event describes one store mutation. Remove events carry only the
// user id of the evicted record.
type Event struct {
	Type  EventType
	State model.State
}

// Store holds the live presence record for every connected user. It is
// the single source of truth for mutable shared state: request handlers
// only ever touch their own user's key, and the reaper is the only
// other writer.
type Store struct {
	mu     sync.RWMutex
	states map[string]model.State
	subs   map[chan Event]struct{}
}

// NewStore returns an empty in-memory presence store.
func NewStore() *Store {
	return &Store{
		states: make(map[string]model.State),
		subs:   make(map[chan Event]struct{}),
	}
}

// Upsert replaces the full record for userID, stamping the server's
// current time. Client-supplied timestamps are never trusted.
// Concurrent upserts for the same user are last-write-wins.
func (s *Store) Upsert(userID string, rotation model.Rotation, position model.Position) model.State {
	state := model.State{
		UserID:     userID,
		Rotation:   rotation,
		Position:   position,
		LastUpdate: time.Now().UTC(),
	}

	s.mu.Lock()
	s.states[userID] = state
	s.notifyLocked(Event{Type: EventUpsert, State: state})
	s.mu.Unlock()

	return state
}

// Remove deletes the record for userID. It reports whether a record
// existed, and is a no-op otherwise.
func (s *Store) Remove(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[userID]; !ok {
		return false
	}
	delete(s.states, userID)
	s.notifyLocked(Event{Type: EventRemove, State: model.State{UserID: userID}})
	return true
}

// RemoveIfStale deletes the record for userID only if its LastUpdate is
// not after the cutoff. The staleness re-check happens under the lock,
// so an upsert that refreshed the record between the caller's scan and
// the delete wins the race.
func (s *Store) RemoveIfStale(userID string, cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[userID]
	if !ok || state.LastUpdate.After(cutoff) {
		return false
	}
	delete(s.states, userID)
	s.notifyLocked(Event{Type: EventRemove, State: model.State{UserID: userID}})
	return true
}

// Get returns the current record for userID.
func (s *Store) Get(userID string) (model.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[userID]
	return state, ok
}

// All snapshots every current record for broadcast.
func (s *Store) All() []model.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.State, 0, len(s.states))
	for _, state := range s.states {
		out = append(out, state)
	}
	return out
}

// Subscribe registers a mutation event channel with the given buffer.
// The returned cancel func unregisters and closes the channel.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// notifyLocked enqueues an event for every subscriber. A subscriber
// whose buffer is full loses the event; a lost upsert is recovered by
// the next update and a lost remove by the subscriber's own reconnect
// or the snapshot it requests next.
func (s *Store) notifyLocked(ev Event) {
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("[presence] dropping %s event for user=%s: subscriber lagging", ev.Type, ev.State.UserID)
		}
	}
}

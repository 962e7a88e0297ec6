package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrUsernameRequired = errors.New("username is required")

// Session binds a bearer token to a user identity.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service is the in-memory login registry. User ids are stable per
// username for the lifetime of the process, so a user who logs in again
// keeps their conversation history and presence identity.
type Service struct {
	mu      sync.RWMutex
	byToken map[string]Session
	userIDs map[string]string
}

// NewService bootstraps an empty registry.
func NewService() *Service {
	return &Service{
		byToken: make(map[string]Session),
		userIDs: make(map[string]string),
	}
}

// Login issues a fresh token for username, reusing the stable user id
// when the username has been seen before.
func (s *Service) Login(username string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Session{}, ErrUsernameRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.userIDs[username]
	if !ok {
		userID = uuid.NewString()
		s.userIDs[username] = userID
	}

	sess := Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	s.byToken[sess.Token] = sess
	return sess, nil
}

// Resolve looks up the session for a bearer token.
func (s *Service) Resolve(token string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byToken[token]
	return sess, ok
}

// Logout invalidates the token and returns the session it carried.
func (s *Service) Logout(token string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byToken[token]
	if ok {
		delete(s.byToken, token)
	}
	return sess, ok
}

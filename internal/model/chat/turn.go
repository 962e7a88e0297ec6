package chat

import "time"

// Turn persists one message/response exchange in a user's conversation
// history. Turns are append-only; the relay is the sole writer.
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

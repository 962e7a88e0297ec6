package presence

import "time"

// Rotation is the avatar's look direction.
type Rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Position is the avatar's world-space location.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// State is one user's live presence record. At most one exists per
// user; every update replaces the record wholesale. LastUpdate is
// always stamped server-side.
type State struct {
	UserID     string    `json:"userId"`
	Rotation   Rotation  `json:"rotation"`
	Position   Position  `json:"position"`
	LastUpdate time.Time `json:"lastUpdate"`
}

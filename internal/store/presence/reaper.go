package presence

import (
	"context"
	"log"
	"time"
)

// Reaper periodically evicts presence records whose last update is
// older than the staleness threshold, so users who stopped sending
// updates disappear from the world.
type Reaper struct {
	store    *Store
	interval time.Duration
	maxAge   time.Duration
}

// NewReaper configures a sweep over store running every interval,
// evicting records older than maxAge.
func NewReaper(store *Store, interval, maxAge time.Duration) *Reaper {
	return &Reaper{store: store, interval: interval, maxAge: maxAge}
}

// Run sweeps until ctx is cancelled. Each tick is idempotent and safe
// against concurrent upserts: RemoveIfStale re-checks the record's age
// under the store lock, so a user who refreshed mid-sweep survives.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	cutoff := time.Now().UTC().Add(-r.maxAge)
	for _, state := range r.store.All() {
		if state.LastUpdate.After(cutoff) {
			continue
		}
		if r.store.RemoveIfStale(state.UserID, cutoff) {
			log.Printf("[presence] reaped stale state user=%s age>%s", state.UserID, r.maxAge)
		}
	}
}

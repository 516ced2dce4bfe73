package relay

import (
	"context"
	"log"
	"strings"
	"time"

	"snaprelay/internal/state"
)

// Sweeper evicts sessions older than the retention window on a fixed
// interval, bounding memory for the process lifetime. It does not notify
// viewers individually; the next stats push reflects the reduced counts.
type Sweeper struct {
	store     *state.Store
	interval  time.Duration
	retention time.Duration
}

func NewSweeper(store *state.Store, interval, retention time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval, retention: retention}
}

// Start launches the sweep loop; it stops when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepOnce()
			}
		}
	}()
}

// SweepOnce purges everything past the retention window and logs the ids.
func (s *Sweeper) SweepOnce() {
	purged := s.store.PurgeOlderThan(time.Now().Add(-s.retention))
	if len(purged) > 0 {
		log.Printf("swept %d expired session(s): %s", len(purged), strings.Join(purged, ", "))
	}
}

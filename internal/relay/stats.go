package relay

import (
	"strconv"

	"snaprelay/internal/types"
	"snaprelay/pkg/protocol"
)

// Stats recomputes the aggregate counters from the store and registry. They
// are derived on demand and never drift independently of the state they
// summarize.
func (e *Engine) Stats() types.RelayStats {
	return types.RelayStats{
		TotalMedia:         e.store.TotalMedia(),
		ActiveSessions:     e.store.ActiveSessionIDs(),
		ConnectedProducers: e.registry.TotalProducers(),
	}
}

// PublishStats broadcasts the aggregate counters to every viewer. Only
// identifiers and counts are exposed, so the push is not privilege-filtered.
// It runs after every state-changing event and on viewer registration.
func (e *Engine) PublishStats() {
	stats := e.Stats()
	e.broadcast(e.registry.Viewers(), protocol.Stats{
		Type:               protocol.TypeStats,
		TotalImages:        stats.TotalMedia,
		ActiveSessions:     stats.ActiveSessions,
		ConnectedProducers: stats.ConnectedProducers,
	})
}

func formatCapturedAt(capturedAt int64) string {
	return strconv.FormatInt(capturedAt, 10)
}

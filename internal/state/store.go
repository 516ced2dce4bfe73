package state

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"snaprelay/internal/types"
)

// Store holds every retained session and its media, in memory only. Write
// paths auto-provision missing sessions; only explicit delete-by-key
// operations report not-found. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*types.Session)}
}

// CreateSession is an idempotent upsert. An existing session keeps its media,
// count, status and creation time; only the supplied metadata fields are
// updated.
func (s *Store) CreateSession(id, displayName string, ownerPrivilege types.Privilege, ownerToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		if displayName != "" {
			sess.DisplayName = displayName
		}
		if ownerPrivilege != "" {
			sess.OwnerPrivilege = ownerPrivilege
		}
		if ownerToken != "" {
			sess.OwnerToken = ownerToken
		}
		return
	}

	s.sessions[id] = &types.Session{
		ID:             id,
		DisplayName:    displayName,
		CreatedAt:      time.Now(),
		Status:         types.StatusActive,
		OwnerPrivilege: ownerPrivilege,
		OwnerToken:     ownerToken,
	}
}

// EnsureSession auto-provisions a minimal record when a producer attaches to
// an unknown session id. Provisioned sessions are unattributed: elevated
// viewers see their content, standard viewers only counts.
func (s *Store) EnsureSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(id)
}

func (s *Store) ensureLocked(id string) *types.Session {
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := &types.Session{
		ID:             id,
		DisplayName:    id,
		CreatedAt:      time.Now(),
		Status:         types.StatusActive,
		OwnerPrivilege: types.PrivilegeElevated,
	}
	s.sessions[id] = sess
	return sess
}

// RecordMedia appends the item and returns the session's new media count,
// provisioning the session if needed. Duplicate CapturedAt keys are appended
// as-is; the protocol does not deduplicate.
func (s *Store) RecordMedia(id string, item types.MediaItem) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.ensureLocked(id)
	sess.Media = append(sess.Media, item)
	sess.MediaCount++
	return sess.MediaCount
}

// DeleteMedia removes the first item whose CapturedAt matches and returns the
// new count. It is the one write path that reports not-found instead of
// provisioning.
func (s *Store) DeleteMedia(id string, capturedAt int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return 0, ErrSessionNotFound
	}
	for i, item := range sess.Media {
		if item.CapturedAt == capturedAt {
			sess.Media = append(sess.Media[:i:i], sess.Media[i+1:]...)
			sess.MediaCount--
			return sess.MediaCount, nil
		}
	}
	return sess.MediaCount, ErrMediaNotFound
}

// MarkCompleted sets the session's status to completed and attaches the
// producer-supplied summary. Completed is terminal; media operations still
// apply afterwards.
func (s *Store) MarkCompleted(id string, summary json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Status = types.StatusCompleted
	sess.CompletionSummary = summary
	return nil
}

// PurgeOlderThan removes every session created before the cutoff, with its
// media, and returns the removed ids sorted for logging.
func (s *Store) PurgeOlderThan(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged []string
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
			purged = append(purged, id)
		}
	}
	sort.Strings(purged)
	return purged
}

// Get returns a copy of the session so callers can read it without holding
// the store lock. The media slice is copied as well.
func (s *Store) Get(id string) (types.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return types.Session{}, false
	}
	return copySession(sess), true
}

// Sessions returns copies of every retained session, oldest first.
func (s *Store) Sessions() []types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, copySession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ActiveSessionIDs returns every retained session id, sorted.
func (s *Store) ActiveSessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TotalMedia returns the number of retained media items across all sessions.
func (s *Store) TotalMedia() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, sess := range s.sessions {
		total += sess.MediaCount
	}
	return total
}

func copySession(sess *types.Session) types.Session {
	out := *sess
	out.Media = append([]types.MediaItem(nil), sess.Media...)
	return out
}

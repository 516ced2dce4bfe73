package types

import (
	"encoding/json"
	"time"

	"github.com/coder/websocket"
)

type Role string

const (
	RoleProducer Role = "producer"
	RoleViewer   Role = "viewer"
)

type Privilege string

const (
	PrivilegeElevated Privilege = "elevated"
	PrivilegeStandard Privilege = "standard"
)

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// Conn is one live websocket participant. Role and the registration fields are
// bound at most once, by the Registry, under its lock; a second register frame
// is a no-op.
type Conn struct {
	ID     string
	Socket *websocket.Conn
	Send   chan []byte

	Registered bool
	Role       Role
	SessionID  string    // producers only
	Privilege  Privilege // viewers only
	OwnerToken string    // viewers only
}

// MediaItem is one captured artifact within a session. CapturedAt is the
// producer-supplied identity key used by delete lookups; it is not required
// to be unique, and delete removes the first exact match.
type MediaItem struct {
	SessionID       string `json:"sessionId"`
	CapturedAt      int64  `json:"capturedAt"`
	Payload         string `json:"payload"`
	Kind            string `json:"kind,omitempty"`
	QuestionContext string `json:"questionContext,omitempty"`
}

// Session groups producers and their submitted media under one shareable id.
// MediaCount always equals len(Media); the Store maintains both together.
type Session struct {
	ID                string          `json:"sessionId"`
	DisplayName       string          `json:"displayName"`
	CreatedAt         time.Time       `json:"createdAt"`
	Status            SessionStatus   `json:"status"`
	OwnerPrivilege    Privilege       `json:"ownerPrivilege"`
	OwnerToken        string          `json:"-"`
	CompletionSummary json.RawMessage `json:"completionSummary,omitempty"`
	MediaCount        int             `json:"mediaCount"`
	Media             []MediaItem     `json:"media,omitempty"`
}

// Owned reports whether the session is attributed to a standard viewer token.
// Unattributed sessions (auto-provisioned, or created by elevated viewers)
// are visible in full only to elevated viewers.
func (s *Session) Owned() bool {
	return s.OwnerToken != "" && s.OwnerPrivilege == PrivilegeStandard
}

// RelayStats is the derived aggregate snapshot, recomputed on demand and
// never stored.
type RelayStats struct {
	TotalMedia         int
	ActiveSessions     []string
	ConnectedProducers int
}

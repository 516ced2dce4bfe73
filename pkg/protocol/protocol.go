package protocol

import "encoding/json"

// Frame types accepted from clients.
const (
	TypeRegister      = "register"
	TypeCreateSession = "create_session"
	TypeSubmitMedia   = "submit_media"
	TypeMarkComplete  = "mark_complete"
	TypeDeleteMedia   = "delete_media"
)

// Frame types pushed to viewers.
const (
	TypeStats                = "stats"
	TypeMediaAdded           = "media_added"
	TypeMediaCountUpdate     = "media_count_update"
	TypeSessionCreated       = "session_created"
	TypeSessionCompleted     = "session_completed"
	TypeMediaDeleted         = "media_deleted"
	TypeError                = "error"
	TypeProducerConnected    = "producer_connected"
	TypeProducerDisconnected = "producer_disconnected"
	TypeBootstrapState       = "bootstrap_state"
)

// Role strings carried on register frames.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Privilege strings carried on register and create_session frames.
const (
	PrivilegeElevated = "elevated"
	PrivilegeStandard = "standard"
)

// Error codes carried on error frames.
const (
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = "not_found"
)

// Envelope is the flat inbound frame shape. Every client frame is a single
// JSON object; Type discriminates which of the remaining fields are meaningful.
type Envelope struct {
	Type            string          `json:"type"`
	Role            string          `json:"role,omitempty"`
	PrivilegeLevel  string          `json:"privilegeLevel,omitempty"`
	OwnerToken      string          `json:"ownerToken,omitempty"`
	SessionID       string          `json:"sessionId,omitempty"`
	DisplayName     string          `json:"displayName,omitempty"`
	CapturedAt      int64           `json:"capturedAt,omitempty"`
	Payload         string          `json:"payload,omitempty"`
	Kind            string          `json:"kind,omitempty"`
	QuestionContext string          `json:"questionContext,omitempty"`
	Summary         json.RawMessage `json:"summary,omitempty"`
}

// Stats is the aggregate counter push sent to every viewer.
type Stats struct {
	Type               string   `json:"type"`
	TotalImages        int      `json:"totalImages"`
	ActiveSessions     []string `json:"activeSessions"`
	ConnectedProducers int      `json:"connectedProducers"`
}

// MediaAdded is the full-payload projection of a submitted media item.
type MediaAdded struct {
	Type            string `json:"type"`
	SessionID       string `json:"sessionId"`
	CapturedAt      int64  `json:"capturedAt"`
	Payload         string `json:"payload"`
	Kind            string `json:"kind,omitempty"`
	QuestionContext string `json:"questionContext,omitempty"`
	MediaCount      int    `json:"mediaCount"`
}

// MediaCountUpdate is the reduced projection delivered to viewers that are not
// entitled to a session's content.
type MediaCountUpdate struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId"`
	MediaCount int    `json:"mediaCount"`
}

// SessionCreated announces a new session to every viewer.
type SessionCreated struct {
	Type           string `json:"type"`
	SessionID      string `json:"sessionId"`
	DisplayName    string `json:"displayName"`
	OwnerPrivilege string `json:"ownerPrivilege"`
}

// SessionCompleted carries the producer-supplied completion summary.
type SessionCompleted struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Summary   json.RawMessage `json:"summary,omitempty"`
}

// MediaDeleted confirms an elevated delete to the entitled audience.
type MediaDeleted struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId"`
	CapturedAt int64  `json:"capturedAt"`
	MediaCount int    `json:"mediaCount"`
}

// ProducerPresence announces producer connects and disconnects.
type ProducerPresence struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ErrorFrame is returned to a viewer whose request was rejected. Producers
// have no error channel in this protocol; their bad frames are dropped.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionState is one session entry inside a bootstrap push. Media is present
// only when the receiving viewer is entitled to the session's content.
type SessionState struct {
	SessionID      string          `json:"sessionId"`
	DisplayName    string          `json:"displayName"`
	Status         string          `json:"status"`
	OwnerPrivilege string          `json:"ownerPrivilege"`
	MediaCount     int             `json:"mediaCount"`
	Summary        json.RawMessage `json:"summary,omitempty"`
	Media          []MediaAdded    `json:"media,omitempty"`
}

// BootstrapState is the one-time full entitled snapshot pushed to a viewer
// right after it registers.
type BootstrapState struct {
	Type     string         `json:"type"`
	Sessions []SessionState `json:"sessions"`
}

package relay

import (
	"encoding/json"
	"log"

	"github.com/dustin/go-humanize"

	"snaprelay/internal/state"
	"snaprelay/internal/types"
	"snaprelay/pkg/protocol"
)

// Engine is the routing and access-control core. Every inbound frame passes
// through HandleFrame, which classifies it, applies the session-store side
// effect, and pushes the result to exactly the entitled viewers:
//
//  1. elevated viewers always receive the full event;
//  2. among standard viewers, only the one whose token matches the session's
//     owner token receives the full event — the rest get a count-only
//     projection so their dashboards stay numerically correct;
//  3. unattributed sessions are treated as elevated-owned.
type Engine struct {
	registry   *state.Registry
	store      *state.Store
	maxPayload int
}

func NewEngine(registry *state.Registry, store *state.Store, maxPayloadBytes int) *Engine {
	return &Engine{registry: registry, store: store, maxPayload: maxPayloadBytes}
}

// HandleFrame processes one inbound frame. Malformed frames are dropped with
// a log line; the connection stays open. Frames other than register from a
// connection that never registered are dropped silently.
func (e *Engine) HandleFrame(c *types.Conn, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("dropping malformed frame from %s: %v", c.ID, err)
		return
	}

	if env.Type != protocol.TypeRegister && !c.Registered {
		log.Printf("dropping %q frame from unregistered connection %s", env.Type, c.ID)
		return
	}

	switch env.Type {
	case protocol.TypeRegister:
		e.handleRegister(c, &env)
	case protocol.TypeCreateSession:
		e.handleCreateSession(c, &env)
	case protocol.TypeSubmitMedia:
		e.handleSubmitMedia(c, &env)
	case protocol.TypeMarkComplete:
		e.handleMarkComplete(c, &env)
	case protocol.TypeDeleteMedia:
		e.handleDeleteMedia(c, &env)
	default:
		log.Printf("dropping frame with unknown type %q from %s", env.Type, c.ID)
	}
}

// HandleDisconnect runs when the transport closes a connection. Sessions
// outlive their producers; viewers are told the producer left and the next
// stats push reflects the reduced connection count.
func (e *Engine) HandleDisconnect(c *types.Conn) {
	role, sessionID := e.registry.Unregister(c)
	if role == "" {
		return
	}
	if role == types.RoleProducer {
		e.broadcast(e.registry.Viewers(), protocol.ProducerPresence{
			Type:      protocol.TypeProducerDisconnected,
			SessionID: sessionID,
		})
	}
	e.PublishStats()
}

func (e *Engine) handleRegister(c *types.Conn, env *protocol.Envelope) {
	switch env.Role {
	case protocol.RoleAdmin:
		privilege := types.PrivilegeStandard
		if env.PrivilegeLevel == protocol.PrivilegeElevated {
			privilege = types.PrivilegeElevated
		}
		if !e.registry.RegisterViewer(c, privilege, env.OwnerToken) {
			return
		}
		log.Printf("viewer %s registered (%s)", c.ID, privilege)
		e.sendBootstrap(c)
		e.PublishStats()

	case protocol.RoleUser:
		if env.SessionID == "" {
			log.Printf("dropping producer register without session id from %s", c.ID)
			return
		}
		if !e.registry.RegisterProducer(c, env.SessionID) {
			return
		}
		e.store.EnsureSession(env.SessionID)
		log.Printf("producer %s attached to session %s", c.ID, env.SessionID)
		e.broadcast(e.registry.Viewers(), protocol.ProducerPresence{
			Type:      protocol.TypeProducerConnected,
			SessionID: env.SessionID,
		})
		e.PublishStats()

	default:
		log.Printf("dropping register with unknown role %q from %s", env.Role, c.ID)
	}
}

func (e *Engine) handleCreateSession(c *types.Conn, env *protocol.Envelope) {
	if c.Role != types.RoleViewer {
		log.Printf("dropping create_session from non-viewer %s", c.ID)
		return
	}
	if env.SessionID == "" {
		log.Printf("dropping create_session without session id from %s", c.ID)
		return
	}

	// Ownership comes from the requester's registration, not from whatever
	// the frame claims: a standard viewer cannot mint elevated sessions.
	e.store.CreateSession(env.SessionID, env.DisplayName, c.Privilege, c.OwnerToken)
	log.Printf("session %s (%q) created by viewer %s", env.SessionID, env.DisplayName, c.ID)

	e.broadcast(e.registry.Viewers(), protocol.SessionCreated{
		Type:           protocol.TypeSessionCreated,
		SessionID:      env.SessionID,
		DisplayName:    env.DisplayName,
		OwnerPrivilege: string(c.Privilege),
	})
	e.PublishStats()
}

func (e *Engine) handleSubmitMedia(c *types.Conn, env *protocol.Envelope) {
	if c.Role != types.RoleProducer {
		log.Printf("dropping submit_media from non-producer %s", c.ID)
		return
	}

	sessionID := env.SessionID
	if sessionID == "" {
		sessionID = c.SessionID
	}

	// Reject oversized payloads before any store mutation. Producers have no
	// error channel in this protocol, so the frame is dropped with a log line.
	if len(env.Payload) > e.maxPayload {
		log.Printf("dropping oversized media from %s for session %s: %s exceeds %s ceiling",
			c.ID, sessionID, humanize.Bytes(uint64(len(env.Payload))), humanize.Bytes(uint64(e.maxPayload)))
		return
	}

	count := e.store.RecordMedia(sessionID, types.MediaItem{
		SessionID:       sessionID,
		CapturedAt:      env.CapturedAt,
		Payload:         env.Payload,
		Kind:            env.Kind,
		QuestionContext: env.QuestionContext,
	})

	sess, _ := e.store.Get(sessionID)
	full, countOnly := e.audiences(&sess)

	e.broadcast(full, protocol.MediaAdded{
		Type:            protocol.TypeMediaAdded,
		SessionID:       sessionID,
		CapturedAt:      env.CapturedAt,
		Payload:         env.Payload,
		Kind:            env.Kind,
		QuestionContext: env.QuestionContext,
		MediaCount:      count,
	})
	e.broadcast(countOnly, protocol.MediaCountUpdate{
		Type:       protocol.TypeMediaCountUpdate,
		SessionID:  sessionID,
		MediaCount: count,
	})
	e.PublishStats()
}

func (e *Engine) handleMarkComplete(c *types.Conn, env *protocol.Envelope) {
	if c.Role != types.RoleProducer {
		log.Printf("dropping mark_complete from non-producer %s", c.ID)
		return
	}

	sessionID := env.SessionID
	if sessionID == "" {
		sessionID = c.SessionID
	}

	e.store.EnsureSession(sessionID)
	if err := e.store.MarkCompleted(sessionID, env.Summary); err != nil {
		log.Printf("mark_complete for session %s failed: %v", sessionID, err)
		return
	}
	log.Printf("session %s completed", sessionID)

	// The completion summary carries no media content, so it goes to every
	// viewer regardless of ownership.
	e.broadcast(e.registry.Viewers(), protocol.SessionCompleted{
		Type:      protocol.TypeSessionCompleted,
		SessionID: sessionID,
		Summary:   env.Summary,
	})
	e.PublishStats()
}

func (e *Engine) handleDeleteMedia(c *types.Conn, env *protocol.Envelope) {
	if c.Role != types.RoleViewer {
		log.Printf("dropping delete_media from non-viewer %s", c.ID)
		return
	}
	if c.Privilege != types.PrivilegeElevated {
		e.sendError(c, protocol.CodeUnauthorized, "delete_media requires elevated privilege")
		return
	}

	count, err := e.store.DeleteMedia(env.SessionID, env.CapturedAt)
	if err != nil {
		e.sendError(c, protocol.CodeNotFound, "no media item "+env.SessionID+"/"+formatCapturedAt(env.CapturedAt))
		return
	}
	log.Printf("viewer %s deleted media %d from session %s", c.ID, env.CapturedAt, env.SessionID)

	e.broadcast(e.registry.ElevatedViewers(), protocol.MediaDeleted{
		Type:       protocol.TypeMediaDeleted,
		SessionID:  env.SessionID,
		CapturedAt: env.CapturedAt,
		MediaCount: count,
	})
	e.broadcast(e.standardViewers(), protocol.MediaCountUpdate{
		Type:       protocol.TypeMediaCountUpdate,
		SessionID:  env.SessionID,
		MediaCount: count,
	})
	e.PublishStats()
}

// audiences splits the current viewers into the full-payload audience and the
// count-only audience for one session.
func (e *Engine) audiences(sess *types.Session) (full, countOnly []*types.Conn) {
	for _, v := range e.registry.Viewers() {
		switch {
		case v.Privilege == types.PrivilegeElevated:
			full = append(full, v)
		case sess.Owned() && v.OwnerToken == sess.OwnerToken:
			full = append(full, v)
		default:
			countOnly = append(countOnly, v)
		}
	}
	return full, countOnly
}

func (e *Engine) standardViewers() []*types.Conn {
	var out []*types.Conn
	for _, v := range e.registry.Viewers() {
		if v.Privilege != types.PrivilegeElevated {
			out = append(out, v)
		}
	}
	return out
}

// sendBootstrap pushes the registering viewer everything it is entitled to
// see: full sessions with media where entitled, count-only metadata elsewhere.
func (e *Engine) sendBootstrap(c *types.Conn) {
	sessions := e.store.Sessions()
	out := protocol.BootstrapState{
		Type:     protocol.TypeBootstrapState,
		Sessions: make([]protocol.SessionState, 0, len(sessions)),
	}

	for i := range sessions {
		sess := &sessions[i]
		entitled := c.Privilege == types.PrivilegeElevated ||
			(sess.Owned() && sess.OwnerToken == c.OwnerToken)

		entry := protocol.SessionState{
			SessionID:      sess.ID,
			DisplayName:    sess.DisplayName,
			Status:         string(sess.Status),
			OwnerPrivilege: string(sess.OwnerPrivilege),
			MediaCount:     sess.MediaCount,
			Summary:        sess.CompletionSummary,
		}
		if entitled {
			entry.Media = make([]protocol.MediaAdded, 0, len(sess.Media))
			for _, item := range sess.Media {
				entry.Media = append(entry.Media, protocol.MediaAdded{
					Type:            protocol.TypeMediaAdded,
					SessionID:       item.SessionID,
					CapturedAt:      item.CapturedAt,
					Payload:         item.Payload,
					Kind:            item.Kind,
					QuestionContext: item.QuestionContext,
					MediaCount:      sess.MediaCount,
				})
			}
		}
		out.Sessions = append(out.Sessions, entry)
	}

	e.send(c, out)
}

func (e *Engine) sendError(c *types.Conn, code, message string) {
	e.send(c, protocol.ErrorFrame{Type: protocol.TypeError, Code: code, Message: message})
}

// send marshals and queues one frame for one connection. A full or closed
// send buffer means the frame is skipped; delivery is best-effort and a slow
// viewer must never stall the rest of the audience.
func (e *Engine) send(c *types.Conn, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("failed to marshal frame for %s: %v", c.ID, err)
		return
	}
	select {
	case c.Send <- payload:
	default:
		log.Printf("send buffer full for %s, dropping frame", c.ID)
	}
}

func (e *Engine) broadcast(conns []*types.Conn, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("failed to marshal broadcast frame: %v", err)
		return
	}
	for _, c := range conns {
		select {
		case c.Send <- payload:
		default:
			log.Printf("send buffer full for %s, dropping frame", c.ID)
		}
	}
}

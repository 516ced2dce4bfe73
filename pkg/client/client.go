package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	cidpkg "snaprelay/internal/cid"
	"snaprelay/pkg/protocol"
)

// buildDialHeaders constructs the HTTP header map used for websocket.Dial.
// Extracted to allow unit testing of header propagation.
func buildDialHeaders(ctx context.Context, userAgent string) map[string][]string {
	headers := map[string][]string{"User-Agent": {userAgent}}
	cidpkg.AddHeaderFromContext(headers, ctx)
	return headers
}

// Config holds connection settings for a relay client. Viewers set Privilege
// and OwnerToken; producers set SessionID.
type Config struct {
	ServerURL  string
	UserAgent  string
	Privilege  string
	OwnerToken string
	SessionID  string
}

// Client is a relay participant: either a viewer receiving routed events or a
// producer submitting media.
type Client struct {
	conn      *websocket.Conn
	config    Config
	connected bool
	handler   EventHandler
}

// EventHandler defines callbacks for frames pushed by the relay.
type EventHandler interface {
	OnConnected()
	OnDisconnected()
	OnStats(stats protocol.Stats)
	OnBootstrap(sessions []protocol.SessionState)
	OnMediaAdded(item protocol.MediaAdded)
	OnMediaCountUpdate(sessionID string, mediaCount int)
	OnSessionCreated(sessionID, displayName string)
	OnSessionCompleted(sessionID string, summary json.RawMessage)
	OnMediaDeleted(sessionID string, capturedAt int64, mediaCount int)
	OnProducerConnected(sessionID string)
	OnProducerDisconnected(sessionID string)
	OnError(code, message string)
	OnServerEvent(frameType string, raw []byte)
}

// DefaultEventHandler provides a logging implementation of EventHandler.
type DefaultEventHandler struct{}

func (h *DefaultEventHandler) OnConnected()    { log.Printf("connected to relay") }
func (h *DefaultEventHandler) OnDisconnected() { log.Printf("disconnected from relay") }
func (h *DefaultEventHandler) OnStats(stats protocol.Stats) {
	log.Printf("stats: %d media, %d session(s), %d producer(s)",
		stats.TotalImages, len(stats.ActiveSessions), stats.ConnectedProducers)
}
func (h *DefaultEventHandler) OnBootstrap(sessions []protocol.SessionState) {
	log.Printf("bootstrap: %d session(s)", len(sessions))
}
func (h *DefaultEventHandler) OnMediaAdded(item protocol.MediaAdded) {
	log.Printf("media added to %s at %d (%d total)", item.SessionID, item.CapturedAt, item.MediaCount)
}
func (h *DefaultEventHandler) OnMediaCountUpdate(sessionID string, mediaCount int) {
	log.Printf("session %s now has %d item(s)", sessionID, mediaCount)
}
func (h *DefaultEventHandler) OnSessionCreated(sessionID, displayName string) {
	log.Printf("session created: %s (%s)", sessionID, displayName)
}
func (h *DefaultEventHandler) OnSessionCompleted(sessionID string, summary json.RawMessage) {
	log.Printf("session completed: %s", sessionID)
}
func (h *DefaultEventHandler) OnMediaDeleted(sessionID string, capturedAt int64, mediaCount int) {
	log.Printf("media %d deleted from %s (%d left)", capturedAt, sessionID, mediaCount)
}
func (h *DefaultEventHandler) OnProducerConnected(sessionID string) {
	log.Printf("producer connected to %s", sessionID)
}
func (h *DefaultEventHandler) OnProducerDisconnected(sessionID string) {
	log.Printf("producer disconnected from %s", sessionID)
}
func (h *DefaultEventHandler) OnError(code, message string) {
	log.Printf("relay error [%s]: %s", code, message)
}
func (h *DefaultEventHandler) OnServerEvent(frameType string, raw []byte) {
	log.Printf("frame: %s", frameType)
}

// New creates a relay client.
func New(config Config) *Client {
	if config.UserAgent == "" {
		config.UserAgent = "snaprelay-client/1.0.0"
	}
	return &Client{config: config, handler: &DefaultEventHandler{}}
}

// SetEventHandler sets a custom event handler.
func (c *Client) SetEventHandler(handler EventHandler) {
	c.handler = handler
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.connected
}

// Connect establishes the websocket connection to the relay.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.config.ServerURL, &websocket.DialOptions{
		HTTPHeader: buildDialHeaders(ctx, c.config.UserAgent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.handler.OnConnected()
	return nil
}

// Disconnect closes the websocket connection.
func (c *Client) Disconnect() error {
	if c.conn != nil {
		c.connected = false
		err := c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
		c.handler.OnDisconnected()
		return err
	}
	return nil
}

// RegisterViewer binds this connection as a viewer with the configured
// privilege level and owner token.
func (c *Client) RegisterViewer(ctx context.Context) error {
	return c.sendFrame(ctx, protocol.Envelope{
		Type:           protocol.TypeRegister,
		Role:           protocol.RoleAdmin,
		PrivilegeLevel: c.config.Privilege,
		OwnerToken:     c.config.OwnerToken,
	})
}

// RegisterProducer binds this connection as a producer for the configured
// session.
func (c *Client) RegisterProducer(ctx context.Context) error {
	return c.sendFrame(ctx, protocol.Envelope{
		Type:      protocol.TypeRegister,
		Role:      protocol.RoleUser,
		SessionID: c.config.SessionID,
	})
}

// CreateSession asks the relay to provision a session owned by this viewer.
func (c *Client) CreateSession(ctx context.Context, sessionID, displayName string) error {
	return c.sendFrame(ctx, protocol.Envelope{
		Type:           protocol.TypeCreateSession,
		SessionID:      sessionID,
		DisplayName:    displayName,
		PrivilegeLevel: c.config.Privilege,
		OwnerToken:     c.config.OwnerToken,
	})
}

// SubmitMedia pushes one captured item to the relay. Submissions are
// fire-and-forget; the relay sends producers no acknowledgement.
func (c *Client) SubmitMedia(ctx context.Context, capturedAt int64, payload, kind, questionContext string) error {
	return c.sendFrame(ctx, protocol.Envelope{
		Type:            protocol.TypeSubmitMedia,
		SessionID:       c.config.SessionID,
		CapturedAt:      capturedAt,
		Payload:         payload,
		Kind:            kind,
		QuestionContext: questionContext,
	})
}

// MarkComplete marks the configured session completed with an opaque summary.
func (c *Client) MarkComplete(ctx context.Context, summary any) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	return c.sendFrame(ctx, protocol.Envelope{
		Type:      protocol.TypeMarkComplete,
		SessionID: c.config.SessionID,
		Summary:   raw,
	})
}

// DeleteMedia asks the relay to remove one media item by its exact key.
// Elevated viewers only; others receive an error frame.
func (c *Client) DeleteMedia(ctx context.Context, sessionID string, capturedAt int64) error {
	return c.sendFrame(ctx, protocol.Envelope{
		Type:       protocol.TypeDeleteMedia,
		SessionID:  sessionID,
		CapturedAt: capturedAt,
	})
}

// Listen reads relay frames and dispatches them to the event handler until
// the context is cancelled or the connection drops.
func (c *Client) Listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msgType, data, err := c.conn.Read(ctx)
			if err != nil {
				c.connected = false
				return fmt.Errorf("read error: %w", err)
			}
			if msgType != websocket.MessageText {
				log.Printf("ignoring non-text frame (%d bytes)", len(data))
				continue
			}
			c.dispatch(data)
		}
	}
}

func (c *Client) sendFrame(ctx context.Context, env protocol.Envelope) error {
	if !c.connected {
		return fmt.Errorf("client not connected")
	}
	return wsjson.Write(ctx, c.conn, env)
}

func (c *Client) dispatch(raw []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		log.Printf("failed to parse relay frame: %v", err)
		return
	}

	switch head.Type {
	case protocol.TypeStats:
		var f protocol.Stats
		if json.Unmarshal(raw, &f) == nil {
			c.handler.OnStats(f)
		}
	case protocol.TypeBootstrapState:
		var f protocol.BootstrapState
		if json.Unmarshal(raw, &f) == nil {
			c.handler.OnBootstrap(f.Sessions)
		}
	case protocol.TypeMediaAdded:
		var f protocol.MediaAdded
		if json.Unmarshal(raw, &f) == nil {
			c.handler.OnMediaAdded(f)
		}
	case protocol.TypeMediaCountUpdate:
		var f protocol.MediaCountUpdate
		if json.Unmarshal(raw, &f) == nil {
			c.handler.OnMediaCountUpdate(f.SessionID, f.MediaCount)
		}
	case protocol.TypeSessionCreated:
		var f protocol.SessionCreated
		if json.Unmarshal(raw, &f) == nil {
			c.handler.OnSessionCreated(f.SessionID, f.DisplayName)
		}
	case protocol.TypeSessionCompleted:
		var f protocol.SessionCompleted
		if json.Unmarshal(raw, &f) == nil {
			c.handler.OnSessionCompleted(f.SessionID, f.Summary)
		}
	case protocol.TypeMediaDeleted:
		var f protocol.MediaDeleted
		if json.Unmarshal(raw, &f) == nil {
			c.handler.OnMediaDeleted(f.SessionID, f.CapturedAt, f.MediaCount)
		}
	case protocol.TypeProducerConnected:
		var f protocol.ProducerPresence
		if json.Unmarshal(raw, &f) == nil {
			c.handler.OnProducerConnected(f.SessionID)
		}
	case protocol.TypeProducerDisconnected:
		var f protocol.ProducerPresence
		if json.Unmarshal(raw, &f) == nil {
			c.handler.OnProducerDisconnected(f.SessionID)
		}
	case protocol.TypeError:
		var f protocol.ErrorFrame
		if json.Unmarshal(raw, &f) == nil {
			c.handler.OnError(f.Code, f.Message)
		}
	default:
		c.handler.OnServerEvent(head.Type, raw)
	}
}

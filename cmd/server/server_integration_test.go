package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"snaprelay/internal/config"
	"snaprelay/pkg/protocol"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                 8080,
		RetentionHours:       6,
		SweepIntervalMinutes: 15,
		MaxPayloadBytes:      1 << 20,
		SendBuffer:           64,
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return newTestServerFrom(t, NewServer(testConfig()))
}

func newTestServerFrom(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, env); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// waitForType reads frames until one of the wanted type arrives, failing the
// test if a frame of any forbidden type shows up first.
func waitForType(t *testing.T, ctx context.Context, conn *websocket.Conn, want string, forbidden ...string) map[string]any {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read failed while waiting for %q: %v", want, err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unparseable frame: %v", err)
		}
		frameType, _ := m["type"].(string)
		for _, f := range forbidden {
			if frameType == f {
				t.Fatalf("received forbidden frame type %q while waiting for %q", frameType, want)
			}
		}
		if frameType == want {
			return m
		}
	}
}

func TestRelay_ElevatedViewerSeesSubmittedMedia(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	viewer := dialWS(t, ctx, ts)
	sendFrame(t, ctx, viewer, protocol.Envelope{
		Type:           protocol.TypeRegister,
		Role:           protocol.RoleAdmin,
		PrivilegeLevel: protocol.PrivilegeElevated,
	})
	waitForType(t, ctx, viewer, protocol.TypeBootstrapState)

	sendFrame(t, ctx, viewer, protocol.Envelope{
		Type:        protocol.TypeCreateSession,
		SessionID:   "ABC123",
		DisplayName: "Demo",
	})
	created := waitForType(t, ctx, viewer, protocol.TypeSessionCreated)
	if created["sessionId"] != "ABC123" || created["displayName"] != "Demo" {
		t.Fatalf("unexpected session_created frame: %v", created)
	}

	producer := dialWS(t, ctx, ts)
	sendFrame(t, ctx, producer, protocol.Envelope{
		Type:      protocol.TypeRegister,
		Role:      protocol.RoleUser,
		SessionID: "ABC123",
	})
	waitForType(t, ctx, viewer, protocol.TypeProducerConnected)

	sendFrame(t, ctx, producer, protocol.Envelope{
		Type:       protocol.TypeSubmitMedia,
		SessionID:  "ABC123",
		CapturedAt: 1000,
		Payload:    "x",
		Kind:       "verification",
	})

	added := waitForType(t, ctx, viewer, protocol.TypeMediaAdded)
	if added["payload"] != "x" {
		t.Fatalf("expected payload %q, got %v", "x", added["payload"])
	}
	if got, _ := added["capturedAt"].(float64); int64(got) != 1000 {
		t.Fatalf("expected capturedAt 1000, got %v", added["capturedAt"])
	}

	stats := waitForType(t, ctx, viewer, protocol.TypeStats)
	if got, _ := stats["totalImages"].(float64); int(got) != 1 {
		t.Fatalf("expected totalImages 1, got %v", stats["totalImages"])
	}
}

func TestRelay_StandardViewersAreIsolatedByOwnerToken(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	viewerA := dialWS(t, ctx, ts)
	sendFrame(t, ctx, viewerA, protocol.Envelope{
		Type:           protocol.TypeRegister,
		Role:           protocol.RoleAdmin,
		PrivilegeLevel: protocol.PrivilegeStandard,
		OwnerToken:     "tA",
	})
	waitForType(t, ctx, viewerA, protocol.TypeBootstrapState)

	viewerB := dialWS(t, ctx, ts)
	sendFrame(t, ctx, viewerB, protocol.Envelope{
		Type:           protocol.TypeRegister,
		Role:           protocol.RoleAdmin,
		PrivilegeLevel: protocol.PrivilegeStandard,
		OwnerToken:     "tB",
	})
	waitForType(t, ctx, viewerB, protocol.TypeBootstrapState)

	sendFrame(t, ctx, viewerA, protocol.Envelope{
		Type:        protocol.TypeCreateSession,
		SessionID:   "S1",
		DisplayName: "A's",
	})
	waitForType(t, ctx, viewerA, protocol.TypeSessionCreated)
	waitForType(t, ctx, viewerB, protocol.TypeSessionCreated)

	producer := dialWS(t, ctx, ts)
	sendFrame(t, ctx, producer, protocol.Envelope{
		Type:      protocol.TypeRegister,
		Role:      protocol.RoleUser,
		SessionID: "S1",
	})
	sendFrame(t, ctx, producer, protocol.Envelope{
		Type:       protocol.TypeSubmitMedia,
		SessionID:  "S1",
		CapturedAt: 1000,
		Payload:    "sensitive",
	})

	// The owner receives the full payload.
	added := waitForType(t, ctx, viewerA, protocol.TypeMediaAdded)
	if added["payload"] != "sensitive" {
		t.Fatalf("owner should see the payload, got %v", added)
	}

	// The other standard viewer receives only the count projection; a
	// media_added frame reaching it would be an ownership leak.
	count := waitForType(t, ctx, viewerB, protocol.TypeMediaCountUpdate, protocol.TypeMediaAdded)
	if count["sessionId"] != "S1" {
		t.Fatalf("unexpected count update: %v", count)
	}
	if got, _ := count["mediaCount"].(float64); int(got) != 1 {
		t.Fatalf("expected mediaCount 1, got %v", count["mediaCount"])
	}
}

func TestRelay_DeleteMediaAuthorization(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	standard := dialWS(t, ctx, ts)
	sendFrame(t, ctx, standard, protocol.Envelope{
		Type:           protocol.TypeRegister,
		Role:           protocol.RoleAdmin,
		PrivilegeLevel: protocol.PrivilegeStandard,
		OwnerToken:     "tA",
	})
	waitForType(t, ctx, standard, protocol.TypeBootstrapState)

	sendFrame(t, ctx, standard, protocol.Envelope{
		Type:       protocol.TypeDeleteMedia,
		SessionID:  "S1",
		CapturedAt: 1000,
	})
	errFrame := waitForType(t, ctx, standard, protocol.TypeError)
	if errFrame["code"] != protocol.CodeUnauthorized {
		t.Fatalf("expected unauthorized error, got %v", errFrame)
	}

	elevated := dialWS(t, ctx, ts)
	sendFrame(t, ctx, elevated, protocol.Envelope{
		Type:           protocol.TypeRegister,
		Role:           protocol.RoleAdmin,
		PrivilegeLevel: protocol.PrivilegeElevated,
	})
	waitForType(t, ctx, elevated, protocol.TypeBootstrapState)

	sendFrame(t, ctx, elevated, protocol.Envelope{
		Type:       protocol.TypeDeleteMedia,
		SessionID:  "S1",
		CapturedAt: 1000,
	})
	errFrame = waitForType(t, ctx, elevated, protocol.TypeError)
	if errFrame["code"] != protocol.CodeNotFound {
		t.Fatalf("expected not_found error, got %v", errFrame)
	}
}

func TestRelay_SessionSurvivesProducerDisconnect(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	viewer := dialWS(t, ctx, ts)
	sendFrame(t, ctx, viewer, protocol.Envelope{
		Type:           protocol.TypeRegister,
		Role:           protocol.RoleAdmin,
		PrivilegeLevel: protocol.PrivilegeElevated,
	})
	waitForType(t, ctx, viewer, protocol.TypeBootstrapState)

	producer := dialWS(t, ctx, ts)
	sendFrame(t, ctx, producer, protocol.Envelope{
		Type:      protocol.TypeRegister,
		Role:      protocol.RoleUser,
		SessionID: "KEEP",
	})
	waitForType(t, ctx, viewer, protocol.TypeProducerConnected)

	_ = producer.Close(websocket.StatusNormalClosure, "bye")
	left := waitForType(t, ctx, viewer, protocol.TypeProducerDisconnected)
	if left["sessionId"] != "KEEP" {
		t.Fatalf("unexpected producer_disconnected frame: %v", left)
	}

	stats := waitForType(t, ctx, viewer, protocol.TypeStats)
	sessions, _ := stats["activeSessions"].([]any)
	found := false
	for _, id := range sessions {
		if id == "KEEP" {
			found = true
		}
	}
	if !found {
		t.Fatalf("session should outlive its producer, stats: %v", stats)
	}
}

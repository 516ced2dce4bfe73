package main

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body)
	}
}

func TestStatsEndpointStartsEmpty(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		TotalImages        int      `json:"totalImages"`
		ActiveSessions     []string `json:"activeSessions"`
		ConnectedProducers int      `json:"connectedProducers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode stats body: %v", err)
	}
	if body.TotalImages != 0 || body.ConnectedProducers != 0 || len(body.ActiveSessions) != 0 {
		t.Fatalf("expected empty stats, got %+v", body)
	}
}

func TestShortLinkRedirect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(testConfig())
	s.store.CreateSession("ABC123", "Birthday Bash", "elevated", "")

	ts := newTestServerFrom(t, s)

	client := &http.Client{
		Timeout: 2 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(ts.URL + "/s/ABC123")
	if err != nil {
		t.Fatalf("short link request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if loc != "/capture.html?session=ABC123&name=Birthday+Bash" {
		t.Fatalf("unexpected redirect target %q", loc)
	}
}

// snapfeed is a command-line producer: it attaches to a session and submits
// image files to the relay, one media item per file.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"log"
	"os"
	"time"

	"snaprelay/pkg/client"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "relay websocket URL")
	sessionID := flag.String("session", "", "session id to attach to (required)")
	kind := flag.String("kind", "progress", "media kind tag")
	interval := flag.Duration("interval", time.Second, "delay between submissions")
	flag.Parse()

	if *sessionID == "" {
		log.Fatal("missing required -session flag")
	}
	files := flag.Args()
	if len(files) == 0 {
		log.Fatal("no files to submit")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := client.New(client.Config{
		ServerURL: *serverURL,
		SessionID: *sessionID,
		UserAgent: "snapfeed/1.0.0",
	})

	if err := c.Connect(ctx); err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer c.Disconnect()

	if err := c.RegisterProducer(ctx); err != nil {
		log.Fatalf("register failed: %v", err)
	}

	for i, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("skipping %s: %v", path, err)
			continue
		}

		payload := base64.StdEncoding.EncodeToString(data)
		capturedAt := time.Now().UnixMilli()
		if err := c.SubmitMedia(ctx, capturedAt, payload, *kind, ""); err != nil {
			log.Fatalf("submit failed for %s: %v", path, err)
		}
		log.Printf("submitted %s (%d bytes) as %d", path, len(data), capturedAt)

		if i < len(files)-1 {
			time.Sleep(*interval)
		}
	}

	if err := c.MarkComplete(ctx, map[string]any{"submitted": len(files)}); err != nil {
		log.Fatalf("mark complete failed: %v", err)
	}
	log.Printf("done: %d file(s) submitted to session %s", len(files), *sessionID)
}

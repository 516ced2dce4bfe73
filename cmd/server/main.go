package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snaprelay/internal/config"
	"snaprelay/internal/otelutil"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if err := otelutil.Init(); err != nil {
		log.Printf("tracing disabled: %v", err)
	}
	defer otelutil.Flush()

	s := NewServer(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	srv := &http.Server{Addr: cfg.Addr()}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server forced to shutdown: %v", err)
		} else {
			log.Println("server shutdown complete")
		}
	}()

	log.Printf("starting snaprelay server on %s (Ctrl+C to stop)", cfg.Addr())
	if err := s.Run(srv); err != nil && err != http.ErrServerClosed {
		log.Fatal("failed to start server:", err)
	}
}

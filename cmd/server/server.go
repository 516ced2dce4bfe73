package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	cidpkg "snaprelay/internal/cid"
	"snaprelay/internal/config"
	"snaprelay/internal/relay"
	"snaprelay/internal/state"
	"snaprelay/internal/types"
)

// Server owns the registry, store and engine instances and wires them to the
// HTTP surface. There is no ambient global state; tests build independent
// servers side by side.
type Server struct {
	cfg      *config.Config
	registry *state.Registry
	store    *state.Store
	engine   *relay.Engine
	sweeper  *relay.Sweeper
	router   *gin.Engine
}

func NewServer(cfg *config.Config) *Server {
	registry := state.NewRegistry()
	store := state.NewStore()

	s := &Server{
		cfg:      cfg,
		registry: registry,
		store:    store,
		engine:   relay.NewEngine(registry, store, cfg.MaxPayloadBytes),
		sweeper:  relay.NewSweeper(store, cfg.SweepInterval(), cfg.Retention()),
	}

	r := gin.Default()
	r.Use(s.cidMiddleware())
	r.Use(s.otelMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "snaprelay"})
	})

	r.GET("/api/stats", func(c *gin.Context) {
		stats := s.engine.Stats()
		c.JSON(http.StatusOK, gin.H{
			"totalImages":        stats.TotalMedia,
			"activeSessions":     stats.ActiveSessions,
			"connectedProducers": stats.ConnectedProducers,
		})
	})

	r.GET("/api/sessions", func(c *gin.Context) {
		sessions := s.store.Sessions()
		out := make([]gin.H, 0, len(sessions))
		for _, sess := range sessions {
			out = append(out, gin.H{
				"sessionId":   sess.ID,
				"displayName": sess.DisplayName,
				"status":      sess.Status,
				"mediaCount":  sess.MediaCount,
				"createdAt":   sess.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	})

	// Short shareable link: resolve the code to a session and bounce the
	// browser to the capture page. Unknown codes still redirect; the page
	// auto-provisions the session when its producer registers.
	r.GET("/s/:code", func(c *gin.Context) {
		code := c.Param("code")
		name := "Session"
		if sess, ok := s.store.Get(code); ok {
			name = sess.DisplayName
		}
		c.Redirect(http.StatusFound, "/capture.html?session="+url.QueryEscape(code)+"&name="+url.QueryEscape(name))
	})

	r.GET("/ws", s.handleWebSocket)

	s.router = r
	return s
}

// Start launches the lifecycle sweeper; it stops when ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	s.sweeper.Start(ctx)
}

// Run serves HTTP until the listener fails or srv is shut down by the caller.
func (s *Server) Run(srv *http.Server) error {
	srv.Handler = s.router
	return srv.ListenAndServe()
}

// cidMiddleware guarantees every request carries a correlation id: incoming
// ids are preserved, otherwise a fresh KSUID is minted. The id is echoed on
// the response and stored on the request context.
func (s *Server) cidMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(cidpkg.HeaderName)
		if cid == "" {
			cid = ksuid.New().String()
		}
		c.Writer.Header().Set(cidpkg.HeaderName, cid)
		c.Request = c.Request.WithContext(cidpkg.WithCID(c.Request.Context(), cid))
		c.Next()
	}
}

// otelMiddleware records one span per request with basic HTTP attributes and
// the correlation id when present.
func (s *Server) otelMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("snaprelay/server")
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath(),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.target", c.Request.URL.Path),
			))
		if cid := cidpkg.CIDFromContext(ctx); cid != "" {
			span.SetAttributes(attribute.String(cidpkg.AttributeName, cid))
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		span.End()
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("failed to upgrade connection: %v", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	conn := &types.Conn{
		ID:     uuid.New().String(),
		Socket: ws,
		Send:   make(chan []byte, s.cfg.SendBuffer),
	}
	log.Printf("new websocket connection %s", conn.ID)

	// done, not close(conn.Send), stops the write loop: a broadcast pass that
	// snapshotted the audience before unregister must never hit a closed
	// channel.
	done := make(chan struct{})
	go s.writeLoop(conn, done)

	defer func() {
		s.engine.HandleDisconnect(conn)
		close(done)
		log.Printf("connection %s closed", conn.ID)
	}()

	s.readLoop(conn)
}

func (s *Server) readLoop(conn *types.Conn) {
	ctx := context.Background()
	for {
		msgType, msg, err := conn.Socket.Read(ctx)
		if err != nil {
			log.Printf("websocket read ended for %s: %v", conn.ID, err)
			return
		}
		if msgType != websocket.MessageText {
			log.Printf("ignoring non-text frame from %s", conn.ID)
			continue
		}
		s.engine.HandleFrame(conn, msg)
	}
}

func (s *Server) writeLoop(conn *types.Conn, done <-chan struct{}) {
	ctx := context.Background()
	for {
		select {
		case <-done:
			return
		case msg := <-conn.Send:
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Socket.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				log.Printf("websocket write error for %s: %v", conn.ID, err)
				return
			}
		}
	}
}

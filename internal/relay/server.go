// Package relay hosts the WebSocket side of the inference relay: one
// session per connection, each forwarding frames to the shared fan-out
// dispatcher and writing merged inference responses back.
package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/vision-relay/internal/config"
	"github.com/example/vision-relay/internal/fanout"
	"github.com/example/vision-relay/internal/resultcache"
)

// Server upgrades /ws connections into relay sessions. The dispatcher and
// its limiter are shared across all sessions; the cache may be nil.
type Server struct {
	dispatcher *fanout.Dispatcher
	cache      *resultcache.Cache
	cfg        config.Relay
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewServer wires the relay HTTP surface.
func NewServer(cfg config.Relay, dispatcher *fanout.Dispatcher, cache *resultcache.Cache, logger *zap.Logger) *Server {
	return &Server{
		dispatcher: dispatcher,
		cache:      cache,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 << 10,
			WriteBufferSize: 32 << 10,
			// The relay serves local viewers and demo pages.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.Named("relay"),
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mock": s.cfg.MockMode})
	})

	router.GET("/ws", func(c *gin.Context) {
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		newSession(conn, s.dispatcher, s.cache, s.cfg.JitterMax, s.logger).run()
	})

	if s.cfg.StaticDir != "" {
		router.Static("/app", s.cfg.StaticDir)
	}
}

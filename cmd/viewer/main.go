package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/vision-relay/internal/client"
	"github.com/example/vision-relay/internal/config"
	"github.com/example/vision-relay/internal/framesource"
	"github.com/example/vision-relay/internal/httpserver"
	"github.com/example/vision-relay/internal/logging"
)

func main() {
	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.ViewerFromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	source := framesource.NewSynthetic(cfg.FrameWidth, cfg.FrameHeight)
	viewer := client.New(cfg, source, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := viewer.Run(ctx); err != nil {
			logger.Error("viewer loop failed", zap.Error(err))
		}
	}()

	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		m := viewer.Metrics()
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"sent":            m.Sent,
			"received":        m.Received,
			"in_flight":       m.InFlight,
			"dropped":         m.Dropped,
			"last_latency_ms": m.LastLatency.Milliseconds(),
		})
	})
	router.GET("/stream", viewer.Broadcaster().Handler())

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	logger.Info("viewer listening",
		zap.String("addr", cfg.Addr),
		zap.String("relay", cfg.RelayURL))
	if err := httpserver.Serve(server, 10*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

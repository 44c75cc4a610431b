package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/vision-relay/internal/config"
	"github.com/example/vision-relay/internal/fanout"
	"github.com/example/vision-relay/internal/httpserver"
	"github.com/example/vision-relay/internal/logging"
	"github.com/example/vision-relay/internal/relay"
	"github.com/example/vision-relay/internal/resultcache"
)

func main() {
	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.RelayFromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	var cache *resultcache.Cache
	if cfg.RedisAddr != "" {
		cache = initCache(cfg, logger)
	}

	limiter := fanout.NewLimiter(cfg.ConcurrencyCap)
	dispatcher := fanout.NewDispatcher(cfg, limiter, logger)

	router := gin.Default()
	relay.NewServer(cfg, dispatcher, cache, logger).RegisterRoutes(router)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	logger.Info("relay listening",
		zap.String("addr", cfg.Addr),
		zap.Bool("mock", cfg.MockMode),
		zap.Int("concurrency_cap", cfg.ConcurrencyCap))
	if err := httpserver.Serve(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initCache(cfg config.Relay, logger *zap.Logger) *resultcache.Cache {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis connection failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return resultcache.New(resultcache.NewRedisStore(client), cfg.CacheTTL, logger)
}

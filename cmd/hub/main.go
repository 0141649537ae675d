package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Hdpbilly/agent-bridge-platform/internal/cache"
	"github.com/Hdpbilly/agent-bridge-platform/internal/hubapi"
	"github.com/Hdpbilly/agent-bridge-platform/internal/logger"
	"github.com/Hdpbilly/agent-bridge-platform/internal/ratelimit"
	"github.com/Hdpbilly/agent-bridge-platform/internal/registry"
	"github.com/Hdpbilly/agent-bridge-platform/internal/router"
	"github.com/Hdpbilly/agent-bridge-platform/internal/session"
	"github.com/Hdpbilly/agent-bridge-platform/internal/statemgr"
	"github.com/Hdpbilly/agent-bridge-platform/internal/wsconn"
)

func main() {
	addr := getEnv("WEBSOCKET_SERVER_ADDR", ":8081")
	logLevel := getEnv("LOG_LEVEL", "info")
	logPretty := getEnv("LOG_PRETTY", "false") == "true"
	agentToken := getEnv("AGENT_TOKEN", "")
	sessionTTL := getEnvDuration("SESSION_TTL", 30*time.Minute)
	reapInterval := getEnvDuration("REAP_INTERVAL", time.Minute)
	snapshotTTL := getEnvDuration("SNAPSHOT_TTL", 5*time.Minute)
	// clientTimeout is the connection heartbeat timeout spec.md §4.3/§4.4
	// key the Registry's "3×client_timeout" stale-record reap window off
	// of — distinct from the Session Store's own (much longer) TTL.
	clientTimeout := getEnvDuration("CLIENT_TIMEOUT", wsconn.HeartbeatTimeout)

	redisEnabled := getEnv("REDIS_ENABLED", "false") == "true"
	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort := getEnv("REDIS_PORT", "6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")

	logger.Initialize("hub", logLevel, logPretty)
	logger.GetLogger().Info().Msg("starting hub")

	redisCache, err := cache.NewCache(cache.Config{
		Host:     redisHost,
		Port:     redisPort,
		Password: redisPassword,
		DB:       0,
		Enabled:  redisEnabled,
	})
	if err != nil {
		logger.GetLogger().Warn().Err(err).Msg("redis cache unavailable, continuing without it")
		redisCache, _ = cache.NewCache(cache.Config{Enabled: false})
	}
	defer redisCache.Close()

	sessions := session.NewStore(sessionTTL, reapInterval)
	defer sessions.Close()

	reg := registry.New()
	state := statemgr.New(reg, sessions, snapshotTTL)
	state.StartSweep(reapInterval, clientTimeout)
	defer state.Stop()

	r := router.New(state.Registry, "")

	limiter := ratelimit.New(getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 120), getEnvInt("RATE_LIMIT_BURST", 20), redisCache)

	agentTokens := map[string]string{}
	if agentToken != "" {
		agentTokens["Bearer "+agentToken] = "agent1"
	}

	hub := hubapi.New(state, r, agentTokens)

	gin.SetMode(ginModeFromLevel(logLevel))
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(limiter.Middleware())
	hub.RegisterRoutes(engine)

	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadTimeout:        15 * time.Second,
		ReadHeaderTimeout:  5 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        120 * time.Second,
		MaxHeaderBytes:     1 << 20,
	}

	go func() {
		logger.GetLogger().Info().Str("addr", addr).Msg("hub listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.GetLogger().Fatal().Err(err).Msg("hub server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.GetLogger().Info().Str("signal", sig.String()).Msg("shutting down hub")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.GetLogger().Warn().Err(err).Msg("hub server forced to shutdown")
	}
}

func ginModeFromLevel(level string) string {
	if strings.EqualFold(level, "debug") {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

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
	"github.com/Hdpbilly/agent-bridge-platform/internal/logger"
	"github.com/Hdpbilly/agent-bridge-platform/internal/proxyapi"
	"github.com/Hdpbilly/agent-bridge-platform/internal/proxybridge"
	"github.com/Hdpbilly/agent-bridge-platform/internal/ratelimit"
	"github.com/Hdpbilly/agent-bridge-platform/internal/session"
	"github.com/Hdpbilly/agent-bridge-platform/internal/token"
	"github.com/Hdpbilly/agent-bridge-platform/internal/wsconn"
)

func main() {
	addr := getEnv("WEB_SERVER_ADDR", ":8080")
	hubWSBaseURL := getEnv("HUB_WS_BASE_URL", "ws://localhost:8081")
	logLevel := getEnv("LOG_LEVEL", "info")
	logPretty := getEnv("LOG_PRETTY", "false") == "true"
	devMode := getEnv("DEV_MODE", "false") == "true"
	jwtSecret := getEnv("JWT_SECRET", token.DevDefaultSecret)
	jwtDuration := getEnvDuration("JWT_DURATION", time.Hour)
	sessionTTL := getEnvDuration("SESSION_TTL", 30*time.Minute)
	reapInterval := getEnvDuration("REAP_INTERVAL", time.Minute)
	// clientTimeout is the connection heartbeat timeout spec.md §4.3/§4.4
	// key the bridge Registry's "3×client_timeout" stale-record reap window
	// off of — distinct from the Session Store's own (much longer) TTL.
	clientTimeout := getEnvDuration("CLIENT_TIMEOUT", wsconn.HeartbeatTimeout)
	allowUnauthBridge := getEnv("ALLOW_UNAUTHENTICATED_BRIDGE", "false") == "true"

	redisEnabled := getEnv("REDIS_ENABLED", "false") == "true"
	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort := getEnv("REDIS_PORT", "6379")
	redisPassword := getEnv("REDIS_PASSWORD", "")

	logger.Initialize("proxy", logLevel, logPretty)
	logger.GetLogger().Info().Msg("starting proxy")

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

	tokens, err := token.NewManager(jwtSecret, "agent-bridge-platform", jwtDuration, devMode)
	if err != nil {
		logger.GetLogger().Fatal().Err(err).Msg("refusing to start: insecure JWT secret outside dev mode")
	}

	sessions := session.NewStore(sessionTTL, reapInterval)
	defer sessions.Close()

	limiter := ratelimit.New(getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60), getEnvInt("RATE_LIMIT_BURST", 10), redisCache)

	api := proxyapi.New(sessions, tokens, proxyapi.AcceptAllVerifier{}, allowUnauthBridge)
	bridge := proxybridge.New(sessions, hubWSBaseURL, allowUnauthBridge)
	bridge.StartSweep(reapInterval, clientTimeout)
	defer bridge.Stop()

	gin.SetMode(ginModeFromLevel(logLevel))
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(limiter.Middleware())
	api.RegisterRoutes(engine)
	bridge.RegisterRoutes(engine)

	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.GetLogger().Info().Str("addr", addr).Msg("proxy listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.GetLogger().Fatal().Err(err).Msg("proxy server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.GetLogger().Info().Str("signal", sig.String()).Msg("shutting down proxy")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.GetLogger().Warn().Err(err).Msg("proxy server forced to shutdown")
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

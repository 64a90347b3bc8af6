package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eternisai/chat-relay/internal/chat"
	"github.com/eternisai/chat-relay/internal/config"
	"github.com/eternisai/chat-relay/internal/llm"
	"github.com/eternisai/chat-relay/internal/logger"
	"github.com/eternisai/chat-relay/internal/storage/pg"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	gin.SetMode(cfg.GinMode)

	// Initialize database (runs migrations)
	db, err := pg.InitDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// Streams degrade to DB-only persistence without Redis; keep going.
		log.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
	}
	cancel()

	// Upstream LLM client
	var llmClient llm.Client
	if cfg.LLMMockResponse {
		log.Warn("LLM_MOCK_RESPONSE enabled, upstream calls are faked")
		llmClient = llm.NewMockClient()
	} else {
		llmClient = llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, log)
	}

	// Wire the relay core
	store := chat.NewStore(db, log)
	cache := chat.NewCache(rdb, cfg.RedisTTL, log)
	service := chat.NewService(cfg, store, cache, llmClient, log)
	handler := chat.NewHandler(service, log)

	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/chat", handler.StartChat)
	router.POST("/chat/stop", handler.StopChat)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		dbOK := db.PingContext(ctx) == nil
		redisOK := rdb.Ping(ctx).Err() == nil

		status := http.StatusOK
		if !dbOK {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"db": dbOK, "redis": redisOK})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("chat relay listening", "port", cfg.Port, "instance_id", logger.GetInstanceID())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown. In-flight producers run detached and finish their
	// final writes as long as the process stays up within the timeout.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server exited")
}

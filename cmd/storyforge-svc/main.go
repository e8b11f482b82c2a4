// Package main 小说生成服务入口
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storyforge-api/internal/application/generation"
	"storyforge-api/internal/config"
	"storyforge-api/internal/infrastructure/imagegen"
	"storyforge-api/internal/infrastructure/llm"
	"storyforge-api/internal/infrastructure/persistence/postgres"
	"storyforge-api/internal/infrastructure/persistence/redis"
	"storyforge-api/internal/infrastructure/speech"
	"storyforge-api/internal/interfaces/http/handler"
	"storyforge-api/internal/interfaces/http/router"
	workflowprompt "storyforge-api/internal/workflow/prompt"
	"storyforge-api/pkg/logger"
	"storyforge-api/pkg/tracer"

	"github.com/joho/godotenv"
)

// Version 版本信息，构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件（如果存在）
	_ = godotenv.Load()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger.Init(
		cfg.Observability.Logging.Level,
		cfg.Observability.Logging.Format,
	)

	ctx := context.Background()
	log := logger.FromContext(ctx)
	log.Info("starting storyforge-svc",
		"version", Version,
		"build_time", BuildTime,
		"env", cfg.App.Env,
	)

	// 初始化追踪
	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		log.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// 数据库
	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatal(ctx, "failed to connect postgres", err)
	}
	defer func() {
		if err := pgClient.Close(); err != nil {
			log.Error("failed to close postgres", "error", err)
		}
	}()

	// Redis
	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to connect redis", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error("failed to close redis", "error", err)
		}
	}()

	// 仓储与事务，小说详情走 Redis 读穿缓存
	cache := redis.NewCache(redisClient)
	novelRepo := redis.NewCachedNovelRepository(postgres.NewNovelRepository(pgClient), cache)
	txMgr := postgres.NewTxManager(pgClient)

	// 生成流水线依赖
	registry := workflowprompt.NewRegistry()
	streamer := llm.NewSSEClient(&cfg.LLM)
	covers := imagegen.NewClient(&cfg.ImageGen)
	orchestrator := generation.NewOrchestrator(streamer, registry, covers)

	// 章节配音
	inflight := redis.NewInflightSet(redisClient)
	synthesizer := speech.NewClient(&cfg.Speech, inflight)

	// HTTP 路由
	r := router.New(cfg, router.Handlers{
		Health: handler.NewHealthHandler(pgClient, redisClient),
		Novel:  handler.NewNovelHandler(orchestrator, novelRepo, txMgr, synthesizer),
	})

	// 创建 HTTP 服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTP.Host, cfg.Server.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	// 启动服务器
	go func() {
		log.Info("http server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// 优雅关闭
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server exited")
}

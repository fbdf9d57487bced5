package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/amora/internal/adapter"
	"github.com/mbeoliero/amora/internal/chat"
	"github.com/mbeoliero/amora/internal/config"
	"github.com/mbeoliero/amora/internal/gateway"
	"github.com/mbeoliero/amora/internal/handler"
	"github.com/mbeoliero/amora/internal/remote"
	"github.com/mbeoliero/amora/internal/repository"
	"github.com/mbeoliero/amora/internal/router"
	"github.com/mbeoliero/amora/internal/service"
	"github.com/mbeoliero/amora/pkg/constant"
	"github.com/mbeoliero/amora/pkg/jwt"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.CtxError(ctx, "failed to load config: %v", err)
		panic(err)
	}

	log.CtxInfo(ctx, "config loaded: mode=%s, driver=%s", cfg.Server.Mode, cfg.Database.Driver)

	// Initialize Redis key prefix
	constant.InitRedisKeyPrefix(cfg.Redis.KeyPrefix)
	log.CtxInfo(ctx, "redis key prefix: %s", constant.GetRedisKeyPrefix())

	// Initialize repositories
	repos, err := repository.NewRepositories(cfg)
	if err != nil {
		log.CtxError(ctx, "failed to initialize repositories: %v", err)
		panic(err)
	}
	defer repos.Close()

	// Check database connection
	if err := repos.CheckConnection(ctx); err != nil {
		log.CtxError(ctx, "database connection check failed: %v", err)
		panic(err)
	}
	log.CtxInfo(ctx, "database connection established")

	// Photo storage is optional
	var blob remote.Blob
	if cfg.Storage.Enabled() {
		client, err := adapter.NewS3Client(ctx, cfg.Storage)
		if err != nil {
			log.CtxError(ctx, "failed to initialize storage: %v", err)
			panic(err)
		}
		blob = adapter.NewStorageAdapter(client, cfg.Storage)
		log.CtxInfo(ctx, "photo storage enabled: bucket=%s", cfg.Storage.Bucket)
	} else {
		log.CtxWarn(ctx, "photo storage disabled, uploads will fail")
	}

	opts := chat.Options{
		ListConcurrency: cfg.Chat.ListConcurrency,
		ReconcileWindow: cfg.Chat.ReconcileWindow,
		HistoryLimit:    cfg.Chat.HistoryLimit,
	}

	// Initialize services
	validate := config.NewValidator()
	tokenStore := jwt.NewTokenStore(repos.Redis, cfg.JWT.ExpireHours)
	authService := service.NewAuthService(repos.User, tokenStore, cfg.JWT, validate)
	userService := service.NewUserService(authService, repos.Store, blob, validate)
	convService := service.NewConversationService(repos.Store, repos.Feed, opts)
	msgService := service.NewMessageService(repos.Store)

	// Start WebSocket server
	wsServer := gateway.NewWsServer(cfg.WebSocket, repos.Redis, userService, repos.Store, repos.Feed, opts)
	wsServer.Run(ctx)
	log.CtxInfo(ctx, "websocket server started")

	// Initialize handlers
	handlers := &router.Handlers{
		Auth:         handler.NewAuthHandler(authService),
		User:         handler.NewUserHandler(userService, wsServer),
		Message:      handler.NewMessageHandler(msgService),
		Conversation: handler.NewConversationHandler(convService),
	}

	// Create Hertz server
	h := server.Default(
		server.WithHostPorts(fmt.Sprintf(":%d", cfg.Server.HTTPPort)),
	)

	// Setup routes
	router.SetupRouter(h, handlers, authService, wsServer, cfg.Server.AllowedOrigins)

	log.CtxInfo(ctx, "server starting on port %d", cfg.Server.HTTPPort)

	// Start server in goroutine
	go func() {
		h.Spin()
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.CtxInfo(ctx, "shutting down server...")
	cancel()

	// Graceful shutdown
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := h.Shutdown(shutdownCtx); err != nil {
		log.CtxError(shutdownCtx, "server shutdown error: %v", err)
	}

	log.CtxInfo(shutdownCtx, "server stopped")
}

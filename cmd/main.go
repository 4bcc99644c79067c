package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Khambazarov/hello-word-sub000/internal/app/registry"
	"github.com/Khambazarov/hello-word-sub000/internal/app/server"
	"github.com/Khambazarov/hello-word-sub000/internal/app/server/handlers"
	"github.com/Khambazarov/hello-word-sub000/internal/app/worker"
	"github.com/Khambazarov/hello-word-sub000/internal/config"
	"github.com/Khambazarov/hello-word-sub000/internal/core/services"
	"github.com/Khambazarov/hello-word-sub000/internal/platform/logger"
	"github.com/Khambazarov/hello-word-sub000/internal/platform/telemetry"
	mongoPlugin "github.com/Khambazarov/hello-word-sub000/internal/plugins/mongo"
	"github.com/Khambazarov/hello-word-sub000/internal/plugins/postgres"
	redisPlugin "github.com/Khambazarov/hello-word-sub000/internal/plugins/redis"
	"github.com/Khambazarov/hello-word-sub000/internal/plugins/storage"
	"github.com/Khambazarov/hello-word-sub000/internal/plugins/twilio"
)

func main() {
	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg := config.Load()

	// Logger
	log := logger.NewLogger(*cfg)
	log.Info("starting application", "node_id", cfg.Realtime.NodeID)
	if cfg.SecretToken == "" {
		log.Error("JWT_SECRET is required")
		return
	}

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
	}
	defer func() {
		if otelShutdown == nil {
			return
		}
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "err", err)
		}
	}()

	// Infra
	var udb *sql.DB
	if udb, err = postgres.New(ctx, *cfg.Users); err != nil {
		log.Error("users db connection failed", "driver", cfg.Users.Driver, "err", err)
		return
	}
	defer udb.Close()
	log.Info("users db connected", "driver", cfg.Users.Driver)

	var mclient *mongodrv.Client
	var mdb *mongodrv.Database
	if mclient, mdb, err = mongoPlugin.New(ctx, *cfg.Mongo); err != nil {
		log.Error("mongo connection failed", "database", cfg.Mongo.Database, "err", err)
		return
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mclient.Disconnect(disconnectCtx)
	}()
	if cfg.Mongo.EnsureIndexes {
		if err := mongoPlugin.EnsureIndexes(ctx, mdb); err != nil {
			log.Error("mongo index setup failed", "err", err)
			return
		}
	}
	log.Info("mongo connected")

	var rdb *redis.Client
	if rdb, err = redisPlugin.NewRedisClient(ctx, *cfg.Redis); err != nil {
		log.Error("redis connection failed", "url", cfg.Redis.URL, "err", err)
		return
	}
	defer rdb.Close()
	log.Info("redis connected")

	// Adapters
	userRepo := postgres.NewUserRepository(udb, cfg.Users.Driver)
	txManager := postgres.NewTxManager(udb)
	chatroomRepo := mongoPlugin.NewChatroomRepository(mdb)
	messageRepo := mongoPlugin.NewMessageRepository(mdb)
	presStore := redisPlugin.NewRedisPresenceStore(rdb)
	eventBus := redisPlugin.NewRedisEventBus(rdb, log, cfg.Redis.Stream, cfg.Redis.StreamMaxLen)
	tw := twilio.NewTwilioClient(*cfg.Twilio)
	objStore := storage.NewHTTPStorage(*cfg.Storage)

	// Core Services
	notifier := services.NewNotifier(log, eventBus)
	tokenSvc := services.NewTokenService(cfg.SecretToken, cfg.TokenTTL)
	userSvc := services.NewUserService(log, userRepo, tw, txManager, cfg.Twilio.SkipVerify)
	msgSvc := services.NewMessageService(log, userRepo, chatroomRepo, messageRepo, notifier, objStore)
	readSvc := services.NewReadStateService(log, chatroomRepo, messageRepo, notifier)
	chatSvc := services.NewChatroomService(log, userRepo, chatroomRepo, messageRepo, msgSvc, notifier)
	groupSvc := services.NewGroupService(log, userRepo, chatroomRepo, messageRepo, msgSvc, notifier, presStore)
	listSvc := services.NewListingService(log, userRepo, chatroomRepo, messageRepo, readSvc)
	uploadSvc := services.NewUploadService(log, objStore, groupSvc, userSvc, cfg.Storage.ImageTransform, cfg.Storage.AudioTransform)
	connSvc := services.NewConnectionService(log, presStore, chatroomRepo, cfg.Realtime.PresenceTTL)

	// Realtime
	hub := registry.NewRegistry(log)
	wrkr := worker.NewEventWorker(log, eventBus, hub, cfg.Realtime.ConsumerGroup)
	if err := wrkr.Run(ctx); err != nil {
		log.Error("event worker failed to start", "err", err)
		return
	}

	// Server
	srv := server.NewServer(cfg.Service.Add, cfg.Service.Name, log, tokenSvc, server.Handlers{
		Auth:     handlers.NewAuthHandler(userSvc, tokenSvc),
		Users:    handlers.NewUserHandler(userSvc),
		Chats:    handlers.NewChatHandler(chatSvc, listSvc, readSvc, msgSvc),
		Groups:   handlers.NewGroupHandler(groupSvc),
		Messages: handlers.NewMessageHandler(msgSvc),
		Uploads:  handlers.NewUploadHandler(uploadSvc, cfg.Storage.MaxUploadBytes),
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"users": udb.PingContext,
			"mongo": func(ctx context.Context) error { return mclient.Ping(ctx, readpref.Primary()) },
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
		WS: handlers.NewWSHandler(hub, connSvc, cfg.Realtime.AllowedOrigins, cfg.Realtime.SendBufferSize),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error("server stopped", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "err", err)
	}
}

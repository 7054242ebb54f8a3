package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"staffHub/internal/access"
	"staffHub/internal/api"
	"staffHub/internal/auth"
	"staffHub/internal/config"
	"staffHub/internal/database"
	"staffHub/internal/documents"
	"staffHub/internal/logging"
	"staffHub/internal/mirror"
	"staffHub/internal/placement"
	"staffHub/internal/storage"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.New(cfg.Log, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	logger.Info("database ready", slog.String("driver", cfg.Database.Driver))

	privateKey, err := os.ReadFile(cfg.Auth.PrivateKeyPath)
	if err != nil {
		log.Fatalf("read private key: %v", err)
	}
	publicKey, err := os.ReadFile(cfg.Auth.PublicKeyPath)
	if err != nil {
		log.Fatalf("read public key: %v", err)
	}
	authService, err := auth.NewAuthService(privateKey, publicKey, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password})
	defer asynqClient.Close()

	local, err := storage.NewLocalStore(cfg.Upload.Root)
	if err != nil {
		log.Fatalf("init upload root: %v", err)
	}
	m, err := mirror.New(ctx, cfg, logger)
	if err != nil {
		// 远程镜像不可用时仍以本地存储启动。
		logger.Error("init remote mirror failed, continuing local-only", slog.Any("error", err))
		m = mirror.Disabled{}
	}

	docs := documents.NewService(db, placement.NewPolicy(cfg.Upload), local, m, documents.Options{
		Scanner:  documents.NewScanner(cfg.Upload.ClamdAddr),
		Queue:    asynqClient,
		MaxBytes: cfg.Upload.MaxBytes,
		Logger:   logger,
	})

	router := api.NewRouter(cfg, logger)
	api.RegisterRoutes(router, api.Dependencies{
		Config:      cfg,
		DB:          db,
		AuthService: authService,
		Credentials: auth.NewCredentialStore(db, logger),
		Redis:       redisClient,
		Documents:   docs,
		Gate:        access.NewGate(m, cfg.Mirror.MembershipFailOpen, logger),
		Queue:       asynqClient,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("api listening",
			slog.String("addr", server.Addr),
			slog.String("upload_root", local.Root()),
			slog.String("mirror_backend", m.Backend()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start api server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", slog.Any("error", err))
	}
	logger.Info("api stopped")
}

package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"staffHub/internal/config"
	"staffHub/internal/database"
	"staffHub/internal/documents"
	"staffHub/internal/logging"
	"staffHub/internal/metrics"
	"staffHub/internal/mirror"
	"staffHub/internal/placement"
	"staffHub/internal/storage"
	"staffHub/internal/tasks"
	"staffHub/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := logging.New(cfg.Log, false)
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	local, err := storage.NewLocalStore(cfg.Upload.Root)
	if err != nil {
		log.Fatalf("init upload root: %v", err)
	}

	ctx := context.Background()
	m, err := mirror.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("init remote mirror failed, remote purge disabled", slog.Any("error", err))
		m = mirror.Disabled{}
	}
	log.Printf("storage ready, root=%s mirror=%s", local.Root(), m.Backend())

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr, Password: cfg.Redis.Password})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	docs := documents.NewService(db, placement.NewPolicy(cfg.Upload), local, m, documents.Options{
		MaxBytes: cfg.Upload.MaxBytes,
		Logger:   logger,
	})

	redisOpt := asynq.RedisClientOpt{Addr: redisAddr, Password: cfg.Redis.Password}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      newAsynqLogger(logger),
	})

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeThumbnail, worker.NewThumbnailTaskHandler(db, local, redisClient, logger, cfg.Worker.ThumbnailSize))
	mux.Handle(tasks.TypePurgeProfile, worker.NewPurgeTaskHandler(docs, redisClient, logger))

	logger.Info("worker service started",
		slog.String("redis_addr", redisAddr),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}

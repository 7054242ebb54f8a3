package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"staffHub/internal/documents"
	"staffHub/internal/errcode"
	"staffHub/internal/tasks"
)

// Purger 删除已删除档案遗留的文件。
type Purger interface {
	Purge(ctx context.Context, req documents.PurgeRequest) error
}

// PurgeTaskHandler 消费档案文件清理任务。
type PurgeTaskHandler struct {
	purger      Purger
	redisClient *redis.Client
	logger      *slog.Logger
}

func NewPurgeTaskHandler(purger Purger, redisClient *redis.Client, logger *slog.Logger) *PurgeTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PurgeTaskHandler{purger: purger, redisClient: redisClient, logger: logger}
}

// ProcessTask 实现 asynq.Handler。清理是幂等的，失败时交给 asynq 重试。
func (h *PurgeTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.PurgeProfilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("profile_id", uint64(payload.ProfileID)),
		slog.String("storage_key", payload.StorageKey),
	)

	err := h.purger.Purge(ctx, documents.PurgeRequest{
		StorageKey:     payload.StorageKey,
		RemoteFolderID: payload.RemoteFolderID,
		RemoteIDs:      payload.RemoteIDs,
	})

	notify := StorageNotifyMessage{
		Event:         tasks.TypePurgeProfile,
		Status:        "completed",
		ProfileID:     payload.ProfileID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if err != nil {
		log.Error("purge profile files failed", slog.Any("error", err))
		if !isFinalAsynqAttempt(ctx) {
			return err
		}
		notify.Status = "error"
		notify.ErrorCode = errcode.StorageFailure
		notify.ErrorMessage = strings.TrimSpace(err.Error())
	}
	if perr := publishNotify(ctx, h.redisClient, payload.UserID, notify); perr != nil {
		log.Warn("publish purge notification failed", slog.Any("error", perr))
	}
	if err == nil {
		log.Info("profile files purged")
	}
	return err
}

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"staffHub/internal/database"
	"staffHub/internal/errcode"
	"staffHub/internal/placement"
	"staffHub/internal/storage"
	"staffHub/internal/tasks"
)

const defaultThumbnailSize = 256

// ThumbnailTaskHandler 负责为头像生成缩略图。
type ThumbnailTaskHandler struct {
	db          *gorm.DB
	local       *storage.LocalStore
	redisClient *redis.Client
	logger      *slog.Logger
	size        int
}

// NewThumbnailTaskHandler 创建任务处理器，size 小于等于 0 时使用默认值。
func NewThumbnailTaskHandler(db *gorm.DB, local *storage.LocalStore, redisClient *redis.Client, logger *slog.Logger, size int) *ThumbnailTaskHandler {
	if size <= 0 {
		size = defaultThumbnailSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ThumbnailTaskHandler{db: db, local: local, redisClient: redisClient, logger: logger, size: size}
}

// ThumbnailPath 返回头像对应的缩略图相对路径，与原图同目录。
func ThumbnailPath(picture string) string {
	return path.Join(path.Dir(picture), "thumb_"+path.Base(picture))
}

// ProcessTask 实现 asynq.Handler。
func (h *ThumbnailTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	var payload tasks.ThumbnailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("profile_id", uint64(payload.ProfileID)),
		slog.String("path", payload.LocalPath),
	)

	if _, err := placement.ParseLocalPath(payload.LocalPath); err != nil {
		log.Warn("invalid picture path, skipping task")
		return nil
	}

	var profile database.Profile
	if err := h.db.WithContext(ctx).First(&profile, payload.ProfileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("profile not found, skipping task")
			return nil
		}
		return err
	}
	if profile.ProfilePicture != payload.LocalPath {
		log.Info("picture replaced before thumbnail ran, skipping task")
		return nil
	}

	defer func() {
		if retErr == nil || !isFinalAsynqAttempt(ctx) {
			return
		}
		notify := StorageNotifyMessage{
			Event:         tasks.TypeThumbnail,
			Status:        "error",
			ProfileID:     payload.ProfileID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.StorageFailure,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := publishNotify(ctx, h.redisClient, payload.UserID, notify); err != nil {
			log.Error("publish thumbnail error notification failed", slog.Any("error", err))
		}
	}()

	thumb := ThumbnailPath(payload.LocalPath)
	if err := h.render(payload.LocalPath, thumb); err != nil {
		log.Error("render thumbnail failed", slog.Any("error", err))
		return err
	}

	res := h.db.WithContext(ctx).Model(&database.Profile{}).
		Where("id = ? AND profile_picture = ?", profile.ID, payload.LocalPath).
		Update("profile_thumbnail", thumb)
	if res.Error != nil {
		_ = h.local.Remove(thumb)
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 生成期间头像被替换。
		_ = h.local.Remove(thumb)
		return nil
	}
	if old := profile.ProfileThumbnail; old != "" && old != thumb {
		if err := h.local.Remove(old); err != nil {
			log.Warn("remove previous thumbnail failed", slog.Any("error", err))
		}
	}

	notify := StorageNotifyMessage{
		Event:         tasks.TypeThumbnail,
		Status:        "completed",
		ProfileID:     profile.ID,
		Path:          thumb,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if err := publishNotify(ctx, h.redisClient, payload.UserID, notify); err != nil {
		log.Warn("publish thumbnail notification failed", slog.Any("error", err))
	}
	log.Info("thumbnail generated", slog.String("thumbnail", thumb))
	return nil
}

func (h *ThumbnailTaskHandler) render(src, dst string) error {
	format, err := imaging.FormatFromFilename(src)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	f, _, err := h.local.Open(src)
	if err != nil {
		return fmt.Errorf("open picture: %w", err)
	}
	defer f.Close()

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		// 无法解码的图片重试也没有意义。
		return fmt.Errorf("decode picture: %v: %w", err, asynq.SkipRetry)
	}
	thumb := imaging.Fill(img, h.size, h.size, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, format); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	if _, err := h.local.Save(dst, &buf, 0); err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}
	return nil
}

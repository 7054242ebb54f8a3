package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeThumbnail    = "storage:thumbnail"
	TypePurgeProfile = "storage:purge_profile"
)

// NotifyChannel 返回用户的 Redis 通知频道名，worker 发布、WebSocket 订阅。
func NotifyChannel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// ThumbnailPayload 描述为头像生成缩略图所需的信息。
type ThumbnailPayload struct {
	ProfileID     uint   `json:"profile_id"`
	LocalPath     string `json:"local_path"`
	UserID        uint   `json:"user_id"`
	CorrelationID string `json:"correlation_id"`
}

// PurgeProfilePayload 描述删除员工档案后需要清理的文件。
// 档案行已删除，因此在入队时带上全部定位信息。
type PurgeProfilePayload struct {
	ProfileID      uint     `json:"profile_id"`
	StorageKey     string   `json:"storage_key"`
	RemoteFolderID string   `json:"remote_folder_id,omitempty"`
	RemoteIDs      []string `json:"remote_ids,omitempty"`
	UserID         uint     `json:"user_id"`
	CorrelationID  string   `json:"correlation_id"`
}

// NewThumbnailTask 构造头像缩略图任务。
func NewThumbnailTask(p ThumbnailPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeThumbnail, payload, asynq.MaxRetry(3), asynq.Timeout(time.Minute)), nil
}

// NewPurgeProfileTask 构造档案文件清理任务。
func NewPurgeProfileTask(p PurgeProfilePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePurgeProfile, payload, asynq.MaxRetry(5), asynq.Timeout(5*time.Minute)), nil
}

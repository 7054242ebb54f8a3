// Package documents 保存上传文件：先写本地磁盘，再尽力复制到远程镜像，
// 最后写数据库记录。
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"staffHub/internal/database"
	"staffHub/internal/errcode"
	"staffHub/internal/metrics"
	"staffHub/internal/mirror"
	"staffHub/internal/placement"
	"staffHub/internal/storage"
	"staffHub/internal/tasks"
)

// Enqueuer 是投递后台任务所需的 *asynq.Client 子集。
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Service 负责文件的上传、列举与删除。
type Service struct {
	db       *gorm.DB
	policy   *placement.Policy
	local    *storage.LocalStore
	mirror   mirror.Mirror
	scanner  Scanner
	queue    Enqueuer
	maxBytes int64
	logger   *slog.Logger
}

// Options 为 Service 的可选依赖。
type Options struct {
	Scanner  Scanner
	Queue    Enqueuer
	MaxBytes int64
	Logger   *slog.Logger
}

func NewService(db *gorm.DB, policy *placement.Policy, local *storage.LocalStore, m mirror.Mirror, opts Options) *Service {
	if m == nil {
		m = mirror.Disabled{}
	}
	if opts.Scanner == nil {
		opts.Scanner = nopScanner{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		db:       db,
		policy:   policy,
		local:    local,
		mirror:   m,
		scanner:  opts.Scanner,
		queue:    opts.Queue,
		maxBytes: opts.MaxBytes,
		logger:   opts.Logger,
	}
}

// UploadRequest 为某个档案待保存的一个文件。
type UploadRequest struct {
	ProfileID     uint
	Kind          placement.Kind
	Filename      string
	ContentType   string
	Size          int64
	Body          io.Reader
	UserID        uint
	CorrelationID string
}

// UploadResult 描述保存结果。头像记录在档案上，此时 Document 为 nil。
// Warnings 列出导致降级为仅本地存储的远程失败。
type UploadResult struct {
	Document *database.Document
	Profile  *database.Profile
	Warnings []string
}

// Upload 校验、写入并记录文件。
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	kind, err := placement.ParseKind(string(req.Kind))
	if err != nil {
		return nil, err
	}
	if !s.policy.AllowedExtension(kind, req.Filename) {
		return nil, placement.ErrUnsupportedFileType
	}
	if s.maxBytes > 0 && req.Size > s.maxBytes {
		return nil, errcode.Validation("file too large")
	}

	var profile database.Profile
	if err := s.db.WithContext(ctx).First(&profile, req.ProfileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.NotFound("profile not found")
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}

	pl, err := s.policy.Resolve(profile.StorageKey, kind, req.Filename)
	if err != nil {
		return nil, err
	}
	if err := s.policy.EnsureDir(pl); err != nil {
		return nil, err
	}

	rel := pl.RelPath()
	log := s.logger.With(
		slog.Uint64("profile_id", uint64(profile.ID)),
		slog.String("kind", string(kind)),
		slog.String("path", rel),
		slog.String("correlation_id", req.CorrelationID),
	)

	size, err := s.local.Save(rel, req.Body, s.maxBytes)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, errcode.Validation("file too large")
		}
		return nil, errcode.Storage("save file", err)
	}
	if err := s.scanLocal(rel); err != nil {
		s.removeLocal(log, rel)
		return nil, err
	}

	contentType := req.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		if guessed := mime.TypeByExtension(filepath.Ext(pl.Name)); guessed != "" {
			contentType = guessed
		}
	}

	result := &UploadResult{}
	folderID, remoteID := s.mirrorUpload(ctx, log, &profile, rel, pl.Name, size, contentType, result)

	oldPicture, oldThumbnail, oldRemotePicture := profile.ProfilePicture, profile.ProfileThumbnail, profile.RemoteProfilePictureID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if folderID != "" && folderID != profile.RemoteFolderID {
			if err := tx.Model(&profile).Update("remote_folder_id", folderID).Error; err != nil {
				return err
			}
		}
		if kind == placement.KindProfilePicture {
			return tx.Model(&profile).Updates(map[string]any{
				"profile_picture":           rel,
				"profile_thumbnail":         "",
				"remote_profile_picture_id": remoteID,
			}).Error
		}
		doc := database.Document{
			ProfileID:        profile.ID,
			LocalPath:        rel,
			OriginalFilename: originalName(req.Filename),
			DocumentType:     string(kind),
			ContentType:      contentType,
			Size:             size,
			RemoteID:         remoteID,
			UploadedAt:       time.Now().UTC(),
		}
		if err := tx.Create(&doc).Error; err != nil {
			return err
		}
		result.Document = &doc
		return nil
	})
	if err != nil {
		log.Error("record upload failed, removing stored file", slog.Any("error", err))
		s.removeLocal(log, rel)
		if remoteID != "" {
			if derr := s.mirror.Delete(ctx, remoteID); derr != nil {
				log.Warn("remove orphaned remote file failed", slog.String("remote_id", remoteID))
			}
		}
		return nil, fmt.Errorf("record upload: %w", err)
	}

	placementLabel := "local"
	if remoteID != "" {
		placementLabel = "dual"
	}
	metrics.ObserveUpload(string(kind), placementLabel)
	log.Info("file stored", slog.Int64("size", size), slog.String("remote_id", remoteID))

	if kind == placement.KindProfilePicture {
		if oldPicture != "" && oldPicture != rel {
			s.removeLocal(log, oldPicture)
		}
		if oldThumbnail != "" && oldThumbnail != rel {
			s.removeLocal(log, oldThumbnail)
		}
		if oldRemotePicture != "" && s.mirror.Enabled() {
			if err := s.mirror.Delete(ctx, oldRemotePicture); err != nil {
				result.Warnings = append(result.Warnings, "previous remote picture could not be removed")
			}
		}
		s.enqueueThumbnail(ctx, log, profile.ID, rel, req, result)
	}

	if err := s.db.WithContext(ctx).First(&profile, profile.ID).Error; err == nil {
		result.Profile = &profile
	}
	return result, nil
}

// mirrorUpload 将已保存的文件复制到远程镜像，失败记为 warning，
// 未复制时返回的 id 为空。
func (s *Service) mirrorUpload(ctx context.Context, log *slog.Logger, profile *database.Profile, rel, name string, size int64, contentType string, result *UploadResult) (folderID, remoteID string) {
	if !s.mirror.Enabled() {
		return "", ""
	}

	folderID = profile.RemoteFolderID
	if folderID == "" {
		id, err := s.mirror.EnsureFolder(ctx, profile.StorageKey, "")
		if err != nil {
			log.Warn("remote folder unavailable, stored locally only", slog.Any("error", err))
			result.Warnings = append(result.Warnings, "remote storage unavailable, file stored locally only")
			return "", ""
		}
		folderID = id
	}

	f, _, err := s.local.Open(rel)
	if err != nil {
		log.Warn("reopen stored file failed", slog.Any("error", err))
		result.Warnings = append(result.Warnings, "remote storage unavailable, file stored locally only")
		return folderID, ""
	}
	defer f.Close()

	remoteID, err = s.mirror.Upload(ctx, f, size, name, folderID, contentType)
	if err != nil {
		log.Warn("remote upload failed, stored locally only", slog.Any("error", err))
		result.Warnings = append(result.Warnings, "remote storage unavailable, file stored locally only")
		return folderID, ""
	}
	return folderID, remoteID
}

func (s *Service) scanLocal(rel string) error {
	f, _, err := s.local.Open(rel)
	if err != nil {
		return errcode.Storage("reopen file for scan", err)
	}
	defer f.Close()
	return s.scanner.Scan(f)
}

func (s *Service) enqueueThumbnail(ctx context.Context, log *slog.Logger, profileID uint, rel string, req UploadRequest, result *UploadResult) {
	if s.queue == nil {
		return
	}
	task, err := tasks.NewThumbnailTask(tasks.ThumbnailPayload{
		ProfileID:     profileID,
		LocalPath:     rel,
		UserID:        req.UserID,
		CorrelationID: req.CorrelationID,
	})
	if err == nil {
		_, err = s.queue.EnqueueContext(ctx, task)
	}
	if err != nil {
		log.Warn("enqueue thumbnail failed", slog.Any("error", err))
		result.Warnings = append(result.Warnings, "thumbnail will not be generated")
	}
}

func (s *Service) removeLocal(log *slog.Logger, rel string) {
	if err := s.local.Remove(rel); err != nil {
		log.Error("remove local file failed", slog.String("path", rel), slog.Any("error", err))
	}
}

// originalName 取客户端文件名的最后一段，兼容 Windows 路径。
func originalName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if base := path.Base(name); base != "." && base != "/" {
		return base
	}
	return ""
}

// DocumentView 为附带访问引用的文档。
type DocumentView struct {
	database.Document
	Ref string `json:"ref"`
}

// FileRef 对已镜像文件返回 drive:<id>，否则返回本地路径。
func FileRef(localPath, remoteID string) string {
	if remoteID != "" {
		return mirror.Ref(remoteID)
	}
	return localPath
}

// List 返回档案的文档，最新的在前。
func (s *Service) List(ctx context.Context, profileID uint) ([]DocumentView, error) {
	var docs []database.Document
	if err := s.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("uploaded_at DESC, id DESC").
		Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	views := make([]DocumentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, DocumentView{Document: d, Ref: FileRef(d.LocalPath, d.RemoteID)})
	}
	return views, nil
}

// Get 读取一条文档记录。
func (s *Service) Get(ctx context.Context, id uint) (*database.Document, error) {
	var doc database.Document
	if err := s.db.WithContext(ctx).First(&doc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.NotFound("document not found")
		}
		return nil, fmt.Errorf("load document: %w", err)
	}
	return &doc, nil
}

// FindByRemoteID 按远程 id 查找文档。
func (s *Service) FindByRemoteID(ctx context.Context, remoteID string) (*database.Document, error) {
	var doc database.Document
	if err := s.db.WithContext(ctx).Where("remote_id = ?", remoteID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.NotFound("document not found")
		}
		return nil, fmt.Errorf("load document: %w", err)
	}
	return &doc, nil
}

// Delete 同时删除记录与本地文件，再尽力删除远程副本，
// 返回的 warnings 描述远程失败。
func (s *Service) Delete(ctx context.Context, id uint) ([]string, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(slog.Uint64("document_id", uint64(doc.ID)), slog.String("path", doc.LocalPath))

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Delete(&database.Document{}, doc.ID).Error; err != nil {
			return err
		}
		if err := s.local.Remove(doc.LocalPath); err != nil {
			return errcode.Storage("remove file", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete document: %w", err)
	}

	var warnings []string
	if doc.RemoteID != "" {
		if err := s.mirror.Delete(ctx, doc.RemoteID); err != nil {
			log.Warn("remote delete failed", slog.String("remote_id", doc.RemoteID), slog.Any("error", err))
			warnings = append(warnings, "remote copy could not be removed")
		}
	}
	log.Info("document deleted")
	return warnings, nil
}

// Open 打开本地文件用于下载。
func (s *Service) Open(_ context.Context, rel string) (*os.File, fs.FileInfo, error) {
	if _, err := placement.ParseLocalPath(rel); err != nil {
		return nil, nil, err
	}
	f, info, err := s.local.Open(rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, storage.ErrOutsideRoot) {
			return nil, nil, errcode.NotFound("file not found")
		}
		return nil, nil, errcode.Storage("open file", err)
	}
	return f, info, nil
}

// RemoteLinks 返回已镜像文件的查看与下载链接。
func (s *Service) RemoteLinks(ctx context.Context, remoteID string) (view, download string, err error) {
	if view, err = s.mirror.ViewURL(ctx, remoteID); err != nil {
		return "", "", err
	}
	if download, err = s.mirror.DownloadURL(ctx, remoteID); err != nil {
		return "", "", err
	}
	return view, download, nil
}

// Mirror 返回当前配置的远程镜像。
func (s *Service) Mirror() mirror.Mirror { return s.mirror }

package documents

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"staffHub/internal/placement"
)

// PurgeRequest 描述已删除档案留下的全部文件位置。
type PurgeRequest struct {
	StorageKey     string
	RemoteFolderID string
	RemoteIDs      []string
}

// Purge 删除档案的本地目录与远程对象，各项并行执行，
// 全部结束后返回第一个错误。
func (s *Service) Purge(ctx context.Context, req PurgeRequest) error {
	// 不用 WithContext：单个失败不应取消其余删除。
	var g errgroup.Group
	g.SetLimit(4)

	if key := req.StorageKey; key != "" && key != "." && key != ".." && !strings.ContainsAny(key, `/\`) {
		for _, category := range []string{placement.CategoryProfilePictures, placement.CategoryDocuments} {
			dir := path.Join(category, req.StorageKey)
			g.Go(func() error {
				return s.local.RemoveDir(dir)
			})
		}
	}

	if s.mirror.Enabled() {
		if req.RemoteFolderID != "" {
			g.Go(func() error {
				return s.mirror.Delete(ctx, req.RemoteFolderID)
			})
		}
		for _, id := range req.RemoteIDs {
			if req.RemoteFolderID != "" && path.Dir(id) == req.RemoteFolderID {
				continue
			}
			g.Go(func() error {
				return s.mirror.Delete(ctx, id)
			})
		}
	}

	err := g.Wait()
	if err != nil {
		s.logger.Warn("purge profile files incomplete", slog.String("storage_key", req.StorageKey), slog.Any("error", err))
	}
	return err
}

package mirror

import (
	"context"
	"io"
	"log/slog"
	"time"

	"staffHub/internal/errcode"
	"staffHub/internal/metrics"
)

// backend 为具体远程实现需提供的操作。guarded 在外层统一加上超时、
// 错误归类与指标，并在上传后授予公开读。
type backend interface {
	name() string
	rootFolderID() string
	ensureFolder(ctx context.Context, name, parentID string) (string, error)
	upload(ctx context.Context, r io.Reader, size int64, name, parentID, mimeType string) (string, error)
	grantPublicRead(ctx context.Context, id string) error
	viewURL(ctx context.Context, id string) (string, error)
	downloadURL(ctx context.Context, id string) (string, error)
	isMember(ctx context.Context, fileID, folderID string) (bool, error)
	listChildren(ctx context.Context, folderID string) ([]Entry, error)
	delete(ctx context.Context, id string) error
}

type guarded struct {
	b       backend
	timeout time.Duration
	logger  *slog.Logger
}

func newGuarded(b backend, timeout time.Duration, logger *slog.Logger) *guarded {
	return &guarded{b: b, timeout: timeout, logger: logger.With(slog.String("mirror", b.name()))}
}

func (g *guarded) Enabled() bool        { return true }
func (g *guarded) Backend() string      { return g.b.name() }
func (g *guarded) RootFolderID() string { return g.b.rootFolderID() }

func (g *guarded) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, g.timeout)
}

func (g *guarded) done(op string, err error) error {
	metrics.ObserveMirror(g.b.name(), op, err)
	if err == nil {
		return nil
	}
	g.logger.Warn("mirror call failed", slog.String("op", op), slog.Any("error", err))
	return errcode.Remote("remote "+op+" failed", err)
}

func (g *guarded) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	ctx, cancel := g.ctx(ctx)
	defer cancel()
	if parentID == "" {
		parentID = g.b.rootFolderID()
	}
	id, err := g.b.ensureFolder(ctx, name, parentID)
	return id, g.done("ensure_folder", err)
}

// Upload 上传后授予公开读，授权失败只记日志，不影响上传结果。
func (g *guarded) Upload(ctx context.Context, r io.Reader, size int64, name, parentID, mimeType string) (string, error) {
	ctx, cancel := g.ctx(ctx)
	defer cancel()
	if parentID == "" {
		parentID = g.b.rootFolderID()
	}
	id, err := g.b.upload(ctx, r, size, name, parentID, mimeType)
	if err != nil {
		return "", g.done("upload", err)
	}
	_ = g.done("upload", nil)

	if err := g.done("grant_public_read", g.b.grantPublicRead(ctx, id)); err != nil {
		g.logger.Warn("uploaded file left private", slog.String("file_id", id))
	}
	return id, nil
}

func (g *guarded) GrantPublicRead(ctx context.Context, id string) error {
	ctx, cancel := g.ctx(ctx)
	defer cancel()
	return g.done("grant_public_read", g.b.grantPublicRead(ctx, id))
}

func (g *guarded) ViewURL(ctx context.Context, id string) (string, error) {
	ctx, cancel := g.ctx(ctx)
	defer cancel()
	u, err := g.b.viewURL(ctx, id)
	return u, g.done("view_url", err)
}

func (g *guarded) DownloadURL(ctx context.Context, id string) (string, error) {
	ctx, cancel := g.ctx(ctx)
	defer cancel()
	u, err := g.b.downloadURL(ctx, id)
	return u, g.done("download_url", err)
}

func (g *guarded) IsMember(ctx context.Context, fileID, folderID string) (bool, error) {
	ctx, cancel := g.ctx(ctx)
	defer cancel()
	ok, err := g.b.isMember(ctx, fileID, folderID)
	return ok, g.done("is_member", err)
}

func (g *guarded) ListChildren(ctx context.Context, folderID string) ([]Entry, error) {
	ctx, cancel := g.ctx(ctx)
	defer cancel()
	if folderID == "" {
		folderID = g.b.rootFolderID()
	}
	entries, err := g.b.listChildren(ctx, folderID)
	return entries, g.done("list_children", err)
}

func (g *guarded) Delete(ctx context.Context, id string) error {
	ctx, cancel := g.ctx(ctx)
	defer cancel()
	return g.done("delete", g.b.delete(ctx, id))
}

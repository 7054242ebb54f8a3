package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"staffHub/internal/storage"
)

// objectStore 是 MinIO 后端用到的 storage.Client 子集。
type objectStore interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	PutMarker(ctx context.Context, prefix string) error
	StatObject(ctx context.Context, objectKey string) (storage.ObjectMeta, error)
	PublicURL(objectKey string) string
	GeneratePresignedURLWithParams(ctx context.Context, objectKey string, duration time.Duration, params map[string]string) (string, error)
	ListObjects(ctx context.Context, prefix string, recursive bool, limit int) ([]storage.ObjectMeta, error)
	DeleteObject(ctx context.Context, objectKey string) error
	DeletePrefix(ctx context.Context, prefix string) error
	GrantPublicRead(ctx context.Context, resource string) error
}

// minioBackend 将目录映射为 key 前缀。目录 id 为去掉末尾斜杠的前缀，
// 以零字节的 "<prefix>/" 对象标记；文件 id 即对象 key。
type minioBackend struct {
	store      objectStore
	root       string
	linkExpiry time.Duration
}

func newMinIOBackend(ctx context.Context, store objectStore, rootFolder string, linkExpiry time.Duration) (*minioBackend, error) {
	root := strings.Trim(rootFolder, "/")
	if root == "" {
		return nil, errors.New("mirror root folder is required")
	}
	b := &minioBackend{store: store, root: root, linkExpiry: linkExpiry}
	if _, err := b.ensureFolder(ctx, root, ""); err != nil {
		return nil, fmt.Errorf("ensure root folder: %w", err)
	}
	// 根目录整体公开，与上传后的逐个授权保持一致。
	if err := store.GrantPublicRead(ctx, root+"/*"); err != nil {
		return nil, fmt.Errorf("publish root folder: %w", err)
	}
	return b, nil
}

func (b *minioBackend) name() string         { return "minio" }
func (b *minioBackend) rootFolderID() string { return b.root }

func (b *minioBackend) ensureFolder(ctx context.Context, name, parentID string) (string, error) {
	name = strings.Trim(strings.ReplaceAll(name, "/", "_"), " ")
	if name == "" {
		return "", errors.New("folder name is empty")
	}
	id := name
	if parentID != "" {
		id = parentID + "/" + name
	}
	if _, err := b.store.StatObject(ctx, id+"/"); err == nil {
		return id, nil
	} else if !storage.IsNoSuchKey(err) {
		return "", err
	}
	if err := b.store.PutMarker(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

func (b *minioBackend) upload(ctx context.Context, r io.Reader, size int64, name, parentID, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = mime.TypeByExtension(path.Ext(name))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	key := parentID + "/" + path.Base(name)
	if _, err := b.store.UploadFile(ctx, key, r, size, mimeType); err != nil {
		return "", err
	}
	return key, nil
}

// grantPublicRead 对对象所在目录开放匿名读，bucket policy 的条目数
// 因此只随目录数增长。
func (b *minioBackend) grantPublicRead(ctx context.Context, id string) error {
	return b.store.GrantPublicRead(ctx, path.Dir(id)+"/*")
}

func (b *minioBackend) viewURL(_ context.Context, id string) (string, error) {
	return b.store.PublicURL(id), nil
}

func (b *minioBackend) downloadURL(ctx context.Context, id string) (string, error) {
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(id)})
	if disposition == "" {
		disposition = "attachment"
	}
	return b.store.GeneratePresignedURLWithParams(ctx, id, b.linkExpiry, map[string]string{
		"response-content-disposition": disposition,
	})
}

func (b *minioBackend) isMember(ctx context.Context, fileID, folderID string) (bool, error) {
	if fileID == "" || folderID == "" || path.Dir(fileID) != folderID {
		return false, nil
	}
	if _, err := b.store.StatObject(ctx, fileID); err != nil {
		if storage.IsNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *minioBackend) listChildren(ctx context.Context, folderID string) ([]Entry, error) {
	objects, err := b.store.ListObjects(ctx, folderID+"/", false, 0)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(objects))
	for _, obj := range objects {
		id := strings.TrimSuffix(obj.Key, "/")
		entries = append(entries, Entry{
			ID:         id,
			Name:       path.Base(id),
			MimeType:   obj.ContentType,
			Size:       obj.Size,
			IsFolder:   obj.IsPrefix,
			ModifiedAt: obj.LastModified,
		})
	}
	return entries, nil
}

func (b *minioBackend) delete(ctx context.Context, id string) error {
	if err := b.store.DeleteObject(ctx, id); err != nil {
		return err
	}
	// 文件夹连同内容一起删除。
	return b.store.DeletePrefix(ctx, id+"/")
}

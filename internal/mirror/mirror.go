// Package mirror 提供上传文件的可选远程副本。
//
// 各后端统一使用不透明的字符串 id。每个档案的目录按需创建并缓存在档案记录上。
// 远程失败不会中断请求，调用方降级为仅本地存储。
package mirror

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrDisabled 由未启用镜像的所有操作返回。
var ErrDisabled = errors.New("remote mirror disabled")

// RefPrefix 标记文件 URL 中的远程引用，如 drive:<id>。
const RefPrefix = "drive:"

// Entry 为远程目录下的一个子项。
type Entry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mime_type,omitempty"`
	Size       int64     `json:"size"`
	IsFolder   bool      `json:"is_folder"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Mirror 为远程存储的能力集合。
type Mirror interface {
	Enabled() bool
	Backend() string
	RootFolderID() string
	// EnsureFolder 返回 parentID 下名为 name 的目录，不存在时创建。
	// 并发调用可能各自创建一次。
	EnsureFolder(ctx context.Context, name, parentID string) (string, error)
	Upload(ctx context.Context, r io.Reader, size int64, name, parentID, mimeType string) (string, error)
	GrantPublicRead(ctx context.Context, id string) error
	ViewURL(ctx context.Context, id string) (string, error)
	DownloadURL(ctx context.Context, id string) (string, error)
	IsMember(ctx context.Context, fileID, folderID string) (bool, error)
	ListChildren(ctx context.Context, folderID string) ([]Entry, error)
	Delete(ctx context.Context, id string) error
}

// Ref 将远程 id 格式化为文件 URL 中的引用。
func Ref(id string) string { return RefPrefix + id }

// ParseRef 从 drive:<id> 引用中取出远程 id。
func ParseRef(s string) (string, bool) {
	id, ok := strings.CutPrefix(s, RefPrefix)
	if !ok || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

// Disabled 为未配置后端时使用的镜像。
type Disabled struct{}

func (Disabled) Enabled() bool        { return false }
func (Disabled) Backend() string      { return "none" }
func (Disabled) RootFolderID() string { return "" }

func (Disabled) EnsureFolder(context.Context, string, string) (string, error) {
	return "", ErrDisabled
}

func (Disabled) Upload(context.Context, io.Reader, int64, string, string, string) (string, error) {
	return "", ErrDisabled
}

func (Disabled) GrantPublicRead(context.Context, string) error { return ErrDisabled }

func (Disabled) ViewURL(context.Context, string) (string, error) { return "", ErrDisabled }

func (Disabled) DownloadURL(context.Context, string) (string, error) { return "", ErrDisabled }

func (Disabled) IsMember(context.Context, string, string) (bool, error) { return false, ErrDisabled }

func (Disabled) ListChildren(context.Context, string) ([]Entry, error) { return nil, ErrDisabled }

func (Disabled) Delete(context.Context, string) error { return ErrDisabled }

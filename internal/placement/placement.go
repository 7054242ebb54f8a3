// Package placement 决定上传文件在本地磁盘上的位置。
//
// 目录结构为 <root>/<category>/<storage key>/<file name>，category 取
// profile_pictures 或 documents，storage key 在建档时确定。
package placement

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"staffHub/internal/config"
	"staffHub/internal/errcode"
)

// Kind 为上传类别。
type Kind string

const (
	KindProfilePicture   Kind = "profile_picture"
	KindCertificate      Kind = "certificate"
	KindExperienceLetter Kind = "experience_letter"
	KindOfferLetter      Kind = "offer_letter"
)

const (
	CategoryProfilePictures = "profile_pictures"
	CategoryDocuments       = "documents"
)

var (
	ErrUnsupportedFileType = errcode.Validation("unsupported file type")
	ErrUnknownKind         = errcode.Validation("unknown upload kind")
	ErrInvalidPath         = errcode.Validation("invalid file path")
)

// ParseKind 解析上传表单中的类别，连字符等同下划线。
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	switch k {
	case KindProfilePicture, KindCertificate, KindExperienceLetter, KindOfferLetter:
		return k, nil
	}
	return "", ErrUnknownKind
}

// Category 返回该类别对应的顶层目录。
func (k Kind) Category() string {
	if k == KindProfilePicture {
		return CategoryProfilePictures
	}
	return CategoryDocuments
}

// Placement 是解析后的存放位置。
type Placement struct {
	Category string
	Dir      string
	Name     string
}

// RelPath 返回写入数据库的相对路径，以 / 分隔。
func (p Placement) RelPath() string {
	return path.Join(p.Category, p.Dir, p.Name)
}

// Policy 保存上传根目录与各类别的扩展名白名单。
type Policy struct {
	root     string
	images   []string
	docs     []string
	newToken func() string
}

func NewPolicy(cfg config.UploadConfig) *Policy {
	return &Policy{
		root:     cfg.Root,
		images:   cfg.ImageExtensions,
		docs:     cfg.DocumentExtensions,
		newToken: NewToken,
	}
}

// Root 返回本地上传根目录。
func (p *Policy) Root() string { return p.root }

// AllowedExtension 判断文件名是否允许以该类别上传。
func (p *Policy) AllowedExtension(kind Kind, filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(SanitizeFilename(filename))), ".")
	if ext == "" {
		return false
	}
	if kind == KindProfilePicture {
		return slices.Contains(p.images, ext)
	}
	return slices.Contains(p.docs, ext)
}

// Resolve 计算新上传文件的位置，不访问磁盘。
func (p *Policy) Resolve(storageKey string, kind Kind, filename string) (Placement, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return Placement{}, err
	}
	if !validSegment(storageKey) {
		return Placement{}, errcode.Validation("profile has no storage key")
	}
	if !p.AllowedExtension(kind, filename) {
		return Placement{}, ErrUnsupportedFileType
	}

	name := p.newToken() + "_" + SanitizeFilename(filename)
	if kind != KindProfilePicture {
		name = string(kind) + "_" + name
	}
	return Placement{Category: kind.Category(), Dir: storageKey, Name: name}, nil
}

// AbsPath 将相对路径映射到本地文件系统。
func (p *Policy) AbsPath(rel string) string {
	return filepath.Join(p.root, filepath.FromSlash(rel))
}

// EnsureDir 在目录不存在时创建。
func (p *Policy) EnsureDir(pl Placement) error {
	dir := filepath.Join(p.root, pl.Category, pl.Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errcode.Storage("create upload directory", err)
	}
	return nil
}

// StorageKey 生成档案目录名 {code}_{first}_{last}。
func StorageKey(code, first, last string) string {
	parts := []string{sanitizeSegment(code), sanitizeSegment(first), sanitizeSegment(last)}
	return strings.Join(parts, "_")
}

// NewStorageKey 在工号为空时用随机串代替。
func NewStorageKey(code, first, last string) string {
	if strings.TrimSpace(code) == "" {
		code = "P" + NewToken()[:8]
	}
	return StorageKey(code, first, last)
}

// NewToken 返回 32 位小写十六进制的随机 UUID。
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ParseLocalPath 将数据库中的相对路径拆回 Placement。
func ParseLocalPath(rel string) (Placement, error) {
	rel = strings.ReplaceAll(strings.TrimSpace(rel), `\`, "/")
	if rel == "" || strings.HasPrefix(rel, "/") {
		return Placement{}, ErrInvalidPath
	}
	parts := strings.Split(rel, "/")
	if len(parts) != 3 {
		return Placement{}, ErrInvalidPath
	}
	for _, part := range parts {
		if !validSegment(part) {
			return Placement{}, ErrInvalidPath
		}
	}
	if parts[0] != CategoryProfilePictures && parts[0] != CategoryDocuments {
		return Placement{}, fmt.Errorf("%w: unknown category %q", ErrInvalidPath, parts[0])
	}
	return Placement{Category: parts[0], Dir: parts[1], Name: parts[2]}, nil
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`+"\x00")
}

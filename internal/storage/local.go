package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrOutsideRoot = errors.New("path escapes upload root")
	ErrTooLarge    = errors.New("file exceeds size limit")
)

// LocalStore 管理上传根目录下的文件，所有路径均为相对根目录的 / 分隔路径。
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

// Root 返回上传根目录的绝对路径。
func (s *LocalStore) Root() string { return s.root }

// Path 将相对路径映射到根目录下的绝对路径。
func (s *LocalStore) Path(rel string) (string, error) {
	rel = strings.ReplaceAll(rel, `\`, "/")
	if rel == "" || strings.HasPrefix(rel, "/") {
		return "", ErrOutsideRoot
	}
	full := filepath.Join(s.root, filepath.FromSlash(rel))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return full, nil
}

// Save 写入文件，先写临时文件再改名，失败时不留下半截文件。
// maxBytes 大于 0 时超出限制返回 ErrTooLarge。
func (s *LocalStore) Save(rel string, r io.Reader, maxBytes int64) (int64, error) {
	full, err := s.Path(rel)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		cleanup()
		return 0, fmt.Errorf("write file: %w", err)
	}
	if maxBytes > 0 && n > maxBytes {
		cleanup()
		return 0, ErrTooLarge
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("rename file: %w", err)
	}
	return n, nil
}

// Open 打开文件用于读取，调用方负责关闭。
func (s *LocalStore) Open(rel string) (*os.File, fs.FileInfo, error) {
	full, err := s.Path(rel)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, nil, fs.ErrNotExist
	}
	return f, info, nil
}

// Exists 判断文件是否存在。
func (s *LocalStore) Exists(rel string) bool {
	full, err := s.Path(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && !info.IsDir()
}

// Remove 删除文件，文件不存在视为成功。
func (s *LocalStore) Remove(rel string) error {
	full, err := s.Path(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

// RemoveDir 递归删除目录，用于清理整个员工目录。
func (s *LocalStore) RemoveDir(rel string) error {
	full, err := s.Path(rel)
	if err != nil {
		return err
	}
	if full == s.root {
		return ErrOutsideRoot
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("remove dir %s: %w", rel, err)
	}
	return nil
}

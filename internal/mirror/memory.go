package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

var errNotFound = errors.New("not found")

// Memory 是进程内的镜像实现（MIRROR_BACKEND=memory），也供测试注入故障。
// id 与 MinIO 相同，形如 folder/child。
type Memory struct {
	*guarded
	mem *memoryBackend
}

// NewMemory 返回一个已启用、数据全在内存中的镜像。
func NewMemory(root string) *Memory {
	mem := &memoryBackend{
		root:    root,
		folders: map[string]bool{root: true},
		files:   map[string][]byte{},
		public:  map[string]bool{},
		fail:    map[string]error{},
	}
	return &Memory{guarded: newGuarded(mem, 5*time.Second, slog.Default()), mem: mem}
}

// Fail 让之后的 op 调用都返回 err，err 为 nil 时清除。
func (m *Memory) Fail(op string, err error) {
	m.mem.mu.Lock()
	defer m.mem.mu.Unlock()
	if err == nil {
		delete(m.mem.fail, op)
		return
	}
	m.mem.fail[op] = err
}

// Content 返回文件内容。
func (m *Memory) Content(id string) ([]byte, bool) {
	m.mem.mu.Lock()
	defer m.mem.mu.Unlock()
	b, ok := m.mem.files[id]
	return b, ok
}

// IsPublic 报告 id 是否已授予公开读。
func (m *Memory) IsPublic(id string) bool {
	m.mem.mu.Lock()
	defer m.mem.mu.Unlock()
	return m.mem.public[id]
}

// FolderCount 返回目录数，含根目录。
func (m *Memory) FolderCount() int {
	m.mem.mu.Lock()
	defer m.mem.mu.Unlock()
	return len(m.mem.folders)
}

type memoryBackend struct {
	mu      sync.Mutex
	root    string
	folders map[string]bool
	files   map[string][]byte
	public  map[string]bool
	fail    map[string]error
}

func (b *memoryBackend) name() string         { return "memory" }
func (b *memoryBackend) rootFolderID() string { return b.root }

func (b *memoryBackend) failure(op string) error {
	return b.fail[op]
}

func (b *memoryBackend) ensureFolder(_ context.Context, name, parentID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("ensure_folder"); err != nil {
		return "", err
	}
	if !b.folders[parentID] {
		return "", fmt.Errorf("parent %s: %w", parentID, errNotFound)
	}
	id := parentID + "/" + strings.ReplaceAll(name, "/", "_")
	b.folders[id] = true
	return id, nil
}

func (b *memoryBackend) upload(_ context.Context, r io.Reader, _ int64, name, parentID, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("upload"); err != nil {
		return "", err
	}
	if !b.folders[parentID] {
		return "", fmt.Errorf("parent %s: %w", parentID, errNotFound)
	}
	id := parentID + "/" + path.Base(name)
	b.files[id] = data
	return id, nil
}

func (b *memoryBackend) grantPublicRead(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("grant_public_read"); err != nil {
		return err
	}
	b.public[id] = true
	return nil
}

func (b *memoryBackend) viewURL(_ context.Context, id string) (string, error) {
	if err := b.check("view_url", id); err != nil {
		return "", err
	}
	return "memory://view/" + id, nil
}

func (b *memoryBackend) downloadURL(_ context.Context, id string) (string, error) {
	if err := b.check("download_url", id); err != nil {
		return "", err
	}
	return "memory://download/" + id, nil
}

func (b *memoryBackend) check(op, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure(op); err != nil {
		return err
	}
	if _, ok := b.files[id]; !ok {
		return fmt.Errorf("file %s: %w", id, errNotFound)
	}
	return nil
}

func (b *memoryBackend) isMember(_ context.Context, fileID, folderID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("is_member"); err != nil {
		return false, err
	}
	_, ok := b.files[fileID]
	return ok && folderID != "" && path.Dir(fileID) == folderID, nil
}

func (b *memoryBackend) listChildren(_ context.Context, folderID string) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("list_children"); err != nil {
		return nil, err
	}
	var entries []Entry
	for id := range b.folders {
		if id != folderID && path.Dir(id) == folderID {
			entries = append(entries, Entry{ID: id, Name: path.Base(id), IsFolder: true})
		}
	}
	for id, data := range b.files {
		if path.Dir(id) == folderID {
			entries = append(entries, Entry{ID: id, Name: path.Base(id), Size: int64(len(data))})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (b *memoryBackend) delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failure("delete"); err != nil {
		return err
	}
	delete(b.files, id)
	for f := range b.files {
		if strings.HasPrefix(f, id+"/") {
			delete(b.files, f)
		}
	}
	for f := range b.folders {
		if f == id || strings.HasPrefix(f, id+"/") {
			delete(b.folders, f)
		}
	}
	return nil
}

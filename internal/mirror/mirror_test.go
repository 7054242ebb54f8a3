package mirror

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffHub/internal/config"
	"staffHub/internal/errcode"
	"staffHub/internal/storage"
)

func TestDisabledMirror(t *testing.T) {
	var m Mirror = Disabled{}
	ctx := context.Background()

	assert.False(t, m.Enabled())
	_, err := m.EnsureFolder(ctx, "x", "")
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = m.IsMember(ctx, "a", "b")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestRefRoundTrip(t *testing.T) {
	id, ok := ParseRef(Ref("1AbC"))
	require.True(t, ok)
	assert.Equal(t, "1AbC", id)

	_, ok = ParseRef("documents/x/y.pdf")
	assert.False(t, ok)
	_, ok = ParseRef("drive:")
	assert.False(t, ok)
}

func TestMemoryUploadGrantsPublicRead(t *testing.T) {
	m := NewMemory("root")
	ctx := context.Background()

	folder, err := m.EnsureFolder(ctx, "EMP1_Jane_Doe", "")
	require.NoError(t, err)
	again, err := m.EnsureFolder(ctx, "EMP1_Jane_Doe", m.RootFolderID())
	require.NoError(t, err)
	assert.Equal(t, folder, again)

	id, err := m.Upload(ctx, strings.NewReader("pdf"), 3, "resume.pdf", folder, "application/pdf")
	require.NoError(t, err)
	assert.True(t, m.IsPublic(id))

	ok, err := m.IsMember(ctx, id, folder)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.IsMember(ctx, id, "root/EMP2_Bob_Roe")
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := m.ListChildren(ctx, folder)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "resume.pdf", entries[0].Name)
}

func TestUploadSurvivesGrantFailure(t *testing.T) {
	m := NewMemory("root")
	m.Fail("grant_public_read", errors.New("quota"))

	id, err := m.Upload(context.Background(), strings.NewReader("x"), 1, "a.png", "", "image/png")
	require.NoError(t, err)
	assert.False(t, m.IsPublic(id))
	_, stored := m.Content(id)
	assert.True(t, stored)
}

func TestErrorsAreRemoteBackendErrors(t *testing.T) {
	m := NewMemory("root")
	cause := errors.New("503 backend unavailable")
	m.Fail("is_member", cause)

	_, err := m.IsMember(context.Background(), "root/a", "root")
	require.Error(t, err)
	assert.ErrorIs(t, err, errcode.ErrRemoteBackend)
	assert.ErrorIs(t, err, cause)
}

type fakeObjectStore struct {
	objects map[string][]byte
	granted []string
	statErr error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (s *fakeObjectStore) UploadFile(_ context.Context, key string, r io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	b, _ := io.ReadAll(r)
	s.objects[key] = b
	return &minio.UploadInfo{Key: key}, nil
}

func (s *fakeObjectStore) PutMarker(_ context.Context, prefix string) error {
	s.objects[strings.TrimSuffix(prefix, "/")+"/"] = nil
	return nil
}

func (s *fakeObjectStore) StatObject(_ context.Context, key string) (storage.ObjectMeta, error) {
	if s.statErr != nil {
		return storage.ObjectMeta{}, s.statErr
	}
	b, ok := s.objects[key]
	if !ok {
		return storage.ObjectMeta{}, minio.ErrorResponse{Code: "NoSuchKey"}
	}
	return storage.ObjectMeta{Key: key, Size: int64(len(b))}, nil
}

func (s *fakeObjectStore) PublicURL(key string) string { return "http://minio.local/staffhub/" + key }

func (s *fakeObjectStore) GeneratePresignedURLWithParams(_ context.Context, key string, _ time.Duration, params map[string]string) (string, error) {
	return "http://minio.local/staffhub/" + key + "?disposition=" + params["response-content-disposition"], nil
}

func (s *fakeObjectStore) ListObjects(_ context.Context, prefix string, _ bool, _ int) ([]storage.ObjectMeta, error) {
	var out []storage.ObjectMeta
	for key, b := range s.objects {
		if key != prefix && strings.HasPrefix(key, prefix) && !strings.Contains(strings.TrimSuffix(strings.TrimPrefix(key, prefix), "/"), "/") {
			out = append(out, storage.ObjectMeta{Key: key, Size: int64(len(b)), IsPrefix: strings.HasSuffix(key, "/")})
		}
	}
	return out, nil
}

func (s *fakeObjectStore) DeleteObject(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func (s *fakeObjectStore) DeletePrefix(_ context.Context, prefix string) error {
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

func (s *fakeObjectStore) GrantPublicRead(_ context.Context, resource string) error {
	s.granted = append(s.granted, resource)
	return nil
}

func TestMinIOBackendLayout(t *testing.T) {
	store := newFakeObjectStore()
	ctx := context.Background()

	b, err := newMinIOBackend(ctx, store, "Employee Management System", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, store.objects, "Employee Management System/")
	assert.Equal(t, []string{"Employee Management System/*"}, store.granted)

	m := newGuarded(b, time.Second, testLogger())
	folder, err := m.EnsureFolder(ctx, "EMP1_Jane_Doe", "")
	require.NoError(t, err)
	assert.Equal(t, "Employee Management System/EMP1_Jane_Doe", folder)

	id, err := m.Upload(ctx, strings.NewReader("data"), 4, "certificate_abc_resume.pdf", folder, "")
	require.NoError(t, err)
	assert.Equal(t, folder+"/certificate_abc_resume.pdf", id)
	assert.Equal(t, folder+"/*", store.granted[len(store.granted)-1])

	ok, err := m.IsMember(ctx, id, folder)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.IsMember(ctx, id, "Employee Management System/EMP2_Bob_Roe")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = m.IsMember(ctx, folder+"/missing.pdf", folder)
	require.NoError(t, err)
	assert.False(t, ok)

	dl, err := m.DownloadURL(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, dl, "attachment")

	entries, err := m.ListChildren(ctx, folder)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "certificate_abc_resume.pdf", entries[0].Name)

	require.NoError(t, m.Delete(ctx, folder))
	assert.NotContains(t, store.objects, id)
}

func TestMinIOMembershipPropagatesBackendErrors(t *testing.T) {
	store := newFakeObjectStore()
	b, err := newMinIOBackend(context.Background(), store, "root", time.Minute)
	require.NoError(t, err)

	store.statErr = errors.New("connection reset")
	_, err = b.isMember(context.Background(), "root/a/x.pdf", "root/a")
	assert.Error(t, err)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSelectsMemoryBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Mirror.Backend = config.MirrorMemory
	cfg.Mirror.RootFolder = "staff"

	m, err := New(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	assert.True(t, m.Enabled())
	assert.Equal(t, "staff", m.RootFolderID())

	folder, err := m.EnsureFolder(context.Background(), "EMP1_Jane_Doe", "")
	require.NoError(t, err)
	id, err := m.Upload(context.Background(), strings.NewReader("x"), 1, "a.pdf", folder, "application/pdf")
	require.NoError(t, err)
	ok, err := m.IsMember(context.Background(), id, folder)
	require.NoError(t, err)
	assert.True(t, ok)
}

package storage

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreSaveOpenRemove(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	rel := "documents/EMP1_Jane_Doe/certificate_abc_resume.pdf"
	n, err := store.Save(rel, strings.NewReader("%PDF-1.4"), 1024)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	assert.True(t, store.Exists(rel))

	f, info, err := store.Open(rel)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "%PDF-1.4", string(data))
	assert.Equal(t, int64(8), info.Size())

	require.NoError(t, store.Remove(rel))
	require.NoError(t, store.Remove(rel))
	assert.False(t, store.Exists(rel))
}

func TestLocalStoreRejectsEscapes(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, rel := range []string{"../outside.txt", "/etc/passwd", "documents/../../x", ""} {
		_, err := store.Save(rel, strings.NewReader("x"), 0)
		assert.ErrorIs(t, err, ErrOutsideRoot, rel)
	}
	assert.ErrorIs(t, store.RemoveDir("documents/.."), ErrOutsideRoot)
}

func TestLocalStoreEnforcesSizeLimit(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("documents/k/big.pdf", strings.NewReader("0123456789"), 5)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.False(t, store.Exists("documents/k/big.pdf"))
}

func TestLocalStoreRemoveDir(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("profile_pictures/k/a.png", strings.NewReader("png"), 0)
	require.NoError(t, err)
	require.NoError(t, store.RemoveDir("profile_pictures/k"))
	assert.False(t, store.Exists("profile_pictures/k/a.png"))
}

func TestAddPublicReadMergesStatement(t *testing.T) {
	out, changed, err := addPublicRead("", "staffhub", "Employee Management System/EMP1_Jane_Doe/*")
	require.NoError(t, err)
	require.True(t, changed)

	var policy bucketPolicy
	require.NoError(t, json.Unmarshal([]byte(out), &policy))
	require.Len(t, policy.Statement, 1)
	assert.Equal(t, []string{"arn:aws:s3:::staffhub/Employee Management System/EMP1_Jane_Doe/*"}, policy.Statement[0].Resource)

	// 已被前缀覆盖的对象不再追加。
	_, changed, err = addPublicRead(out, "staffhub", "Employee Management System/EMP1_Jane_Doe/x.pdf")
	require.NoError(t, err)
	assert.False(t, changed)

	out, changed, err = addPublicRead(out, "staffhub", "Employee Management System/EMP2_Bob_Roe/*")
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, json.Unmarshal([]byte(out), &policy))
	assert.Len(t, policy.Statement[0].Resource, 2)
}

func TestIsNoSuchKey(t *testing.T) {
	assert.True(t, IsNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, IsNoSuchBucket(minio.ErrorResponse{Code: "NoSuchBucket"}))
	assert.False(t, IsNoSuchKey(errors.New("connection refused")))
	assert.False(t, IsNoSuchKey(nil))
}

package mirror

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPrivate(t *testing.T, m *Memory) (folder string, ids []string) {
	t.Helper()
	ctx := context.Background()
	m.Fail("grant_public_read", errors.New("quota"))
	defer m.Fail("grant_public_read", nil)

	folder, err := m.EnsureFolder(ctx, "EMP1_Jane_Doe", "")
	require.NoError(t, err)
	sub, err := m.EnsureFolder(ctx, "certificates", folder)
	require.NoError(t, err)

	for _, f := range []struct{ name, parent string }{
		{"photo.png", folder},
		{"aws.pdf", sub},
	} {
		id, err := m.Upload(ctx, strings.NewReader("x"), 1, f.name, f.parent, "")
		require.NoError(t, err)
		require.False(t, m.IsPublic(id))
		ids = append(ids, id)
	}
	return folder, ids
}

func TestWalkVisitsFoldersBeforeChildren(t *testing.T) {
	m := NewMemory("root")
	folder, _ := seedPrivate(t, m)

	var visited []string
	err := Walk(context.Background(), m, m.RootFolderID(), func(_ string, e Entry) error {
		visited = append(visited, e.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		folder,
		folder + "/certificates",
		folder + "/certificates/aws.pdf",
		folder + "/photo.png",
	}, visited)
}

func TestWalkStopsOnCallbackError(t *testing.T) {
	m := NewMemory("root")
	seedPrivate(t, m)
	stop := errors.New("stop")

	calls := 0
	err := Walk(context.Background(), m, m.RootFolderID(), func(string, Entry) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestPublishAll(t *testing.T) {
	m := NewMemory("root")
	_, ids := seedPrivate(t, m)

	report, err := PublishAll(context.Background(), m, m.RootFolderID())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Published)
	assert.Empty(t, report.Failed)
	for _, id := range ids {
		assert.True(t, m.IsPublic(id), id)
	}
}

func TestPublishAllCollectsFailures(t *testing.T) {
	m := NewMemory("root")
	seedPrivate(t, m)
	m.Fail("grant_public_read", errors.New("forbidden"))

	report, err := PublishAll(context.Background(), m, m.RootFolderID())
	require.NoError(t, err)
	assert.Zero(t, report.Published)
	assert.Len(t, report.Failed, 2)
}

func TestWalkListFailure(t *testing.T) {
	m := NewMemory("root")
	m.Fail("list_children", errors.New("down"))

	_, err := PublishAll(context.Background(), m, m.RootFolderID())
	assert.Error(t, err)
}

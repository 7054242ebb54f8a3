package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/disintegration/imaging"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffHub/internal/database"
	"staffHub/internal/documents"
	"staffHub/internal/storage"
	"staffHub/internal/tasks"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func subscribe(t *testing.T, client *redis.Client, userID uint) *redis.PubSub {
	t.Helper()
	sub := client.Subscribe(context.Background(), tasks.NotifyChannel(userID))
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func receive(t *testing.T, sub *redis.PubSub) StorageNotifyMessage {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		var notify StorageNotifyMessage
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &notify))
		return notify
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}
	return StorageNotifyMessage{}
}

func writePNG(t *testing.T, local *storage.LocalStore, rel string, w, h int) {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	_, err := local.Save(rel, &buf, 0)
	require.NoError(t, err)
}

func TestThumbnailPath(t *testing.T) {
	assert.Equal(t, "profile_pictures/EMP1_Jane_Doe/thumb_abc_me.png", ThumbnailPath("profile_pictures/EMP1_Jane_Doe/abc_me.png"))
}

func TestThumbnailTaskGeneratesAndNotifies(t *testing.T) {
	db, err := database.OpenInMemory(t.Name())
	require.NoError(t, err)
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	rdb := newRedis(t)

	pic := "profile_pictures/EMP1_Jane_Doe/0123_me.png"
	writePNG(t, local, pic, 640, 480)
	profile := database.Profile{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", StorageKey: "EMP1_Jane_Doe", ProfilePicture: pic}
	require.NoError(t, db.Create(&profile).Error)

	sub := subscribe(t, rdb, 7)
	task, err := tasks.NewThumbnailTask(tasks.ThumbnailPayload{ProfileID: profile.ID, LocalPath: pic, UserID: 7, CorrelationID: "cid"})
	require.NoError(t, err)

	h := NewThumbnailTaskHandler(db, local, rdb, slog.Default(), 64)
	require.NoError(t, h.ProcessTask(context.Background(), task))

	var got database.Profile
	require.NoError(t, db.First(&got, profile.ID).Error)
	assert.Equal(t, ThumbnailPath(pic), got.ProfileThumbnail)

	f, _, err := local.Open(got.ProfileThumbnail)
	require.NoError(t, err)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 64, cfg.Height)

	notify := receive(t, sub)
	assert.Equal(t, "completed", notify.Status)
	assert.Equal(t, tasks.TypeThumbnail, notify.Event)
	assert.Equal(t, got.ProfileThumbnail, notify.Path)
	assert.Equal(t, "cid", notify.CorrelationID)
}

func TestThumbnailTaskSkipsReplacedPicture(t *testing.T) {
	db, err := database.OpenInMemory(t.Name())
	require.NoError(t, err)
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	old := "profile_pictures/EMP1_Jane_Doe/old_me.png"
	profile := database.Profile{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", StorageKey: "EMP1_Jane_Doe", ProfilePicture: "profile_pictures/EMP1_Jane_Doe/new_me.png"}
	require.NoError(t, db.Create(&profile).Error)

	task, err := tasks.NewThumbnailTask(tasks.ThumbnailPayload{ProfileID: profile.ID, LocalPath: old})
	require.NoError(t, err)
	h := NewThumbnailTaskHandler(db, local, nil, nil, 0)
	require.NoError(t, h.ProcessTask(context.Background(), task))
	assert.False(t, local.Exists(ThumbnailPath(old)))
}

func TestThumbnailTaskRejectsUndecodableImage(t *testing.T) {
	db, err := database.OpenInMemory(t.Name())
	require.NoError(t, err)
	local, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	pic := "profile_pictures/EMP1_Jane_Doe/bad_me.png"
	_, err = local.Save(pic, bytes.NewReader([]byte("not a png")), 0)
	require.NoError(t, err)
	profile := database.Profile{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", StorageKey: "EMP1_Jane_Doe", ProfilePicture: pic}
	require.NoError(t, db.Create(&profile).Error)

	task, err := tasks.NewThumbnailTask(tasks.ThumbnailPayload{ProfileID: profile.ID, LocalPath: pic})
	require.NoError(t, err)
	err = NewThumbnailTaskHandler(db, local, nil, nil, 0).ProcessTask(context.Background(), task)
	require.Error(t, err)

	var got database.Profile
	require.NoError(t, db.First(&got, profile.ID).Error)
	assert.Empty(t, got.ProfileThumbnail)
}

type fakePurger struct {
	got documents.PurgeRequest
	err error
}

func (p *fakePurger) Purge(_ context.Context, req documents.PurgeRequest) error {
	p.got = req
	return p.err
}

func TestPurgeTaskDelegatesAndNotifies(t *testing.T) {
	rdb := newRedis(t)
	sub := subscribe(t, rdb, 3)
	purger := &fakePurger{}

	task, err := tasks.NewPurgeProfileTask(tasks.PurgeProfilePayload{
		ProfileID:      9,
		StorageKey:     "EMP9_Old_Timer",
		RemoteFolderID: "root/EMP9_Old_Timer",
		RemoteIDs:      []string{"elsewhere/x.pdf"},
		UserID:         3,
	})
	require.NoError(t, err)
	require.NoError(t, NewPurgeTaskHandler(purger, rdb, nil).ProcessTask(context.Background(), task))

	assert.Equal(t, documents.PurgeRequest{
		StorageKey:     "EMP9_Old_Timer",
		RemoteFolderID: "root/EMP9_Old_Timer",
		RemoteIDs:      []string{"elsewhere/x.pdf"},
	}, purger.got)

	notify := receive(t, sub)
	assert.Equal(t, "completed", notify.Status)
	assert.Equal(t, uint(9), notify.ProfileID)
}

func TestPurgeTaskReturnsErrorForRetry(t *testing.T) {
	purger := &fakePurger{err: errors.New("disk busy")}
	task, err := tasks.NewPurgeProfileTask(tasks.PurgeProfilePayload{ProfileID: 1, StorageKey: "K"})
	require.NoError(t, err)
	assert.Error(t, NewPurgeTaskHandler(purger, nil, nil).ProcessTask(context.Background(), task))
}

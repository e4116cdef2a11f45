package removal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/internal/store"
)

func setup(t *testing.T) (*store.Store, *Handler) {
	t.Helper()
	s, err := store.Open(&store.MemoryBackend{})
	require_.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, New(s)
}

func add(t *testing.T, s *store.Store, videoID string, status store.DownloadStatus, folder string) store.Download {
	t.Helper()
	d, err := s.AddDownload(store.Download{
		VideoID:           videoID,
		ChannelID:         "c1",
		Title:             videoID,
		Status:            status,
		Folder:            folder,
		AutomationEnabled: true,
	})
	require_.NoError(t, err)
	return d
}

func TestRemove_Downloaded(t *testing.T) {
	assert := assert_.New(t)
	s, h := setup(t)
	folder := filepath.Join(t.TempDir(), "Video A")
	require_.NoError(t, os.MkdirAll(folder, 0755))
	require_.NoError(t, os.WriteFile(filepath.Join(folder, "Video A.mp4"), []byte("x"), 0644))
	d := add(t, s, "A", store.StatusDownloaded, folder)

	assert.NoError(h.Remove(context.Background(), store.ByUUID(d.UUID)))

	got := s.Download(d.UUID).Unwrap()
	assert.Equal(store.StatusRemoved, got.Status)
	assert.Empty(got.Folder)
	assert.Equal(LogRemoved, got.Log)
	assert.NoDirExists(folder)
}

func TestRemove_FolderAlreadyGone(t *testing.T) {
	assert := assert_.New(t)
	s, h := setup(t)
	d := add(t, s, "A", store.StatusDownloaded, filepath.Join(t.TempDir(), "gone"))
	assert.NoError(h.Remove(context.Background(), store.ByUUID(d.UUID)))
	assert.Equal(store.StatusRemoved, s.Download(d.UUID).Unwrap().Status)
}

func TestRemove_RefusesDownloading(t *testing.T) {
	assert := assert_.New(t)
	s, h := setup(t)
	d := add(t, s, "A", store.StatusDownloading, "")

	err := h.Remove(context.Background(), store.ByUUID(d.UUID))

	var merr *multierror.Error
	require_.True(t, errors.As(err, &merr))
	assert.Len(merr.Errors, 1)
	assert.True(errors.Is(merr.Errors[0], channel_archiver.ErrConflict))
	assert.Contains(merr.Errors[0].Error(), d.UUID)
	assert.Contains(merr.Errors[0].Error(), "mid-download")
	got := s.Download(d.UUID).Unwrap()
	assert.Equal(store.StatusDownloading, got.Status)
	assert.Empty(got.Folder)
}

func TestRemove_PartialBatch(t *testing.T) {
	assert := assert_.New(t)
	s, h := setup(t)
	queued := add(t, s, "A", store.StatusQueued, "")
	downloading := add(t, s, "B", store.StatusDownloading, "")
	failed := add(t, s, "C", store.StatusFailed, "")

	err := h.Remove(context.Background(), store.ByChannelID("c1"))

	var merr *multierror.Error
	require_.True(t, errors.As(err, &merr))
	assert.Len(merr.Errors, 1)
	assert.Equal(store.StatusRemoved, s.Download(queued.UUID).Unwrap().Status)
	assert.Equal(store.StatusDownloading, s.Download(downloading.UUID).Unwrap().Status)
	assert.Equal(store.StatusRemoved, s.Download(failed.UUID).Unwrap().Status)
	// Records are retired, never deleted
	assert.Len(s.Downloads(store.DownloadFilter{}), 3)
}

func TestRemove_NoMatches(t *testing.T) {
	assert := assert_.New(t)
	_, h := setup(t)
	assert.NoError(h.Remove(context.Background(), store.ByUUID("missing")))
}

func TestRemove_Cancelled(t *testing.T) {
	assert := assert_.New(t)
	s, h := setup(t)
	d := add(t, s, "A", store.StatusQueued, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.Remove(ctx, store.DownloadFilter{})
	assert.True(errors.Is(err, context.Canceled))
	assert.Equal(store.StatusQueued, s.Download(d.UUID).Unwrap().Status)
}

func TestRemoveChannel(t *testing.T) {
	assert := assert_.New(t)
	s, h := setup(t)
	require_.NoError(t, s.AddChannel(store.Channel{ID: "c1", DownloadCount: 1, MaximumDuration: 10}))
	require_.NoError(t, s.AddChannel(store.Channel{ID: "c2", DownloadCount: 1, MaximumDuration: 10}))
	d := add(t, s, "A", store.StatusQueued, "")

	assert.NoError(h.RemoveChannel(context.Background(), "c2", true))
	assert.True(s.Channel("c2").IsNone())
	assert.Equal(store.StatusQueued, s.Download(d.UUID).Unwrap().Status)

	assert.NoError(h.RemoveChannel(context.Background(), "c1", true))
	assert.True(s.Channel("c1").IsNone())
	assert.Equal(store.StatusRemoved, s.Download(d.UUID).Unwrap().Status)

	assert.True(errors.Is(h.RemoveChannel(context.Background(), "c1", false), channel_archiver.ErrNotFound))
}

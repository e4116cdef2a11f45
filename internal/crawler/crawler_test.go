package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/internal/fake"
	"github.com/alanbriolat/channel-archiver/internal/lifecycle"
	"github.com/alanbriolat/channel-archiver/internal/removal"
	"github.com/alanbriolat/channel-archiver/internal/store"
)

type fixture struct {
	store    *store.Store
	provider *fake.Provider
	manager  *lifecycle.Manager
	crawler  *Crawler
	config   lifecycle.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(&store.MemoryBackend{})
	require_.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	root := t.TempDir()
	tmp := filepath.Join(root, "tmp")
	require_.NoError(t, os.MkdirAll(tmp, 0755))
	f := &fixture{
		store:    s,
		provider: fake.NewProvider(tmp),
		config: lifecycle.Config{
			ProcessingDir:    filepath.Join(root, "processing"),
			CompletedDir:     filepath.Join(root, "completed"),
			TranscodeTimeout: time.Minute,
			ProviderName:     "youtube",
		},
	}
	f.manager = lifecycle.New(s, f.provider, &fake.Transcoder{}, f.config)
	f.crawler = New(s, f.provider, removal.New(s), f.manager.Run)
	return f
}

// list publishes videos for a channel, most recent first.
func (f *fixture) list(channelID string, ids ...string) {
	var videos []channel_archiver.ChannelVideo
	for _, id := range ids {
		videos = append(videos, channel_archiver.ChannelVideo{
			ID:           id,
			Title:        "Video " + id,
			Description:  "About " + id,
			ThumbnailURL: "https://example.com/" + id + ".jpg",
			Duration:     5 * time.Minute,
		})
		f.provider.Videos[id] = channel_archiver.VideoInfo{ID: id, Title: "Video " + id, ChannelID: channelID, Duration: 5 * time.Minute}
	}
	f.provider.Listings[channelID] = videos
}

func (f *fixture) videoIDs(filter store.DownloadFilter) []string {
	var ids []string
	for _, d := range f.store.Downloads(filter) {
		ids = append(ids, d.VideoID)
	}
	return ids
}

func TestCrawl_SkipsDisabledChannels(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	require_.NoError(t, f.store.AddChannel(store.Channel{ID: "none", DownloadCount: 0, MaximumDuration: 60}))
	require_.NoError(t, f.store.AddChannel(store.Channel{ID: "short", DownloadCount: 3, MaximumDuration: 0}))
	f.list("none", "A", "B")
	f.list("short", "C")
	// An automated record that would otherwise be out of scope
	_, err := f.store.AddDownload(store.Download{VideoID: "OLD", ChannelID: "short", Status: store.StatusQueued, AutomationEnabled: true})
	require_.NoError(t, err)

	assert.NoError(f.crawler.Crawl(context.Background()))

	assert.Equal([]string{"OLD"}, f.videoIDs(store.DownloadFilter{}))
	assert.Equal(store.StatusQueued, f.store.Downloads(store.ByVideoID("OLD"))[0].Status)
	assert.Empty(f.provider.Calls())
}

func TestCrawl_ThenDrain(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	require_.NoError(t, f.store.AddChannel(store.Channel{ID: "c1", Name: "One", DownloadCount: 2, MaximumDuration: 60}))
	f.list("c1", "A", "B", "C")

	assert.NoError(f.crawler.Crawl(context.Background()))

	downloads := f.store.Downloads(store.ByChannelID("c1"))
	require_.Len(t, downloads, 2)
	for _, d := range downloads {
		assert.Equal(store.StatusQueued, d.Status)
		assert.Equal(LogQueued, d.Log)
		assert.True(d.AutomationEnabled)
		assert.Equal(int64(300), d.Metadata.Duration)
		assert.Equal("About "+d.VideoID, d.Metadata.Description)
		assert.NotEmpty(d.UUID)
	}
	assert.Equal([]string{"A", "B"}, f.videoIDs(store.DownloadFilter{}))

	// Unchanged provider data adds nothing
	assert.NoError(f.crawler.Crawl(context.Background()))
	assert.Len(f.store.Downloads(store.DownloadFilter{}), 2)

	assert.NoError(f.crawler.DrainQueue(context.Background()))
	downloads = f.store.Downloads(store.DownloadFilter{})
	require_.Len(t, downloads, 2)
	assert.Equal(store.StatusDownloaded, downloads[0].Status)
	assert.Equal(store.StatusDownloaded, downloads[1].Status)
	assert.NotEqual(downloads[0].Folder, downloads[1].Folder)
	assert.DirExists(downloads[0].Folder)
	assert.DirExists(downloads[1].Folder)
}

func TestCrawl_RemovesOutOfScope(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	require_.NoError(t, f.store.AddChannel(store.Channel{ID: "c1", DownloadCount: 2, MaximumDuration: 60}))
	f.list("c1", "A", "B")
	require_.NoError(t, f.crawler.Crawl(context.Background()))
	require_.NoError(t, f.crawler.DrainQueue(context.Background()))
	oldA := f.store.Downloads(store.ByVideoID("A"))[0]
	require_.Equal(t, store.StatusDownloaded, oldA.Status)

	// A frozen record outside the desired set
	frozen, err := f.store.AddDownload(store.Download{VideoID: "F", ChannelID: "c1", Title: "Frozen", Status: store.StatusFailed, Log: "kept"})
	require_.NoError(t, err)

	// Two new uploads push A and B out
	f.list("c1", "D", "C", "B", "A")
	assert.NoError(f.crawler.Crawl(context.Background()))

	a := f.store.Download(oldA.UUID).Unwrap()
	assert.Equal(store.StatusRemoved, a.Status)
	assert.Empty(a.Folder)
	assert.NoDirExists(oldA.Folder)
	assert.Equal(store.StatusRemoved, f.store.Downloads(store.ByVideoID("B"))[0].Status)
	assert.Equal(frozen, f.store.Download(frozen.UUID).Unwrap())
	assert.ElementsMatch([]string{"D", "C"}, f.videoIDs(store.ByStatus(store.StatusQueued)))

	// Removed records still count as known, so nothing is re-added
	f.list("c1", "A", "B")
	assert.NoError(f.crawler.Crawl(context.Background()))
	assert.Len(f.store.Downloads(store.ByVideoID("A")), 1)
}

func TestCrawl_RemovalRefusedMidDownload(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	require_.NoError(t, f.store.AddChannel(store.Channel{ID: "c1", DownloadCount: 1, MaximumDuration: 60}))
	f.list("c1", "A")
	busy, err := f.store.AddDownload(store.Download{VideoID: "X", ChannelID: "c1", Status: store.StatusDownloading, AutomationEnabled: true})
	require_.NoError(t, err)

	err = f.crawler.Crawl(context.Background())

	assert.True(errors.Is(err, channel_archiver.ErrConflict))
	assert.Equal(store.StatusDownloading, f.store.Download(busy.UUID).Unwrap().Status)
	// The rest of the channel is still processed
	assert.Len(f.store.Downloads(store.ByVideoID("A")), 1)
}

func TestCrawl_LiveAndUpcoming(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	require_.NoError(t, f.store.AddChannel(store.Channel{ID: "c1", DownloadCount: 3, MaximumDuration: 60}))
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	f.provider.Listings["c1"] = []channel_archiver.ChannelVideo{
		{ID: "L", Title: "Live now", IsLive: true},
		{ID: "U", Title: "Soon", IsUpcoming: true, UpcomingAt: &at},
		{ID: "P", IsUpcoming: true},
	}

	assert.NoError(f.crawler.Crawl(context.Background()))

	live := f.store.Downloads(store.ByVideoID("L"))[0]
	assert.Equal(store.StatusFailed, live.Status)
	assert.Equal("Video is Live", live.Log)
	upcoming := f.store.Downloads(store.ByVideoID("U"))[0]
	assert.Equal(store.StatusFailed, upcoming.Status)
	assert.Equal("Video is upcoming 2024-05-01T10:00:00Z", upcoming.Log)
	unknown := f.store.Downloads(store.ByVideoID("P"))[0]
	assert.Equal("Video is upcoming", unknown.Log)
	assert.Equal("P", unknown.Title)

	// Nothing to drain
	assert.NoError(f.crawler.DrainQueue(context.Background()))
	assert.Equal(store.StatusFailed, f.store.Downloads(store.ByVideoID("L"))[0].Status)
}

func TestCrawl_ProviderFailureIsolated(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	require_.NoError(t, f.store.AddChannel(store.Channel{ID: "bad", DownloadCount: 1, MaximumDuration: 60}))
	require_.NoError(t, f.store.AddChannel(store.Channel{ID: "good", DownloadCount: 1, MaximumDuration: 60}))
	f.provider.Errors["bad"] = &channel_archiver.ProviderError{Kind: channel_archiver.ProviderErrorNetwork, Op: "list channel bad", Err: errors.New("timeout")}
	f.list("good", "G")

	err := f.crawler.Crawl(context.Background())

	assert.True(errors.Is(err, channel_archiver.ErrProvider))
	assert.Contains(err.Error(), "channel bad")
	assert.Equal([]string{"G"}, f.videoIDs(store.DownloadFilter{}))
}

func TestDrainQueue_IsolatesFailures(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	var ran []string
	f.crawler = New(f.store, f.provider, removal.New(f.store), func(ctx context.Context, uuid string) error {
		d := f.store.Download(uuid).Unwrap()
		ran = append(ran, d.VideoID)
		if d.VideoID == "A" {
			return errors.New("store unavailable")
		}
		return nil
	})
	for _, id := range []string{"A", "B"} {
		_, err := f.store.AddDownload(store.Download{VideoID: id, ChannelID: "c1", Status: store.StatusQueued, AutomationEnabled: true})
		require_.NoError(t, err)
	}
	_, err := f.store.AddDownload(store.Download{VideoID: "M", ChannelID: "c1", Status: store.StatusQueued})
	require_.NoError(t, err)

	err = f.crawler.DrainQueue(context.Background())

	var merr *multierror.Error
	require_.True(t, errors.As(err, &merr))
	assert.Len(merr.Errors, 1)
	assert.Equal([]string{"A", "B"}, ran)
}

func TestDrainQueue_JobFailureRecorded(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	require_.NoError(t, f.store.AddChannel(store.Channel{ID: "c1", DownloadCount: 2, MaximumDuration: 60}))
	f.list("c1", "A", "B")
	f.provider.Errors["A"] = &channel_archiver.ProviderError{Kind: channel_archiver.ProviderErrorRestricted, Op: "video stream A", Err: errors.New("private")}
	require_.NoError(t, f.crawler.Crawl(context.Background()))

	assert.NoError(f.crawler.DrainQueue(context.Background()))

	a := f.store.Downloads(store.ByVideoID("A"))[0]
	assert.Equal(store.StatusFailed, a.Status)
	assert.Equal("Provider Error, private", a.Log)
	assert.Equal(store.StatusDownloaded, f.store.Downloads(store.ByVideoID("B"))[0].Status)
}

func TestDrainQueue_Cancelled(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	_, err := f.store.AddDownload(store.Download{VideoID: "A", Status: store.StatusQueued, AutomationEnabled: true})
	require_.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(errors.Is(f.crawler.DrainQueue(ctx), context.Canceled))
	assert.Equal(store.StatusQueued, f.store.Downloads(store.DownloadFilter{})[0].Status)
}

func TestRefreshThumbnails(t *testing.T) {
	assert := assert_.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone.jpg" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture(t)
	f.crawler = New(f.store, f.provider, removal.New(f.store), f.manager.Run, WithHTTPClient(server.Client()))
	f.provider.Videos["A"] = channel_archiver.VideoInfo{ID: "A", Thumbnails: []string{server.URL + "/new-a.jpg"}}
	f.provider.Videos["C"] = channel_archiver.VideoInfo{ID: "C"}
	f.provider.Channels["c1"] = channel_archiver.ChannelInfo{ID: "c1", ThumbnailURL: server.URL + "/new-c1.jpg"}
	for _, d := range []store.Download{
		{VideoID: "A", Status: store.StatusQueued, Metadata: store.DownloadMetadata{Thumbnail: server.URL + "/gone.jpg", Duration: 10}},
		{VideoID: "B", Status: store.StatusQueued, Metadata: store.DownloadMetadata{Thumbnail: server.URL + "/ok.jpg"}},
		{VideoID: "C", Status: store.StatusQueued, Metadata: store.DownloadMetadata{Thumbnail: server.URL + "/gone.jpg"}},
		{VideoID: "D", Status: store.StatusQueued},
	} {
		_, err := f.store.AddDownload(d)
		require_.NoError(t, err)
	}
	require_.NoError(t, f.store.AddChannel(store.Channel{ID: "c1", Metadata: store.ChannelMetadata{Thumbnail: server.URL + "/gone.jpg"}}))
	require_.NoError(t, f.store.AddChannel(store.Channel{ID: "c2", Metadata: store.ChannelMetadata{Thumbnail: server.URL + "/ok.jpg"}}))

	assert.NoError(f.crawler.RefreshDownloadThumbnails(context.Background()))
	assert.NoError(f.crawler.RefreshChannelThumbnails(context.Background()))

	a := f.store.Downloads(store.ByVideoID("A"))[0]
	assert.Equal(server.URL+"/new-a.jpg", a.Metadata.Thumbnail)
	assert.Equal(int64(10), a.Metadata.Duration)
	assert.Equal(server.URL+"/ok.jpg", f.store.Downloads(store.ByVideoID("B"))[0].Metadata.Thumbnail)
	// No replacement available
	assert.Equal(server.URL+"/gone.jpg", f.store.Downloads(store.ByVideoID("C"))[0].Metadata.Thumbnail)
	assert.Equal(server.URL+"/new-c1.jpg", f.store.Channel("c1").Unwrap().Metadata.Thumbnail)
	assert.Equal(server.URL+"/ok.jpg", f.store.Channel("c2").Unwrap().Metadata.Thumbnail)
	assert.NotContains(f.provider.Calls(), "VideoInfo B")
}

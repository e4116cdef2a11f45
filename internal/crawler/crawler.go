// Package crawler reconciles each channel's downloads against the videos the channel currently wants kept, and
// drains the resulting queue.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/generic"
	"github.com/alanbriolat/channel-archiver/internal/store"
)

const (
	LogQueued   = "Queued for download"
	LogLive     = "Video is Live"
	LogUpcoming = "Video is upcoming"
)

// Runner processes a single queued download.
type Runner func(ctx context.Context, uuid string) error

type Remover interface {
	Remove(ctx context.Context, filter store.DownloadFilter) error
}

type Option func(*Crawler)

// WithHTTPClient sets the client used to check thumbnail URLs.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Crawler) {
		c.client = client
	}
}

type Crawler struct {
	store    *store.Store
	provider channel_archiver.MediaProvider
	remover  Remover
	run      Runner
	client   *http.Client
	log      *zap.SugaredLogger
}

func New(s *store.Store, provider channel_archiver.MediaProvider, remover Remover, run Runner, opts ...Option) *Crawler {
	c := &Crawler{
		store:    s,
		provider: provider,
		remover:  remover,
		run:      run,
		client:   &http.Client{Timeout: channel_archiver.DefaultConfig.HTTPTimeout},
		log:      zap.S().Named("crawler"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crawl reconciles every enabled channel. A channel whose listing can't be fetched is skipped and its error included
// in the result; a failure to save a new record stops the crawl.
func (c *Crawler) Crawl(ctx context.Context) error {
	c.log.Info("crawl started")
	var result *multierror.Error
	for _, channel := range c.store.Channels(store.ChannelFilter{}) {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := c.log.With("channel_id", channel.ID)
		if channel.DownloadCount <= 0 || channel.MaximumDuration <= 0 {
			log.Debugw("skipping channel, downloadCount or maximumDuration is 0 or lower",
				"download_count", channel.DownloadCount, "maximum_duration", channel.MaximumDuration)
			continue
		}
		log.Infow("crawling channel", "name", channel.Name, "download_count", channel.DownloadCount)
		issues, err := c.crawlChannel(ctx, log, channel)
		if err != nil {
			return fmt.Errorf("channel %v: %w", channel.ID, err)
		}
		if issues != nil {
			result = multierror.Append(result, multierror.Prefix(issues.ErrorOrNil(), fmt.Sprintf("channel %v:", channel.ID)))
		}
	}
	c.log.Info("crawl finished")
	return result.ErrorOrNil()
}

// crawlChannel returns problems that shouldn't stop the crawl separately from the error that should.
func (c *Crawler) crawlChannel(ctx context.Context, log *zap.SugaredLogger, channel store.Channel) (*multierror.Error, error) {
	videos, err := c.provider.ChannelVideos(ctx, channel.ID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warnw("failed to list channel videos", "error", err)
		return multierror.Append(nil, err), nil
	}
	if len(videos) > channel.DownloadCount {
		videos = videos[:channel.DownloadCount]
	}
	desired := generic.NewSet[string]()
	for _, v := range videos {
		desired.Add(v.ID)
	}

	var issues *multierror.Error
	for _, d := range c.store.Downloads(store.ByChannelID(channel.ID)) {
		if !d.AutomationEnabled {
			log.Debugw("automation disabled, leaving download alone", "video_id", d.VideoID)
			continue
		}
		if d.Status == store.StatusRemoved || desired.Contains(d.VideoID) {
			continue
		}
		log.Infow("download flagged for removal", "video_id", d.VideoID, "download_uuid", d.UUID)
		if err := c.remover.Remove(ctx, store.ByUUID(d.UUID)); err != nil {
			issues = multierror.Append(issues, err)
		}
	}

	for _, v := range videos {
		if existing := c.store.Downloads(store.ByVideoID(v.ID)); len(existing) > 0 {
			log.Debugw("video already known", "video_id", v.ID, "download_uuid", existing[0].UUID)
			continue
		}
		d, err := c.store.AddDownload(newDownload(channel, v))
		if err != nil {
			return issues, err
		}
		log.Infow("added download", "video_id", v.ID, "download_uuid", d.UUID, "status", d.Status, "log", d.Log)
	}
	return issues, nil
}

func newDownload(channel store.Channel, v channel_archiver.ChannelVideo) store.Download {
	d := store.Download{
		VideoID:           v.ID,
		ChannelID:         channel.ID,
		Title:             v.Title,
		Status:            store.StatusQueued,
		Log:               LogQueued,
		AutomationEnabled: true,
		Metadata: store.DownloadMetadata{
			Thumbnail:   v.ThumbnailURL,
			Description: v.Description,
			Duration:    int64(v.Duration / time.Second),
		},
	}
	if d.Title == "" {
		d.Title = v.ID
	}
	switch {
	case v.IsUpcoming || v.UpcomingAt != nil:
		d.Status = store.StatusFailed
		d.Log = upcomingLog(v.UpcomingAt)
	case v.IsLive:
		d.Status = store.StatusFailed
		d.Log = LogLive
	}
	return d
}

func upcomingLog(at *time.Time) string {
	if at == nil {
		return LogUpcoming
	}
	return LogUpcoming + " " + at.UTC().Format(time.RFC3339)
}

// DrainQueue runs every queued download with automation enabled, one at a time, in document order. A failing job
// does not stop the rest; errors are returned together once the queue has been worked through.
func (c *Crawler) DrainQueue(ctx context.Context) error {
	queued := c.store.Downloads(store.ByStatus(store.StatusQueued).WithAutomation(true))
	c.log.Infow("draining queue", "queued", len(queued))
	var result *multierror.Error
	for _, d := range queued {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		// Something else may have picked it up or removed it since the listing
		current := c.store.Download(d.UUID)
		if current.IsNone() || current.Unwrap().Status != store.StatusQueued {
			continue
		}
		if err := c.run(ctx, d.UUID); err != nil {
			c.log.Errorw("failed to download video", "download_uuid", d.UUID, "video_id", d.VideoID, "title", d.Title, "error", err)
			result = multierror.Append(result, fmt.Errorf("%v: %w", d.UUID, err))
		}
	}
	c.log.Info("queue drained")
	return result.ErrorOrNil()
}

// thumbnailMissing reports whether url now gives a 404. Any other outcome, including network failures, counts as
// present.
func (c *Crawler) thumbnailMissing(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debugw("thumbnail check failed", "url", url, "error", err)
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusNotFound
}

// RefreshDownloadThumbnails replaces download thumbnails that have disappeared with the provider's current one.
func (c *Crawler) RefreshDownloadThumbnails(ctx context.Context) error {
	var result *multierror.Error
	for _, d := range c.store.Downloads(store.DownloadFilter{}) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Metadata.Thumbnail == "" || !c.thumbnailMissing(ctx, d.Metadata.Thumbnail) {
			continue
		}
		log := c.log.With("video_id", d.VideoID, "download_uuid", d.UUID)
		log.Infow("thumbnail is invalid", "thumbnail", d.Metadata.Thumbnail)
		info, err := c.provider.VideoInfo(ctx, d.VideoID)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%v: %w", d.UUID, err))
			continue
		}
		if len(info.Thumbnails) == 0 || info.Thumbnails[0] == "" {
			log.Infow("no replacement thumbnail")
			continue
		}
		metadata := d.Metadata
		metadata.Thumbnail = info.Thumbnails[0]
		if err := c.store.UpdateDownload(d.UUID, store.DownloadPatch{Metadata: &metadata}); err != nil {
			if errors.Is(err, channel_archiver.ErrNotFound) {
				continue
			}
			return err
		}
		log.Infow("thumbnail updated", "thumbnail", metadata.Thumbnail)
	}
	return result.ErrorOrNil()
}

// RefreshChannelThumbnails is RefreshDownloadThumbnails for channel artwork.
func (c *Crawler) RefreshChannelThumbnails(ctx context.Context) error {
	var result *multierror.Error
	for _, channel := range c.store.Channels(store.ChannelFilter{}) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if channel.Metadata.Thumbnail == "" || !c.thumbnailMissing(ctx, channel.Metadata.Thumbnail) {
			continue
		}
		log := c.log.With("channel_id", channel.ID)
		log.Infow("thumbnail is invalid", "thumbnail", channel.Metadata.Thumbnail)
		info, err := c.provider.ChannelInfo(ctx, channel.ID)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("channel %v: %w", channel.ID, err))
			continue
		}
		if info.ThumbnailURL == "" {
			log.Infow("failed to find best thumbnail")
			continue
		}
		metadata := channel.Metadata
		metadata.Thumbnail = info.ThumbnailURL
		if _, err := c.store.UpdateChannels(store.ByChannel(channel.ID), store.ChannelPatch{Metadata: &metadata}); err != nil {
			if errors.Is(err, channel_archiver.ErrNotFound) {
				continue
			}
			return err
		}
		log.Infow("thumbnail updated", "thumbnail", metadata.Thumbnail)
	}
	return result.ErrorOrNil()
}

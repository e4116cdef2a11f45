package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"go.uber.org/zap"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/download"
)

const maxVideoHeight = 1080

type provider struct {
	client      *youtube.Client
	tempDir     string
	httpTimeout time.Duration
	log         *zap.SugaredLogger
}

func NewProvider(config channel_archiver.Config) (channel_archiver.MediaProvider, error) {
	return &provider{
		client:      &youtube.Client{},
		tempDir:     config.TempDir,
		httpTimeout: config.HTTPTimeout,
		log:         zap.S().Named("youtube"),
	}, nil
}

func watchURL(videoID string) string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID)
}

// uploadsPlaylistID gives the ID of the playlist holding every upload of a channel, most recent first.
func uploadsPlaylistID(channelID string) (string, error) {
	if len(channelID) < 3 || !strings.HasPrefix(channelID, "UC") {
		return "", fmt.Errorf("not a channel ID: %q", channelID)
	}
	return "UU" + channelID[2:], nil
}

// metadataContext bounds metadata requests. Stream transfers are only bounded by the caller's context.
func (p *provider) metadataContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.httpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.httpTimeout)
}

func (p *provider) getVideo(ctx context.Context, videoID string) (*youtube.Video, error) {
	ctx, cancel := p.metadataContext(ctx)
	defer cancel()
	video, err := p.client.GetVideoContext(ctx, watchURL(videoID))
	if err != nil {
		return nil, classify("get video "+videoID, err)
	}
	return video, nil
}

func (p *provider) VideoInfo(ctx context.Context, videoID string) (*channel_archiver.VideoInfo, error) {
	video, err := p.getVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	info := toVideoInfo(video)
	return &info, nil
}

func (p *provider) VideoStream(ctx context.Context, videoID string) (*channel_archiver.Stream, error) {
	return p.fetchStream(ctx, videoID, "video", pickVideoFormat)
}

func (p *provider) AudioStream(ctx context.Context, videoID string) (*channel_archiver.Stream, error) {
	return p.fetchStream(ctx, videoID, "audio", pickAudioFormat)
}

func (p *provider) fetchStream(ctx context.Context, videoID, kind string, pick func(youtube.FormatList) *youtube.Format) (*channel_archiver.Stream, error) {
	log := p.log.With("video_id", videoID, "kind", kind)
	video, err := p.getVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	format := pick(video.Formats)
	if format == nil {
		return nil, &channel_archiver.ProviderError{
			Kind: channel_archiver.ProviderErrorUnavailable,
			Op:   kind + " stream " + videoID,
			Err:  fmt.Errorf("no usable %s format", kind),
		}
	}
	log.Debugw("selected format", "itag", format.ItagNo, "mime_type", format.MimeType, "quality", format.QualityLabel)
	stream, size, err := p.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, classify(kind+" stream "+videoID, err)
	}
	defer stream.Close()
	path, err := download.Save(ctx, stream, size, "channel-archiver-"+kind+"-*", download.WithTempDir(p.tempDir))
	if err != nil {
		return nil, classify(kind+" stream "+videoID, err)
	}
	log.Debugw("saved stream", "path", path, "bytes", size)
	return &channel_archiver.Stream{File: path, Video: toVideoInfo(video)}, nil
}

func (p *provider) ChannelVideos(ctx context.Context, channelID string) ([]channel_archiver.ChannelVideo, error) {
	playlist, err := p.getUploads(ctx, channelID)
	if err != nil {
		return nil, err
	}
	videos := make([]channel_archiver.ChannelVideo, 0, len(playlist.Videos))
	for _, entry := range playlist.Videos {
		if entry == nil || entry.ID == "" {
			continue
		}
		video := channel_archiver.ChannelVideo{
			ID:           entry.ID,
			Title:        entry.Title,
			Duration:     entry.Duration,
			ThumbnailURL: bestThumbnail(entry.Thumbnails),
		}
		if video.Title == "" {
			video.Title = entry.ID
		}
		// Listings report no duration for streams that are live or scheduled; ask for the video itself to find out
		// which.
		if entry.Duration == 0 {
			p.resolveLiveness(ctx, &video)
		}
		videos = append(videos, video)
	}
	return videos, nil
}

func (p *provider) resolveLiveness(ctx context.Context, video *channel_archiver.ChannelVideo) {
	v, err := p.getVideo(ctx, video.ID)
	var statusErr *youtube.ErrPlayabiltyStatus
	switch {
	case errors.As(err, &statusErr) && statusErr.Status == "LIVE_STREAM_OFFLINE":
		video.IsUpcoming = true
	case err != nil:
		// Can't tell; a zero-length listing entry is most likely a live stream
		p.log.Debugw("could not resolve zero-length video", "video_id", video.ID, "error", err)
		video.IsLive = true
	case v.HLSManifestURL != "" || v.Duration == 0:
		video.IsLive = true
	default:
		video.Duration = v.Duration
		video.Description = v.Description
	}
}

func (p *provider) getUploads(ctx context.Context, channelID string) (*youtube.Playlist, error) {
	playlistID, err := uploadsPlaylistID(channelID)
	if err != nil {
		return nil, &channel_archiver.ProviderError{Kind: channel_archiver.ProviderErrorInvalid, Op: "list channel " + channelID, Err: err}
	}
	ctx, cancel := p.metadataContext(ctx)
	defer cancel()
	playlist, err := p.client.GetPlaylistContext(ctx, playlistID)
	if err != nil {
		return nil, classify("list channel "+channelID, err)
	}
	return playlist, nil
}

func (p *provider) ChannelInfo(ctx context.Context, channelID string) (*channel_archiver.ChannelInfo, error) {
	playlist, err := p.getUploads(ctx, channelID)
	if err != nil {
		return nil, err
	}
	// The uploads playlist carries the channel name but no channel artwork
	return &channel_archiver.ChannelInfo{ID: channelID, Name: playlist.Author}, nil
}

func toVideoInfo(video *youtube.Video) channel_archiver.VideoInfo {
	return channel_archiver.VideoInfo{
		ID:          video.ID,
		Title:       video.Title,
		Description: video.Description,
		ChannelID:   video.ChannelID,
		ChannelName: video.Author,
		Duration:    video.Duration,
		Thumbnails:  sortedThumbnails(video.Thumbnails),
	}
}

// sortedThumbnails returns thumbnail URLs, largest first.
func sortedThumbnails(thumbnails youtube.Thumbnails) []string {
	sorted := append(youtube.Thumbnails(nil), thumbnails...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Width*sorted[i].Height > sorted[j].Width*sorted[j].Height
	})
	urls := make([]string, 0, len(sorted))
	for _, t := range sorted {
		if t.URL != "" {
			urls = append(urls, t.URL)
		}
	}
	return urls
}

func bestThumbnail(thumbnails youtube.Thumbnails) string {
	if urls := sortedThumbnails(thumbnails); len(urls) > 0 {
		return urls[0]
	}
	return ""
}

func bitrate(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}
	return f.AverageBitrate
}

func isMP4(f *youtube.Format) bool {
	return strings.HasPrefix(f.MimeType, "video/mp4")
}

// betterVideo prefers greater height, then mp4 over other containers, then bitrate.
func betterVideo(candidate, current *youtube.Format) bool {
	if candidate.Height != current.Height {
		return candidate.Height > current.Height
	}
	if isMP4(candidate) != isMP4(current) {
		return isMP4(candidate)
	}
	return bitrate(candidate) > bitrate(current)
}

// pickVideoFormat selects the best video-only format up to maxVideoHeight, falling back to the best format that has
// both video and audio.
func pickVideoFormat(formats youtube.FormatList) *youtube.Format {
	var best, muxed *youtube.Format
	for i := range formats {
		f := &formats[i]
		if f.Width == 0 || f.Height == 0 || f.Height > maxVideoHeight {
			continue
		}
		if f.AudioChannels == 0 {
			if best == nil || betterVideo(f, best) {
				best = f
			}
		} else if muxed == nil || betterVideo(f, muxed) {
			muxed = f
		}
	}
	if best != nil {
		return best
	}
	return muxed
}

// pickAudioFormat selects the highest bitrate audio-only format.
func pickAudioFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if f.AudioChannels == 0 || f.Width != 0 || f.Height != 0 {
			continue
		}
		if best == nil || bitrate(f) > bitrate(best) {
			best = f
		}
	}
	return best
}

// classify wraps a kkdai/youtube error as a *channel_archiver.ProviderError.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	kind := channel_archiver.ProviderErrorNetwork
	var statusErr *youtube.ErrPlayabiltyStatus
	var codeErr youtube.ErrUnexpectedStatusCode
	switch {
	case errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrNotPlayableInEmbed),
		errors.As(err, &statusErr):
		kind = channel_archiver.ProviderErrorRestricted
	case errors.Is(err, youtube.ErrInvalidPlaylist),
		errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength):
		kind = channel_archiver.ProviderErrorInvalid
	case errors.As(err, &codeErr):
		kind = channel_archiver.ProviderErrorUnavailable
	}
	return &channel_archiver.ProviderError{Kind: kind, Op: op, Err: err}
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

func Match(s string) (string, error) {
	if videoIDPattern.MatchString(s) {
		return s, nil
	}
	if parsedURL, err := url.Parse(s); err != nil {
		return "", err
	} else {
		return extractVideoID(parsedURL)
	}
}

func New() channel_archiver.Provider {
	return channel_archiver.Provider{Name: "youtube", New: NewProvider, Match: Match}
}

// Extract video ID from YouTube URL.
//
// Allowed URL formats:
//
//	http(s?)://(www|m).youtube.com/(watch|details)?v={VIDEO_ID}
//	http(s?)://(www|m).youtube.com/(v|shorts|live)/{VIDEO_ID}
//	http(s?)://youtu.be/{VIDEO_ID}
func extractVideoID(url *url.URL) (string, error) {
	var id string
	switch url.Hostname() {
	case "www.youtube.com", "youtube.com", "m.youtube.com":
		if parts := strings.SplitN(strings.TrimPrefix(url.Path, "/"), "/", 3); len(parts) >= 2 &&
			(parts[0] == "v" || parts[0] == "shorts" || parts[0] == "live") {
			id = parts[1]
		} else if url.Path == "/watch" || url.Path == "/details" {
			if url.Query().Has("v") {
				id = url.Query().Get("v")
			} else {
				return "", fmt.Errorf("missing ?v= query parameter")
			}
		}
	case "youtu.be":
		id = strings.Trim(url.Path, "/")
	default:
		return "", fmt.Errorf("unrecognised hostname")
	}
	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("could not extract video ID")
	}
	return id, nil
}

func init() {
	channel_archiver.DefaultProviderRegistry.MustAdd(New())
}

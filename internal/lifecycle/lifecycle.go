// Package lifecycle drives a single download record through fetch, transcode, staging and publishing.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/generic"
	"github.com/alanbriolat/channel-archiver/internal/nfo"
	"github.com/alanbriolat/channel-archiver/internal/store"
	"github.com/alanbriolat/channel-archiver/util"
)

const (
	LogQueued      = "Queued for download"
	LogDownloading = "Downloading Video and Audio"
	LogProcessing  = "Processing Video and Audio"
	LogCopying     = "Copying to destination directory"
	LogComplete    = "Complete"
	LogTooLong     = "Exceeds maximum video duration"
	LogInterrupted = "Download Interrupted"

	logProviderError    = "Provider Error, "
	logTranscodeFailed  = "Transcode Failed"
	logTranscodeTimeout = "Transcode Timed Out"
	logDownloadFailed   = "Download Failed"

	// Recorded as the owning channel when the provider doesn't report one.
	UnknownChannel = "N/A"

	providerMessageLength = 64
)

type Config struct {
	ProcessingDir    string
	CompletedDir     string
	TranscodeTimeout time.Duration
	// Written to the sidecar as the unique ID type, e.g. "youtube".
	ProviderName string
	// Optional; called from the transcoder with the record being processed.
	OnProgress func(d store.Download, p channel_archiver.Progress)
}

type Manager struct {
	store      *store.Store
	provider   channel_archiver.MediaProvider
	transcoder channel_archiver.Transcoder
	config     Config
	log        *zap.SugaredLogger
}

func New(s *store.Store, provider channel_archiver.MediaProvider, transcoder channel_archiver.Transcoder, config Config) *Manager {
	return &Manager{
		store:      s,
		provider:   provider,
		transcoder: transcoder,
		config:     config,
		log:        zap.S().Named("lifecycle"),
	}
}

// storeError marks failures to record state, which are returned from Run rather than recorded on the job.
type storeError struct {
	error
}

func (e storeError) Unwrap() error {
	return e.error
}

func (m *Manager) update(uuid string, patch store.DownloadPatch) error {
	if err := m.store.UpdateDownload(uuid, patch); err != nil {
		return storeError{err}
	}
	return nil
}

// Run processes one queued download. A missing record is not an error. Job failures are recorded on the record and
// Run returns nil; an error is only returned when the record is not queued or its state could not be saved.
func (m *Manager) Run(ctx context.Context, uuid string) error {
	current := m.store.Download(uuid)
	if current.IsNone() {
		m.log.Debugw("download no longer exists", "download_uuid", uuid)
		return nil
	}
	d := current.Unwrap()
	log := m.log.With("download_uuid", uuid, "video_id", d.VideoID)
	if d.Status != store.StatusQueued {
		return &channel_archiver.ConflictError{UUID: uuid, Reason: fmt.Sprintf("download is %s, not queued", d.Status)}
	}

	log.Infow("starting download", "title", d.Title)
	if err := m.store.UpdateDownload(uuid, store.Transition(store.StatusDownloading, LogDownloading)); err != nil {
		return err
	}
	err := m.run(ctx, log, d)
	var serr storeError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &serr):
		log.Errorw("failed to record download state", "error", serr.error)
		// Best effort so the record isn't left downloading
		_ = m.store.UpdateDownload(uuid, store.Transition(store.StatusFailed, logDownloadFailed))
		return serr.error
	default:
		message := FailureMessage(err)
		log.Warnw("download failed", "error", err, "log", message)
		return m.store.UpdateDownload(uuid, store.Transition(store.StatusFailed, message))
	}
}

type fetched struct {
	channel generic.Option[store.Channel]
	video   *channel_archiver.Stream
	audio   *channel_archiver.Stream
}

func (f *fetched) streamFiles() []string {
	var files []string
	for _, s := range []*channel_archiver.Stream{f.video, f.audio} {
		if s != nil {
			files = append(files, s.File)
		}
	}
	return files
}

// fetch resolves the owning channel and both streams concurrently. If any of them fails, the others are cancelled
// and whatever was already fetched is removed.
func (m *Manager) fetch(ctx context.Context, d store.Download) (*fetched, error) {
	var f fetched
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f.channel = m.store.Channel(d.ChannelID)
		return nil
	})
	g.Go(func() (err error) {
		f.video, err = m.provider.VideoStream(gctx, d.VideoID)
		return err
	})
	g.Go(func() (err error) {
		f.audio, err = m.provider.AudioStream(gctx, d.VideoID)
		return err
	})
	if err := g.Wait(); err != nil {
		_ = removeFiles(f.streamFiles()...)
		return nil, err
	}
	return &f, nil
}

func exceedsDuration(d store.Download, video channel_archiver.VideoInfo, channel store.Channel) bool {
	seconds := d.Metadata.Duration
	if seconds == 0 {
		seconds = int64(video.Duration / time.Second)
	}
	return float64(seconds)/60 > float64(channel.MaximumDuration)
}

// jobName picks the directory name for a download, unique within the completed directory.
func (m *Manager) jobName(d store.Download) (string, error) {
	name := strings.Trim(util.CleanFilename(d.Title), " .")
	if name == "" {
		name = d.VideoID
	}
	if !exists(filepath.Join(m.config.CompletedDir, name)) {
		return name, nil
	}
	name = fmt.Sprintf("%s [%s]", name, d.VideoID)
	if exists(filepath.Join(m.config.CompletedDir, name)) {
		return "", fmt.Errorf("destination already exists: %v", filepath.Join(m.config.CompletedDir, name))
	}
	return name, nil
}

func (m *Manager) run(ctx context.Context, log *zap.SugaredLogger, d store.Download) error {
	f, err := m.fetch(ctx, d)
	if err != nil {
		return err
	}
	video := f.video.Video

	if f.channel.IsSome() && exceedsDuration(d, video, f.channel.Unwrap()) {
		_ = removeFiles(f.streamFiles()...)
		log.Infow("video too long", "duration", video.Duration, "maximum_minutes", f.channel.Unwrap().MaximumDuration)
		return m.update(d.UUID, store.Transition(store.StatusFailed, LogTooLong))
	}

	patch := store.Note(LogProcessing)
	channelID := video.ChannelID
	if channelID == "" {
		channelID = UnknownChannel
	}
	if channelID != d.ChannelID {
		log.Infow("correcting channel", "old", d.ChannelID, "new", channelID)
		patch.ChannelID = &channelID
	}
	if err := m.update(d.UUID, patch); err != nil {
		_ = removeFiles(f.streamFiles()...)
		return err
	}

	name, err := m.jobName(d)
	if err != nil {
		_ = removeFiles(f.streamFiles()...)
		return err
	}
	processing := filepath.Join(m.config.ProcessingDir, name)
	destination := filepath.Join(m.config.CompletedDir, name)
	log = log.With("processing", processing, "destination", destination)

	output, err := m.stage(log, d, f, processing, name)
	if err != nil {
		_ = removeFiles(append(f.streamFiles(), processing)...)
		return err
	}

	var onProgress channel_archiver.ProgressFunc
	if m.config.OnProgress != nil {
		onProgress = func(p channel_archiver.Progress) { m.config.OnProgress(d, p) }
	}
	log.Infow("transcoding", "timeout", m.config.TranscodeTimeout)
	err = m.transcoder.Combine(ctx, filepath.Join(processing, name+".original.mp4"),
		filepath.Join(processing, name+".original.webm"), output, m.config.TranscodeTimeout, onProgress)
	if err != nil {
		if rerr := removeFiles(processing, destination); rerr != nil {
			log.Warnw("failed to clean up after transcode", "error", rerr)
		}
		return err
	}

	if err := m.update(d.UUID, store.Note(LogCopying)); err != nil {
		_ = removeFiles(processing)
		return err
	}
	if err := publish(processing, destination, name+".mp4", nfo.Filename); err != nil {
		_ = removeFiles(processing, destination)
		return err
	}
	if err := os.RemoveAll(processing); err != nil {
		log.Warnw("failed to remove processing directory", "error", err)
	}
	log.Infow("download complete")
	return m.update(d.UUID, store.Transition(store.StatusDownloaded, LogComplete).WithFolder(destination))
}

// stage moves both streams into a fresh processing directory and writes the sidecar. Returns the transcoder output
// path.
func (m *Manager) stage(log *zap.SugaredLogger, d store.Download, f *fetched, processing, name string) (string, error) {
	if exists(processing) {
		log.Warnw("removing stale processing directory")
		if err := os.RemoveAll(processing); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(processing, 0755); err != nil {
		return "", err
	}
	if err := moveFile(f.video.File, filepath.Join(processing, name+".original.mp4")); err != nil {
		return "", err
	}
	if err := moveFile(f.audio.File, filepath.Join(processing, name+".original.webm")); err != nil {
		return "", err
	}
	sidecar, err := nfo.Render(m.movie(d, f))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(processing, nfo.Filename), sidecar, 0644); err != nil {
		return "", err
	}
	return filepath.Join(processing, name+".mp4"), nil
}

func (m *Manager) movie(d store.Download, f *fetched) nfo.Movie {
	video := f.video.Video
	movie := nfo.Movie{
		UniqueID: nfo.UniqueID{Type: m.config.ProviderName, Value: d.VideoID},
		Title:    d.Title,
		Plot:     video.Description,
		Studio:   video.ChannelName,
		Thumbs:   video.Thumbnails,
	}
	if movie.Title == "" {
		movie.Title = video.Title
	}
	if movie.Plot == "" {
		movie.Plot = d.Metadata.Description
	}
	if movie.Studio == "" {
		movie.Studio = f.channel.UnwrapOr(store.Channel{}).Name
	}
	if len(movie.Thumbs) == 0 && d.Metadata.Thumbnail != "" {
		movie.Thumbs = []string{d.Metadata.Thumbnail}
	}
	return movie
}

func publish(processing, destination string, files ...string) error {
	if err := os.MkdirAll(destination, 0755); err != nil {
		return err
	}
	for _, name := range files {
		if err := moveFile(filepath.Join(processing, name), filepath.Join(destination, name)); err != nil {
			return err
		}
	}
	return nil
}

// FailureMessage gives the log text recorded on a download that failed with err.
func FailureMessage(err error) string {
	var providerErr *channel_archiver.ProviderError
	switch {
	case errors.As(err, &providerErr):
		text := providerErr.Error()
		if providerErr.Err != nil {
			text = providerErr.Err.Error()
		}
		if runes := []rune(text); len(runes) > providerMessageLength {
			text = string(runes[:providerMessageLength])
		}
		return logProviderError + text
	case errors.Is(err, channel_archiver.ErrTranscodeTimeout):
		return logTranscodeTimeout
	case errors.Is(err, channel_archiver.ErrTranscode):
		return logTranscodeFailed
	default:
		return logDownloadFailed
	}
}

// Requeue moves a failed download back to queued.
func (m *Manager) Requeue(uuid string) error {
	current := m.store.Download(uuid)
	if current.IsNone() {
		return &channel_archiver.NotFoundError{Entity: "download", Key: uuid}
	}
	if status := current.Unwrap().Status; status != store.StatusFailed {
		return &channel_archiver.ConflictError{UUID: uuid, Reason: fmt.Sprintf("only failed downloads can be requeued, download is %s", status)}
	}
	m.log.Infow("requeueing download", "download_uuid", uuid)
	return m.store.UpdateDownload(uuid, store.Transition(store.StatusQueued, LogQueued))
}

// RecoverInterrupted fails any download left mid-run by a previous process. Their processing directories are left in
// place.
func (m *Manager) RecoverInterrupted() (int, error) {
	n, err := m.store.UpdateDownloads(store.ByStatus(store.StatusDownloading), store.Transition(store.StatusFailed, LogInterrupted))
	if errors.Is(err, channel_archiver.ErrNotFound) {
		return 0, nil
	}
	if n > 0 {
		m.log.Warnw("marked interrupted downloads as failed", "count", n)
	}
	return n, err
}

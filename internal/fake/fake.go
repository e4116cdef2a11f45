// Package fake has in-memory MediaProvider and Transcoder implementations for tests.
package fake

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alanbriolat/channel-archiver"
)

// Provider serves videos and channel listings from its maps. Streams are written as small files in Dir.
type Provider struct {
	Dir      string
	Videos   map[string]channel_archiver.VideoInfo
	Listings map[string][]channel_archiver.ChannelVideo
	Channels map[string]channel_archiver.ChannelInfo
	// Returned by any call for the given video or channel ID.
	Errors map[string]error

	mu    sync.Mutex
	calls []string
}

func NewProvider(dir string) *Provider {
	return &Provider{
		Dir:      dir,
		Videos:   make(map[string]channel_archiver.VideoInfo),
		Listings: make(map[string][]channel_archiver.ChannelVideo),
		Channels: make(map[string]channel_archiver.ChannelInfo),
		Errors:   make(map[string]error),
	}
}

// Calls lists the calls made so far, as "method id".
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *Provider) record(method, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, method+" "+id)
	return p.Errors[id]
}

func (p *Provider) video(id string) (channel_archiver.VideoInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.Videos[id]; ok {
		return v, nil
	}
	return channel_archiver.VideoInfo{}, &channel_archiver.ProviderError{
		Kind: channel_archiver.ProviderErrorUnavailable,
		Op:   "get video " + id,
		Err:  fmt.Errorf("no such video"),
	}
}

func (p *Provider) stream(ctx context.Context, method, id string) (*channel_archiver.Stream, error) {
	if err := p.record(method, id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := p.video(id)
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(p.Dir, method+"-*")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s %s\n", method, id); err != nil {
		return nil, err
	}
	return &channel_archiver.Stream{File: f.Name(), Video: info}, nil
}

func (p *Provider) VideoStream(ctx context.Context, videoID string) (*channel_archiver.Stream, error) {
	return p.stream(ctx, "VideoStream", videoID)
}

func (p *Provider) AudioStream(ctx context.Context, videoID string) (*channel_archiver.Stream, error) {
	return p.stream(ctx, "AudioStream", videoID)
}

func (p *Provider) ChannelVideos(_ context.Context, channelID string) ([]channel_archiver.ChannelVideo, error) {
	if err := p.record("ChannelVideos", channelID); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]channel_archiver.ChannelVideo(nil), p.Listings[channelID]...), nil
}

func (p *Provider) ChannelInfo(_ context.Context, channelID string) (*channel_archiver.ChannelInfo, error) {
	if err := p.record("ChannelInfo", channelID); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.Channels[channelID]
	if !ok {
		return nil, &channel_archiver.ProviderError{Kind: channel_archiver.ProviderErrorInvalid, Op: "channel " + channelID, Err: fmt.Errorf("no such channel")}
	}
	return &info, nil
}

func (p *Provider) VideoInfo(_ context.Context, videoID string) (*channel_archiver.VideoInfo, error) {
	if err := p.record("VideoInfo", videoID); err != nil {
		return nil, err
	}
	info, err := p.video(videoID)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Transcoder concatenates its inputs into the output file, or fails with Err. With Hang set it never finishes by
// itself and behaves as a transcoder killed at its timeout.
type Transcoder struct {
	Err  error
	Hang bool

	mu    sync.Mutex
	calls int
}

func (t *Transcoder) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *Transcoder) Combine(ctx context.Context, videoFile, audioFile, outputFile string, timeout time.Duration, onProgress channel_archiver.ProgressFunc) error {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	if t.Hang {
		select {
		case <-time.After(timeout):
			return &channel_archiver.TranscodeError{Output: outputFile, Err: context.DeadlineExceeded}
		case <-ctx.Done():
			return &channel_archiver.TranscodeError{Output: outputFile, Err: ctx.Err()}
		}
	}
	if t.Err != nil {
		return t.Err
	}
	out, err := os.Create(outputFile)
	if err != nil {
		return &channel_archiver.TranscodeError{Err: err}
	}
	defer out.Close()
	for _, in := range []string{videoFile, audioFile} {
		if err := appendFile(out, in); err != nil {
			return &channel_archiver.TranscodeError{Err: err}
		}
	}
	if onProgress != nil {
		onProgress(channel_archiver.Progress{Processed: time.Second})
	}
	return nil
}

func appendFile(w io.Writer, path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

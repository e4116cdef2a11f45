// Package ffmpeg implements channel_archiver.Transcoder by running an ffmpeg subprocess.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alanbriolat/channel-archiver"
)

const (
	DefaultKillGrace = 5 * time.Second
	stderrTail       = 2048
)

type Transcoder struct {
	// Path to the ffmpeg binary, resolved through $PATH if it has no directory component.
	Path string
	// Minimum interval between progress callbacks.
	ProgressInterval time.Duration
	// How long the process gets to exit after being interrupted before it is killed.
	KillGrace time.Duration
	log       *zap.SugaredLogger
}

func New(path string, progressInterval time.Duration) *Transcoder {
	return &Transcoder{
		Path:             path,
		ProgressInterval: progressInterval,
		KillGrace:        DefaultKillGrace,
		log:              zap.S().Named("ffmpeg"),
	}
}

func args(videoFile, audioFile, outputFile string) []string {
	return []string{
		"-y",
		"-progress", "pipe:1",
		"-nostats",
		"-loglevel", "warning",
		"-i", videoFile,
		"-i", audioFile,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		outputFile,
	}
}

func (t *Transcoder) Combine(ctx context.Context, videoFile, audioFile, outputFile string, timeout time.Duration, onProgress channel_archiver.ProgressFunc) error {
	log := t.log.With("output", outputFile)
	runCtx, cancel := context.WithCancel(ctx)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	stderr := &tailBuffer{limit: stderrTail}
	cmd := exec.CommandContext(runCtx, t.Path, args(videoFile, audioFile, outputFile)...)
	cmd.Stdout = &progressWriter{interval: t.ProgressInterval, onProgress: onProgress}
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = t.KillGrace

	log.Debugw("starting ffmpeg", "path", t.Path, "timeout", timeout)
	started := time.Now()
	if err := cmd.Start(); err != nil {
		return &channel_archiver.TranscodeError{Err: err}
	}
	err := cmd.Wait()
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		log.Warnw("ffmpeg timed out", "elapsed", time.Since(started))
		return &channel_archiver.TranscodeError{Output: stderr.String(), Err: context.DeadlineExceeded}
	case ctx.Err() != nil:
		return &channel_archiver.TranscodeError{Output: stderr.String(), Err: ctx.Err()}
	case err != nil:
		log.Warnw("ffmpeg failed", "error", err)
		return &channel_archiver.TranscodeError{Output: stderr.String(), Err: err}
	}
	log.Debugw("ffmpeg finished", "elapsed", time.Since(started))
	return nil
}

// progressWriter parses the key=value lines written by "-progress" and reports out_time_ms.
type progressWriter struct {
	interval   time.Duration
	onProgress channel_archiver.ProgressFunc
	partial    []byte
	last       time.Time
}

func (w *progressWriter) Write(b []byte) (int, error) {
	w.partial = append(w.partial, b...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.line(strings.TrimSpace(string(w.partial[:i])))
		w.partial = w.partial[i+1:]
	}
	return len(b), nil
}

func (w *progressWriter) line(line string) {
	if w.onProgress == nil {
		return
	}
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return
	}
	switch key {
	case "out_time_ms":
		// Despite the name, ffmpeg reports microseconds here
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return
		}
		now := time.Now()
		if !w.last.IsZero() && now.Sub(w.last) < w.interval {
			return
		}
		w.last = now
		w.onProgress(channel_archiver.Progress{Processed: time.Duration(us) * time.Microsecond})
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

// Package download saves fetched media streams to temporary files.
package download

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/alanbriolat/channel-archiver"
)

type downloadConfig struct {
	baseTempDir string
	progress    func(written, total int64)
}

type DownloadConfigOption func(*downloadConfig)

func WithTempDir(dir string) DownloadConfigOption {
	return func(c *downloadConfig) {
		c.baseTempDir = dir
	}
}

// WithProgress registers a callback invoked after every chunk written. total is -1 when unknown.
func WithProgress(f func(written, total int64)) DownloadConfigOption {
	return func(c *downloadConfig) {
		c.progress = f
	}
}

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	f       func(written, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.f != nil {
		p.f(p.written, p.total)
	}
	return n, err
}

// Save copies r into a new temporary file named after pattern (see os.CreateTemp) and returns its path. The caller
// owns the file. On any failure, including ctx being cancelled, the partial file is removed.
func Save(ctx context.Context, r io.Reader, size int64, pattern string, opts ...DownloadConfigOption) (_ string, err error) {
	config := downloadConfig{
		baseTempDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	if err := os.MkdirAll(config.baseTempDir, 0750); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(config.baseTempDir, pattern)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			if rerr := os.Remove(f.Name()); rerr != nil {
				zap.S().Named("download").Warnw("failed to remove partial download", "path", f.Name(), "error", rerr)
			}
		}
	}()

	if size <= 0 {
		size = -1
	}
	w := &progressWriter{w: f, total: size, f: config.progress}
	written, err := io.Copy(w, channel_archiver.NewContextReader(ctx, r))
	if err != nil {
		return "", err
	}
	if size > 0 && written != size {
		return "", fmt.Errorf("short download: got %d of %d bytes", written, size)
	}
	return f.Name(), nil
}

package download

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestSave(t *testing.T) {
	assert := assert_.New(t)
	dir := t.TempDir()

	var lastWritten, lastTotal int64
	path, err := Save(context.Background(), strings.NewReader("media bytes"), 11, "video-*",
		WithTempDir(dir),
		WithProgress(func(written, total int64) { lastWritten, lastTotal = written, total }),
	)
	assert.NoError(err)
	data, err := os.ReadFile(path)
	assert.NoError(err)
	assert.Equal("media bytes", string(data))
	assert.Equal(int64(11), lastWritten)
	assert.Equal(int64(11), lastTotal)
}

func TestSave_ShortRead(t *testing.T) {
	assert := assert_.New(t)
	dir := t.TempDir()

	_, err := Save(context.Background(), strings.NewReader("short"), 100, "video-*", WithTempDir(dir))
	assert.Error(err)
	entries, _ := os.ReadDir(dir)
	assert.Empty(entries, "partial file should be removed")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestSave_Errors(t *testing.T) {
	assert := assert_.New(t)
	dir := t.TempDir()

	_, err := Save(context.Background(), failingReader{}, -1, "audio-*", WithTempDir(dir))
	assert.EqualError(err, "connection reset")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Save(ctx, io.LimitReader(strings.NewReader("x"), 1), 0, "audio-*", WithTempDir(dir))
	assert.ErrorIs(err, context.Canceled)

	entries, _ := os.ReadDir(dir)
	assert.Empty(entries)
}

package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alanbriolat/channel-archiver"
)

// Backend persists the serialized document. Write must replace the previous document as a whole: a reader never
// observes a partially written document.
type Backend interface {
	// Read returns the current document, or nil if none has been written yet.
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// FileBackend stores the document as a single JSON file, replaced atomically on every write.
type FileBackend struct {
	Path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

func (b *FileBackend) Read() ([]byte, error) {
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, &channel_archiver.PersistenceError{Op: "read", Path: b.Path, Err: err}
	}
	return data, nil
}

// Write writes to a temporary file in the same directory and renames it over the target.
func (b *FileBackend) Write(data []byte) (err error) {
	wrap := func(op string, err error) error {
		return &channel_archiver.PersistenceError{Op: op, Path: b.Path, Err: err}
	}
	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return wrap("mkdir", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(b.Path)+".*.tmp")
	if err != nil {
		return wrap("create", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()
	if _, err = f.Write(data); err != nil {
		return wrap("write", err)
	}
	if err = f.Sync(); err != nil {
		return wrap("sync", err)
	}
	if err = f.Close(); err != nil {
		return wrap("close", err)
	}
	if err = os.Rename(f.Name(), b.Path); err != nil {
		return wrap("rename", err)
	}
	return nil
}

func (b *FileBackend) Close() error {
	return nil
}

// MemoryBackend keeps the document in memory; mostly useful for tests.
type MemoryBackend struct {
	Data []byte
	// If set, returned by every Write.
	WriteErr error
}

func (b *MemoryBackend) Read() ([]byte, error) {
	return b.Data, nil
}

func (b *MemoryBackend) Write(data []byte) error {
	if b.WriteErr != nil {
		return b.WriteErr
	}
	b.Data = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}

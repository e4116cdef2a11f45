// Package boltdb stores the record document in a bbolt database file.
package boltdb

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/internal/store"
)

var Buckets = struct {
	Metadata []byte
	Document []byte
}{
	Metadata: []byte("__metadata__"),
	Document: []byte("document"),
}

var Keys = struct {
	Version []byte
	Current []byte
}{
	Version: []byte("version"),
	Current: []byte("current"),
}

const currentVersion = 1

type Backend struct {
	db   *bbolt.DB
	path string
}

var _ store.Backend = &Backend{}

func New(path string) (_ *Backend, err error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, &channel_archiver.PersistenceError{Op: "open", Path: path, Err: err}
	}
	err = db.Update(func(tx *bbolt.Tx) (err error) {
		// Ensure buckets exist
		var metadata *bbolt.Bucket
		if metadata, err = tx.CreateBucketIfNotExists(Buckets.Metadata); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(Buckets.Document); err != nil {
			return err
		}

		// Get the current version of the database
		var version int
		if versionBytes := metadata.Get(Keys.Version); versionBytes == nil {
			version = 0
		} else if err = json.Unmarshal(versionBytes, &version); err != nil {
			return err
		}
		if version > currentVersion {
			return fmt.Errorf("database version %d is newer than supported version %d", version, currentVersion)
		}

		// Set the current version of the database
		if versionBytes, err := json.Marshal(currentVersion); err != nil {
			return err
		} else if err = metadata.Put(Keys.Version, versionBytes); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, &channel_archiver.PersistenceError{Op: "init", Path: path, Err: err}
	}
	return &Backend{db: db, path: path}, nil
}

func (b *Backend) Read() (data []byte, err error) {
	err = b.db.View(func(tx *bbolt.Tx) error {
		// Bytes returned by Get are only valid for the life of the transaction
		if v := tx.Bucket(Buckets.Document).Get(Keys.Current); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, &channel_archiver.PersistenceError{Op: "read", Path: b.path, Err: err}
	}
	return data, nil
}

func (b *Backend) Write(data []byte) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Document).Put(Keys.Current, data)
	})
	if err != nil {
		return &channel_archiver.PersistenceError{Op: "write", Path: b.path, Err: err}
	}
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

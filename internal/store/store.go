// Package store holds the authoritative channel and download records, persisted as one JSON document through a
// Backend.
//
// Every mutation is applied to a copy of the document, validated, written, and only then made visible. Mutations
// are serialized by a process-local lock; nothing protects the document from other processes.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/generic"
	"github.com/alanbriolat/channel-archiver/internal/pubsub"
	sync_ "github.com/alanbriolat/channel-archiver/internal/sync"
)

type Store struct {
	backend Backend
	doc     *sync_.RWMutexed[Document]
	events  *pubsub.Publisher[Event]
	log     *zap.SugaredLogger
	now     func() time.Time
}

// Open loads and validates the document from backend. A missing document is treated as empty; a malformed one is
// a *channel_archiver.ValidationError.
func Open(backend Backend) (*Store, error) {
	data, err := backend.Read()
	if err != nil {
		return nil, wrapPersistence("read", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	s := &Store{
		backend: backend,
		doc:     sync_.NewRWMutexed(doc),
		events:  pubsub.NewPublisher[Event](),
		log:     zap.S().Named("store"),
		now:     time.Now,
	}
	s.log.Debugw("loaded document", "channels", len(doc.Channels), "downloads", len(doc.Downloads))
	return s, nil
}

// Parse decodes and validates a serialized document. Empty input yields an empty document.
func Parse(data []byte) (Document, error) {
	var doc Document
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{Channels: []Channel{}, Downloads: []Download{}}, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, &channel_archiver.ValidationError{Entity: "document", Reason: err.Error()}
	}
	if doc.Channels == nil {
		doc.Channels = []Channel{}
	}
	if doc.Downloads == nil {
		doc.Downloads = []Download{}
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func wrapPersistence(op string, err error) error {
	if errors.Is(err, channel_archiver.ErrPersistence) {
		return err
	}
	return &channel_archiver.PersistenceError{Op: op, Err: err}
}

// Subscribe returns a receiver for every change event. The receiver must be drained, otherwise mutations block.
func (s *Store) Subscribe() (pubsub.Receiver[Event], error) {
	return s.events.Subscribe(16)
}

// Backend returns the backend the store persists through.
func (s *Store) Backend() Backend {
	return s.backend
}

// Close stops event delivery and closes the backend.
func (s *Store) Close() error {
	s.events.Close()
	return s.backend.Close()
}

// Snapshot returns a copy of the whole document.
func (s *Store) Snapshot() Document {
	var doc Document
	_ = s.doc.RLocked(func(d *Document) error {
		doc = d.clone()
		return nil
	})
	return doc
}

func (s *Store) Channels(filter ChannelFilter) []Channel {
	var result []Channel
	_ = s.doc.RLocked(func(doc *Document) error {
		for _, c := range doc.Channels {
			if filter.Matches(c) {
				result = append(result, c)
			}
		}
		return nil
	})
	return result
}

func (s *Store) Channel(id string) generic.Option[Channel] {
	if channels := s.Channels(ByChannel(id)); len(channels) > 0 {
		return generic.Some(channels[0])
	}
	return generic.None[Channel]()
}

// Downloads returns copies of all matching downloads, in document order.
func (s *Store) Downloads(filter DownloadFilter) []Download {
	var result []Download
	_ = s.doc.RLocked(func(doc *Document) error {
		for _, d := range doc.Downloads {
			if filter.Matches(d) {
				result = append(result, d)
			}
		}
		return nil
	})
	return result
}

func (s *Store) Download(uuid string) generic.Option[Download] {
	if downloads := s.Downloads(ByUUID(uuid)); len(downloads) > 0 {
		return generic.Some(downloads[0])
	}
	return generic.None[Download]()
}

// mutate runs f against a copy of the document, then validates and persists the copy. The in-memory document only
// changes if persisting succeeds. Events returned by f are published after the lock is released.
func (s *Store) mutate(op string, f func(doc *Document) ([]Event, error)) error {
	var events []Event
	err := s.doc.Locked(func(current *Document) error {
		next := current.clone()
		var err error
		if events, err = f(&next); err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}
		data, err := json.MarshalIndent(next, "", "  ")
		if err != nil {
			return wrapPersistence("encode", err)
		}
		if err := s.backend.Write(data); err != nil {
			return wrapPersistence("write", err)
		}
		*current = next
		return nil
	})
	if err != nil {
		s.log.Debugw("mutation rejected", "op", op, "error", err)
		return err
	}
	s.log.Debugw("document saved", "op", op, "events", len(events))
	for _, e := range events {
		s.events.Send(e)
	}
	return nil
}

func (s *Store) AddChannel(c Channel) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.mutate("add channel", func(doc *Document) ([]Event, error) {
		for _, existing := range doc.Channels {
			if existing.ID == c.ID {
				return nil, &channel_archiver.ValidationError{Entity: "channel", Field: "id", Reason: "duplicate " + c.ID}
			}
		}
		doc.Channels = append(doc.Channels, c)
		return []Event{ChannelAdded{channelEvent{c}}}, nil
	})
}

// AddDownload appends a download, assigning a UUID and creation date when they are unset. Returns the stored record.
func (s *Store) AddDownload(d Download) (Download, error) {
	if d.UUID == "" {
		d.UUID = NewUUID()
	}
	if d.Date == 0 {
		d.Date = s.now().Unix()
	}
	if err := d.Validate(); err != nil {
		return Download{}, err
	}
	err := s.mutate("add download", func(doc *Document) ([]Event, error) {
		for _, existing := range doc.Downloads {
			if existing.UUID == d.UUID {
				return nil, &channel_archiver.ValidationError{Entity: "download", Field: "uuid", Reason: "duplicate " + d.UUID}
			}
		}
		doc.Downloads = append(doc.Downloads, d)
		return []Event{DownloadAdded{downloadEvent{d}}}, nil
	})
	if err != nil {
		return Download{}, err
	}
	return d, nil
}

// UpdateDownloads applies patch to every download matching filter, returning how many were changed. A status change
// not allowed by the download state machine fails the whole update with a *channel_archiver.ConflictError.
func (s *Store) UpdateDownloads(filter DownloadFilter, patch DownloadPatch) (int, error) {
	var count int
	err := s.mutate("update downloads", func(doc *Document) ([]Event, error) {
		var events []Event
		for i := range doc.Downloads {
			d := &doc.Downloads[i]
			if !filter.Matches(*d) {
				continue
			}
			old := *d
			if patch.Status != nil && !old.Status.CanTransition(*patch.Status) {
				return nil, &channel_archiver.ConflictError{
					UUID:   old.UUID,
					Reason: fmt.Sprintf("cannot move download from %s to %s", old.Status, *patch.Status),
				}
			}
			patch.Apply(d)
			count++
			events = append(events, DownloadUpdated{Old: old, New: *d})
		}
		if count == 0 {
			return nil, &channel_archiver.NotFoundError{Entity: "download"}
		}
		return events, nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateDownload is UpdateDownloads for a single UUID.
func (s *Store) UpdateDownload(uuid string, patch DownloadPatch) error {
	_, err := s.UpdateDownloads(ByUUID(uuid), patch)
	var notFound *channel_archiver.NotFoundError
	if errors.As(err, &notFound) {
		notFound.Key = uuid
	}
	return err
}

// RemoveDownloads deletes matching records outright. Retiring a download normally goes through a status change to
// removed instead; this is for explicit cleanup.
func (s *Store) RemoveDownloads(filter DownloadFilter) (int, error) {
	var count int
	err := s.mutate("remove downloads", func(doc *Document) ([]Event, error) {
		var events []Event
		kept := doc.Downloads[:0]
		for _, d := range doc.Downloads {
			if filter.Matches(d) {
				events = append(events, DownloadRemoved{downloadEvent{d}})
			} else {
				kept = append(kept, d)
			}
		}
		doc.Downloads = kept
		count = len(events)
		return events, nil
	})
	return count, err
}

func (s *Store) UpdateChannels(filter ChannelFilter, patch ChannelPatch) (int, error) {
	var count int
	err := s.mutate("update channels", func(doc *Document) ([]Event, error) {
		var events []Event
		for i := range doc.Channels {
			c := &doc.Channels[i]
			if !filter.Matches(*c) {
				continue
			}
			old := *c
			patch.Apply(c)
			events = append(events, ChannelUpdated{Old: old, New: *c})
		}
		count = len(events)
		if count == 0 {
			return nil, &channel_archiver.NotFoundError{Entity: "channel"}
		}
		return events, nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) RemoveChannels(filter ChannelFilter) (int, error) {
	var count int
	err := s.mutate("remove channels", func(doc *Document) ([]Event, error) {
		var events []Event
		kept := doc.Channels[:0]
		for _, c := range doc.Channels {
			if filter.Matches(c) {
				events = append(events, ChannelRemoved{channelEvent{c}})
			} else {
				kept = append(kept, c)
			}
		}
		doc.Channels = kept
		count = len(events)
		return events, nil
	})
	return count, err
}

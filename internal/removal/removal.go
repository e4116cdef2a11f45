// Package removal retires download records and deletes their published files.
package removal

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/internal/store"
)

const (
	LogRemoved = "Removed"

	reasonDownloading = "Cannot remove video that is mid-download"
)

type Handler struct {
	store *store.Store
	log   *zap.SugaredLogger
}

func New(s *store.Store) *Handler {
	return &Handler{store: s, log: zap.S().Named("removal")}
}

// Remove moves every matching download to removed, deleting the folder of any that were downloaded. Records that are
// mid-download are refused. Failures don't stop the batch: they are returned together as a *multierror.Error, one
// entry per record, each prefixed by the record's UUID.
func (h *Handler) Remove(ctx context.Context, filter store.DownloadFilter) error {
	var result *multierror.Error
	for _, d := range h.store.Downloads(filter) {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		if err := h.remove(d); err != nil {
			h.log.Warnw("could not remove download", "download_uuid", d.UUID, "error", err)
			result = multierror.Append(result, fmt.Errorf("%v: %w", d.UUID, err))
		}
	}
	return result.ErrorOrNil()
}

func (h *Handler) remove(d store.Download) error {
	log := h.log.With("download_uuid", d.UUID, "video_id", d.VideoID)
	if d.Status.IsRunning() {
		return &channel_archiver.ConflictError{UUID: d.UUID, Reason: reasonDownloading}
	}
	if d.Status == store.StatusDownloaded && d.Folder != "" {
		log.Infow("deleting download folder", "folder", d.Folder)
		if err := os.RemoveAll(d.Folder); err != nil {
			return &channel_archiver.PersistenceError{Op: "remove folder", Path: d.Folder, Err: err}
		}
	}
	status := store.StatusRemoved
	folder := ""
	message := LogRemoved
	if err := h.store.UpdateDownload(d.UUID, store.DownloadPatch{Status: &status, Folder: &folder, Log: &message}); err != nil {
		return err
	}
	log.Infow("removed download", "title", d.Title)
	return nil
}

// RemoveChannel deletes a channel record. With deleteDownloads, the channel's downloads are removed as well; the
// channel is deleted even if some of them can't be.
func (h *Handler) RemoveChannel(ctx context.Context, channelID string, deleteDownloads bool) error {
	n, err := h.store.RemoveChannels(store.ByChannel(channelID))
	if err != nil {
		return err
	}
	if n == 0 {
		return &channel_archiver.NotFoundError{Entity: "channel", Key: channelID}
	}
	h.log.Infow("removed channel", "channel_id", channelID)
	if deleteDownloads {
		return h.Remove(ctx, store.ByChannelID(channelID))
	}
	return nil
}

package store

import (
	"fmt"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/generic"
)

func invalid(entity, field, reason string) error {
	return &channel_archiver.ValidationError{Entity: entity, Field: field, Reason: reason}
}

func (c Channel) Validate() error {
	switch {
	case c.ID == "":
		return invalid("channel", "id", "must not be empty")
	case c.DownloadCount < 0:
		return invalid("channel", "downloadCount", "must not be negative")
	case c.MaximumDuration < 0:
		return invalid("channel", "maximumDuration", "must not be negative")
	}
	return nil
}

func (d Download) Validate() error {
	switch {
	case d.UUID == "":
		return invalid("download", "uuid", "must not be empty")
	case d.VideoID == "":
		return invalid("download", "videoId", "must not be empty")
	case !d.Status.IsValid():
		return invalid("download", "status", fmt.Sprintf("unknown status %q", d.Status))
	case d.Status == StatusDownloaded && d.Folder == "":
		return invalid("download", "folder", "must be set when downloaded")
	case d.Status != StatusDownloaded && d.Folder != "":
		return invalid("download", "folder", fmt.Sprintf("must be empty when %s", d.Status))
	case d.Metadata.Duration < 0:
		return invalid("download", "metadata.duration", "must not be negative")
	}
	return nil
}

// Validate checks every record, plus uniqueness of channel IDs and download UUIDs.
func (doc Document) Validate() error {
	channelIDs := generic.NewSet[string]()
	for i, c := range doc.Channels {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("channels[%d]: %w", i, err)
		}
		if !channelIDs.Add(c.ID) {
			return fmt.Errorf("channels[%d]: %w", i, invalid("channel", "id", "duplicate "+c.ID))
		}
	}
	uuids := generic.NewSet[string]()
	for i, d := range doc.Downloads {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("downloads[%d]: %w", i, err)
		}
		if !uuids.Add(d.UUID) {
			return fmt.Errorf("downloads[%d]: %w", i, invalid("download", "uuid", "duplicate "+d.UUID))
		}
	}
	return nil
}

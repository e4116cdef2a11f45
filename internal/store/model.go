package store

import (
	"github.com/google/uuid"

	"github.com/alanbriolat/channel-archiver/generic"
)

type DownloadStatus string

const (
	StatusQueued      DownloadStatus = "queued"
	StatusDownloading DownloadStatus = "downloading"
	StatusFailed      DownloadStatus = "failed"
	StatusDownloaded  DownloadStatus = "downloaded"
	StatusRemoved     DownloadStatus = "removed"
)

var validStatuses = generic.NewSet(
	StatusQueued,
	StatusDownloading,
	StatusFailed,
	StatusDownloaded,
	StatusRemoved,
)

// transitions lists, for each status, the statuses a record may move to. Patches that leave the status unchanged are
// always allowed.
var transitions = map[DownloadStatus]generic.Set[DownloadStatus]{
	StatusQueued:      generic.NewSet(StatusDownloading, StatusRemoved),
	StatusDownloading: generic.NewSet(StatusDownloaded, StatusFailed),
	StatusFailed:      generic.NewSet(StatusQueued, StatusRemoved),
	StatusDownloaded:  generic.NewSet(StatusRemoved),
	StatusRemoved:     generic.NewSet[DownloadStatus](),
}

func (s DownloadStatus) IsValid() bool {
	return validStatuses.Contains(s)
}

// IsRunning returns true if some process should currently be working on the download.
func (s DownloadStatus) IsRunning() bool {
	return s == StatusDownloading
}

// CanTransition reports whether a record in status s may be moved to status to.
func (s DownloadStatus) CanTransition(to DownloadStatus) bool {
	if s == to {
		return true
	}
	if allowed, ok := transitions[s]; ok {
		return allowed.Contains(to)
	}
	return false
}

type ChannelMetadata struct {
	Thumbnail string `json:"thumbnail,omitempty"`
}

type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Number of most recent videos to keep.
	DownloadCount int `json:"downloadCount"`
	// In minutes; 0 disables acquisition for the channel.
	MaximumDuration int             `json:"maximumDuration"`
	Metadata        ChannelMetadata `json:"metadata"`
}

type DownloadMetadata struct {
	Thumbnail   string `json:"thumbnail,omitempty"`
	Description string `json:"description,omitempty"`
	// In seconds.
	Duration int64 `json:"duration,omitempty"`
}

type Download struct {
	UUID              string           `json:"uuid"`
	VideoID           string           `json:"videoId"`
	ChannelID         string           `json:"channelId"`
	Title             string           `json:"title"`
	Status            DownloadStatus   `json:"status"`
	Log               string           `json:"log"`
	AutomationEnabled bool             `json:"automationEnabled"`
	Folder            string           `json:"folder"`
	Date              int64            `json:"date"`
	Metadata          DownloadMetadata `json:"metadata"`
}

// Document is the whole persisted state.
type Document struct {
	Channels  []Channel  `json:"channels"`
	Downloads []Download `json:"downloads"`
}

func (d Document) clone() Document {
	return Document{
		Channels:  append(make([]Channel, 0, len(d.Channels)), d.Channels...),
		Downloads: append(make([]Download, 0, len(d.Downloads)), d.Downloads...),
	}
}

func NewUUID() string {
	return generic.Unwrap(uuid.NewRandom()).String()
}

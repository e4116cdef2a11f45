package store

type Event interface {
	// Key identifies the record this event relates to: a download UUID or a channel ID.
	Key() string
}

type downloadEvent struct {
	Download Download
}

func (e downloadEvent) Key() string {
	return e.Download.UUID
}

type channelEvent struct {
	Channel Channel
}

func (e channelEvent) Key() string {
	return e.Channel.ID
}

type DownloadAdded struct {
	downloadEvent
}
type DownloadRemoved struct {
	downloadEvent
}
type DownloadUpdated struct {
	Old Download
	New Download
}

func (e DownloadUpdated) Key() string {
	return e.New.UUID
}

type ChannelAdded struct {
	channelEvent
}
type ChannelRemoved struct {
	channelEvent
}
type ChannelUpdated struct {
	Old Channel
	New Channel
}

func (e ChannelUpdated) Key() string {
	return e.New.ID
}

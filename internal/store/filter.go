package store

// DownloadFilter selects downloads by the conjunction of its non-nil fields. The zero value matches everything.
type DownloadFilter struct {
	UUID              *string
	VideoID           *string
	ChannelID         *string
	Status            *DownloadStatus
	AutomationEnabled *bool
}

func ByUUID(uuid string) DownloadFilter {
	return DownloadFilter{UUID: &uuid}
}

func ByVideoID(videoID string) DownloadFilter {
	return DownloadFilter{VideoID: &videoID}
}

func ByChannelID(channelID string) DownloadFilter {
	return DownloadFilter{ChannelID: &channelID}
}

func ByStatus(status DownloadStatus) DownloadFilter {
	return DownloadFilter{Status: &status}
}

func (f DownloadFilter) WithStatus(status DownloadStatus) DownloadFilter {
	f.Status = &status
	return f
}

func (f DownloadFilter) WithAutomation(enabled bool) DownloadFilter {
	f.AutomationEnabled = &enabled
	return f
}

func (f DownloadFilter) Matches(d Download) bool {
	switch {
	case f.UUID != nil && *f.UUID != d.UUID:
		return false
	case f.VideoID != nil && *f.VideoID != d.VideoID:
		return false
	case f.ChannelID != nil && *f.ChannelID != d.ChannelID:
		return false
	case f.Status != nil && *f.Status != d.Status:
		return false
	case f.AutomationEnabled != nil && *f.AutomationEnabled != d.AutomationEnabled:
		return false
	}
	return true
}

// ChannelFilter selects channels; the zero value matches everything.
type ChannelFilter struct {
	ID *string
}

func ByChannel(id string) ChannelFilter {
	return ChannelFilter{ID: &id}
}

func (f ChannelFilter) Matches(c Channel) bool {
	return f.ID == nil || *f.ID == c.ID
}

// DownloadPatch holds the fields to overwrite on matching downloads. UUID and VideoID cannot be patched.
type DownloadPatch struct {
	ChannelID         *string
	Title             *string
	Status            *DownloadStatus
	Log               *string
	AutomationEnabled *bool
	Folder            *string
	Metadata          *DownloadMetadata
}

func (p DownloadPatch) Apply(d *Download) {
	if p.ChannelID != nil {
		d.ChannelID = *p.ChannelID
	}
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.Log != nil {
		d.Log = *p.Log
	}
	if p.AutomationEnabled != nil {
		d.AutomationEnabled = *p.AutomationEnabled
	}
	if p.Folder != nil {
		d.Folder = *p.Folder
	}
	if p.Metadata != nil {
		d.Metadata = *p.Metadata
	}
}

// Transition is a shortcut for the common status + log patch.
func Transition(status DownloadStatus, log string) DownloadPatch {
	return DownloadPatch{Status: &status, Log: &log}
}

// WithFolder returns a copy of the patch that also sets Folder.
func (p DownloadPatch) WithFolder(folder string) DownloadPatch {
	p.Folder = &folder
	return p
}

// Note returns a patch that only replaces the log message.
func Note(log string) DownloadPatch {
	return DownloadPatch{Log: &log}
}

type ChannelPatch struct {
	Name            *string
	DownloadCount   *int
	MaximumDuration *int
	Metadata        *ChannelMetadata
}

func (p ChannelPatch) Apply(c *Channel) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.DownloadCount != nil {
		c.DownloadCount = *p.DownloadCount
	}
	if p.MaximumDuration != nil {
		c.MaximumDuration = *p.MaximumDuration
	}
	if p.Metadata != nil {
		c.Metadata = *p.Metadata
	}
}

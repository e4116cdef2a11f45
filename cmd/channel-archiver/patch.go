package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/generic"
	"github.com/alanbriolat/channel-archiver/internal/store"
)

// Keys that identify a download or belong to its lifecycle, and so can't be set by hand.
var protectedKeys = generic.NewSet("status", "videoId", "channelId", "uuid")

// parsePatch builds a download patch from key=value arguments.
func parsePatch(args []string) (store.DownloadPatch, error) {
	var patch store.DownloadPatch
	if len(args) == 0 {
		return patch, &channel_archiver.ValidationError{Entity: "patch", Reason: "nothing to set"}
	}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return patch, &channel_archiver.ValidationError{Entity: "patch", Reason: fmt.Sprintf("expected key=value, got %q", arg)}
		}
		if protectedKeys.Contains(key) {
			return patch, &channel_archiver.ValidationError{Entity: "patch", Field: key, Reason: "protected key was set, please remove attribute " + key}
		}
		switch key {
		case "title":
			title := value
			patch.Title = &title
		case "automationEnabled":
			enabled, err := strconv.ParseBool(value)
			if err != nil {
				return patch, &channel_archiver.ValidationError{Entity: "patch", Field: key, Reason: err.Error()}
			}
			patch.AutomationEnabled = &enabled
		default:
			return patch, &channel_archiver.ValidationError{Entity: "patch", Field: key, Reason: "unknown key"}
		}
	}
	return patch, nil
}

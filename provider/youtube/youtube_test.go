package youtube

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/kkdai/youtube/v2"
	assert_ "github.com/stretchr/testify/assert"

	"github.com/alanbriolat/channel-archiver"
)

func TestMatch(t *testing.T) {
	assert := assert_.New(t)
	valid := []string{
		"dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ&t=10",
		"https://youtube.com/shorts/dQw4w9WgXcQ",
		"http://www.youtube.com/v/dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ",
	}
	for _, s := range valid {
		id, err := Match(s)
		assert.NoError(err, s)
		assert.Equal("dQw4w9WgXcQ", id, s)
	}
	invalid := []string{
		"https://vimeo.com/123456",
		"https://www.youtube.com/watch",
		"https://www.youtube.com/watch?v=short",
		"https://youtu.be/",
	}
	for _, s := range invalid {
		_, err := Match(s)
		assert.Error(err, s)
	}
}

func TestExtractVideoID_Path(t *testing.T) {
	assert := assert_.New(t)
	u, _ := url.Parse("https://www.youtube.com/live/abcdefghijk?feature=share")
	id, err := extractVideoID(u)
	assert.NoError(err)
	assert.Equal("abcdefghijk", id)
}

func TestRegistered(t *testing.T) {
	assert := assert_.New(t)
	assert.Contains(channel_archiver.DefaultProviderRegistry.List(), "youtube")
	m, err := channel_archiver.DefaultProviderRegistry.Match("https://youtu.be/dQw4w9WgXcQ")
	assert.NoError(err)
	assert.Equal("youtube", m.ProviderName)
}

func TestUploadsPlaylistID(t *testing.T) {
	assert := assert_.New(t)
	id, err := uploadsPlaylistID("UCuAXFkgsw1L7xaCfnd5JJOw")
	assert.NoError(err)
	assert.Equal("UUuAXFkgsw1L7xaCfnd5JJOw", id)
	_, err = uploadsPlaylistID("PL123")
	assert.Error(err)
}

func TestPickFormats(t *testing.T) {
	assert := assert_.New(t)
	formats := youtube.FormatList{
		{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, Width: 640, Height: 360, AudioChannels: 2, Bitrate: 500},
		{ItagNo: 137, MimeType: `video/mp4; codecs="avc1.640028"`, Width: 1920, Height: 1080, Bitrate: 4000},
		{ItagNo: 248, MimeType: `video/webm; codecs="vp9"`, Width: 1920, Height: 1080, Bitrate: 4500},
		{ItagNo: 313, MimeType: `video/webm; codecs="vp9"`, Width: 3840, Height: 2160, Bitrate: 20000},
		{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, AudioChannels: 2, Bitrate: 130000},
		{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, AudioChannels: 2, Bitrate: 160000},
	}
	assert.Equal(137, pickVideoFormat(formats).ItagNo)
	assert.Equal(251, pickAudioFormat(formats).ItagNo)

	// Only a muxed format available
	assert.Equal(18, pickVideoFormat(formats[:1]).ItagNo)
	assert.Nil(pickAudioFormat(formats[:4]))
}

func TestClassify(t *testing.T) {
	assert := assert_.New(t)
	kindOf := func(err error) channel_archiver.ProviderErrorKind {
		var perr *channel_archiver.ProviderError
		if assert.True(errors.As(classify("op", err), &perr)) {
			return perr.Kind
		}
		return ""
	}
	assert.Equal(channel_archiver.ProviderErrorRestricted, kindOf(youtube.ErrVideoPrivate))
	assert.Equal(channel_archiver.ProviderErrorRestricted, kindOf(fmt.Errorf("x: %w", youtube.ErrLoginRequired)))
	assert.Equal(channel_archiver.ProviderErrorRestricted, kindOf(&youtube.ErrPlayabiltyStatus{Status: "UNPLAYABLE", Reason: "nope"}))
	assert.Equal(channel_archiver.ProviderErrorInvalid, kindOf(youtube.ErrInvalidCharactersInVideoID))
	assert.Equal(channel_archiver.ProviderErrorUnavailable, kindOf(youtube.ErrUnexpectedStatusCode(403)))
	assert.Equal(channel_archiver.ProviderErrorNetwork, kindOf(errors.New("connection reset")))
	assert.True(errors.Is(classify("op", youtube.ErrVideoPrivate), youtube.ErrVideoPrivate))
}

func TestSortedThumbnails(t *testing.T) {
	assert := assert_.New(t)
	thumbs := youtube.Thumbnails{
		{URL: "small", Width: 120, Height: 90},
		{URL: "large", Width: 1280, Height: 720},
		{URL: "", Width: 2000, Height: 2000},
		{URL: "medium", Width: 480, Height: 360},
	}
	assert.Equal([]string{"large", "medium", "small"}, sortedThumbnails(thumbs))
	assert.Equal("large", bestThumbnail(thumbs))
	assert.Equal("", bestThumbnail(nil))
}

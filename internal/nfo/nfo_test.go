package nfo

import (
	"encoding/xml"
	"strings"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	assert := assert_.New(t)

	data, err := Render(Movie{
		UniqueID: UniqueID{Type: "youtube", Value: "dQw4w9WgXcQ"},
		Title:    `Tom & Jerry <"Best of">`,
		Plot:     "It's a plot",
		Studio:   "Some Channel",
		Thumbs:   []string{"https://i.ytimg.com/vi/dQw4w9WgXcQ/hq.jpg?a=1&b=2"},
	})
	require_.NoError(t, err)
	out := string(data)

	assert.True(strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8" standalone="yes" ?>`))
	assert.Contains(out, `<uniqueid type="youtube" default="">dQw4w9WgXcQ</uniqueid>`)
	assert.NotContains(out, `Tom & Jerry`)
	assert.NotContains(out, `a=1&b=2`)

	// Round trip through a parser to check the escaping
	var parsed xmlMovie
	require_.NoError(t, xml.Unmarshal(data, &parsed))
	assert.Equal(`Tom & Jerry <"Best of">`, parsed.Title)
	assert.Equal("It's a plot", parsed.Plot)
	assert.Equal("Some Channel", parsed.Studio)
	assert.Equal([]string{"https://i.ytimg.com/vi/dQw4w9WgXcQ/hq.jpg?a=1&b=2"}, parsed.Thumbs)
}

func TestRender_OmitsEmpty(t *testing.T) {
	assert := assert_.New(t)

	data, err := Render(Movie{UniqueID: UniqueID{Type: "youtube", Value: "x"}, Title: "T", Thumbs: []string{""}})
	require_.NoError(t, err)
	out := string(data)
	assert.NotContains(out, "<plot>")
	assert.NotContains(out, "<studio>")
	assert.Contains(out, "<thumb></thumb>")
}

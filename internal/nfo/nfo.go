// Package nfo renders Kodi-style movie.nfo sidecar files.
package nfo

import (
	"bytes"
	"encoding/xml"
)

const Filename = "movie.nfo"

const header = `<?xml version="1.0" encoding="UTF-8" standalone="yes" ?>` + "\n"

type UniqueID struct {
	Type  string
	Value string
}

type Movie struct {
	UniqueID UniqueID
	Title    string
	Plot     string
	Studio   string
	Thumbs   []string
}

type xmlUniqueID struct {
	Type    string `xml:"type,attr"`
	Default string `xml:"default,attr"`
	Value   string `xml:",chardata"`
}

type xmlMovie struct {
	XMLName  xml.Name    `xml:"movie"`
	UniqueID xmlUniqueID `xml:"uniqueid"`
	Title    string      `xml:"title"`
	Plot     string      `xml:"plot,omitempty"`
	Studio   string      `xml:"studio,omitempty"`
	Thumbs   []string    `xml:"thumb"`
}

// Render produces the sidecar document. Empty plot and studio are omitted; every thumb, even an empty one, gets an
// element.
func Render(m Movie) ([]byte, error) {
	doc := xmlMovie{
		UniqueID: xmlUniqueID{Type: m.UniqueID.Type, Value: m.UniqueID.Value},
		Title:    m.Title,
		Plot:     m.Plot,
		Studio:   m.Studio,
		Thumbs:   m.Thumbs,
	}
	var buf bytes.Buffer
	buf.WriteString(header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

package app

import (
	"strings"
	"time"
)

// ChannelAll is the reserved channel scope that spans every channel.
const ChannelAll = "all"

// Channel is one entry of the channel registry.
type Channel struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"-" yaml:"-"`
}

// ClipItem is one video clip of the catalog.
type ClipItem struct {
	ID              string
	ChannelID       string
	Poster          string
	Timestamp       time.Time
	ExpireTimestamp time.Time // zero means the media never expires
	Filename        string
	MediaURL        string
	Description     string
	DurationSeconds float64
}

// Expired reports whether the clip's media is no longer available at now.
func (c ClipItem) Expired(now time.Time) bool {
	if c.ExpireTimestamp.IsZero() {
		return false
	}
	return c.ExpireTimestamp.Before(now)
}

// Field returns the string value of a named field, for dimensions that
// match against item fields directly.
func (c ClipItem) Field(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "id":
		return c.ID, true
	case "channelid", "channel_id":
		return c.ChannelID, true
	case "poster":
		return c.Poster, true
	case "filename":
		return c.Filename, true
	case "mediaurl", "media_url":
		return c.MediaURL, true
	case "description":
		return c.Description, true
	default:
		return "", false
	}
}

// AuthorIcon maps a poster identity to a display URL.
type AuthorIcon struct {
	Poster     string `json:"poster"`
	DisplayURL string `json:"displayUrl"`
}

// CatalogStats summarizes the stored catalog.
type CatalogStats struct {
	TotalClips      int
	ExpiredClips    int
	Channels        int
	Posters         int
	ClipsByChannel  map[string]int
	TopPosters      []PosterCount
	OldestTimestamp *time.Time
	NewestTimestamp *time.Time
}

// PosterCount is a poster identity with its clip count.
type PosterCount struct {
	Poster string `json:"poster"`
	Count  int    `json:"count"`
}

package app

import "time"

// View is the JSON snapshot of a session.
type View struct {
	ID            string              `json:"id"`
	Status        GalleryStatus       `json:"status"`
	CatalogFeed   string              `json:"catalogFeed"`
	IconFeed      string              `json:"iconFeed"`
	Channel       string              `json:"channel"`
	Channels      []ChannelView       `json:"channels"`
	Filters       FilterState         `json:"filters"`
	Changed       FilterState         `json:"changed"`
	Defaults      FilterState         `json:"defaults"`
	Options       map[string][]string `json:"options"`
	PosterCounts  map[string]int      `json:"posterCounts"`
	Items         []ClipView          `json:"items"`
	Visible       int                 `json:"visible"`
	Total         int                 `json:"total"`
	HasMore       bool                `json:"hasMore"`
	ActiveState   string              `json:"activeState"`
	Active        *ClipView           `json:"active,omitempty"`
	Pending       *DeepLink           `json:"pending,omitempty"`
	NotFound      *DeepLink           `json:"notFound,omitempty"`
	RestoreOffset *float64            `json:"restoreOffset,omitempty"`
	Player        PlayerState         `json:"player"`
}

type ChannelView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Clips int    `json:"clips"`
}

// ClipView is a clip with its display fields.
type ClipView struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channelId"`
	Poster      string    `json:"poster"`
	PosterName  string    `json:"posterName"`
	PosterColor string    `json:"posterColor"`
	PosterIcon  string    `json:"posterIcon,omitempty"`
	Title       string    `json:"title"`
	Filename    string    `json:"filename"`
	MediaURL    string    `json:"mediaUrl"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	Description string    `json:"description,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Date        string    `json:"date"`
	Relative    string    `json:"relative,omitempty"`
	Duration    string    `json:"duration,omitempty"`
	Expired     bool      `json:"expired"`
}

// NewClipView formats item for display at now. Icons and thumbnails are
// session state and left empty.
func NewClipView(item ClipItem, now time.Time) ClipView {
	return ClipView{
		ID:          item.ID,
		ChannelID:   item.ChannelID,
		Poster:      item.Poster,
		PosterName:  FormatUsername(item.Poster),
		PosterColor: PosterColor(item.Poster),
		Title:       FormatTitle(item.Filename),
		Filename:    item.Filename,
		MediaURL:    item.MediaURL,
		Description: item.Description,
		Timestamp:   item.Timestamp,
		Date:        FormatDate(item.Timestamp),
		Relative:    RelativeDate(item.Timestamp, now),
		Duration:    FormatDuration(item.DurationSeconds),
		Expired:     item.Expired(now),
	}
}

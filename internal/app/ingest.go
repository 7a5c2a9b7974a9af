package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// FeedShape is the layout of a raw feed document.
type FeedShape string

const (
	ShapeList       FeedShape = "list"        // catalog: [clip, ...]
	ShapeFlat       FeedShape = "flat"        // catalog: {id: clip}
	ShapeNested     FeedShape = "nested"      // catalog: {channel: [clip] | {id: clip}}
	ShapeGlobal     FeedShape = "global"      // icons: {poster: url}
	ShapePerChannel FeedShape = "per_channel" // icons: {channel: {poster: url}}
)

var ErrUnsupportedShape = errors.New("unsupported feed shape")

// FeedSpec describes where a feed lives and how to read it.
type FeedSpec struct {
	Source        string        `yaml:"source"`
	Shape         FeedShape     `yaml:"shape"`
	TimestampUnit TimestampUnit `yaml:"timestamp_unit"`
	ExpireUnit    TimestampUnit `yaml:"expire_unit"`
	// Channel is assigned to list and flat clips that carry no channelId.
	Channel string `yaml:"channel"`
}

// ValidateCatalog checks a catalog feed declaration.
func (f FeedSpec) ValidateCatalog() error {
	switch f.Shape {
	case ShapeList, ShapeFlat, ShapeNested:
	default:
		return fmt.Errorf("catalog feed: %w: %q", ErrUnsupportedShape, f.Shape)
	}
	if !f.TimestampUnit.Valid() {
		return fmt.Errorf("catalog feed: invalid timestamp_unit %q", f.TimestampUnit)
	}
	if !f.ExpireUnit.Valid() {
		return fmt.Errorf("catalog feed: invalid expire_unit %q", f.ExpireUnit)
	}
	if f.Channel == ChannelAll {
		return fmt.Errorf("catalog feed: %w: %q", ErrReservedChannel, f.Channel)
	}
	return nil
}

// ValidateIcons checks an icon feed declaration.
func (f FeedSpec) ValidateIcons() error {
	switch f.Shape {
	case ShapeGlobal, ShapePerChannel:
		return nil
	default:
		return fmt.Errorf("icon feed: %w: %q", ErrUnsupportedShape, f.Shape)
	}
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

type rawClip struct {
	ID          flexString `json:"id"`
	ChannelID   flexString `json:"channelId"`
	Poster      string     `json:"Poster"`
	Date        flexString `json:"Date"`
	Expire      flexString `json:"Expire_Timestamp"`
	Filename    string     `json:"Filename"`
	URL         string     `json:"Attachment_URL"`
	Description string     `json:"Description"`
	Duration    flexString `json:"Duration"`
}

// parseTimestamp reads an epoch number in unit, or an RFC 3339 string.
func parseTimestamp(v flexString, unit TimestampUnit) (time.Time, error) {
	s := strings.TrimSpace(string(v))
	if s == "" {
		return time.Time{}, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return EpochToTime(f, unit), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}

// DecodeResult is the outcome of decoding a catalog feed.
type DecodeResult struct {
	Clips   []ClipItem
	Skipped int
}

// Decoder normalizes raw feeds into canonical items.
type Decoder struct {
	logger    *slog.Logger
	sanitizer *bluemonday.Policy
}

// NewDecoder returns a decoder that strips markup from descriptions.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger, sanitizer: bluemonday.StrictPolicy()}
}

// DecodeCatalog flattens a catalog feed into clips annotated with their
// channel. Invalid entries are skipped and counted.
func (d *Decoder) DecodeCatalog(data []byte, feed FeedSpec) (DecodeResult, error) {
	if err := feed.ValidateCatalog(); err != nil {
		return DecodeResult{}, err
	}
	type entry struct {
		key     string
		channel string
		raw     rawClip
	}
	var entries []entry

	switch feed.Shape {
	case ShapeList:
		var list []rawClip
		if err := json.Unmarshal(data, &list); err != nil {
			return DecodeResult{}, fmt.Errorf("decode catalog list: %w", err)
		}
		for _, rc := range list {
			entries = append(entries, entry{channel: feed.Channel, raw: rc})
		}
	case ShapeFlat:
		var flat map[string]rawClip
		if err := json.Unmarshal(data, &flat); err != nil {
			return DecodeResult{}, fmt.Errorf("decode catalog map: %w", err)
		}
		for _, key := range sortedKeys(flat) {
			entries = append(entries, entry{key: key, channel: feed.Channel, raw: flat[key]})
		}
	case ShapeNested:
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(data, &nested); err != nil {
			return DecodeResult{}, fmt.Errorf("decode nested catalog: %w", err)
		}
		for _, channel := range sortedKeys(nested) {
			body := bytes.TrimSpace(nested[channel])
			if len(body) > 0 && body[0] == '[' {
				var list []rawClip
				if err := json.Unmarshal(body, &list); err != nil {
					return DecodeResult{}, fmt.Errorf("decode channel %q: %w", channel, err)
				}
				for _, rc := range list {
					rc.ChannelID = flexString(channel)
					entries = append(entries, entry{channel: channel, raw: rc})
				}
				continue
			}
			var flat map[string]rawClip
			if err := json.Unmarshal(body, &flat); err != nil {
				return DecodeResult{}, fmt.Errorf("decode channel %q: %w", channel, err)
			}
			for _, key := range sortedKeys(flat) {
				rc := flat[key]
				rc.ChannelID = flexString(channel)
				entries = append(entries, entry{key: key, channel: channel, raw: rc})
			}
		}
	}

	var res DecodeResult
	seen := make(map[[2]string]bool, len(entries))
	for _, e := range entries {
		clip, err := d.clip(e.raw, e.key, e.channel, feed)
		if err != nil {
			d.logger.Warn("skipping clip", "id", string(e.raw.ID), "error", err)
			res.Skipped++
			continue
		}
		key := [2]string{clip.ChannelID, clip.ID}
		if seen[key] {
			d.logger.Warn("skipping duplicate clip", "id", clip.ID, "channel", clip.ChannelID)
			res.Skipped++
			continue
		}
		seen[key] = true
		res.Clips = append(res.Clips, clip)
	}
	return res, nil
}

func (d *Decoder) clip(rc rawClip, key, channel string, feed FeedSpec) (ClipItem, error) {
	id := strings.TrimSpace(string(rc.ID))
	if id == "" {
		id = key
	}
	if id == "" {
		return ClipItem{}, errors.New("missing id")
	}
	if ch := strings.TrimSpace(string(rc.ChannelID)); ch != "" {
		channel = ch
	}
	if channel == "" {
		return ClipItem{}, errors.New("missing channelId")
	}
	if channel == ChannelAll {
		return ClipItem{}, ErrReservedChannel
	}
	posted, err := parseTimestamp(rc.Date, feed.TimestampUnit)
	if err != nil {
		return ClipItem{}, fmt.Errorf("Date: %w", err)
	}
	expires, err := parseTimestamp(rc.Expire, feed.ExpireUnit)
	if err != nil {
		return ClipItem{}, fmt.Errorf("Expire_Timestamp: %w", err)
	}
	var duration float64
	if s := strings.TrimSpace(string(rc.Duration)); s != "" {
		duration, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return ClipItem{}, fmt.Errorf("invalid Duration %q", s)
		}
	}
	return ClipItem{
		ID:              id,
		ChannelID:       channel,
		Poster:          strings.TrimSpace(rc.Poster),
		Timestamp:       posted,
		ExpireTimestamp: expires,
		Filename:        rc.Filename,
		MediaURL:        strings.TrimSpace(rc.URL),
		Description:     d.sanitize(rc.Description),
		DurationSeconds: duration,
	}, nil
}

func (d *Decoder) sanitize(s string) string {
	if s == "" {
		return s
	}
	return strings.TrimSpace(html.UnescapeString(d.sanitizer.Sanitize(s)))
}

// iconValue accepts either a bare URL or an object carrying one.
type iconValue string

func (v *iconValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			DisplayURL string `json:"displayUrl"`
			URL        string `json:"url"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*v = iconValue(cmpOr(obj.DisplayURL, obj.URL))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*v = iconValue(s)
	return nil
}

// DecodeIcons flattens an icon feed into one icon per poster. With
// per-channel feeds the first channel, in name order, wins a poster.
func (d *Decoder) DecodeIcons(data []byte, feed FeedSpec) ([]AuthorIcon, error) {
	if err := feed.ValidateIcons(); err != nil {
		return nil, err
	}
	var groups []map[string]iconValue
	switch feed.Shape {
	case ShapeGlobal:
		var global map[string]iconValue
		if err := json.Unmarshal(data, &global); err != nil {
			return nil, fmt.Errorf("decode icons: %w", err)
		}
		groups = append(groups, global)
	case ShapePerChannel:
		var nested map[string]map[string]iconValue
		if err := json.Unmarshal(data, &nested); err != nil {
			return nil, fmt.Errorf("decode icons: %w", err)
		}
		for _, channel := range sortedKeys(nested) {
			groups = append(groups, nested[channel])
		}
	}

	var icons []AuthorIcon
	seen := make(map[string]bool)
	for _, group := range groups {
		for _, poster := range sortedKeys(group) {
			url := strings.TrimSpace(string(group[poster]))
			if poster == "" || url == "" {
				continue
			}
			if seen[poster] {
				d.logger.Debug("icon already mapped", "poster", poster)
				continue
			}
			seen[poster] = true
			icons = append(icons, AuthorIcon{Poster: poster, DisplayURL: url})
		}
	}
	return icons, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func cmpOr(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ImportResult reports what an import wrote to the store.
type ImportResult struct {
	Clips    int
	Skipped  int
	Channels int
	Icons    int
}

// Ingester fetches feeds, normalizes them and replaces the stored catalog.
type Ingester struct {
	Store    *SQLiteStore
	Fetcher  FeedFetcher
	Decoder  *Decoder
	Registry []Channel
	Logger   *slog.Logger
}

// ImportCatalog replaces the stored catalog with the feed's contents.
func (in *Ingester) ImportCatalog(ctx context.Context, feed FeedSpec) (ImportResult, error) {
	data, err := in.Fetcher.Fetch(ctx, feed.Source)
	if err != nil {
		return ImportResult{}, fmt.Errorf("fetch catalog: %w", err)
	}
	decoded, err := in.decoder().DecodeCatalog(data, feed)
	if err != nil {
		return ImportResult{}, err
	}
	channels := channelsFor(in.Registry, decoded.Clips)
	if err := in.Store.ReplaceCatalog(ctx, channels, decoded.Clips); err != nil {
		return ImportResult{}, err
	}
	in.logger().Info("imported catalog", "source", feed.Source, "clips", len(decoded.Clips), "skipped", decoded.Skipped, "channels", len(channels))
	return ImportResult{Clips: len(decoded.Clips), Skipped: decoded.Skipped, Channels: len(channels)}, nil
}

// ImportIcons replaces the stored author icons with the feed's contents.
func (in *Ingester) ImportIcons(ctx context.Context, feed FeedSpec) (ImportResult, error) {
	data, err := in.Fetcher.Fetch(ctx, feed.Source)
	if err != nil {
		return ImportResult{}, fmt.Errorf("fetch icons: %w", err)
	}
	icons, err := in.decoder().DecodeIcons(data, feed)
	if err != nil {
		return ImportResult{}, err
	}
	if err := in.Store.ReplaceIcons(ctx, icons); err != nil {
		return ImportResult{}, err
	}
	in.logger().Info("imported icons", "source", feed.Source, "icons", len(icons))
	return ImportResult{Icons: len(icons)}, nil
}

func (in *Ingester) decoder() *Decoder {
	if in.Decoder == nil {
		in.Decoder = NewDecoder(in.logger())
	}
	return in.Decoder
}

func (in *Ingester) logger() *slog.Logger {
	if in.Logger == nil {
		return slog.Default()
	}
	return in.Logger
}

// channelsFor returns the registry plus channels only the clips mention.
func channelsFor(registry []Channel, clips []ClipItem) []Channel {
	out := slices.Clone(registry)
	known := make(map[string]bool, len(out))
	for _, ch := range out {
		known[ch.ID] = true
	}
	for _, clip := range clips {
		if known[clip.ChannelID] {
			continue
		}
		known[clip.ChannelID] = true
		out = append(out, Channel{ID: clip.ChannelID, Name: clip.ChannelID})
	}
	return out
}

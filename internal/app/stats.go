package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

var ErrPosterNotFound = errors.New("poster has no clips")

// DefaultTopPosters is how many posters a summary ranks.
const DefaultTopPosters = 10

// StatsService provides statistics queries over the stored catalog.
type StatsService struct {
	store *SQLiteStore
	now   func() time.Time
}

// NewStatsService creates a new StatsService.
func NewStatsService(store *SQLiteStore) *StatsService {
	return &StatsService{store: store, now: time.Now}
}

// GetOverallStats returns catalog statistics.
func (s *StatsService) GetOverallStats(ctx context.Context) (*CatalogStats, error) {
	return s.store.GetCatalogStats(ctx, s.now(), DefaultTopPosters)
}

// GetSummary returns a summary suitable for display or JSON output.
func (s *StatsService) GetSummary(ctx context.Context) (map[string]interface{}, error) {
	stats, err := s.store.GetCatalogStats(ctx, s.now(), DefaultTopPosters)
	if err != nil {
		return nil, err
	}

	summary := map[string]interface{}{
		"total_clips":      stats.TotalClips,
		"expired_clips":    stats.ExpiredClips,
		"channels":         stats.Channels,
		"posters":          stats.Posters,
		"clips_by_channel": stats.ClipsByChannel,
		"top_posters":      stats.TopPosters,
	}
	if stats.OldestTimestamp != nil {
		summary["oldest"] = stats.OldestTimestamp.Format(time.RFC3339)
	}
	if stats.NewestTimestamp != nil {
		summary["newest"] = stats.NewestTimestamp.Format(time.RFC3339)
	}

	return summary, nil
}

// ChannelSummary is one channel with its clip count.
type ChannelSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Clips int    `json:"clips"`
}

// GetChannelSummaries lists stored channels with clip counts, busiest first.
func (s *StatsService) GetChannelSummaries(ctx context.Context) ([]ChannelSummary, error) {
	channels, err := s.store.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.GetCatalogStats(ctx, s.now(), 0)
	if err != nil {
		return nil, err
	}
	out := make([]ChannelSummary, 0, len(channels))
	for _, ch := range channels {
		out = append(out, ChannelSummary{
			ID:    ch.ID,
			Name:  ch.Name,
			Slug:  FormatChannelName(ch.Name),
			Clips: stats.ClipsByChannel[ch.ID],
		})
	}
	slices.SortStableFunc(out, func(a, b ChannelSummary) int { return b.Clips - a.Clips })
	return out, nil
}

// GetPosterClips returns a poster's clips within a channel, or across all
// channels for ChannelAll.
func (s *StatsService) GetPosterClips(ctx context.Context, channelID, poster string) ([]ClipItem, error) {
	clips, err := s.store.ListClips(ctx)
	if err != nil {
		return nil, err
	}
	counts := NewPosterCountIndex(clips).CountsByChannel(channelID)
	if _, ok := counts[poster]; !ok {
		return nil, fmt.Errorf("%w: %q in %q", ErrPosterNotFound, poster, channelID)
	}
	var out []ClipItem
	for _, c := range clips {
		if c.Poster == poster && (channelID == ChannelAll || c.ChannelID == channelID) {
			out = append(out, c)
		}
	}
	return out, nil
}

package app

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

var (
	ErrUnknownChannel  = errors.New("unknown channel")
	ErrReservedChannel = errors.New("channel id is reserved")
)

// WorkingSet is one computed, ordered view of the catalog. Every
// recomputation yields a new *WorkingSet; the pointer is its identity.
type WorkingSet struct {
	Items      []ClipItem
	Generation uint64
}

// Len returns the number of items; zero for a nil set.
func (w *WorkingSet) Len() int {
	if w == nil {
		return 0
	}
	return len(w.Items)
}

// IndexOf returns the position of the first item with id, or -1.
func (w *WorkingSet) IndexOf(id string) int {
	if w == nil {
		return -1
	}
	return slices.IndexFunc(w.Items, func(c ClipItem) bool { return c.ID == id })
}

// Find returns the first item with id.
func (w *WorkingSet) Find(id string) (ClipItem, bool) {
	i := w.IndexOf(id)
	if i < 0 {
		return ClipItem{}, false
	}
	return w.Items[i], true
}

// ValidateRegistry rejects empty, duplicate and reserved channel ids.
func ValidateRegistry(registry []Channel) error {
	seen := make(map[string]bool, len(registry))
	for i, ch := range registry {
		if ch.ID == "" {
			return fmt.Errorf("channel[%d]: id is required", i)
		}
		if ch.ID == ChannelAll {
			return fmt.Errorf("channel[%d]: %w: %q", i, ErrReservedChannel, ch.ID)
		}
		if seen[ch.ID] {
			return fmt.Errorf("channel[%d]: duplicate id %q", i, ch.ID)
		}
		seen[ch.ID] = true
	}
	return nil
}

// CatalogStore holds the raw catalog and derives the working set from it,
// the channel scope and the filter state. Every change recomputes the
// working set from scratch.
type CatalogStore struct {
	logger   *slog.Logger
	filters  *FilterManager
	registry []Channel

	raw     []ClipItem
	channel string
	working *WorkingSet
	gen     uint64

	listeners     []func(*WorkingSet)
	cancelFilters func()
}

// NewCatalogStore returns an empty store scoped to ChannelAll and wired to
// the filter manager's notifications.
func NewCatalogStore(filters *FilterManager, registry []Channel, logger *slog.Logger) (*CatalogStore, error) {
	if err := ValidateRegistry(registry); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &CatalogStore{
		logger:   logger,
		filters:  filters,
		registry: slices.Clone(registry),
		channel:  ChannelAll,
	}
	s.cancelFilters = filters.Subscribe(s.recompute)
	s.recompute(filters.State())
	return s, nil
}

// Close detaches the store from filter notifications.
func (s *CatalogStore) Close() {
	if s.cancelFilters != nil {
		s.cancelFilters()
		s.cancelFilters = nil
	}
}

// Subscribe registers fn to receive every new working set.
func (s *CatalogStore) Subscribe(fn func(*WorkingSet)) func() {
	s.listeners = append(s.listeners, fn)
	idx := len(s.listeners) - 1
	return func() { s.listeners[idx] = nil }
}

// Replace swaps the raw catalog. Later duplicates of a (channel, id) pair
// and items in the reserved channel are dropped.
func (s *CatalogStore) Replace(items []ClipItem) {
	seen := make(map[[2]string]bool, len(items))
	raw := make([]ClipItem, 0, len(items))
	for _, item := range items {
		if item.ChannelID == ChannelAll {
			s.logger.Warn("dropping clip in reserved channel", "clip", item.ID)
			continue
		}
		key := [2]string{item.ChannelID, item.ID}
		if seen[key] {
			s.logger.Warn("dropping duplicate clip", "clip", item.ID, "channel", item.ChannelID)
			continue
		}
		seen[key] = true
		raw = append(raw, item)
	}
	s.raw = raw
	s.recompute(s.filters.State())
}

// Raw returns the catalog as loaded.
func (s *CatalogStore) Raw() []ClipItem {
	return s.raw
}

// Channel returns the current channel scope.
func (s *CatalogStore) Channel() string {
	return s.channel
}

// WorkingSet returns the current working set.
func (s *CatalogStore) WorkingSet() *WorkingSet {
	return s.working
}

// SetChannel changes the channel scope. The scope must be ChannelAll, a
// registered channel, or a channel present in the catalog.
func (s *CatalogStore) SetChannel(id string) error {
	if id == s.channel {
		return nil
	}
	if !s.knownChannel(id) {
		s.logger.Warn("channel does not exist", "channel", id)
		return fmt.Errorf("%w: %q", ErrUnknownChannel, id)
	}
	s.channel = id
	s.recompute(s.filters.State())
	return nil
}

func (s *CatalogStore) knownChannel(id string) bool {
	if id == ChannelAll {
		return true
	}
	for _, ch := range s.registry {
		if ch.ID == id {
			return true
		}
	}
	for _, item := range s.raw {
		if item.ChannelID == id {
			return true
		}
	}
	return false
}

// Channels returns the registry followed by unregistered channels found in
// the catalog, in first-seen order.
func (s *CatalogStore) Channels() []Channel {
	out := slices.Clone(s.registry)
	known := make(map[string]bool, len(out))
	for _, ch := range out {
		known[ch.ID] = true
	}
	for _, item := range s.raw {
		if known[item.ChannelID] {
			continue
		}
		known[item.ChannelID] = true
		out = append(out, Channel{ID: item.ChannelID, Name: item.ChannelID})
	}
	return out
}

func (s *CatalogStore) recompute(state FilterState) {
	scoped := s.raw
	if s.channel != ChannelAll {
		scoped = make([]ClipItem, 0, len(s.raw))
		for _, item := range s.raw {
			if item.ChannelID == s.channel {
				scoped = append(scoped, item)
			}
		}
	}
	s.gen++
	s.working = &WorkingSet{Items: s.filters.ApplyState(scoped, state), Generation: s.gen}
	for _, fn := range s.listeners {
		if fn != nil {
			fn(s.working)
		}
	}
}
